// Package dbconfig хранит конфигурацию ключ/значение в таблице БД.
//
// Таблица по умолчанию: config(key, value[, context]). Если задана колонка
// контекста, все операции ограничены строками с указанным контекстом.
// Store работает через коннектор, значения встраиваются в SQL через sqltpl.
package dbconfig

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ruslano69/skdb/pkg/config"
	"github.com/ruslano69/skdb/pkg/connector"
	"github.com/ruslano69/skdb/pkg/dberr"
	"github.com/ruslano69/skdb/pkg/logging"
	"github.com/ruslano69/skdb/pkg/mapper"
	"github.com/ruslano69/skdb/pkg/sqltpl"
)

// Имена таблицы и колонок по умолчанию
const (
	DefaultTable         = "config"
	DefaultKeyColumn     = "key"
	DefaultValueColumn   = "value"
	DefaultContextColumn = "context"
)

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// Conn - операции коннектора, нужные Store
type Conn interface {
	Query(ctx context.Context, query string) (*sql.Rows, error)
	Write(ctx context.Context, query string) error
	Commit(ctx context.Context) error
	IsTransaction() bool
	Dialect() *connector.Dialect
}

// Options - расположение конфигурации в БД
type Options struct {
	Table       string
	KeyColumn   string
	ValueColumn string
	// ContextColumn и Context задаются вместе; пустые - без контекста
	ContextColumn string
	Context       string
	// Commits - фиксировать транзакцию после каждого изменения
	Commits bool
	Logger  *zerolog.Logger
}

// Store - конфигурация в таблице БД
type Store struct {
	conn Conn
	opts Options
	log  zerolog.Logger
}

// New создает Store. Пустые имена таблицы и колонок заменяются значениями по умолчанию.
func New(conn Conn, opts Options) (*Store, error) {
	if opts.Table == "" {
		opts.Table = DefaultTable
	}
	if opts.KeyColumn == "" {
		opts.KeyColumn = DefaultKeyColumn
	}
	if opts.ValueColumn == "" {
		opts.ValueColumn = DefaultValueColumn
	}
	if opts.Context != "" && opts.ContextColumn == "" {
		opts.ContextColumn = DefaultContextColumn
	}

	for _, ident := range []string{opts.Table, opts.KeyColumn, opts.ValueColumn, opts.ContextColumn} {
		if ident != "" && !identPattern.MatchString(ident) {
			return nil, &dberr.InitError{Message: fmt.Sprintf("invalid identifier %q", ident)}
		}
	}

	return &Store{
		conn: conn,
		opts: opts,
		log:  logging.Or(opts.Logger, "dbconfig"),
	}, nil
}

// quote экранирует идентификатор по правилам диалекта
func (s *Store) quote(ident string) string {
	parts := strings.Split(ident, ".")
	for i, p := range parts {
		switch s.conn.Dialect() {
		case connector.MySQL:
			parts[i] = "`" + p + "`"
		case connector.SQLServer:
			parts[i] = "[" + p + "]"
		default:
			parts[i] = `"` + p + `"`
		}
	}
	return strings.Join(parts, ".")
}

// scope возвращает условие по контексту с ведущим " AND " или ""
func (s *Store) scope() string {
	if s.opts.ContextColumn == "" {
		return ""
	}
	return fmt.Sprintf(" AND %s = '%s'", s.quote(s.opts.ContextColumn), sqltpl.Escape(s.opts.Context))
}

func (s *Store) table() string { return s.quote(s.opts.Table) }

// Values возвращает все значения ключа в порядке выборки
func (s *Store) Values(ctx context.Context, key string) ([]string, error) {
	query, err := sqltpl.Render(
		fmt.Sprintf("SELECT %s FROM %s WHERE %s = '{0}'%s",
			s.quote(s.opts.ValueColumn), s.table(), s.quote(s.opts.KeyColumn), s.scope()),
		key)
	if err != nil {
		return nil, err
	}

	return s.column(ctx, query)
}

// Get возвращает первое значение ключа
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	values, err := s.Values(ctx, key)
	if err != nil || len(values) == 0 {
		return "", false, err
	}
	return values[0], true, nil
}

// Contains - есть ли ключ
func (s *Store) Contains(ctx context.Context, key string) (bool, error) {
	_, ok, err := s.Get(ctx, key)
	return ok, err
}

// Set добавляет строку ключ/значение. Существующие значения ключа не удаляются.
func (s *Store) Set(ctx context.Context, key string, value any) error {
	var query string
	var err error
	if s.opts.ContextColumn != "" {
		query, err = sqltpl.Render(
			fmt.Sprintf("INSERT INTO %s (%s, %s, %s) VALUES ('{0}', '{1}', '{2}')",
				s.table(), s.quote(s.opts.ContextColumn), s.quote(s.opts.KeyColumn), s.quote(s.opts.ValueColumn)),
			s.opts.Context, key, sqltpl.Stringify(value))
	} else {
		query, err = sqltpl.Render(
			fmt.Sprintf("INSERT INTO %s (%s, %s) VALUES ('{0}', '{1}')",
				s.table(), s.quote(s.opts.KeyColumn), s.quote(s.opts.ValueColumn)),
			key, sqltpl.Stringify(value))
	}
	if err != nil {
		return err
	}

	return s.write(ctx, query)
}

// Delete удаляет все значения ключа
func (s *Store) Delete(ctx context.Context, key string) error {
	query, err := sqltpl.Render(
		fmt.Sprintf("DELETE FROM %s WHERE %s = '{0}'%s", s.table(), s.quote(s.opts.KeyColumn), s.scope()),
		key)
	if err != nil {
		return err
	}
	return s.write(ctx, query)
}

// Clear удаляет все ключи (в пределах контекста)
func (s *Store) Clear(ctx context.Context) error {
	return s.write(ctx, fmt.Sprintf("DELETE FROM %s WHERE 1 = 1%s", s.table(), s.scope()))
}

// IsEmpty - нет ни одного ключа
func (s *Store) IsEmpty(ctx context.Context) (bool, error) {
	values, err := s.column(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE 1 = 1%s", s.table(), s.scope()))
	if err != nil {
		return true, err
	}
	return len(values) == 0 || values[0] == "0", nil
}

// Keys возвращает различные ключи
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	return s.column(ctx, fmt.Sprintf("SELECT DISTINCT %s FROM %s WHERE 1 = 1%s ORDER BY %s",
		s.quote(s.opts.KeyColumn), s.table(), s.scope(), s.quote(s.opts.KeyColumn)))
}

// Snapshot читает все пары в config.Config. Для ключей с несколькими
// значениями берется первое.
func (s *Store) Snapshot(ctx context.Context) (*config.Config, error) {
	rows, err := s.conn.Query(ctx, fmt.Sprintf("SELECT %s, %s FROM %s WHERE 1 = 1%s",
		s.quote(s.opts.KeyColumn), s.quote(s.opts.ValueColumn), s.table(), s.scope()))
	if err != nil {
		return nil, err
	}

	records, err := mapper.ToRecordList(rows)
	if err != nil {
		return nil, err
	}

	values := make(map[string]any, len(records))
	for _, rec := range records {
		key := fmt.Sprint(rec.Values[0])
		if _, seen := values[key]; !seen {
			values[key] = rec.Values[1]
		}
	}
	return config.FromMap(values)
}

func (s *Store) write(ctx context.Context, query string) error {
	if err := s.conn.Write(ctx, query); err != nil {
		return err
	}
	if s.opts.Commits && s.conn.IsTransaction() {
		return s.conn.Commit(ctx)
	}
	return nil
}

// column возвращает первую колонку всех строк как строки
func (s *Store) column(ctx context.Context, query string) ([]string, error) {
	rows, err := s.conn.Query(ctx, query)
	if err != nil {
		return nil, err
	}

	records, err := mapper.ToRecordList(rows)
	if err != nil {
		return nil, err
	}

	result := make([]string, 0, len(records))
	for _, rec := range records {
		if rec.Values[0] == nil {
			continue
		}
		result = append(result, fmt.Sprint(rec.Values[0]))
	}
	return result, nil
}
