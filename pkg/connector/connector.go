// Package connector управляет жизненным циклом одного соединения с БД.
//
// Connector реализует общий протокол: проверку и переподключение перед каждой
// операцией (reset), режим транзакции, учет сгенерированного ключа и числа
// измененных строк, распознавание дубликатов ключа. Способ получения
// физического соединения задается Acquirer: direct, directory или pool.
//
// Connector не потокобезопасен: одна горутина - один Connector.
// Для параллельной работы используйте Clone.
package connector

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ruslano69/skdb/pkg/attach"
	"github.com/ruslano69/skdb/pkg/dberr"
	"github.com/ruslano69/skdb/pkg/logging"
	"github.com/ruslano69/skdb/pkg/resilience"
	"github.com/ruslano69/skdb/pkg/retry"
)

// Acquirer выдает физическое соединение для конкретного варианта коннектора
type Acquirer interface {
	// Acquire возвращает новое соединение, которым владеет вызывающий
	Acquire(ctx context.Context) (*sql.Conn, error)
	// Kind - имя варианта: direct, directory, pool
	Kind() string
	// Release освобождает ресурсы варианта (не общий пул процесса)
	Release() error
}

// Cloner - Acquirer, умеющий создать независимую копию с той же конфигурацией
type Cloner interface {
	CloneAcquirer() (Acquirer, error)
}

// Options - параметры коннектора, общие для всех вариантов
type Options struct {
	// Transaction - режим транзакции (autocommit выключен)
	Transaction bool
	// FetchSize - подсказка размера выборки (sk.db.fetchsize)
	FetchSize int
	// Dialect - диалект СУБД; nil = SQLite-совместимое поведение
	Dialect *Dialect
	// Retry - политика переподключения; нулевое значение = одна попытка
	Retry retry.Config
	// Breaker - предохранитель источника данных, общий для его коннекторов; nil = без него
	Breaker *resilience.Breaker
	// Logger - nil = logging.Named("connector")
	Logger *zerolog.Logger
}

// Savepoint - именованная точка отката внутри транзакции
type Savepoint struct {
	Name string
}

// execer - общая часть *sql.Conn и *sql.Tx
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
}

// returningPattern - оператор сам возвращает сгенерированный ключ
var returningPattern = regexp.MustCompile(`(?i)\bRETURNING\b`)

// Connector - владелец одного физического соединения
type Connector struct {
	acq     Acquirer
	opts    Options
	dialect *Dialect
	retryer *retry.Retryer
	log     zerolog.Logger

	conn   *sql.Conn
	tx     *sql.Tx
	closed bool

	lastInsertID    int64
	lastUpdatedRows int64
}

// New создает коннектор и сразу устанавливает соединение.
// Ошибка подключения возвращается как InitError (errors.Is ErrConfiguration).
func New(ctx context.Context, acq Acquirer, opts Options) (*Connector, error) {
	if acq == nil {
		return nil, &dberr.InitError{Message: "connector requires an acquirer"}
	}

	rc := opts.Retry
	if rc.MaxAttempts == 0 && !rc.Enabled {
		rc = retry.DefaultConfig()
	}
	if rc.Retryable == nil {
		// остановленные пулы, неверная конфигурация и открытый предохранитель не лечатся повтором
		rc.Retryable = func(err error) bool {
			return !errors.Is(err, dberr.ErrIllegalOperation) &&
				!errors.Is(err, dberr.ErrConfiguration) &&
				!errors.Is(err, resilience.ErrCircuitOpen)
		}
	}
	retryer, err := retry.NewRetryer(rc)
	if err != nil {
		return nil, &dberr.InitError{Message: "invalid reconnect policy", Err: err}
	}

	dialect := opts.Dialect
	if dialect == nil {
		dialect = SQLite
	}

	c := &Connector{
		acq:     acq,
		opts:    opts,
		dialect: dialect,
		retryer: retryer,
		log:     logging.Or(opts.Logger, "connector").With().Str("kind", acq.Kind()).Logger(),
	}

	if err := c.setup(ctx); err != nil {
		_ = acq.Release()
		return nil, err
	}

	return c, nil
}

// setup получает новое соединение и применяет режим транзакции
func (c *Connector) setup(ctx context.Context) error {
	c.discard()

	err := c.retryer.Do(ctx, func(ctx context.Context) error {
		conn, err := c.acquire(ctx)
		if err != nil {
			return err
		}
		c.conn = conn

		if c.opts.Transaction {
			if err := c.begin(ctx); err != nil {
				c.discard()
				return err
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, dberr.ErrIllegalOperation) || errors.Is(err, dberr.ErrConfiguration) {
			return err
		}
		return &dberr.InitError{
			Message: fmt.Sprintf("unable to acquire %s connection", c.acq.Kind()),
			Err:     err,
		}
	}

	c.log.Debug().
		Bool("transaction", c.opts.Transaction).
		Int("fetch_size", c.opts.FetchSize).
		Msg("connection established")

	return nil
}

// acquire получает соединение через предохранитель, если он задан
func (c *Connector) acquire(ctx context.Context) (*sql.Conn, error) {
	if c.opts.Breaker == nil {
		return c.acq.Acquire(ctx)
	}

	var conn *sql.Conn
	err := c.opts.Breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		conn, err = c.acq.Acquire(ctx)
		if err != nil {
			return err
		}
		// неудачей считается и соединение, на котором сервер не отвечает
		if err := conn.PingContext(ctx); err != nil {
			_ = conn.Close()
			conn = nil
			return err
		}
		return nil
	})
	return conn, err
}

// begin открывает транзакцию на текущем соединении.
// Транзакция переживает отдельные вызовы, поэтому отмена ctx ее не откатывает.
func (c *Connector) begin(ctx context.Context) error {
	tx, err := c.conn.BeginTx(context.WithoutCancel(ctx), nil)
	if err != nil {
		return err
	}
	c.tx = tx
	return nil
}

// discard закрывает текущее соединение без ошибок
func (c *Connector) discard() {
	if c.tx != nil {
		_ = c.tx.Rollback()
		c.tx = nil
	}
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
}

// valid проверяет, что соединение живо, без обращения к серверу
func (c *Connector) valid() bool {
	if c.conn == nil {
		return false
	}
	err := c.conn.Raw(func(dc any) error {
		if v, ok := dc.(driver.Validator); ok && !v.IsValid() {
			return driver.ErrBadConn
		}
		return nil
	})
	return err == nil
}

// reset выполняется перед каждой операцией кроме Close
func (c *Connector) reset(ctx context.Context) error {
	if c.closed {
		return &dberr.ClosedError{Kind: c.acq.Kind()}
	}

	if !c.valid() {
		c.log.Warn().Msg("connection lost, reconnecting")
		if err := c.setup(ctx); err != nil {
			return err
		}
	} else if c.opts.Transaction && c.tx == nil {
		if err := c.begin(ctx); err != nil {
			return &dberr.TransactionError{Op: "begin transaction", Err: err}
		}
	}

	c.lastInsertID = 0
	c.lastUpdatedRows = 0
	return nil
}

// exec возвращает исполнителя: транзакцию в режиме транзакции, иначе соединение
func (c *Connector) exec() execer {
	if c.tx != nil {
		return c.tx
	}
	return c.conn
}

// Query выполняет чтение. Вызывающий обязан закрыть rows.
func (c *Connector) Query(ctx context.Context, query string) (*sql.Rows, error) {
	if err := c.reset(ctx); err != nil {
		return nil, err
	}

	c.log.Trace().Str("sql", query).Msg("query")

	rows, err := c.exec().QueryContext(ctx, query)
	if err != nil {
		return nil, &dberr.QueryError{SQL: query, Message: "error while executing query", Err: err}
	}
	return rows, nil
}

// Write выполняет изменяющий оператор и запоминает число строк и сгенерированный ключ
func (c *Connector) Write(ctx context.Context, query string) error {
	if err := c.reset(ctx); err != nil {
		return err
	}

	c.log.Trace().Str("sql", query).Msg("write")

	if c.dialect.ReturningKeys && returningPattern.MatchString(query) {
		return c.writeReturning(ctx, query)
	}

	res, err := c.exec().ExecContext(ctx, query)
	if err != nil {
		return c.writeError(query, err)
	}
	c.record(res)
	return nil
}

// WriteAttachments выполняет оператор, привязывая вложения к его параметрам по порядку
func (c *Connector) WriteAttachments(ctx context.Context, query string, attachments ...attach.Attachment) error {
	// закрытый коннектор отвечает ClosedError раньше проверки аргументов
	if c.closed {
		return &dberr.ClosedError{Kind: c.acq.Kind()}
	}
	if len(attachments) == 0 {
		return dberr.InvalidInput("at least one attachment is required", nil)
	}

	if err := c.reset(ctx); err != nil {
		return err
	}

	args := make([]any, len(attachments))
	for i, a := range attachments {
		data, err := attach.ReadAll(ctx, a)
		if err != nil {
			return dberr.InvalidInput(fmt.Sprintf("unable to read attachment %s", a.Name()), err)
		}
		args[i] = data
	}

	c.log.Trace().Str("sql", query).Int("attachments", len(args)).Msg("write with attachments")

	stmt, err := c.exec().PrepareContext(ctx, query)
	if err != nil {
		return c.writeError(query, err)
	}
	defer stmt.Close()

	res, err := stmt.ExecContext(ctx, args...)
	if err != nil {
		return c.writeError(query, err)
	}
	c.record(res)
	return nil
}

// writeReturning выполняет INSERT ... RETURNING: первая колонка первой строки - ключ
func (c *Connector) writeReturning(ctx context.Context, query string) error {
	rows, err := c.exec().QueryContext(ctx, query)
	if err != nil {
		return c.writeError(query, err)
	}
	defer rows.Close()

	var count int64
	for rows.Next() {
		if count == 0 {
			var id sql.NullInt64
			if err := rows.Scan(&id); err == nil && id.Valid {
				c.lastInsertID = id.Int64
			}
		}
		count++
	}
	if err := rows.Err(); err != nil {
		c.lastInsertID = 0
		return c.writeError(query, err)
	}

	c.lastUpdatedRows = count
	return nil
}

func (c *Connector) record(res sql.Result) {
	if n, err := res.RowsAffected(); err == nil {
		c.lastUpdatedRows = n
	}
	if id, err := res.LastInsertId(); err == nil && id > 0 {
		c.lastInsertID = id
	}
}

func (c *Connector) writeError(query string, err error) error {
	if IsKeyViolation(err) {
		return &dberr.DuplicateKeyError{SQL: query, Err: err}
	}
	return &dberr.QueryError{SQL: query, Message: "error while executing write query", Err: err}
}

// requireTransaction - операции транзакции допустимы только в режиме транзакции
func (c *Connector) requireTransaction(op string) error {
	if !c.opts.Transaction {
		return dberr.IllegalOperation("%s is not allowed outside transaction mode", op)
	}
	return nil
}

// Commit фиксирует транзакцию и открывает следующую
func (c *Connector) Commit(ctx context.Context) error {
	if err := c.reset(ctx); err != nil {
		return err
	}
	if err := c.requireTransaction("commit"); err != nil {
		return err
	}

	tx := c.tx
	c.tx = nil
	if err := tx.Commit(); err != nil {
		return &dberr.TransactionError{Op: "commit", Err: err}
	}

	c.log.Debug().Msg("committed")

	if err := c.begin(ctx); err != nil {
		return &dberr.TransactionError{Op: "begin transaction", Err: err}
	}
	return nil
}

// Rollback откатывает транзакцию целиком и открывает следующую
func (c *Connector) Rollback(ctx context.Context) error {
	if err := c.reset(ctx); err != nil {
		return err
	}
	if err := c.requireTransaction("rollback"); err != nil {
		return err
	}

	tx := c.tx
	c.tx = nil
	if err := tx.Rollback(); err != nil {
		return &dberr.TransactionError{Op: "rollback", Err: err}
	}

	c.log.Debug().Msg("rolled back")

	if err := c.begin(ctx); err != nil {
		return &dberr.TransactionError{Op: "begin transaction", Err: err}
	}
	return nil
}

// RollbackTo откатывает транзакцию к savepoint
func (c *Connector) RollbackTo(ctx context.Context, sp Savepoint) error {
	if err := c.reset(ctx); err != nil {
		return err
	}
	if err := c.requireTransaction("rollback to savepoint"); err != nil {
		return err
	}

	stmt, err := c.dialect.RollbackToSQL(sp.Name)
	if err != nil {
		return dberr.InvalidInput("rollback to savepoint", err)
	}
	if _, err := c.tx.ExecContext(ctx, stmt); err != nil {
		return &dberr.TransactionError{Op: "rollback to savepoint " + sp.Name, Err: err}
	}
	return nil
}

// Savepoint создает savepoint со сгенерированным именем
func (c *Connector) Savepoint(ctx context.Context) (Savepoint, error) {
	name := "sp_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	return c.SavepointNamed(ctx, name)
}

// SavepointNamed создает savepoint с заданным именем
func (c *Connector) SavepointNamed(ctx context.Context, name string) (Savepoint, error) {
	if err := c.reset(ctx); err != nil {
		return Savepoint{}, err
	}
	if err := c.requireTransaction("savepoint"); err != nil {
		return Savepoint{}, err
	}

	stmt, err := c.dialect.SavepointSQL(name)
	if err != nil {
		return Savepoint{}, dberr.InvalidInput("savepoint", err)
	}
	if _, err := c.tx.ExecContext(ctx, stmt); err != nil {
		return Savepoint{}, &dberr.TransactionError{Op: "set savepoint " + name, Err: err}
	}
	return Savepoint{Name: name}, nil
}

// Clone создает независимый коннектор того же варианта и конфигурации
func (c *Connector) Clone(ctx context.Context) (*Connector, error) {
	if c.closed {
		return nil, &dberr.ClosedError{Kind: c.acq.Kind()}
	}

	cloner, ok := c.acq.(Cloner)
	if !ok {
		return nil, &dberr.CloningError{Kind: c.acq.Kind()}
	}

	acq, err := cloner.CloneAcquirer()
	if err != nil {
		return nil, err
	}
	return New(ctx, acq, c.opts)
}

// Close откатывает незафиксированную транзакцию и освобождает соединение.
// Повторный вызов ничего не делает; ошибки освобождения только логируются.
func (c *Connector) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true

	c.discard()
	if err := c.acq.Release(); err != nil {
		c.log.Debug().Err(err).Msg("release failed")
	}
	return nil
}

// IsClosed - был ли вызван Close
func (c *Connector) IsClosed() bool { return c.closed }

// IsTransaction - режим транзакции
func (c *Connector) IsTransaction() bool { return c.opts.Transaction }

// FetchSize - настроенный размер выборки.
// database/sql не дает переносимой настройки, значение доступно драйверо-зависимому коду.
func (c *Connector) FetchSize() int { return c.opts.FetchSize }

// LastInsertID - ключ, сгенерированный последней записью (0 если не было)
func (c *Connector) LastInsertID() int64 { return c.lastInsertID }

// LastUpdatedRows - число строк, измененных последней записью
func (c *Connector) LastUpdatedRows() int64 { return c.lastUpdatedRows }

// Kind - вариант коннектора
func (c *Connector) Kind() string { return c.acq.Kind() }

// Dialect - диалект СУБД
func (c *Connector) Dialect() *Dialect { return c.dialect }
