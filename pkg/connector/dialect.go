package connector

import (
	"database/sql"
	"fmt"
	"net/url"
	"regexp"
	"slices"
	"strings"

	"github.com/go-sql-driver/mysql"
)

// Dialect - особенности конкретной СУБД: имя драйвера, сборка DSN,
// синтаксис savepoint и способ получения сгенерированного ключа
type Dialect struct {
	// Name - каноническое имя: mysql, postgres, sqlserver, sqlite
	Name string

	// Drivers - имена database/sql драйверов; первый используется по умолчанию
	Drivers []string

	// ReturningKeys - драйвер не поддерживает LastInsertId, ключ берется из RETURNING
	ReturningKeys bool

	composeDSN    func(rawURL, user, password string) (string, error)
	savepointSQL  func(name string) string
	rollbackToSQL func(name string) string
}

var (
	// MySQL - go-sql-driver/mysql
	MySQL = &Dialect{
		Name:          "mysql",
		Drivers:       []string{"mysql"},
		composeDSN:    composeMySQLDSN,
		savepointSQL:  ansiSavepoint,
		rollbackToSQL: ansiRollbackTo,
	}

	// Postgres - pgx через database/sql (pgx/v5/stdlib)
	Postgres = &Dialect{
		Name:          "postgres",
		Drivers:       []string{"pgx", "pgx/v5", "postgres", "postgresql"},
		ReturningKeys: true,
		composeDSN:    composePostgresDSN,
		savepointSQL:  ansiSavepoint,
		rollbackToSQL: ansiRollbackTo,
	}

	// SQLServer - denisenkom/go-mssqldb
	SQLServer = &Dialect{
		Name:       "sqlserver",
		Drivers:    []string{"sqlserver", "mssql"},
		composeDSN: composeSQLServerDSN,
		savepointSQL: func(name string) string {
			return "SAVE TRANSACTION " + name
		},
		rollbackToSQL: func(name string) string {
			return "ROLLBACK TRANSACTION " + name
		},
	}

	// SQLite - modernc.org/sqlite; учетные данные не используются
	SQLite = &Dialect{
		Name:    "sqlite",
		Drivers: []string{"sqlite", "sqlite3"},
		composeDSN: func(rawURL, _, _ string) (string, error) {
			return rawURL, nil
		},
		savepointSQL:  ansiSavepoint,
		rollbackToSQL: ansiRollbackTo,
	}
)

var dialects = []*Dialect{MySQL, Postgres, SQLServer, SQLite}

// identifierPattern - допустимое имя savepoint
var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// DialectFor определяет диалект по имени драйвера или имени диалекта
func DialectFor(name string) (*Dialect, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	for _, d := range dialects {
		if d.Name == n || slices.Contains(d.Drivers, n) {
			return d, nil
		}
	}
	return nil, fmt.Errorf("unsupported database driver or dialect: %q", name)
}

// DriverName возвращает имя для sql.Open: настроенное имя, если такой драйвер
// зарегистрирован, иначе драйвер диалекта по умолчанию
func (d *Dialect) DriverName(configured string) string {
	if configured != "" && slices.Contains(sql.Drivers(), configured) {
		return configured
	}
	return d.Drivers[0]
}

// ComposeDSN добавляет учетные данные к url в формате драйвера
func (d *Dialect) ComposeDSN(rawURL, user, password string) (string, error) {
	return d.composeDSN(rawURL, user, password)
}

// SavepointSQL возвращает оператор создания savepoint
func (d *Dialect) SavepointSQL(name string) (string, error) {
	if !identifierPattern.MatchString(name) {
		return "", fmt.Errorf("invalid savepoint name %q", name)
	}
	return d.savepointSQL(name), nil
}

// RollbackToSQL возвращает оператор отката к savepoint
func (d *Dialect) RollbackToSQL(name string) (string, error) {
	if !identifierPattern.MatchString(name) {
		return "", fmt.Errorf("invalid savepoint name %q", name)
	}
	return d.rollbackToSQL(name), nil
}

func (d *Dialect) String() string {
	return d.Name
}

func ansiSavepoint(name string) string  { return "SAVEPOINT " + name }
func ansiRollbackTo(name string) string { return "ROLLBACK TO SAVEPOINT " + name }

// composeMySQLDSN: "tcp(host:3306)/db?parseTime=true" + user/password
func composeMySQLDSN(rawURL, user, password string) (string, error) {
	cfg, err := mysql.ParseDSN(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid mysql url: %w", err)
	}
	if user != "" {
		cfg.User = user
	}
	if password != "" {
		cfg.Passwd = password
	}
	return cfg.FormatDSN(), nil
}

// composePostgresDSN поддерживает URL (postgres://host/db) и keyword/value (host=... dbname=...)
func composePostgresDSN(rawURL, user, password string) (string, error) {
	if strings.HasPrefix(rawURL, "postgres://") || strings.HasPrefix(rawURL, "postgresql://") {
		return withURLUserinfo(rawURL, user, password)
	}

	var b strings.Builder
	b.WriteString(rawURL)
	if user != "" {
		b.WriteString(" user=")
		b.WriteString(quoteKeyword(user))
	}
	if password != "" {
		b.WriteString(" password=")
		b.WriteString(quoteKeyword(password))
	}
	return strings.TrimSpace(b.String()), nil
}

// composeSQLServerDSN поддерживает URL (sqlserver://host?database=db) и ADO строку
func composeSQLServerDSN(rawURL, user, password string) (string, error) {
	if strings.HasPrefix(rawURL, "sqlserver://") {
		return withURLUserinfo(rawURL, user, password)
	}

	parts := []string{strings.TrimSuffix(rawURL, ";")}
	if user != "" {
		parts = append(parts, "user id="+user)
	}
	if password != "" {
		parts = append(parts, "password="+password)
	}
	return strings.Join(parts, ";"), nil
}

func withURLUserinfo(rawURL, user, password string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid url: %w", err)
	}
	if user != "" {
		if password != "" {
			u.User = url.UserPassword(user, password)
		} else {
			u.User = url.User(user)
		}
	}
	return u.String(), nil
}

// quoteKeyword экранирует значение для keyword/value строки libpq
func quoteKeyword(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}
