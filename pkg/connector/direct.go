package connector

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ruslano69/skdb/pkg/dberr"
)

// KindDirect - соединение открывается напрямую драйвером
const KindDirect = "direct"

// DirectSettings - параметры прямого соединения
type DirectSettings struct {
	Driver   string `validate:"required"`
	URL      string `validate:"required"`
	User     string
	Password string
}

// directAcquirer владеет собственным *sql.DB, закрываемым при Release
type directAcquirer struct {
	settings DirectSettings
	dialect  *Dialect
	db       *sql.DB
}

// Compile-time check
var (
	_ Acquirer = (*directAcquirer)(nil)
	_ Cloner   = (*directAcquirer)(nil)
)

// NewDirectAcquirer создает Acquirer прямого варианта
func NewDirectAcquirer(s DirectSettings, dialect *Dialect) Acquirer {
	return &directAcquirer{settings: s, dialect: dialect}
}

// NewDirect создает коннектор прямого варианта; диалект определяется по драйверу
func NewDirect(ctx context.Context, s DirectSettings, opts Options) (*Connector, error) {
	if opts.Dialect == nil {
		d, err := DialectFor(s.Driver)
		if err != nil {
			return nil, &dberr.InitError{Message: "unable to initialize direct connector", Err: err}
		}
		opts.Dialect = d
	}
	return New(ctx, NewDirectAcquirer(s, opts.Dialect), opts)
}

func (a *directAcquirer) Acquire(ctx context.Context) (*sql.Conn, error) {
	if a.db == nil {
		dsn, err := a.dialect.ComposeDSN(a.settings.URL, a.settings.User, a.settings.Password)
		if err != nil {
			return nil, &dberr.InitError{Message: "invalid connection url", Err: err}
		}

		db, err := sql.Open(a.dialect.DriverName(a.settings.Driver), dsn)
		if err != nil {
			return nil, &dberr.InitError{
				Message: fmt.Sprintf("unable to load driver %s", a.settings.Driver),
				Err:     err,
			}
		}
		a.db = db
	}

	return a.db.Conn(ctx)
}

func (a *directAcquirer) Kind() string { return KindDirect }

func (a *directAcquirer) Release() error {
	if a.db == nil {
		return nil
	}
	err := a.db.Close()
	a.db = nil
	return err
}

func (a *directAcquirer) CloneAcquirer() (Acquirer, error) {
	return &directAcquirer{settings: a.settings, dialect: a.dialect}, nil
}
