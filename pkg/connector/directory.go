package connector

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ruslano69/skdb/pkg/dberr"
	"github.com/ruslano69/skdb/pkg/directory"
)

// KindDirectory - соединение берется из источника, найденного в каталоге по имени
const KindDirectory = "directory"

// directoryAcquirer не владеет найденным *sql.DB: Release его не закрывает
type directoryAcquirer struct {
	dir  directory.Directory
	name string
	db   *sql.DB
}

// Compile-time check
var (
	_ Acquirer = (*directoryAcquirer)(nil)
	_ Cloner   = (*directoryAcquirer)(nil)
)

// NewDirectoryAcquirer создает Acquirer варианта directory
func NewDirectoryAcquirer(dir directory.Directory, name string) Acquirer {
	return &directoryAcquirer{dir: dir, name: name}
}

// NewDirectory создает коннектор, источник которого ищется в dir по имени name.
// opts.Dialect обязателен для savepoint и RETURNING; nil = SQLite-совместимый.
func NewDirectory(ctx context.Context, dir directory.Directory, name string, opts Options) (*Connector, error) {
	if dir == nil {
		dir = directory.Default
	}
	return New(ctx, NewDirectoryAcquirer(dir, name), opts)
}

func (a *directoryAcquirer) Acquire(ctx context.Context) (*sql.Conn, error) {
	if a.db == nil {
		db, err := a.dir.Lookup(ctx, a.name)
		if err != nil {
			return nil, &dberr.InitError{
				Message: fmt.Sprintf("unable to look up data source %q", a.name),
				Err:     err,
			}
		}
		a.db = db
	}

	conn, err := a.db.Conn(ctx)
	if err != nil {
		// источник мог быть перепривязан, следующий Acquire повторит поиск
		a.db = nil
		return nil, err
	}
	return conn, nil
}

func (a *directoryAcquirer) Kind() string { return KindDirectory }

func (a *directoryAcquirer) Release() error {
	a.db = nil
	return nil
}

func (a *directoryAcquirer) CloneAcquirer() (Acquirer, error) {
	return &directoryAcquirer{dir: a.dir, name: a.name}, nil
}
