// Package directory - именованные источники соединений.
//
// Приложение регистрирует *sql.DB (или описание драйвер+DSN) под логическим
// именем, коннектор directory-типа находит его по имени из sk.db.context.
// Найденный *sql.DB принадлежит каталогу: коннектор берет из него соединения,
// но никогда не закрывает сам пул.
package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrNotBound - имя не зарегистрировано в каталоге
var ErrNotBound = errors.New("name not bound in directory")

// Directory ищет источник соединений по логическому имени
type Directory interface {
	Lookup(ctx context.Context, name string) (*sql.DB, error)
}

// Registry - каталог в памяти процесса
type Registry struct {
	mu  sync.RWMutex
	dbs map[string]*sql.DB
}

// Default - каталог процесса, используется фабрикой коннекторов по умолчанию
var Default = NewRegistry()

// NewRegistry создает пустой каталог
func NewRegistry() *Registry {
	return &Registry{dbs: make(map[string]*sql.DB)}
}

// Bind регистрирует db под именем, заменяя предыдущую привязку
func (r *Registry) Bind(name string, db *sql.DB) error {
	if name == "" {
		return fmt.Errorf("directory: empty name")
	}
	if db == nil {
		return fmt.Errorf("directory: nil db for %q", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.dbs[name] = db
	return nil
}

// Unbind удаляет привязку; db не закрывается
func (r *Registry) Unbind(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.dbs, name)
}

// Lookup реализует Directory
func (r *Registry) Lookup(ctx context.Context, name string) (*sql.DB, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	db, ok := r.dbs[name]
	if !ok {
		return nil, fmt.Errorf("directory: lookup %q: %w", name, ErrNotBound)
	}
	return db, nil
}

// Names возвращает зарегистрированные имена по алфавиту
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.dbs))
	for name := range r.dbs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
