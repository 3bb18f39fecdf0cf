package directory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// RedisKeyPrefix - префикс ключей записей каталога
const RedisKeyPrefix = "skdb:directory:"

// Entry - описание источника в Redis
type Entry struct {
	Driver string `json:"driver"`
	DSN    string `json:"dsn"`
}

// RedisDirectory хранит описания источников в Redis, общие для нескольких процессов.
// По каждому имени открывается один *sql.DB на процесс; он живет до Close.
type RedisDirectory struct {
	rdb *redis.Client

	mu     sync.Mutex
	opened map[string]*sql.DB
}

// NewRedis создает каталог поверх клиента Redis
func NewRedis(rdb *redis.Client) *RedisDirectory {
	return &RedisDirectory{rdb: rdb, opened: make(map[string]*sql.DB)}
}

// Register публикует описание источника под именем
func (d *RedisDirectory) Register(ctx context.Context, name string, e Entry) error {
	if name == "" || e.Driver == "" || e.DSN == "" {
		return fmt.Errorf("directory: name, driver and dsn are required")
	}

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("directory: encode %q: %w", name, err)
	}
	if err := d.rdb.Set(ctx, RedisKeyPrefix+name, data, 0).Err(); err != nil {
		return fmt.Errorf("directory: redis set: %w", err)
	}
	return nil
}

// Unregister удаляет описание; уже открытый в процессе *sql.DB закрывается
func (d *RedisDirectory) Unregister(ctx context.Context, name string) error {
	if err := d.rdb.Del(ctx, RedisKeyPrefix+name).Err(); err != nil {
		return fmt.Errorf("directory: redis del: %w", err)
	}

	d.mu.Lock()
	db := d.opened[name]
	delete(d.opened, name)
	d.mu.Unlock()

	if db != nil {
		_ = db.Close()
	}
	return nil
}

// Resolve читает описание источника без открытия соединения
func (d *RedisDirectory) Resolve(ctx context.Context, name string) (Entry, error) {
	var e Entry

	raw, err := d.rdb.Get(ctx, RedisKeyPrefix+name).Bytes()
	if errors.Is(err, redis.Nil) {
		return e, fmt.Errorf("directory: lookup %q: %w", name, ErrNotBound)
	}
	if err != nil {
		return e, fmt.Errorf("directory: redis get: %w", err)
	}

	if err := json.Unmarshal(raw, &e); err != nil {
		return e, fmt.Errorf("directory: decode %q: %w", name, err)
	}
	return e, nil
}

// Lookup реализует Directory
func (d *RedisDirectory) Lookup(ctx context.Context, name string) (*sql.DB, error) {
	d.mu.Lock()
	db, ok := d.opened[name]
	d.mu.Unlock()
	if ok {
		return db, nil
	}

	e, err := d.Resolve(ctx, name)
	if err != nil {
		return nil, err
	}

	db, err = sql.Open(e.Driver, e.DSN)
	if err != nil {
		return nil, fmt.Errorf("directory: open %q: %w", name, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	// параллельный Lookup мог успеть первым
	if existing, ok := d.opened[name]; ok {
		_ = db.Close()
		return existing, nil
	}
	d.opened[name] = db
	return db, nil
}

// Close закрывает все открытые этим каталогом пулы
func (d *RedisDirectory) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var errs []error
	for name, db := range d.opened {
		if err := db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %q: %w", name, err))
		}
		delete(d.opened, name)
	}
	return errors.Join(errs...)
}
