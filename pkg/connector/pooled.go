package connector

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	pgxzero "github.com/jackc/pgx-zerolog"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/jackc/pgx/v5/tracelog"

	"github.com/ruslano69/skdb/pkg/config"
	"github.com/ruslano69/skdb/pkg/dberr"
	"github.com/ruslano69/skdb/pkg/logging"
)

// KindPool - соединение берется из общего пула процесса
const KindPool = "pool"

// Значения размеров пула по умолчанию
const (
	DefaultMinPoolSize          = 5
	DefaultMaxPoolSize          = 100
	DefaultPoolAcquireIncrement = 5
	DefaultPoolMaxIdleTime      = 600 * time.Second
)

// PoolSettings - размеры пулов процесса. Применяются один раз, до создания первого пула.
type PoolSettings struct {
	MinSize int `validate:"min=0"`
	MaxSize int `validate:"min=1,gtefield=MinSize"`
	// AcquireIncrement сохраняется для совместимости конфигурации:
	// database/sql и pgxpool растут по одному соединению
	AcquireIncrement int `validate:"min=1"`
	MaxIdleTime      time.Duration
	// Trace - логировать SQL пулов postgres через pgx tracelog
	Trace bool
}

// DefaultPoolSettings - 5/100/5, простой 600 секунд
func DefaultPoolSettings() PoolSettings {
	return PoolSettings{
		MinSize:          DefaultMinPoolSize,
		MaxSize:          DefaultMaxPoolSize,
		AcquireIncrement: DefaultPoolAcquireIncrement,
		MaxIdleTime:      DefaultPoolMaxIdleTime,
	}
}

// poolKey - пул общий для одинаковых драйвера, url и пользователя
type poolKey struct {
	driver string
	url    string
	user   string
}

type pool struct {
	db *sql.DB
	pg *pgxpool.Pool
}

func (p *pool) close() error {
	err := p.db.Close()
	if p.pg != nil {
		p.pg.Close()
	}
	return err
}

// pools - состояние пулов процесса
var pools = struct {
	mu       sync.Mutex
	settings PoolSettings
	released bool
	byKey    map[poolKey]*pool
}{
	settings: DefaultPoolSettings(),
	byKey:    make(map[poolKey]*pool),
}

// ConfigurePools задает размеры пулов. После создания первого пула
// новые значения игнорируются с предупреждением.
func ConfigurePools(s PoolSettings) error {
	if err := config.Validate(s); err != nil {
		return &dberr.InitError{Message: "invalid pool settings", Err: err}
	}

	pools.mu.Lock()
	defer pools.mu.Unlock()

	log := logging.Named("connector.pool")
	if len(pools.byKey) > 0 {
		if s != pools.settings {
			log.Warn().Msg("pools already created, new pool settings ignored")
		}
		return nil
	}

	pools.settings = s

	log.Debug().
		Int("min_pool_size", s.MinSize).
		Int("max_pool_size", s.MaxSize).
		Int("pool_acquire_increment", s.AcquireIncrement).
		Dur("max_idle_time", s.MaxIdleTime).
		Msg("pool settings")

	return nil
}

// CurrentPoolSettings возвращает действующие размеры пулов
func CurrentPoolSettings() PoolSettings {
	pools.mu.Lock()
	defer pools.mu.Unlock()
	return pools.settings
}

// ReleasePools закрывает все пулы процесса. Операция окончательная:
// последующие попытки получить соединение из пула завершаются ErrIllegalOperation.
func ReleasePools() error {
	pools.mu.Lock()
	defer pools.mu.Unlock()

	var errs []error
	for key, p := range pools.byKey {
		if err := p.close(); err != nil {
			errs = append(errs, fmt.Errorf("close pool %s: %w", key.url, err))
		}
		delete(pools.byKey, key)
	}
	pools.released = true

	log := logging.Named("connector.pool")
	log.Info().Msg("database pools released")
	return errors.Join(errs...)
}

// resetPoolsForTest возвращает пулы в исходное состояние
func resetPoolsForTest() {
	_ = ReleasePools()

	pools.mu.Lock()
	defer pools.mu.Unlock()
	pools.released = false
	pools.settings = DefaultPoolSettings()
}

// poolFor возвращает пул для ключа, создавая его при первом обращении
func poolFor(ctx context.Context, key poolKey, password string, dialect *Dialect) (*pool, error) {
	pools.mu.Lock()
	defer pools.mu.Unlock()

	if pools.released {
		return nil, dberr.IllegalOperation("database pools have been released")
	}

	if p, ok := pools.byKey[key]; ok {
		return p, nil
	}

	dsn, err := dialect.ComposeDSN(key.url, key.user, password)
	if err != nil {
		return nil, &dberr.InitError{Message: "invalid connection url", Err: err}
	}

	s := pools.settings
	var p *pool
	if dialect == Postgres {
		p, err = newPgxPool(ctx, dsn, s)
	} else {
		p, err = newSQLPool(dialect.DriverName(key.driver), dsn, s)
	}
	if err != nil {
		return nil, &dberr.InitError{
			Message: fmt.Sprintf("unable to create pool for %s", key.driver),
			Err:     err,
		}
	}

	pools.byKey[key] = p
	return p, nil
}

func newSQLPool(driverName, dsn string, s PoolSettings) (*pool, error) {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(s.MaxSize)
	db.SetMaxIdleConns(max(s.MinSize, 1))
	db.SetConnMaxIdleTime(s.MaxIdleTime)
	return &pool{db: db}, nil
}

func newPgxPool(ctx context.Context, dsn string, s PoolSettings) (*pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse pgx pool config: %w", err)
	}
	cfg.MinConns = int32(s.MinSize)
	cfg.MaxConns = int32(s.MaxSize)
	cfg.MaxConnIdleTime = s.MaxIdleTime

	if s.Trace {
		cfg.ConnConfig.Tracer = &tracelog.TraceLog{
			Logger:   pgxzero.NewLogger(logging.Named("pgx")),
			LogLevel: tracelog.LogLevelDebug,
		}
	}

	pg, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create pgx pool: %w", err)
	}

	return &pool{db: stdlib.OpenDBFromPool(pg), pg: pg}, nil
}

// pooledAcquirer берет соединения из общего пула; Release ничего не закрывает
type pooledAcquirer struct {
	settings DirectSettings
	dialect  *Dialect
}

// Compile-time check
var (
	_ Acquirer = (*pooledAcquirer)(nil)
	_ Cloner   = (*pooledAcquirer)(nil)
)

// NewPooledAcquirer создает Acquirer варианта pool
func NewPooledAcquirer(s DirectSettings, dialect *Dialect) Acquirer {
	return &pooledAcquirer{settings: s, dialect: dialect}
}

// NewPooled создает коннектор поверх общего пула процесса
func NewPooled(ctx context.Context, s DirectSettings, opts Options) (*Connector, error) {
	if opts.Dialect == nil {
		d, err := DialectFor(s.Driver)
		if err != nil {
			return nil, &dberr.InitError{Message: "unable to initialize pooled connector", Err: err}
		}
		opts.Dialect = d
	}
	return New(ctx, NewPooledAcquirer(s, opts.Dialect), opts)
}

func (a *pooledAcquirer) Acquire(ctx context.Context) (*sql.Conn, error) {
	key := poolKey{driver: a.settings.Driver, url: a.settings.URL, user: a.settings.User}
	p, err := poolFor(ctx, key, a.settings.Password, a.dialect)
	if err != nil {
		return nil, err
	}
	return p.db.Conn(ctx)
}

func (a *pooledAcquirer) Kind() string { return KindPool }

func (a *pooledAcquirer) Release() error { return nil }

func (a *pooledAcquirer) CloneAcquirer() (Acquirer, error) {
	return &pooledAcquirer{settings: a.settings, dialect: a.dialect}, nil
}
