package connector

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/ruslano69/skdb/pkg/config"
	"github.com/ruslano69/skdb/pkg/dberr"
	"github.com/ruslano69/skdb/pkg/directory"
	"github.com/ruslano69/skdb/pkg/logging"
	"github.com/ruslano69/skdb/pkg/resilience"
	"github.com/ruslano69/skdb/pkg/retry"
)

// Prefix - префикс ключей конфигурации БД
const Prefix = "sk.db"

// Ключи конфигурации относительно префикса
const (
	KeyType                 = "type"
	KeyDriver               = "driver"
	KeyURL                  = "url"
	KeyUser                 = "user"
	KeyPassword             = "password"
	KeyContext              = "context"
	KeyFetchSize            = "fetchsize"
	KeyMinPoolSize          = "minpoolsize"
	KeyMaxPoolSize          = "maxpoolsize"
	KeyPoolAcquireIncrement = "poolacquireincrement"
	KeyPoolMaxIdleTime      = "poolmaxidletime"
	KeyPoolTrace            = "pooltrace"
	KeyDialect              = "dialect"
	KeyDirectoryRedis       = "directory.redis"
)

// legacyKeys - написание ключей в старых конфигурациях
var legacyKeys = map[string]string{
	KeyFetchSize:            "fetchSize",
	KeyMinPoolSize:          "minPoolSize",
	KeyMaxPoolSize:          "maxPoolSize",
	KeyPoolAcquireIncrement: "poolAcquireIncrement",
}

// Type - вариант коннектора
type Type string

const (
	TypeDirect    Type = KindDirect
	TypeDirectory Type = KindDirectory
	TypePool      Type = KindPool
)

// ParseType разбирает тип без учета регистра; JDBC/JNDI/POOL - синонимы
func ParseType(s string) (Type, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "direct", "jdbc":
		return TypeDirect, true
	case "directory", "jndi":
		return TypeDirectory, true
	case "pool", "pooled":
		return TypePool, true
	default:
		return "", false
	}
}

// requiredKeys - обязательные ключи для каждого варианта
var requiredKeys = map[Type][]string{
	TypeDirect:    {KeyDriver, KeyURL, KeyUser, KeyPassword},
	TypeDirectory: {KeyContext},
	TypePool:      {KeyDriver, KeyURL, KeyUser, KeyPassword},
}

// Constructor создает коннектор варианта по конфигурации фабрики
type Constructor func(ctx context.Context, f *Factory, opts Options) (*Connector, error)

var registry = struct {
	mu           sync.RWMutex
	constructors map[Type]Constructor
}{
	constructors: make(map[Type]Constructor),
}

func init() {
	Register(TypeDirect, newDirectFromConfig)
	Register(TypeDirectory, newDirectoryFromConfig)
	Register(TypePool, newPooledFromConfig)
}

// Register регистрирует конструктор варианта
func Register(t Type, c Constructor) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	registry.constructors[t] = c
}

// Unregister удаляет конструктор варианта
func Unregister(t Type) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	delete(registry.constructors, t)
}

// RegisteredTypes возвращает зарегистрированные варианты
func RegisteredTypes() []string {
	registry.mu.RLock()
	defer registry.mu.RUnlock()

	types := make([]string, 0, len(registry.constructors))
	for t := range registry.constructors {
		types = append(types, string(t))
	}
	sort.Strings(types)
	return types
}

// Factory создает коннекторы по конфигурации с префиксом sk.db
type Factory struct {
	cfg    config.Provider
	prefix string
	dir    directory.Directory
	log    zerolog.Logger

	mu    sync.Mutex
	redis *redis.Client
}

// FactoryOption настраивает фабрику
type FactoryOption func(*Factory)

// WithPrefix меняет префикс ключей конфигурации
func WithPrefix(prefix string) FactoryOption {
	return func(f *Factory) { f.prefix = prefix }
}

// WithDirectory задает каталог источников для варианта directory
func WithDirectory(dir directory.Directory) FactoryOption {
	return func(f *Factory) { f.dir = dir }
}

// WithLogger задает логгер фабрики
func WithLogger(l zerolog.Logger) FactoryOption {
	return func(f *Factory) { f.log = l }
}

// NewFactory создает фабрику поверх провайдера конфигурации
func NewFactory(cfg config.Provider, opts ...FactoryOption) *Factory {
	f := &Factory{
		cfg:    cfg,
		prefix: Prefix,
		log:    logging.Named("connector.factory"),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *Factory) key(name string) string {
	return f.prefix + "." + name
}

// lookupKey возвращает полный ключ, учитывая старое написание
func (f *Factory) lookupKey(name string) string {
	k := f.key(name)
	if f.cfg.Exists(k) {
		return k
	}
	if legacy, ok := legacyKeys[name]; ok && f.cfg.Exists(f.key(legacy)) {
		return f.key(legacy)
	}
	return k
}

func (f *Factory) str(name string) string {
	return f.cfg.String(f.lookupKey(name), "")
}

func (f *Factory) int(name string, def int) int {
	return f.cfg.Int(f.lookupKey(name), def)
}

// Type определяет вариант коннектора. Отсутствующий или неизвестный тип
// дает direct с предупреждением.
func (f *Factory) Type() Type {
	raw := f.str(KeyType)
	if raw == "" {
		f.log.Warn().Str("key", f.key(KeyType)).Msg("database type not configured, using direct")
		return TypeDirect
	}

	t, ok := ParseType(raw)
	if !ok {
		f.log.Warn().Str("type", raw).Msg("unknown database type, using direct")
		return TypeDirect
	}
	return t
}

// Validate проверяет наличие обязательных ключей для варианта
func (f *Factory) Validate(t Type) error {
	for _, name := range requiredKeys[t] {
		if !f.cfg.Exists(f.key(name)) {
			return &dberr.ConfigKeyError{Key: f.key(name)}
		}
	}
	return nil
}

// Connector создает коннектор настроенного варианта
func (f *Factory) Connector(ctx context.Context, transaction bool) (*Connector, error) {
	t := f.Type()
	if err := f.Validate(t); err != nil {
		return nil, err
	}

	registry.mu.RLock()
	constructor, ok := registry.constructors[t]
	registry.mu.RUnlock()
	if !ok {
		return nil, &dberr.InitError{
			Message: fmt.Sprintf("unknown connector type: %s (available types: %v)", t, RegisteredTypes()),
		}
	}

	opts, err := f.options(transaction)
	if err != nil {
		return nil, err
	}

	if opts.Breaker, err = f.breaker(t); err != nil {
		return nil, err
	}

	return constructor(ctx, f, opts)
}

// options собирает общие параметры коннектора
func (f *Factory) options(transaction bool) (Options, error) {
	rc := retry.FromProvider(f.cfg, f.prefix)
	if err := rc.Validate(); err != nil {
		return Options{}, &dberr.InitError{Message: "invalid reconnect policy", Err: err}
	}

	opts := Options{
		Transaction: transaction,
		FetchSize:   f.int(KeyFetchSize, 0),
		Retry:       rc,
	}

	name := f.str(KeyDialect)
	if name == "" {
		name = f.str(KeyDriver)
	}
	if name != "" {
		d, err := DialectFor(name)
		if err != nil {
			return Options{}, &dberr.InitError{Message: "unable to resolve dialect", Err: err}
		}
		opts.Dialect = d
	}

	return opts, nil
}

// breaker возвращает предохранитель источника данных из группы процесса,
// если задан sk.db.breaker.failures
func (f *Factory) breaker(t Type) (*resilience.Breaker, error) {
	cfg, ok := resilience.FromProvider(f.cfg, f.prefix)
	if !ok {
		return nil, nil
	}

	name := f.str(KeyDriver) + ":" + f.str(KeyURL)
	if t == TypeDirectory {
		name = KindDirectory + ":" + f.str(KeyContext)
	}

	b, err := resilience.Default.GetOrCreate(name, cfg)
	if err != nil {
		return nil, &dberr.InitError{Message: "invalid circuit breaker settings", Err: err}
	}
	return b, nil
}

// DirectSettings читает параметры соединения из конфигурации
func (f *Factory) DirectSettings() DirectSettings {
	return DirectSettings{
		Driver:   f.str(KeyDriver),
		URL:      f.str(KeyURL),
		User:     f.str(KeyUser),
		Password: f.str(KeyPassword),
	}
}

// PoolSettings читает размеры пула; отсутствующие ключи дают значения по умолчанию
func (f *Factory) PoolSettings() PoolSettings {
	s := DefaultPoolSettings()
	s.MinSize = f.int(KeyMinPoolSize, s.MinSize)
	s.MaxSize = f.int(KeyMaxPoolSize, s.MaxSize)
	s.AcquireIncrement = f.int(KeyPoolAcquireIncrement, s.AcquireIncrement)
	if sec := f.int(KeyPoolMaxIdleTime, -1); sec >= 0 {
		s.MaxIdleTime = time.Duration(sec) * time.Second
	}
	s.Trace = strings.EqualFold(f.str(KeyPoolTrace), "true")
	return s
}

// Directory возвращает каталог источников: явно заданный, Redis из
// sk.db.directory.redis или каталог процесса
func (f *Factory) Directory() directory.Directory {
	if f.dir != nil {
		return f.dir
	}

	addr := f.str(KeyDirectoryRedis)
	if addr == "" {
		return directory.Default
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.redis == nil {
		f.redis = redis.NewClient(&redis.Options{Addr: addr})
	}
	f.dir = directory.NewRedis(f.redis)
	return f.dir
}

// ReleaseResources освобождает ресурсы, общие для коннекторов фабрики.
// Пулы процесса закрываются только для варианта pool.
func (f *Factory) ReleaseResources() error {
	var err error
	if f.Type() == TypePool {
		err = ReleasePools()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if rd, ok := f.dir.(*directory.RedisDirectory); ok && f.redis != nil {
		_ = rd.Close()
		_ = f.redis.Close()
		f.redis = nil
		f.dir = nil
	}
	return err
}

// DumpSettings пишет действующую конфигурацию в debug лог (без пароля)
func (f *Factory) DumpSettings() {
	t := f.Type()
	ev := f.log.Debug().Str("type", string(t))
	switch t {
	case TypeDirectory:
		ev = ev.Str("context", f.str(KeyContext))
	default:
		s := f.DirectSettings()
		ev = ev.Str("driver", s.Driver).Str("url", s.URL).Str("user", s.User)
	}
	if t == TypePool {
		ps := f.PoolSettings()
		ev = ev.Int("min_pool_size", ps.MinSize).
			Int("max_pool_size", ps.MaxSize).
			Int("pool_acquire_increment", ps.AcquireIncrement)
	}
	ev.Int("fetch_size", f.int(KeyFetchSize, 0)).Msg("database settings")
}

func newDirectFromConfig(ctx context.Context, f *Factory, opts Options) (*Connector, error) {
	return NewDirect(ctx, f.DirectSettings(), opts)
}

func newDirectoryFromConfig(ctx context.Context, f *Factory, opts Options) (*Connector, error) {
	return NewDirectory(ctx, f.Directory(), f.str(KeyContext), opts)
}

func newPooledFromConfig(ctx context.Context, f *Factory, opts Options) (*Connector, error) {
	if err := ConfigurePools(f.PoolSettings()); err != nil {
		return nil, err
	}
	return NewPooled(ctx, f.DirectSettings(), opts)
}
