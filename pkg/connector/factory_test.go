package connector

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/ruslano69/skdb/pkg/config"
	"github.com/ruslano69/skdb/pkg/dberr"
	"github.com/ruslano69/skdb/pkg/directory"
	"github.com/ruslano69/skdb/pkg/resilience"
)

func TestParseType(t *testing.T) {
	tests := map[string]Type{
		"direct":    TypeDirect,
		"JDBC":      TypeDirect,
		"directory": TypeDirectory,
		"JNDI":      TypeDirectory,
		"pool":      TypePool,
		"POOL":      TypePool,
	}
	for in, want := range tests {
		got, ok := ParseType(in)
		if !ok || got != want {
			t.Errorf("ParseType(%q) = %q, %v; want %q", in, got, ok, want)
		}
	}
	if _, ok := ParseType("cluster"); ok {
		t.Error("Expected unknown type rejected")
	}
}

func TestFactory_TypeDefaultsToDirect(t *testing.T) {
	f := NewFactory(config.New())
	if f.Type() != TypeDirect {
		t.Errorf("Expected direct by default, got %s", f.Type())
	}

	f = NewFactory(config.MustFromMap(map[string]any{"sk.db.type": "bogus"}))
	if f.Type() != TypeDirect {
		t.Errorf("Expected direct for unknown type, got %s", f.Type())
	}
}

func TestFactory_MissingRequiredKey(t *testing.T) {
	tests := []struct {
		name    string
		values  map[string]any
		missing string
	}{
		{"direct without password", map[string]any{
			"sk.db.type": "direct", "sk.db.driver": "sqlite", "sk.db.url": "x.db", "sk.db.user": "u",
		}, "sk.db.password"},
		{"pool without url", map[string]any{
			"sk.db.type": "pool", "sk.db.driver": "sqlite", "sk.db.user": "u", "sk.db.password": "p",
		}, "sk.db.url"},
		{"directory without context", map[string]any{
			"sk.db.type": "JNDI",
		}, "sk.db.context"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewFactory(config.MustFromMap(tt.values))
			_, err := f.Connector(context.Background(), false)

			var ke *dberr.ConfigKeyError
			if !errors.As(err, &ke) {
				t.Fatalf("Expected ConfigKeyError, got %v", err)
			}
			if ke.Key != tt.missing {
				t.Errorf("Expected missing key %s, got %s", tt.missing, ke.Key)
			}
			if !errors.Is(err, dberr.ErrConfiguration) {
				t.Error("Expected ErrConfiguration")
			}
		})
	}
}

func directConfig(t *testing.T, kind string) *config.Config {
	t.Helper()
	return config.MustFromMap(map[string]any{
		"sk.db.type":      kind,
		"sk.db.driver":    "sqlite",
		"sk.db.url":       filepath.Join(t.TempDir(), "factory.db"),
		"sk.db.user":      "app",
		"sk.db.password":  "secret",
		"sk.db.fetchsize": 100,
	})
}

func TestFactory_Direct(t *testing.T) {
	f := NewFactory(directConfig(t, "JDBC"))

	c, err := f.Connector(context.Background(), true)
	if err != nil {
		t.Fatalf("Connector failed: %v", err)
	}
	defer c.Close()

	if c.Kind() != KindDirect {
		t.Errorf("Expected direct, got %s", c.Kind())
	}
	if !c.IsTransaction() {
		t.Error("Expected transaction mode")
	}
	if c.FetchSize() != 100 {
		t.Errorf("Expected fetch size 100, got %d", c.FetchSize())
	}
	if c.Dialect() != SQLite {
		t.Errorf("Expected sqlite dialect, got %s", c.Dialect())
	}
}

func TestFactory_Directory(t *testing.T) {
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "dir.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer db.Close()

	reg := directory.NewRegistry()
	if err := reg.Bind("jdbc/app", db); err != nil {
		t.Fatalf("Bind failed: %v", err)
	}

	cfg := config.MustFromMap(map[string]any{
		"sk.db.type":    "directory",
		"sk.db.context": "jdbc/app",
		"sk.db.dialect": "sqlite",
	})
	f := NewFactory(cfg, WithDirectory(reg))

	c, err := f.Connector(context.Background(), false)
	if err != nil {
		t.Fatalf("Connector failed: %v", err)
	}

	if c.Kind() != KindDirectory {
		t.Errorf("Expected directory, got %s", c.Kind())
	}
	if err := c.Write(context.Background(), "CREATE TABLE t (id INTEGER)"); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	clone, err := c.Clone(context.Background())
	if err != nil {
		t.Fatalf("Clone failed: %v", err)
	}
	clone.Close()
	c.Close()

	// пул каталога не закрывается коннектором
	if err := db.Ping(); err != nil {
		t.Errorf("Directory db must stay open after connector close: %v", err)
	}
}

func TestFactory_DirectoryNotBound(t *testing.T) {
	cfg := config.MustFromMap(map[string]any{"sk.db.type": "directory", "sk.db.context": "missing"})
	f := NewFactory(cfg, WithDirectory(directory.NewRegistry()))

	_, err := f.Connector(context.Background(), false)
	if !errors.Is(err, dberr.ErrConfiguration) || !errors.Is(err, directory.ErrNotBound) {
		t.Errorf("Expected configuration error caused by ErrNotBound, got %v", err)
	}
}

func TestFactory_RedisDirectory(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	publisher := directory.NewRedis(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	defer publisher.Close()
	err := publisher.Register(ctx, "jdbc/shared", directory.Entry{
		Driver: "sqlite",
		DSN:    filepath.Join(t.TempDir(), "shared.db"),
	})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	cfg := config.MustFromMap(map[string]any{
		"sk.db.type":            "JNDI",
		"sk.db.context":         "jdbc/shared",
		"sk.db.directory.redis": mr.Addr(),
	})
	f := NewFactory(cfg)
	defer f.ReleaseResources()

	c, err := f.Connector(ctx, false)
	if err != nil {
		t.Fatalf("Connector failed: %v", err)
	}
	defer c.Close()

	if _, ok := f.Directory().(*directory.RedisDirectory); !ok {
		t.Errorf("Expected redis directory, got %T", f.Directory())
	}
	if err := c.Write(ctx, "CREATE TABLE t (id INTEGER)"); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
}

func TestFactory_PoolSettings(t *testing.T) {
	f := NewFactory(config.New())
	s := f.PoolSettings()
	if s.MinSize != 5 || s.MaxSize != 100 || s.AcquireIncrement != 5 || s.MaxIdleTime != 600*time.Second {
		t.Errorf("Unexpected defaults %+v", s)
	}

	f = NewFactory(config.MustFromMap(map[string]any{
		"sk.db.minPoolSize":     2,
		"sk.db.maxpoolsize":     "20",
		"sk.db.poolmaxidletime": 30,
	}))
	s = f.PoolSettings()
	if s.MinSize != 2 || s.MaxSize != 20 || s.MaxIdleTime != 30*time.Second {
		t.Errorf("Unexpected settings %+v", s)
	}
}

func TestPool_SharedAndReleased(t *testing.T) {
	resetPoolsForTest()
	t.Cleanup(resetPoolsForTest)

	cfg := directConfig(t, "pool")
	if err := cfg.Set("sk.db.maxpoolsize", 4); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := cfg.Set("sk.db.minpoolsize", 1); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	f := NewFactory(cfg)
	ctx := context.Background()

	first, err := f.Connector(ctx, false)
	if err != nil {
		t.Fatalf("Connector failed: %v", err)
	}
	second, err := f.Connector(ctx, false)
	if err != nil {
		t.Fatalf("Connector failed: %v", err)
	}

	if first.Kind() != KindPool {
		t.Errorf("Expected pool, got %s", first.Kind())
	}
	if got := CurrentPoolSettings().MaxSize; got != 4 {
		t.Errorf("Expected max pool size 4, got %d", got)
	}

	pools.mu.Lock()
	count := len(pools.byKey)
	pools.mu.Unlock()
	if count != 1 {
		t.Errorf("Expected one shared pool, got %d", count)
	}

	// Close коннектора не закрывает общий пул
	first.Close()
	if err := second.Write(ctx, "CREATE TABLE t (id INTEGER)"); err != nil {
		t.Fatalf("Write after sibling close failed: %v", err)
	}
	second.Close()

	if err := f.ReleaseResources(); err != nil {
		t.Fatalf("ReleaseResources failed: %v", err)
	}

	_, err = f.Connector(ctx, false)
	if !errors.Is(err, dberr.ErrIllegalOperation) {
		t.Errorf("Expected ErrIllegalOperation after release, got %v", err)
	}
}

func TestConfigurePools_Validation(t *testing.T) {
	resetPoolsForTest()
	t.Cleanup(resetPoolsForTest)

	err := ConfigurePools(PoolSettings{MinSize: 10, MaxSize: 5, AcquireIncrement: 1})
	if !errors.Is(err, dberr.ErrConfiguration) {
		t.Errorf("Expected configuration error for max < min, got %v", err)
	}
}

func TestFactory_ReleaseResourcesDirectKeepsPools(t *testing.T) {
	resetPoolsForTest()
	t.Cleanup(resetPoolsForTest)

	f := NewFactory(directConfig(t, "direct"))
	if err := f.ReleaseResources(); err != nil {
		t.Fatalf("ReleaseResources failed: %v", err)
	}

	pools.mu.Lock()
	released := pools.released
	pools.mu.Unlock()
	if released {
		t.Error("Direct factory must not release process pools")
	}
}

func TestRegisteredTypes(t *testing.T) {
	types := RegisteredTypes()
	want := []string{"direct", "directory", "pool"}
	if len(types) != len(want) {
		t.Fatalf("Expected %v, got %v", want, types)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Errorf("Expected %v, got %v", want, types)
		}
	}
}

func TestFactory_Breaker(t *testing.T) {
	url := filepath.Join(t.TempDir(), "breaker.db")
	cfg := config.MustFromMap(map[string]any{
		"sk.db.type":             "direct",
		"sk.db.driver":           "sqlite",
		"sk.db.url":              url,
		"sk.db.user":             "sa",
		"sk.db.password":         "sa",
		"sk.db.breaker.failures": 3,
		"sk.db.breaker.timeout":  "10s",
	})

	c, err := NewFactory(cfg).Connector(context.Background(), false)
	if err != nil {
		t.Fatalf("Connector failed: %v", err)
	}
	defer c.Close()

	b, ok := resilience.Default.Get("sqlite:" + url)
	if !ok {
		t.Fatalf("Expected breaker registered, have %v", resilience.Default.Names())
	}
	if b.Counts().TotalSuccesses != 1 {
		t.Errorf("Expected one successful acquire, got %+v", b.Counts())
	}
}
