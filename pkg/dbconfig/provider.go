package dbconfig

import (
	"context"
	"strconv"

	"github.com/ruslano69/skdb/pkg/config"
)

// provider - Store как config.Provider. Ошибки чтения логируются,
// вызывающий получает значение по умолчанию.
type provider struct {
	ctx   context.Context
	store *Store
}

// Compile-time check
var _ config.Provider = (*provider)(nil)

// Provider возвращает config.Provider, читающий ключи из таблицы на каждый вызов
func (s *Store) Provider(ctx context.Context) config.Provider {
	return &provider{ctx: ctx, store: s}
}

func (p *provider) String(key, def string) string {
	v, ok, err := p.store.Get(p.ctx, key)
	if err != nil {
		p.store.log.Error().Err(err).Str("key", key).Msg("failed to read configuration key")
		return def
	}
	if !ok {
		return def
	}
	return v
}

func (p *provider) Int(key string, def int) int {
	v := p.String(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func (p *provider) Exists(key string) bool {
	ok, err := p.store.Contains(p.ctx, key)
	if err != nil {
		p.store.log.Error().Err(err).Str("key", key).Msg("failed to read configuration key")
		return false
	}
	return ok
}
