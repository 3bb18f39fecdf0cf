// Package config - key-value конфигурация на koanf.
//
// Источники: YAML файл, переменные окружения с префиксом SK_ и in-memory map.
// Ключи с точками (sk.db.url) хранятся вложенно; в YAML их можно писать
// как вложенные секции или плоско. Все ключи в нижнем регистре.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix - префикс переменных окружения: SK_DB_URL -> sk.db.url
const EnvPrefix = "SK_"

// Provider - типизированное чтение конфигурации.
// Отсутствие необязательного ключа возвращает значение по умолчанию, а не ошибку.
type Provider interface {
	String(key, def string) string
	Int(key string, def int) int
	Exists(key string) bool
}

// Config - реализация Provider поверх koanf
type Config struct {
	k *koanf.Koanf
}

// Compile-time check
var _ Provider = (*Config)(nil)

// New создает пустую конфигурацию
func New() *Config {
	return &Config{k: koanf.New(".")}
}

// Load читает YAML файл и накладывает переменные окружения SK_*
func Load(path string) (*Config, error) {
	c := New()
	if err := c.k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("config: load %q: %w", path, err)
	}
	if err := c.LoadEnv(EnvPrefix); err != nil {
		return nil, err
	}
	return c, nil
}

// FromMap создает конфигурацию из map; ключи с точками разворачиваются
func FromMap(values map[string]any) (*Config, error) {
	c := New()
	if err := c.k.Load(confmap.Provider(values, "."), nil); err != nil {
		return nil, fmt.Errorf("config: load map: %w", err)
	}
	return c, nil
}

// MustFromMap - FromMap для тестов и статической инициализации
func MustFromMap(values map[string]any) *Config {
	c, err := FromMap(values)
	if err != nil {
		panic(err)
	}
	return c
}

// LoadEnv накладывает переменные окружения с префиксом: PREFIX_DB_URL -> sk.db.url
func (c *Config) LoadEnv(prefix string) error {
	root := strings.ToLower(strings.TrimSuffix(prefix, "_"))
	err := c.k.Load(env.Provider(prefix, ".", func(s string) string {
		key := strings.ToLower(strings.TrimPrefix(s, prefix))
		return root + "." + strings.ReplaceAll(key, "_", ".")
	}), nil)
	if err != nil {
		return fmt.Errorf("config: load env %s*: %w", prefix, err)
	}
	return nil
}

// Set задает значение ключа
func (c *Config) Set(key string, value any) error {
	return c.k.Set(key, value)
}

// Exists проверяет наличие ключа
func (c *Config) Exists(key string) bool {
	return c.k.Exists(key)
}

// String возвращает строку или def
func (c *Config) String(key, def string) string {
	if !c.k.Exists(key) {
		return def
	}
	return c.k.String(key)
}

// Int возвращает целое или def. Нечисловое значение также дает def.
func (c *Config) Int(key string, def int) int {
	if !c.k.Exists(key) {
		return def
	}
	v, err := toInt(c.k.Get(key))
	if err != nil {
		return def
	}
	return v
}

// Bool возвращает bool или def
func (c *Config) Bool(key string, def bool) bool {
	if !c.k.Exists(key) {
		return def
	}
	return c.k.Bool(key)
}

// Duration возвращает длительность ("5s", "100ms") или def
func (c *Config) Duration(key string, def time.Duration) time.Duration {
	if !c.k.Exists(key) {
		return def
	}
	return c.k.Duration(key)
}

// Keys возвращает все плоские ключи
func (c *Config) Keys() []string {
	return c.k.Keys()
}

// Cut возвращает подконфигурацию под prefix
func (c *Config) Cut(prefix string) *Config {
	return &Config{k: c.k.Cut(prefix)}
}

// Unmarshal декодирует секцию в структуру с тегами koanf
func (c *Config) Unmarshal(path string, out any) error {
	return c.k.Unmarshal(path, out)
}

// Koanf - доступ к нижележащему koanf
func (c *Config) Koanf() *koanf.Koanf {
	return c.k
}

func toInt(v any) (int, error) {
	switch x := v.(type) {
	case int:
		return x, nil
	case int64:
		return int(x), nil
	case float64:
		return int(x), nil
	case string:
		var n int
		if _, err := fmt.Sscanf(strings.TrimSpace(x), "%d", &n); err != nil {
			return 0, err
		}
		return n, nil
	default:
		return 0, fmt.Errorf("not an integer: %v", v)
	}
}
