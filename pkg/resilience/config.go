package resilience

import (
	"fmt"
	"time"

	"github.com/ruslano69/skdb/pkg/config"
)

// Ключи конфигурации относительно префикса (sk.db.breaker.failures)
const (
	KeyFailures = "breaker.failures"
	KeyTimeout  = "breaker.timeout"
)

// Config - параметры предохранителя источника данных
type Config struct {
	// Name - имя для логирования (обычно driver:url или имя в каталоге)
	Name string

	// MaxFailures - число подряд неудачных подключений для открытия
	MaxFailures uint32

	// Timeout - время в Open перед пробным подключением (Half-Open)
	Timeout time.Duration

	// SuccessThreshold - число успешных подключений в Half-Open для закрытия
	SuccessThreshold uint32

	// OnStateChange вызывается в отдельной горутине
	OnStateChange func(name string, from State, to State)
}

// Validate проверяет конфигурацию и заполняет значения по умолчанию
func (c *Config) Validate() error {
	if c.MaxFailures == 0 {
		return fmt.Errorf("MaxFailures must be greater than 0")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("Timeout must be greater than 0")
	}
	if c.SuccessThreshold == 0 {
		c.SuccessThreshold = 1
	}
	if c.Name == "" {
		c.Name = "datasource"
	}
	return nil
}

// DefaultConfig - 5 ошибок подряд, 60 секунд в Open, 1 успех для закрытия
func DefaultConfig(name string) Config {
	return Config{
		Name:             name,
		MaxFailures:      5,
		Timeout:          60 * time.Second,
		SuccessThreshold: 1,
	}
}

// FromProvider читает prefix.breaker.failures и prefix.breaker.timeout.
// Предохранитель выключен (ok=false), если failures не задан или <= 0.
func FromProvider(p config.Provider, prefix string) (cfg Config, ok bool) {
	failures := p.Int(prefix+"."+KeyFailures, 0)
	if failures <= 0 {
		return Config{}, false
	}

	cfg = DefaultConfig("")
	cfg.MaxFailures = uint32(failures)
	if raw := p.String(prefix+"."+KeyTimeout, ""); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil && d > 0 {
			cfg.Timeout = d
		}
	}
	return cfg, true
}
