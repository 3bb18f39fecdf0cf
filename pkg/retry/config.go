package retry

import (
	"fmt"
	"time"

	"github.com/ruslano69/skdb/pkg/config"
)

// BackoffStrategy определяет стратегию задержки между повторами
type BackoffStrategy string

const (
	// BackoffConstant - постоянная задержка
	BackoffConstant BackoffStrategy = "constant"
	// BackoffLinear - линейное увеличение задержки
	BackoffLinear BackoffStrategy = "linear"
	// BackoffExponential - экспоненциальное увеличение задержки
	BackoffExponential BackoffStrategy = "exponential"
)

// Ключи конфигурации переподключения (относительно префикса коннектора)
const (
	KeyAttempts = "reconnect.attempts"
	KeyDelay    = "reconnect.delay"
	KeyBackoff  = "reconnect.backoff"
)

// Config содержит конфигурацию повторов
type Config struct {
	// Enabled - включить повторы; выключенный Retryer вызывает функцию ровно один раз
	Enabled bool

	// MaxAttempts - максимальное количество попыток (включая первую)
	// 0 = бесконечные попытки (не рекомендуется)
	MaxAttempts int

	// InitialDelay - задержка перед первым повтором
	InitialDelay time.Duration

	// MaxDelay - максимальная задержка между попытками
	MaxDelay time.Duration

	// BackoffStrategy - стратегия увеличения задержки
	BackoffStrategy BackoffStrategy

	// BackoffMultiplier - множитель для exponential backoff (обычно 2.0)
	BackoffMultiplier float64

	// Jitter - случайное отклонение задержки (0.0 - 1.0)
	Jitter float64

	// Retryable решает, стоит ли повторять после ошибки.
	// nil = повторять любую ошибку.
	Retryable func(err error) bool

	// OnRetry вызывается перед каждым повтором
	OnRetry func(attempt int, err error, delay time.Duration)
}

// Validate проверяет корректность конфигурации
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}

	if c.MaxAttempts < 0 {
		return fmt.Errorf("max_attempts must be >= 0, got %d", c.MaxAttempts)
	}

	if c.InitialDelay < 0 {
		return fmt.Errorf("initial_delay must be >= 0")
	}

	if c.MaxDelay < c.InitialDelay {
		return fmt.Errorf("max_delay (%v) must be >= initial_delay (%v)", c.MaxDelay, c.InitialDelay)
	}

	if c.BackoffStrategy != BackoffConstant &&
		c.BackoffStrategy != BackoffLinear &&
		c.BackoffStrategy != BackoffExponential {
		return fmt.Errorf("invalid backoff strategy: %s", c.BackoffStrategy)
	}

	if c.BackoffMultiplier <= 0 {
		c.BackoffMultiplier = 2.0
	}

	if c.Jitter < 0 || c.Jitter > 1.0 {
		return fmt.Errorf("jitter must be between 0.0 and 1.0, got %f", c.Jitter)
	}

	return nil
}

// DefaultConfig - повторы выключены: одна попытка переподключения
func DefaultConfig() Config {
	return Config{
		Enabled:           false,
		MaxAttempts:       1,
		InitialDelay:      200 * time.Millisecond,
		MaxDelay:          10 * time.Second,
		BackoffStrategy:   BackoffExponential,
		BackoffMultiplier: 2.0,
		Jitter:            0.1,
	}
}

// EnableRetry создает конфигурацию с включенными повторами
func EnableRetry(maxAttempts int, initialDelay time.Duration) Config {
	cfg := DefaultConfig()
	cfg.Enabled = true
	cfg.MaxAttempts = maxAttempts
	cfg.InitialDelay = initialDelay
	if cfg.MaxDelay < initialDelay {
		cfg.MaxDelay = initialDelay
	}
	return cfg
}

// FromProvider читает политику из конфигурации под prefix (например "sk.db").
// attempts <= 1 оставляет повторы выключенными.
func FromProvider(p config.Provider, prefix string) Config {
	cfg := DefaultConfig()

	attempts := p.Int(prefix+"."+KeyAttempts, 1)
	if attempts <= 1 {
		return cfg
	}

	cfg.Enabled = true
	cfg.MaxAttempts = attempts

	if s := p.String(prefix+"."+KeyDelay, ""); s != "" {
		if d, err := time.ParseDuration(s); err == nil && d >= 0 {
			cfg.InitialDelay = d
		}
	}
	if cfg.MaxDelay < cfg.InitialDelay {
		cfg.MaxDelay = cfg.InitialDelay
	}

	if s := p.String(prefix+"."+KeyBackoff, ""); s != "" {
		cfg.BackoffStrategy = BackoffStrategy(s)
	}

	return cfg
}
