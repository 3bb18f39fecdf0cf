// Package logging настраивает zerolog для всех пакетов модуля.
//
// Пакеты получают именованный логгер через Named и никогда не зависят
// от логирования для корректности работы.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config - параметры глобального логгера
type Config struct {
	// Level - trace, debug, info, warn, error (по умолчанию info)
	Level string
	// Console - человекочитаемый вывод вместо JSON
	Console bool
	// Output - куда писать (по умолчанию os.Stderr)
	Output io.Writer
}

// Setup настраивает глобальный логгер и возвращает его
func Setup(cfg Config) zerolog.Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if cfg.Console {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	zerolog.SetGlobalLevel(ParseLevel(cfg.Level))
	log.Logger = zerolog.New(out).With().Timestamp().Logger()

	return log.Logger
}

// ParseLevel разбирает уровень, неизвестное значение -> info
func ParseLevel(level string) zerolog.Level {
	if level == "" {
		return zerolog.InfoLevel
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

// Named возвращает дочерний логгер глобального с полем component
func Named(name string) zerolog.Logger {
	return log.Logger.With().Str("component", name).Logger()
}

// Or возвращает l, если он задан, иначе именованный глобальный логгер
func Or(l *zerolog.Logger, name string) zerolog.Logger {
	if l != nil {
		return *l
	}
	return Named(name)
}
