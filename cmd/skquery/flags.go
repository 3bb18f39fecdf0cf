package main

import "flag"

// Flags - флаги командной строки
type Flags struct {
	// Источники
	Config  *string
	Env     *string
	Catalog *string
	Roots   *string

	// Команды
	Key   *string
	Write *bool
	Keys  *bool

	// Выборка
	Start         *int
	Limit         *int
	Search        *string
	SearchColumns *string
	SearchType    *string

	// Вывод
	Format *string

	// Прочее
	LogLevel *string
	Console  *bool
	Version  *bool
}

// ParseFlags определяет и разбирает флаги
func ParseFlags() *Flags {
	f := &Flags{
		Config:  flag.String("config", "sk.yaml", "Configuration file (YAML); SK_* environment variables override it"),
		Env:     flag.String("env", ".env", "Optional .env file loaded before configuration"),
		Catalog: flag.String("catalog", "sql.properties", "SQL catalog name (.properties or .yaml)"),
		Roots:   flag.String("roots", ".", "Comma-separated catalog search path"),

		Key:   flag.String("key", "", "Catalog key to run; positional arguments are the {0}, {1}, ... values"),
		Write: flag.Bool("write", false, "Run the key as a write statement"),
		Keys:  flag.Bool("keys", false, "List catalog keys and exit"),

		Start:         flag.Int("start", -1, "First row offset (requires -limit)"),
		Limit:         flag.Int("limit", -1, "Page size (requires -start)"),
		Search:        flag.String("search", "", "Search text appended to the query"),
		SearchColumns: flag.String("search-columns", "", "Comma-separated columns for -search"),
		SearchType:    flag.String("search-type", "contains", "Search type: starts, contains, ends"),

		Format: flag.String("format", "yaml", "Output format: yaml or table"),

		LogLevel: flag.String("log-level", "warn", "Log level: trace, debug, info, warn, error"),
		Console:  flag.Bool("console", true, "Human-readable log output"),
		Version:  flag.Bool("version", false, "Print version and exit"),
	}

	flag.Parse()
	return f
}
