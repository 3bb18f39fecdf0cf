// skquery выполняет один запрос каталога SQL и печатает результат.
//
//	skquery -config sk.yaml -catalog sql.properties -key findUser 42
//	skquery -key insertUser -write alice@example.com Alice
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/ruslano69/skdb/pkg/config"
	"github.com/ruslano69/skdb/pkg/connector"
	"github.com/ruslano69/skdb/pkg/dao"
	"github.com/ruslano69/skdb/pkg/logging"
	"github.com/ruslano69/skdb/pkg/mapper"
	"github.com/ruslano69/skdb/pkg/search"
)

var version = "dev"

func main() {
	flags := ParseFlags()

	if *flags.Version {
		fmt.Printf("skquery %s\n", version)
		return
	}

	logging.Setup(logging.Config{Level: *flags.LogLevel, Console: *flags.Console})

	if err := godotenv.Load(*flags.Env); err != nil {
		log.Debug().Str("file", *flags.Env).Msg("no .env file loaded")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, flags, flag.Args())
	stop()
	if err != nil {
		fatal("%v", err)
	}
}

func run(ctx context.Context, flags *Flags, args []string) error {
	catalog, err := loadCatalog(*flags.Catalog, *flags.Roots)
	if err != nil {
		return err
	}

	if *flags.Keys {
		for _, k := range catalog.Keys() {
			fmt.Println(k)
		}
		return nil
	}

	if *flags.Key == "" {
		return errors.New("-key is required")
	}

	cfg, err := loadConfig(*flags.Config)
	if err != nil {
		return err
	}

	factory := connector.NewFactory(cfg)
	factory.DumpSettings()
	defer factory.ReleaseResources()

	conn, err := factory.Connector(ctx, *flags.Write)
	if err != nil {
		return err
	}
	defer conn.Close()

	opts := []dao.Option{dao.WithCatalog(catalog), dao.WithPaginator(dao.PaginatorFor(conn.Dialect()))}
	if !*flags.Write {
		opts = append(opts, dao.WithReadOnly())
	}
	d, err := dao.New(conn, opts...)
	if err != nil {
		return err
	}

	values := make([]any, len(args))
	for i, a := range args {
		values[i] = a
	}

	if *flags.Write {
		if err := d.Write(ctx, *flags.Key, values...); err != nil {
			return err
		}
		if err := d.Commit(ctx); err != nil {
			return err
		}
		fmt.Printf("rows affected: %d, last insert id: %d\n", conn.LastUpdatedRows(), conn.LastInsertID())
		return nil
	}

	d.SetStart(*flags.Start)
	d.SetLimit(*flags.Limit)

	records, err := query(ctx, d, flags, values)
	if err != nil {
		return err
	}
	return printRecords(os.Stdout, *flags.Format, records)
}

func query(ctx context.Context, d *dao.CatalogDAO, flags *Flags, values []any) ([]mapper.Record, error) {
	s, err := buildSearch(flags)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return d.Records(ctx, *flags.Key, values...)
	}

	rows, err := d.RunSearch(ctx, s, *flags.Key, values...)
	if err != nil {
		return nil, err
	}
	return mapper.ToRecordList(rows)
}

// loadConfig читает YAML, если файл есть, и накладывает SK_* переменные окружения
func loadConfig(path string) (*config.Config, error) {
	_, err := os.Stat(path)
	if err == nil {
		return config.Load(path)
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	log.Debug().Str("file", path).Msg("configuration file not found, using environment only")
	cfg := config.New()
	if err := cfg.LoadEnv(config.EnvPrefix); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadCatalog(name, roots string) (*dao.Catalog, error) {
	var fsys []fs.FS
	for _, r := range strings.Split(roots, ",") {
		if r = strings.TrimSpace(r); r != "" {
			fsys = append(fsys, os.DirFS(r))
		}
	}
	return dao.LoadCatalog(name, fsys...)
}

func buildSearch(flags *Flags) (*search.Search, error) {
	if *flags.Search == "" {
		return nil, nil
	}

	t, err := search.ParseType(*flags.SearchType)
	if err != nil {
		return nil, err
	}

	var columns []string
	for _, c := range strings.Split(*flags.SearchColumns, ",") {
		if c = strings.TrimSpace(c); c != "" {
			columns = append(columns, c)
		}
	}
	if len(columns) == 0 {
		return nil, errors.New("-search requires -search-columns")
	}

	return search.New(*flags.Search, "AND", columns, t), nil
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
