package dao

import (
	"context"
	"database/sql"
	"io/fs"

	"github.com/rs/zerolog"

	"github.com/ruslano69/skdb/pkg/attach"
	"github.com/ruslano69/skdb/pkg/dberr"
	"github.com/ruslano69/skdb/pkg/logging"
	"github.com/ruslano69/skdb/pkg/mapper"
	"github.com/ruslano69/skdb/pkg/search"
	"github.com/ruslano69/skdb/pkg/security"
	"github.com/ruslano69/skdb/pkg/sqltpl"
)

// IDEntityDAO - контракт DAO сущности с целочисленным идентификатором
type IDEntityDAO[T any] interface {
	FindByID(ctx context.Context, id int64) (*T, error)
	DeleteByID(ctx context.Context, id int64) error
}

// CatalogDAO выполняет запросы из каталога по ключу
type CatalogDAO struct {
	Base

	catalog *Catalog
	mapper  *mapper.Mapper
	guard   *security.Guard
}

type options struct {
	name      string
	roots     []fs.FS
	catalog   *Catalog
	log       *zerolog.Logger
	paginator Paginator
	mapper    *mapper.Mapper
	readOnly  bool
}

// Option настраивает CatalogDAO
type Option func(*options)

// WithCatalogName задает имя ресурса каталога (по умолчанию sql.properties)
func WithCatalogName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithRoots задает путь поиска каталога: каталоги (os.DirFS) или embed.FS
func WithRoots(roots ...fs.FS) Option {
	return func(o *options) { o.roots = append(o.roots, roots...) }
}

// WithCatalog использует уже загруженный каталог
func WithCatalog(c *Catalog) Option {
	return func(o *options) { o.catalog = c }
}

// WithLogger задает логгер DAO
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.log = &l }
}

// WithPaginator задает синтаксис пагинации
func WithPaginator(p Paginator) Option {
	return func(o *options) { o.paginator = p }
}

// WithMapper задает Mapper для типизированных выборок
func WithMapper(m *mapper.Mapper) Option {
	return func(o *options) { o.mapper = m }
}

// WithReadOnly запрещает Write и пропускает в Query только одиночный SELECT/WITH
func WithReadOnly() Option {
	return func(o *options) { o.readOnly = true }
}

// New создает DAO поверх коннектора и загружает каталог
func New(conn Executor, opts ...Option) (*CatalogDAO, error) {
	o := options{name: DefaultCatalogName}
	for _, opt := range opts {
		opt(&o)
	}

	log := logging.Or(o.log, "dao")

	c := o.catalog
	if c == nil {
		var err error
		if c, err = LoadCatalog(o.name, o.roots...); err != nil {
			return nil, err
		}
	}
	if c.Len() == 0 {
		log.Warn().Str("catalog", c.Name()).Msg("SQL catalog is empty")
	}

	m := o.mapper
	if m == nil {
		m = mapper.Default
	}

	return &CatalogDAO{
		Base:    newBase(conn, log, o.paginator),
		catalog: c,
		mapper:  m,
		guard:   security.NewGuard(o.readOnly),
	}, nil
}

// SQL возвращает шаблон по ключу, "" если ключа нет
func (d *CatalogDAO) SQL(key string) string {
	sql, _ := d.catalog.Get(key)
	return sql
}

// Keys возвращает ключи каталога
func (d *CatalogDAO) Keys() []string { return d.catalog.Keys() }

// Filename возвращает имя ресурса каталога
func (d *CatalogDAO) Filename() string { return d.catalog.Name() }

// Catalog возвращает каталог запросов
func (d *CatalogDAO) Catalog() *Catalog { return d.catalog }

// ReadOnly - создан ли DAO с WithReadOnly
func (d *CatalogDAO) ReadOnly() bool { return d.guard.ReadOnly() }

// render находит шаблон и подставляет значения
func (d *CatalogDAO) render(key string, values []any) (string, error) {
	tpl, ok := d.catalog.Get(key)
	if !ok {
		return "", &dberr.SQLKeyError{Key: key, Catalog: d.catalog.Name()}
	}
	return sqltpl.Render(tpl, values...)
}

// RunQuery выполняет запрос по ключу с учетом пагинации. Вызывающий закрывает rows.
func (d *CatalogDAO) RunQuery(ctx context.Context, key string, values ...any) (*sql.Rows, error) {
	query, err := d.render(key, values)
	if err != nil {
		return nil, err
	}
	return d.query(ctx, query)
}

// RunSearch выполняет запрос по ключу, дописывая условие поиска (если оно валидно)
// и пагинацию. Вызывающий закрывает rows.
func (d *CatalogDAO) RunSearch(ctx context.Context, s *search.Search, key string, values ...any) (*sql.Rows, error) {
	query, err := d.render(key, values)
	if err != nil {
		return nil, err
	}

	if s != nil {
		d.log.Debug().Stringer("search", s).Msg("search filter")
		if s.IsValid() {
			query += s.Clause()
		}
	}

	return d.query(ctx, query)
}

// query дописывает пагинацию и проверяет итоговый SQL
func (d *CatalogDAO) query(ctx context.Context, query string) (*sql.Rows, error) {
	query = d.paginate(query)
	if err := d.guard.Check(query); err != nil {
		return nil, err
	}
	return d.conn.Query(ctx, query)
}

// writable отклоняет запись в DAO только для чтения
func (d *CatalogDAO) writable(key string) error {
	if d.guard.ReadOnly() {
		return dberr.IllegalOperation("write %q in read-only DAO", key)
	}
	return nil
}

// List возвращает строки запроса как map
func (d *CatalogDAO) List(ctx context.Context, key string, values ...any) ([]map[string]any, error) {
	rows, err := d.RunQuery(ctx, key, values...)
	if err != nil {
		return nil, err
	}
	return mapper.ToMapList(rows)
}

// Records возвращает строки запроса с сохранением порядка колонок
func (d *CatalogDAO) Records(ctx context.Context, key string, values ...any) ([]mapper.Record, error) {
	rows, err := d.RunQuery(ctx, key, values...)
	if err != nil {
		return nil, err
	}
	return mapper.ToRecordList(rows)
}

// Single возвращает первую строку как map, nil если строк нет
func (d *CatalogDAO) Single(ctx context.Context, key string, values ...any) (map[string]any, error) {
	rows, err := d.RunQuery(ctx, key, values...)
	if err != nil {
		return nil, err
	}
	return mapper.ToMap(rows)
}

// Search возвращает строки запроса с фильтром поиска как map
func (d *CatalogDAO) Search(ctx context.Context, s *search.Search, key string, values ...any) ([]map[string]any, error) {
	rows, err := d.RunSearch(ctx, s, key, values...)
	if err != nil {
		return nil, err
	}
	return mapper.ToMapList(rows)
}

// Write выполняет изменяющий запрос по ключу. Пагинация не применяется.
func (d *CatalogDAO) Write(ctx context.Context, key string, values ...any) error {
	if err := d.writable(key); err != nil {
		return err
	}
	query, err := d.render(key, values)
	if err != nil {
		return err
	}
	return d.conn.Write(ctx, query)
}

// WriteAttachments выполняет запрос по ключу с вложениями, привязанными
// к параметрам драйвера по порядку
func (d *CatalogDAO) WriteAttachments(ctx context.Context, key string, attachments []attach.Attachment, values ...any) error {
	if err := d.writable(key); err != nil {
		return err
	}
	query, err := d.render(key, values)
	if err != nil {
		return err
	}
	return d.conn.WriteAttachments(ctx, query, attachments...)
}

// ListOf возвращает строки запроса как []T
func ListOf[T any, PT mapper.BeanPtr[T]](ctx context.Context, d *CatalogDAO, key string, values ...any) ([]T, error) {
	rows, err := d.RunQuery(ctx, key, values...)
	if err != nil {
		return nil, err
	}
	return mapper.ObjectListWith[T, PT](d.mapper, rows)
}

// SingleOf возвращает первую строку как *T, nil если строк нет
func SingleOf[T any, PT mapper.BeanPtr[T]](ctx context.Context, d *CatalogDAO, key string, values ...any) (*T, error) {
	rows, err := d.RunQuery(ctx, key, values...)
	if err != nil {
		return nil, err
	}
	return mapper.ObjectWith[T, PT](d.mapper, rows)
}

// SearchOf возвращает строки запроса с фильтром поиска как []T
func SearchOf[T any, PT mapper.BeanPtr[T]](ctx context.Context, d *CatalogDAO, s *search.Search, key string, values ...any) ([]T, error) {
	rows, err := d.RunSearch(ctx, s, key, values...)
	if err != nil {
		return nil, err
	}
	return mapper.ObjectListWith[T, PT](d.mapper, rows)
}
