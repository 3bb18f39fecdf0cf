package dao

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"regexp"
	"sort"
	"strings"

	"github.com/magiconair/properties"
	"gopkg.in/yaml.v3"

	"github.com/ruslano69/skdb/pkg/dberr"
)

// DefaultCatalogName - имя каталога запросов по умолчанию
const DefaultCatalogName = "sql.properties"

// maxReferenceDepth ограничивает вложенность ссылок ${key}
const maxReferenceDepth = 16

var referencePattern = regexp.MustCompile(`\$\{([^{}]*)\}`)

// Catalog - именованный набор SQL шаблонов
type Catalog struct {
	name    string
	queries map[string]string
	keys    []string
}

// NewCatalog создает каталог из готового набора запросов.
// Ссылки ${key} на другие запросы каталога разрешаются сразу;
// неразрешенные остаются в тексте и дают ошибку при рендеринге.
func NewCatalog(name string, queries map[string]string) *Catalog {
	c := &Catalog{
		name:    name,
		queries: make(map[string]string, len(queries)),
		keys:    make([]string, 0, len(queries)),
	}
	for k := range queries {
		c.keys = append(c.keys, k)
	}
	sort.Strings(c.keys)

	for _, k := range c.keys {
		c.queries[k] = resolve(queries, queries[k], 0)
	}
	return c
}

func resolve(queries map[string]string, sql string, depth int) string {
	if depth >= maxReferenceDepth {
		return sql
	}
	return referencePattern.ReplaceAllStringFunc(sql, func(m string) string {
		key := referencePattern.FindStringSubmatch(m)[1]
		ref, ok := queries[key]
		if !ok {
			return m
		}
		return resolve(queries, ref, depth+1)
	})
}

// LoadCatalog ищет ресурс name в roots по порядку и разбирает его.
// Без roots используется текущий каталог.
func LoadCatalog(name string, roots ...fs.FS) (*Catalog, error) {
	if name == "" {
		name = DefaultCatalogName
	}
	if len(roots) == 0 {
		roots = []fs.FS{os.DirFS(".")}
	}

	for _, root := range roots {
		data, err := fs.ReadFile(root, name)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, dberr.InvalidInput(fmt.Sprintf("unable to read SQL catalog %q", name), err)
		}
		return ParseCatalog(name, data)
	}

	return nil, dberr.InvalidInput(fmt.Sprintf("unable to find SQL catalog %q in search path", name), nil)
}

// ParseCatalog разбирает содержимое каталога; формат определяется расширением:
// .yaml/.yml - YAML mapping (вложенные ключи через точку), иначе .properties
func ParseCatalog(name string, data []byte) (*Catalog, error) {
	var (
		queries map[string]string
		err     error
	)

	switch strings.ToLower(path.Ext(name)) {
	case ".yaml", ".yml":
		queries, err = parseYAML(data)
	default:
		queries, err = parseProperties(data)
	}
	if err != nil {
		return nil, dberr.InvalidInput(fmt.Sprintf("unable to parse SQL catalog %q", name), err)
	}

	return NewCatalog(name, queries), nil
}

func parseProperties(data []byte) (map[string]string, error) {
	loader := properties.Loader{Encoding: properties.UTF8, DisableExpansion: true}
	p, err := loader.LoadBytes(data)
	if err != nil {
		return nil, err
	}
	return p.Map(), nil
}

func parseYAML(data []byte) (map[string]string, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	queries := make(map[string]string)
	flatten("", raw, queries)
	return queries, nil
}

func flatten(prefix string, in map[string]any, out map[string]string) {
	for k, v := range in {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}

		switch x := v.(type) {
		case map[string]any:
			flatten(key, x, out)
		case nil:
			out[key] = ""
		default:
			out[key] = fmt.Sprint(x)
		}
	}
}

// Name возвращает имя ресурса каталога
func (c *Catalog) Name() string { return c.name }

// Get возвращает SQL по ключу
func (c *Catalog) Get(key string) (string, bool) {
	sql, ok := c.queries[key]
	return sql, ok
}

// Keys возвращает отсортированные ключи каталога
func (c *Catalog) Keys() []string {
	return append([]string(nil), c.keys...)
}

// Len возвращает число запросов
func (c *Catalog) Len() int { return len(c.queries) }
