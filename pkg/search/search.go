// Package search строит фильтр поиска по набору колонок из пользовательского ввода.
package search

import (
	"fmt"
	"strings"
)

// Type - вид сопоставления текста поиска
type Type int

const (
	// Contains - текст в любом месте значения
	Contains Type = iota
	// Starts - значение начинается с текста
	Starts
	// Ends - значение заканчивается текстом
	Ends
)

// valuePlaceholder - точка подстановки текста в шаблоне типа
const valuePlaceholder = "{VALUE}"

var typeTemplates = map[Type]string{
	Starts:   valuePlaceholder + "%",
	Contains: "%" + valuePlaceholder + "%",
	Ends:     "%" + valuePlaceholder,
}

// String - имя типа
func (t Type) String() string {
	switch t {
	case Starts:
		return "STARTS"
	case Contains:
		return "CONTAINS"
	case Ends:
		return "ENDS"
	default:
		return fmt.Sprintf("unknown(%d)", int(t))
	}
}

// Compile подставляет уже экранированный текст в шаблон типа
func (t Type) Compile(value string) string {
	tpl, ok := typeTemplates[t]
	if !ok {
		tpl = typeTemplates[Contains]
	}
	return strings.Replace(tpl, valuePlaceholder, value, 1)
}

// ParseType разбирает имя типа без учета регистра
func ParseType(s string) (Type, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "STARTS":
		return Starts, nil
	case "CONTAINS", "":
		return Contains, nil
	case "ENDS":
		return Ends, nil
	default:
		return Contains, fmt.Errorf("unknown search type: %s", s)
	}
}

// Search - спецификация поиска.
// Скомпилированный фрагмент кешируется и сбрасывается сеттерами.
type Search struct {
	query       string
	sqlOperator string
	columns     []string
	searchType  Type

	compiled *string
}

// New создает спецификацию поиска.
// sqlOperator (например "AND") ставится перед фрагментом, пустой - не ставится.
func New(query, sqlOperator string, columns []string, t Type) *Search {
	return &Search{
		query:       query,
		sqlOperator: sqlOperator,
		columns:     columns,
		searchType:  t,
	}
}

// IsValid - поиск имеет смысл только с непустым текстом и хотя бы одной колонкой
func (s *Search) IsValid() bool {
	return strings.TrimSpace(s.query) != "" && len(s.columns) > 0
}

// Clause возвращает фрагмент SQL, пустую строку для невалидного поиска
func (s *Search) Clause() string {
	if !s.IsValid() {
		return ""
	}

	if s.compiled == nil {
		clause := s.compile()
		s.compiled = &clause
	}

	return *s.compiled
}

// compile строит " OP (col1 = 'expr' OR col2 = 'expr')"
func (s *Search) compile() string {
	// TODO: экранирование LIKE рассчитано на MySQL, для других диалектов нужен ESCAPE '\'
	text := s.query
	text = strings.ReplaceAll(text, `\`, `\\`)
	text = strings.ReplaceAll(text, "%", `\%`)
	text = strings.ReplaceAll(text, "_", `\_`)
	text = strings.ReplaceAll(text, "'", "''")

	expr := s.searchType.Compile(text)

	var b strings.Builder
	b.Grow((10 + len(expr)) * len(s.columns))

	if s.sqlOperator != "" {
		b.WriteString(" ")
		b.WriteString(s.sqlOperator)
	}

	b.WriteString(" (")
	for i, col := range s.columns {
		if i > 0 {
			b.WriteString(" OR ")
		}
		b.WriteString(col)
		b.WriteString(" = '")
		b.WriteString(expr)
		b.WriteString("'")
	}
	b.WriteString(")")

	return b.String()
}

// Query - исходный текст поиска
func (s *Search) Query() string { return s.query }

// SetQuery меняет текст и сбрасывает кеш
func (s *Search) SetQuery(query string) {
	s.compiled = nil
	s.query = query
}

// Type - текущий тип поиска
func (s *Search) Type() Type { return s.searchType }

// SetType меняет тип и сбрасывает кеш
func (s *Search) SetType(t Type) {
	s.compiled = nil
	s.searchType = t
}

// Columns - колонки поиска
func (s *Search) Columns() []string { return s.columns }

// SetColumns меняет колонки и сбрасывает кеш
func (s *Search) SetColumns(columns []string) {
	s.compiled = nil
	s.columns = columns
}

// Operator - логический оператор перед фрагментом
func (s *Search) Operator() string { return s.sqlOperator }

// String для логирования
func (s *Search) String() string {
	return fmt.Sprintf("Search{query=%q, operator=%q, columns=%v, type=%s}",
		s.query, s.sqlOperator, s.columns, s.searchType)
}
