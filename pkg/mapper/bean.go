// Package mapper преобразует *sql.Rows в map по меткам колонок или в типизированные объекты.
//
// Типизированный объект сам перечисляет свои поля через Bean.Fields():
// имя поля и указатель на него. Соответствие колонка -> поле вычисляется
// один раз для пары (тип, набор колонок) и кешируется. Рефлексия по
// структурам не используется.
//
//	type User struct {
//	    ID    int64
//	    Email string
//	    Age   int
//	}
//
//	func (u *User) Fields() []mapper.Field {
//	    return []mapper.Field{
//	        {Name: "ID", Ptr: &u.ID},
//	        {Name: "Email", Ptr: &u.Email},
//	        {Name: "Age", Ptr: &u.Age},
//	    }
//	}
//
//	user, err := mapper.ToObject[User](rows)
package mapper

import (
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/zeebo/xxh3"

	"github.com/ruslano69/skdb/pkg/dberr"
)

// Field - записываемое поле объекта
type Field struct {
	// Name сравнивается с меткой колонки без учета регистра
	Name string
	// Ptr - указатель на поле: *string, *int, *int64, *bool, *float64, *time.Time,
	// *[]byte, **T для nullable, sql.Scanner или *any
	Ptr any
}

// Bean - объект, перечисляющий свои поля в фиксированном порядке
type Bean interface {
	Fields() []Field
}

// BeanPtr - ограничение для generic функций: *T реализует Bean
type BeanPtr[T any] interface {
	*T
	Bean
}

// Mapper сопоставляет колонки полям. Нулевое значение готово к работе.
type Mapper struct {
	// Overrides - переименование колонок: метка колонки -> имя поля (без учета регистра)
	Overrides map[string]string

	plans sync.Map // uint64 -> []int
}

// Default - Mapper без переименований
var Default = &Mapper{}

// New создает Mapper с таблицей переименований
func New(overrides map[string]string) *Mapper {
	normalized := make(map[string]string, len(overrides))
	for col, field := range overrides {
		normalized[strings.ToLower(col)] = field
	}
	return &Mapper{Overrides: normalized}
}

// ToObject возвращает первую строку как *T, nil если строк нет. rows закрываются.
func ToObject[T any, PT BeanPtr[T]](rows *sql.Rows) (*T, error) {
	return ObjectWith[T, PT](Default, rows)
}

// ToObjectList возвращает все строки как []T. rows закрываются.
func ToObjectList[T any, PT BeanPtr[T]](rows *sql.Rows) ([]T, error) {
	return ObjectListWith[T, PT](Default, rows)
}

// ObjectWith - ToObject с заданным Mapper
func ObjectWith[T any, PT BeanPtr[T]](m *Mapper, rows *sql.Rows) (*T, error) {
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	obj := new(T)
	if err := m.scanInto(rows, cols, PT(obj).Fields(), fmt.Sprintf("%T", obj)); err != nil {
		return nil, err
	}
	return obj, rows.Err()
}

// ObjectListWith - ToObjectList с заданным Mapper
func ObjectListWith[T any, PT BeanPtr[T]](m *Mapper, rows *sql.Rows) ([]T, error) {
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var (
		result   []T
		typeName string
	)
	for rows.Next() {
		var obj T
		if typeName == "" {
			typeName = fmt.Sprintf("%T", &obj)
		}
		if err := m.scanInto(rows, cols, PT(&obj).Fields(), typeName); err != nil {
			return nil, err
		}
		result = append(result, obj)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if result == nil {
		result = []T{}
	}
	return result, nil
}

// plan возвращает для каждой колонки индекс поля или -1
func (m *Mapper) plan(typeName string, cols []string, fields []Field) []int {
	h := xxh3.New()
	h.WriteString(typeName)
	for _, c := range cols {
		h.WriteString("\x00")
		h.WriteString(c)
	}
	key := h.Sum64()

	if p, ok := m.plans.Load(key); ok {
		return p.([]int)
	}

	index := make([]int, len(cols))
	for i, col := range cols {
		index[i] = -1

		name := strings.ToLower(col)
		if override, ok := m.Overrides[name]; ok {
			name = strings.ToLower(override)
		}

		// первое совпадение выигрывает
		for j, f := range fields {
			if strings.ToLower(f.Name) == name {
				index[i] = j
				break
			}
		}
	}

	p, _ := m.plans.LoadOrStore(key, index)
	return p.([]int)
}

// scanInto сканирует текущую строку в поля объекта
func (m *Mapper) scanInto(rows *sql.Rows, cols []string, fields []Field, typeName string) error {
	index := m.plan(typeName, cols, fields)

	dest := make([]any, len(cols))
	assigns := make([]func(), 0, len(cols))
	var sink any

	for i, fi := range index {
		if fi < 0 || fi >= len(fields) {
			dest[i] = &sink
			continue
		}

		target, assign, err := holderFor(fields[fi].Ptr)
		if err != nil {
			return &dberr.ConversionError{Column: cols[i], Field: fields[fi].Name, Err: err}
		}
		dest[i] = target
		if assign != nil {
			assigns = append(assigns, assign)
		}
	}

	if err := rows.Scan(dest...); err != nil {
		return &dberr.ConversionError{Field: typeName, Err: err}
	}

	for _, assign := range assigns {
		assign()
	}
	return nil
}

// holderFor выбирает цель сканирования по типу поля.
// Для не-nullable примитивов NULL превращается в нулевое значение.
func holderFor(ptr any) (any, func(), error) {
	switch p := ptr.(type) {
	case nil:
		return nil, nil, fmt.Errorf("nil field pointer")
	case *string:
		return nullable(p)
	case *int:
		return nullable(p)
	case *int64:
		return nullable(p)
	case *int32:
		return nullable(p)
	case *int16:
		return nullable(p)
	case *int8:
		return nullable(p)
	case *bool:
		return nullable(p)
	case *float64:
		return nullable(p)
	case *float32:
		return nullable(p)
	case *time.Time:
		return nullable(p)
	default:
		// *[]byte, **T, sql.Scanner, *any и прочее обрабатывает database/sql
		return ptr, nil, nil
	}
}

func nullable[V any](p *V) (any, func(), error) {
	if p == nil {
		return nil, nil, fmt.Errorf("nil field pointer")
	}
	h := new(sql.Null[V])
	return h, func() {
		if h.Valid {
			*p = h.V
		} else {
			var zero V
			*p = zero
		}
	}, nil
}
