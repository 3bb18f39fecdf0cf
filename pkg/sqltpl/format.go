// Package sqltpl рендерит SQL из шаблонов каталога с позиционными плейсхолдерами {0}, {1}, ...
//
// Это текстовая подстановка, а не binding параметров: значения встраиваются в текст SQL
// после экранирования одинарных кавычек. Экранирование рассчитано только на строковые
// литералы в одинарных кавычках.
package sqltpl

import (
	"database/sql/driver"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/ruslano69/skdb/pkg/dberr"
)

// TimeLayout - формат встраивания time.Time в SQL
const TimeLayout = "2006-01-02 15:04:05"

// referencePattern - маркер ${key} (или $key}), оставленный неразрешенной ссылкой на другой запрос каталога
var referencePattern = regexp.MustCompile(`\$\{?([^{}]*)\}`)

// Render подготавливает значения (экранирование кавычек) и рендерит шаблон
func Render(template string, values ...any) (string, error) {
	return Format(true, template, values...)
}

// Format рендерит шаблон. prepare=false пропускает экранирование строк,
// используется для доверенных фрагментов.
func Format(prepare bool, template string, values ...any) (string, error) {
	if template == "" {
		return "", &dberr.FormatError{Message: "null or empty SQL is not allowed"}
	}

	// Ссылки на другие запросы должны быть разрешены до подстановки
	if m := referencePattern.FindStringSubmatch(template); m != nil {
		return "", &dberr.FormatError{
			Message:   fmt.Sprintf("query referenced by key %q does not exist in the SQL catalog", m[1]),
			Reference: m[1],
		}
	}

	if prepare {
		values = PrepareValues(values...)
	}

	out, err := substitute(template, values)
	if err != nil {
		return "", err
	}

	// Отсутствующее значение внутри кавычек должно стать SQL NULL, а не строкой "null"
	return strings.ReplaceAll(out, "'null'", "null"), nil
}

// PrepareValues возвращает копию values, в которой одинарные кавычки строк удвоены
func PrepareValues(values ...any) []any {
	prepared := make([]any, len(values))
	for i, v := range values {
		if s, ok := v.(string); ok && strings.Contains(s, "'") {
			v = Escape(s)
		}
		prepared[i] = v
	}
	return prepared
}

// Escape удваивает одинарные кавычки
func Escape(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

// Unescape обратное преобразование для Escape
func Unescape(s string) string {
	return strings.ReplaceAll(s, "''", "'")
}

// substitute заменяет {n} на строковое представление values[n].
// Плейсхолдер - это '{', цифры, опциональный хвост формата (",number") и '}'.
// Фигурные скобки другого вида копируются как есть.
func substitute(template string, values []any) (string, error) {
	var b strings.Builder
	b.Grow(len(template) * 2)

	for i := 0; i < len(template); {
		c := template[i]
		if c != '{' {
			b.WriteByte(c)
			i++
			continue
		}

		end, index, ok := placeholderAt(template, i)
		if !ok {
			b.WriteByte(c)
			i++
			continue
		}

		if index >= len(values) {
			ph := template[i : end+1]
			return "", &dberr.FormatError{
				Message:     fmt.Sprintf("placeholder %s has no associated value (%d values supplied)", ph, len(values)),
				Placeholder: ph,
			}
		}

		b.WriteString(Stringify(values[index]))
		i = end + 1
	}

	return b.String(), nil
}

// placeholderAt разбирает плейсхолдер, начинающийся в позиции start.
// Возвращает позицию закрывающей скобки и индекс значения.
func placeholderAt(s string, start int) (end, index int, ok bool) {
	j := start + 1
	for j < len(s) && s[j] >= '0' && s[j] <= '9' {
		j++
	}
	if j == start+1 {
		return 0, 0, false
	}

	digits := s[start+1 : j]
	if j < len(s) && s[j] == ',' {
		for j < len(s) && s[j] != '}' && s[j] != '{' {
			j++
		}
	}
	if j >= len(s) || s[j] != '}' {
		return 0, 0, false
	}

	n, err := strconv.Atoi(digits)
	if err != nil {
		return 0, 0, false
	}
	return j, n, true
}

// Stringify возвращает текстовую форму значения для встраивания в SQL.
// nil превращается в null.
func Stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case string:
		return x
	case []byte:
		return string(x)
	case bool:
		return strconv.FormatBool(x)
	case int:
		return strconv.Itoa(x)
	case int8:
		return strconv.FormatInt(int64(x), 10)
	case int16:
		return strconv.FormatInt(int64(x), 10)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case int64:
		return strconv.FormatInt(x, 10)
	case uint:
		return strconv.FormatUint(uint64(x), 10)
	case uint8:
		return strconv.FormatUint(uint64(x), 10)
	case uint16:
		return strconv.FormatUint(uint64(x), 10)
	case uint32:
		return strconv.FormatUint(uint64(x), 10)
	case uint64:
		return strconv.FormatUint(x, 10)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case time.Time:
		return x.Format(TimeLayout)
	case *string:
		if x == nil {
			return "null"
		}
		return *x
	case *int:
		if x == nil {
			return "null"
		}
		return strconv.Itoa(*x)
	case *int64:
		if x == nil {
			return "null"
		}
		return strconv.FormatInt(*x, 10)
	case driver.Valuer:
		// sql.NullString и подобные: Valid=false -> null
		dv, err := x.Value()
		if err != nil {
			return fmt.Sprint(v)
		}
		return Stringify(dv)
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(v)
	}
}
