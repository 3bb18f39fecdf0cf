package mapper

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgtype"
	"gopkg.in/yaml.v3"

	"github.com/ruslano69/skdb/pkg/dberr"
)

// Форматы даты и времени после очистки
const (
	DateLayout      = "2006-01-02"
	TimestampLayout = "2006-01-02 15:04:05.999999999"
)

// Record - строка результата с сохранением порядка колонок
type Record struct {
	Columns []string
	Values  []any
}

// Get возвращает значение по метке колонки
func (r Record) Get(label string) (any, bool) {
	for i, c := range r.Columns {
		if c == label {
			return r.Values[i], true
		}
	}
	return nil, false
}

// Map возвращает строку как map
func (r Record) Map() map[string]any {
	m := make(map[string]any, len(r.Columns))
	for i, c := range r.Columns {
		m[c] = r.Values[i]
	}
	return m
}

// MarshalYAML сериализует строку как mapping в порядке колонок
func (r Record) MarshalYAML() (any, error) {
	node := &yaml.Node{Kind: yaml.MappingNode}
	for i, c := range r.Columns {
		var value yaml.Node
		if err := value.Encode(r.Values[i]); err != nil {
			return nil, fmt.Errorf("encode column %s: %w", c, err)
		}
		node.Content = append(node.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: c},
			&value)
	}
	return node, nil
}

// ToMap возвращает первую строку как map метка -> очищенное значение,
// nil если строк нет. rows закрываются.
func ToMap(rows *sql.Rows) (map[string]any, error) {
	rec, err := ToRecord(rows)
	if err != nil || rec == nil {
		return nil, err
	}
	return rec.Map(), nil
}

// ToMapList возвращает все строки как map. rows закрываются.
func ToMapList(rows *sql.Rows) ([]map[string]any, error) {
	records, err := ToRecordList(rows)
	if err != nil {
		return nil, err
	}

	result := make([]map[string]any, len(records))
	for i, rec := range records {
		result[i] = rec.Map()
	}
	return result, nil
}

// ToRecord возвращает первую строку с сохранением порядка колонок, nil если строк нет
func ToRecord(rows *sql.Rows) (*Record, error) {
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	if !rows.Next() {
		return nil, rows.Err()
	}

	rec, err := scanRecord(rows, cols)
	if err != nil {
		return nil, err
	}
	return &rec, rows.Err()
}

// ToRecordList возвращает все строки с сохранением порядка колонок
func ToRecordList(rows *sql.Rows) ([]Record, error) {
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	result := []Record{}
	for rows.Next() {
		rec, err := scanRecord(rows, cols)
		if err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func scanRecord(rows *sql.Rows, cols []string) (Record, error) {
	values := make([]any, len(cols))
	dest := make([]any, len(cols))
	for i := range values {
		dest[i] = &values[i]
	}

	if err := rows.Scan(dest...); err != nil {
		return Record{}, &dberr.ConversionError{Field: "record", Err: err}
	}

	for i, v := range values {
		values[i] = Clean(v)
	}
	return Record{Columns: cols, Values: values}, nil
}

// Clean приводит значения драйверов к переносимому виду:
// дата и время -> строка, []byte -> string, остальное без изменений
func Clean(v any) any {
	switch x := v.(type) {
	case []byte:
		return string(x)
	case time.Time:
		return formatTime(x)
	case *time.Time:
		if x == nil {
			return nil
		}
		return formatTime(*x)
	case sql.NullTime:
		if !x.Valid {
			return nil
		}
		return formatTime(x.Time)
	case mysql.NullTime:
		if !x.Valid {
			return nil
		}
		return formatTime(x.Time)
	case pgtype.Date:
		if !x.Valid {
			return nil
		}
		return x.Time.Format(DateLayout)
	case pgtype.Timestamp:
		if !x.Valid {
			return nil
		}
		return formatTime(x.Time)
	case pgtype.Timestamptz:
		if !x.Valid {
			return nil
		}
		return formatTime(x.Time)
	default:
		return v
	}
}

// formatTime: полночь без долей секунды -> дата, иначе дата и время
func formatTime(t time.Time) string {
	if t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0 {
		return t.Format(DateLayout)
	}
	return t.Format(TimestampLayout)
}
