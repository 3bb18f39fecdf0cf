package dao

import (
	"fmt"
	"strings"

	"github.com/ruslano69/skdb/pkg/connector"
)

// Paginator добавляет к запросу ограничение выборки
type Paginator interface {
	Paginate(sql string, start, limit int) string
}

// PaginatorFunc - функция как Paginator
type PaginatorFunc func(sql string, start, limit int) string

func (f PaginatorFunc) Paginate(sql string, start, limit int) string { return f(sql, start, limit) }

var (
	// MySQLPaginator: LIMIT start, limit. Понимают MySQL и SQLite.
	MySQLPaginator Paginator = PaginatorFunc(func(sql string, start, limit int) string {
		return fmt.Sprintf("%s LIMIT %d, %d", sql, start, limit)
	})

	// LimitOffset: LIMIT limit OFFSET start (PostgreSQL, SQLite, MySQL)
	LimitOffset Paginator = PaginatorFunc(func(sql string, start, limit int) string {
		return fmt.Sprintf("%s LIMIT %d OFFSET %d", sql, limit, start)
	})

	// OffsetFetch: OFFSET/FETCH для SQL Server. Без ORDER BY синтаксис
	// недопустим, поэтому добавляется ORDER BY (SELECT NULL).
	OffsetFetch Paginator = PaginatorFunc(func(sql string, start, limit int) string {
		if !strings.Contains(strings.ToUpper(sql), "ORDER BY") {
			sql += " ORDER BY (SELECT NULL)"
		}
		return fmt.Sprintf("%s OFFSET %d ROWS FETCH NEXT %d ROWS ONLY", sql, start, limit)
	})
)

// PaginatorFor выбирает синтаксис пагинации по диалекту
func PaginatorFor(d *connector.Dialect) Paginator {
	switch d {
	case connector.SQLServer:
		return OffsetFetch
	case connector.Postgres:
		return LimitOffset
	default:
		return MySQLPaginator
	}
}
