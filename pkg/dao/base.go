// Package dao - доступ к данным через каталог именованных SQL запросов.
//
// CatalogDAO загружает каталог (.properties или .yaml), рендерит запрос по
// ключу с позиционными значениями {0}, {1}, ..., при необходимости добавляет
// фильтр поиска и пагинацию и преобразует результат через mapper.
package dao

import (
	"context"
	"database/sql"

	"github.com/rs/zerolog"

	"github.com/ruslano69/skdb/pkg/attach"
	"github.com/ruslano69/skdb/pkg/connector"
)

// NotPaging - значение start/limit, отключающее пагинацию
const NotPaging = -1

// Executor - операции коннектора, нужные DAO. Реализуется *connector.Connector.
type Executor interface {
	Query(ctx context.Context, query string) (*sql.Rows, error)
	Write(ctx context.Context, query string) error
	WriteAttachments(ctx context.Context, query string, attachments ...attach.Attachment) error
	IsTransaction() bool
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
	RollbackTo(ctx context.Context, sp connector.Savepoint) error
	Savepoint(ctx context.Context) (connector.Savepoint, error)
	SavepointNamed(ctx context.Context, name string) (connector.Savepoint, error)
}

// Compile-time check
var _ Executor = (*connector.Connector)(nil)

// Base - общая часть DAO: коннектор, пагинация, делегирование транзакций
type Base struct {
	conn      Executor
	log       zerolog.Logger
	paginator Paginator

	start int
	limit int
	total int64
}

func newBase(conn Executor, log zerolog.Logger, p Paginator) Base {
	if p == nil {
		p = MySQLPaginator
	}
	return Base{
		conn:      conn,
		log:       log,
		paginator: p,
		start:     NotPaging,
		limit:     NotPaging,
		total:     -1,
	}
}

// Connector возвращает коннектор DAO
func (b *Base) Connector() Executor { return b.conn }

// Commit фиксирует транзакцию. Вне транзакции ничего не делает.
func (b *Base) Commit(ctx context.Context) error {
	if !b.conn.IsTransaction() {
		b.log.Debug().Msg("transaction not active, commit skipped")
		return nil
	}

	b.log.Debug().Msg("committing")
	if err := b.conn.Commit(ctx); err != nil {
		return err
	}
	b.log.Debug().Msg("committed")
	return nil
}

// Rollback откатывает транзакцию. Вне транзакции ничего не делает.
func (b *Base) Rollback(ctx context.Context) error {
	if !b.conn.IsTransaction() {
		b.log.Warn().Msg("transaction not active, rollback skipped")
		return nil
	}

	b.log.Debug().Msg("rolling back")
	if err := b.conn.Rollback(ctx); err != nil {
		return err
	}
	b.log.Debug().Msg("rolled back")
	return nil
}

// RollbackTo откатывает до точки сохранения. Вне транзакции ничего не делает.
func (b *Base) RollbackTo(ctx context.Context, sp connector.Savepoint) error {
	if !b.conn.IsTransaction() {
		b.log.Warn().Str("savepoint", sp.Name).Msg("transaction not active, rollback skipped")
		return nil
	}

	b.log.Debug().Str("savepoint", sp.Name).Msg("rolling back to savepoint")
	return b.conn.RollbackTo(ctx, sp)
}

// Savepoint создает безымянную точку сохранения. Вне транзакции ничего не делает
// и возвращает пустую точку.
func (b *Base) Savepoint(ctx context.Context) (connector.Savepoint, error) {
	if !b.conn.IsTransaction() {
		b.log.Warn().Msg("transaction not active, savepoint skipped")
		return connector.Savepoint{}, nil
	}

	sp, err := b.conn.Savepoint(ctx)
	if err != nil {
		return sp, err
	}
	b.log.Debug().Str("savepoint", sp.Name).Msg("savepoint created")
	return sp, nil
}

// SavepointNamed создает именованную точку сохранения. Вне транзакции ничего не делает.
func (b *Base) SavepointNamed(ctx context.Context, name string) (connector.Savepoint, error) {
	if !b.conn.IsTransaction() {
		b.log.Warn().Str("savepoint", name).Msg("transaction not active, savepoint skipped")
		return connector.Savepoint{}, nil
	}

	b.log.Debug().Str("savepoint", name).Msg("creating savepoint")
	return b.conn.SavepointNamed(ctx, name)
}

// PagingEnabled - пагинация включена, если заданы и start, и limit
func (b *Base) PagingEnabled() bool {
	return b.start > NotPaging && b.limit > NotPaging
}

// SetStart задает смещение первой строки
func (b *Base) SetStart(start int) { b.start = start }

// SetLimit задает размер страницы
func (b *Base) SetLimit(limit int) { b.limit = limit }

// Start возвращает смещение
func (b *Base) Start() int { return b.start }

// Limit возвращает размер страницы
func (b *Base) Limit() int { return b.limit }

// SetPaginator меняет синтаксис пагинации
func (b *Base) SetPaginator(p Paginator) {
	if p != nil {
		b.paginator = p
	}
}

// Total - общее число строк, заполняется конкретным DAO; -1 если неизвестно
func (b *Base) Total() int64 { return b.total }

// SetTotal сохраняет общее число строк
func (b *Base) SetTotal(total int64) { b.total = total }

// paginate добавляет пагинацию, если она включена
func (b *Base) paginate(sql string) string {
	if !b.PagingEnabled() {
		return sql
	}
	return b.paginator.Paginate(sql, b.start, b.limit)
}
