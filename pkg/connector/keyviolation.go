package connector

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	mssql "github.com/denisenkom/go-mssqldb"
	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"modernc.org/sqlite"
)

// KeyViolationRule распознает нарушение primary/unique ключа по конкретному
// типу ошибки драйвера
type KeyViolationRule struct {
	// TypeName - имя типа ошибки в формате %T, например "*mysql.MySQLError"
	TypeName string
	// Match проверяет код ошибки; nil = любой ошибки этого типа достаточно
	Match func(err error) bool
}

var keyViolations = struct {
	mu    sync.RWMutex
	rules map[string][]KeyViolationRule
}{
	rules: make(map[string][]KeyViolationRule),
}

func init() {
	RegisterKeyViolation(KeyViolationRule{
		TypeName: "*mysql.MySQLError",
		Match: func(err error) bool {
			e, ok := err.(*mysql.MySQLError)
			// 1062 ER_DUP_ENTRY, 1586 ER_DUP_ENTRY_WITH_KEY_NAME
			return ok && (e.Number == 1062 || e.Number == 1586)
		},
	})
	RegisterKeyViolation(KeyViolationRule{
		TypeName: "*pgconn.PgError",
		Match: func(err error) bool {
			e, ok := err.(*pgconn.PgError)
			// unique_violation
			return ok && e.Code == "23505"
		},
	})
	RegisterKeyViolation(KeyViolationRule{
		TypeName: "mssql.Error",
		Match: func(err error) bool {
			e, ok := err.(mssql.Error)
			// 2627 PK/UNIQUE constraint, 2601 unique index
			return ok && (e.Number == 2627 || e.Number == 2601)
		},
	})
	RegisterKeyViolation(KeyViolationRule{
		TypeName: "*sqlite.Error",
		Match: func(err error) bool {
			e, ok := err.(*sqlite.Error)
			if !ok {
				return false
			}
			// SQLITE_CONSTRAINT_PRIMARYKEY, SQLITE_CONSTRAINT_UNIQUE
			switch e.Code() {
			case 1555, 2067:
				return true
			}
			// без extended result codes остается только SQLITE_CONSTRAINT
			return e.Code()&0xff == 19 &&
				(strings.Contains(e.Error(), "UNIQUE constraint failed") ||
					strings.Contains(e.Error(), "PRIMARY KEY"))
		},
	})
}

// RegisterKeyViolation добавляет правило распознавания дубликата ключа
func RegisterKeyViolation(rule KeyViolationRule) {
	keyViolations.mu.Lock()
	defer keyViolations.mu.Unlock()
	keyViolations.rules[rule.TypeName] = append(keyViolations.rules[rule.TypeName], rule)
}

// IsKeyViolation проходит по цепочке причин err (включая errors.Join)
// и ищет ошибку, тип которой есть в таблице правил
func IsKeyViolation(err error) bool {
	keyViolations.mu.RLock()
	defer keyViolations.mu.RUnlock()
	return walkCauses(err, matchKeyViolation)
}

func matchKeyViolation(err error) bool {
	for _, rule := range keyViolations.rules[fmt.Sprintf("%T", err)] {
		if rule.Match == nil || rule.Match(err) {
			return true
		}
	}
	return false
}

// walkCauses обходит дерево причин в глубину
func walkCauses(err error, fn func(error) bool) bool {
	for err != nil {
		if fn(err) {
			return true
		}
		switch u := err.(type) {
		case interface{ Unwrap() []error }:
			for _, e := range u.Unwrap() {
				if walkCauses(e, fn) {
					return true
				}
			}
			return false
		default:
			err = errors.Unwrap(err)
		}
	}
	return false
}
