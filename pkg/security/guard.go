// Package security - проверка SQL перед выполнением в режиме только чтения.
//
// Guard пропускает одиночный SELECT или WITH без комментариев и без
// изменяющих операторов. Строковые литералы в проверке не участвуют,
// поэтому значения поиска вроде 'drop; --' не дают ложных срабатываний.
package security

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/ruslano69/skdb/pkg/dberr"
)

// forbidden - операторы, недопустимые в режиме только чтения
var forbidden = []string{
	// DML
	"INSERT", "UPDATE", "DELETE", "TRUNCATE", "MERGE",
	// DDL
	"DROP", "CREATE", "ALTER", "RENAME",
	// DCL
	"GRANT", "REVOKE",
	// процедуры
	"EXECUTE", "EXEC", "CALL",
	// SQLite
	"PRAGMA", "ATTACH", "DETACH", "VACUUM",
	// управление транзакцией
	"BEGIN", "COMMIT", "ROLLBACK", "SAVEPOINT",
}

var (
	literalPattern   = regexp.MustCompile(`'(?:[^']|'')*'`)
	forbiddenPattern = buildForbiddenPattern()
)

func buildForbiddenPattern() *regexp.Regexp {
	return regexp.MustCompile(`\b(` + strings.Join(forbidden, "|") + `)\b`)
}

// Guard проверяет SQL перед выполнением
type Guard struct {
	readOnly bool
}

// NewGuard создает проверку; readOnly=false пропускает любой SQL
func NewGuard(readOnly bool) *Guard {
	return &Guard{readOnly: readOnly}
}

// ReadOnly - включен ли режим только чтения
func (g *Guard) ReadOnly() bool {
	return g != nil && g.readOnly
}

// SetReadOnly переключает режим
func (g *Guard) SetReadOnly(readOnly bool) {
	g.readOnly = readOnly
}

// Check возвращает dberr.ErrInvalidInput, если запрос недопустим в режиме только чтения.
// nil Guard пропускает все.
func (g *Guard) Check(query string) error {
	if !g.ReadOnly() {
		return nil
	}

	stripped := strings.ToUpper(strings.TrimSpace(literalPattern.ReplaceAllString(query, "''")))

	if !strings.HasPrefix(stripped, "SELECT") && !strings.HasPrefix(stripped, "WITH") {
		return reject(fmt.Sprintf("only SELECT and WITH queries allowed, got %s", statementType(stripped)))
	}

	if m := forbiddenPattern.FindString(stripped); m != "" {
		return reject(fmt.Sprintf("forbidden keyword %s", m))
	}

	if err := checkStatements(stripped); err != nil {
		return reject(err.Error())
	}

	if strings.Contains(stripped, "--") || strings.Contains(stripped, "/*") || strings.Contains(stripped, "*/") {
		return reject("SQL comments not allowed")
	}

	return nil
}

// checkStatements допускает одну точку с запятой, и только в конце
func checkStatements(sql string) error {
	switch strings.Count(sql, ";") {
	case 0:
		return nil
	case 1:
		if strings.HasSuffix(sql, ";") {
			return nil
		}
		return fmt.Errorf("semicolon allowed only at the end of query")
	default:
		return fmt.Errorf("multiple statements not allowed")
	}
}

func statementType(sql string) string {
	if parts := strings.Fields(sql); len(parts) > 0 {
		return parts[0]
	}
	return "empty statement"
}

func reject(reason string) error {
	return dberr.InvalidInput(fmt.Sprintf("read-only mode: %s", reason), nil)
}
