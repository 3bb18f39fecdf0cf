package security

import (
	"errors"
	"strings"
	"testing"

	"github.com/ruslano69/skdb/pkg/dberr"
)

func TestGuard_ReadOnly(t *testing.T) {
	g := NewGuard(true)

	tests := []struct {
		name    string
		sql     string
		wantErr bool
		errMsg  string
	}{
		// Разрешенные запросы
		{"Simple SELECT", "SELECT * FROM users", false, ""},
		{"Lowercase select", "  select id from users where age > 18", false, ""},
		{"SELECT with JOIN", "SELECT u.name, o.total FROM users u JOIN orders o ON u.id = o.user_id", false, ""},
		{"Semicolon at end", "SELECT * FROM users;", false, ""},
		{"CTE", "WITH t AS (SELECT id FROM users) SELECT * FROM t", false, ""},
		{"Column like keyword", "SELECT deleted_at, updated_by FROM users", false, ""},
		{"Keyword inside literal", "SELECT * FROM users WHERE name = 'drop table; -- x'", false, ""},
		{"Escaped quote in literal", "SELECT * FROM users WHERE name = 'O''Brien; DELETE'", false, ""},
		{"Paging", "SELECT * FROM users LIMIT 10, 5", false, ""},

		// Запрещенные запросы
		{"INSERT", "INSERT INTO users (name) VALUES ('a')", true, "only SELECT and WITH"},
		{"UPDATE", "update users set name = 'a'", true, "only SELECT and WITH"},
		{"Empty", "   ", true, "empty statement"},
		{"CTE with DELETE", "WITH t AS (DELETE FROM users RETURNING id) SELECT * FROM t", true, "forbidden keyword DELETE"},
		{"PRAGMA in select", "SELECT * FROM pragma_table_info('users') WHERE 1 = 1; PRAGMA x", true, "forbidden keyword PRAGMA"},
		{"Multiple statements", "SELECT 1; SELECT 2;", true, "multiple statements"},
		{"Semicolon in middle", "SELECT 1; SELECT 2", true, "semicolon allowed only at the end"},
		{"Line comment", "SELECT * FROM users -- hidden", true, "comments"},
		{"Block comment", "SELECT /* x */ * FROM users", true, "comments"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := g.Check(tt.sql)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Check(%q) error = %v, wantErr %v", tt.sql, err, tt.wantErr)
			}
			if err == nil {
				return
			}
			if !errors.Is(err, dberr.ErrInvalidInput) {
				t.Errorf("Expected ErrInvalidInput, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.errMsg) {
				t.Errorf("Error %q should contain %q", err.Error(), tt.errMsg)
			}
		})
	}
}

func TestGuard_Disabled(t *testing.T) {
	// выключенный и nil Guard пропускают все
	for _, g := range []*Guard{NewGuard(false), nil} {
		if g.ReadOnly() {
			t.Errorf("Expected read-only off")
		}
		if err := g.Check("DROP TABLE users"); err != nil {
			t.Errorf("Expected no error, got %v", err)
		}
	}
}

func TestGuard_SetReadOnly(t *testing.T) {
	g := NewGuard(false)
	g.SetReadOnly(true)

	if !g.ReadOnly() {
		t.Fatal("Expected read-only on")
	}
	if err := g.Check("DELETE FROM users"); err == nil {
		t.Error("Expected DELETE rejected after SetReadOnly(true)")
	}
}
