package mapper

import (
	"database/sql"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgtype"
	"gopkg.in/yaml.v3"
	_ "modernc.org/sqlite"

	"github.com/ruslano69/skdb/pkg/dberr"
)

type user struct {
	ID       int64
	Email    string
	Age      int
	Active   bool
	Score    float64
	Nickname *string
}

func (u *user) Fields() []Field {
	return []Field{
		{Name: "ID", Ptr: &u.ID},
		{Name: "Email", Ptr: &u.Email},
		{Name: "Age", Ptr: &u.Age},
		{Name: "Active", Ptr: &u.Active},
		{Name: "Score", Ptr: &u.Score},
		{Name: "Nickname", Ptr: &u.Nickname},
	}
}

type tiny struct {
	Small int8
}

func (t *tiny) Fields() []Field {
	return []Field{{Name: "Small", Ptr: &t.Small}}
}

// twice перечисляет одно имя дважды: используется первое поле
type twice struct {
	First  string
	Second string
}

func (t *twice) Fields() []Field {
	return []Field{
		{Name: "value", Ptr: &t.First},
		{Name: "value", Ptr: &t.Second},
	}
}

func openDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "mapper.db"))
	if err != nil {
		t.Fatalf("Failed to open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	stmts := []string{
		`CREATE TABLE users (
			id       INTEGER PRIMARY KEY,
			email    TEXT NOT NULL,
			age      INTEGER,
			active   INTEGER,
			score    REAL,
			nickname TEXT
		)`,
		`INSERT INTO users VALUES (1, 'a@x', 30, 1, 4.5, 'ann')`,
		`INSERT INTO users VALUES (2, 'b@x', NULL, NULL, NULL, NULL)`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			t.Fatalf("Failed to prepare data: %v", err)
		}
	}
	return db
}

func query(t *testing.T, db *sql.DB, q string) *sql.Rows {
	t.Helper()

	rows, err := db.Query(q)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	return rows
}

func TestToObject(t *testing.T) {
	db := openDB(t)

	u, err := ToObject[user](query(t, db, "SELECT * FROM users WHERE id = 1"))
	if err != nil {
		t.Fatalf("ToObject failed: %v", err)
	}
	if u == nil {
		t.Fatal("Expected user, got nil")
	}

	if u.ID != 1 || u.Email != "a@x" || u.Age != 30 || !u.Active || u.Score != 4.5 {
		t.Errorf("Unexpected user: %+v", u)
	}
	if u.Nickname == nil || *u.Nickname != "ann" {
		t.Errorf("Expected nickname 'ann', got %v", u.Nickname)
	}
}

func TestToObject_NullGivesZeroValues(t *testing.T) {
	db := openDB(t)

	u, err := ToObject[user](query(t, db, "SELECT * FROM users WHERE id = 2"))
	if err != nil {
		t.Fatalf("ToObject failed: %v", err)
	}

	if u.Age != 0 || u.Active || u.Score != 0 {
		t.Errorf("Expected zero values for NULL columns, got %+v", u)
	}
	if u.Nickname != nil {
		t.Errorf("Expected nil nickname, got %q", *u.Nickname)
	}
}

func TestToObject_NoRows(t *testing.T) {
	db := openDB(t)

	u, err := ToObject[user](query(t, db, "SELECT * FROM users WHERE id = 99"))
	if err != nil {
		t.Fatalf("ToObject failed: %v", err)
	}
	if u != nil {
		t.Errorf("Expected nil for empty result, got %+v", u)
	}
}

func TestToObjectList(t *testing.T) {
	db := openDB(t)

	users, err := ToObjectList[user](query(t, db, "SELECT id, email FROM users ORDER BY id"))
	if err != nil {
		t.Fatalf("ToObjectList failed: %v", err)
	}
	if len(users) != 2 {
		t.Fatalf("Expected 2 users, got %d", len(users))
	}
	if users[0].Email != "a@x" || users[1].Email != "b@x" {
		t.Errorf("Unexpected emails: %q, %q", users[0].Email, users[1].Email)
	}

	empty, err := ToObjectList[user](query(t, db, "SELECT id FROM users WHERE id > 10"))
	if err != nil {
		t.Fatalf("ToObjectList failed: %v", err)
	}
	if empty == nil || len(empty) != 0 {
		t.Errorf("Expected empty non-nil list, got %#v", empty)
	}
}

func TestMapper_OverridesAndUnknownColumns(t *testing.T) {
	db := openDB(t)
	m := New(map[string]string{"MAIL": "Email"})

	u, err := ObjectWith[user](m, query(t, db, "SELECT email AS mail, 'x' AS extra FROM users WHERE id = 1"))
	if err != nil {
		t.Fatalf("ObjectWith failed: %v", err)
	}
	if u.Email != "a@x" {
		t.Errorf("Expected overridden column mapped to Email, got %q", u.Email)
	}
}

func TestMapper_FirstMatchWins(t *testing.T) {
	db := openDB(t)

	v, err := ToObject[twice](query(t, db, "SELECT 'hello' AS value"))
	if err != nil {
		t.Fatalf("ToObject failed: %v", err)
	}
	if v.First != "hello" || v.Second != "" {
		t.Errorf("Expected only first field set, got %+v", v)
	}
}

func TestMapper_ConversionErrors(t *testing.T) {
	db := openDB(t)

	tests := []struct {
		name  string
		query string
	}{
		{"overflow", "SELECT 300 AS small"},
		{"not a number", "SELECT 'abc' AS small"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ToObject[tiny](query(t, db, tt.query))
			if !errors.Is(err, dberr.ErrConversion) {
				t.Fatalf("Expected ErrConversion, got %v", err)
			}

			var ce *dberr.ConversionError
			if !errors.As(err, &ce) {
				t.Fatalf("Expected *ConversionError, got %T", err)
			}
		})
	}
}

func TestMapper_PlanCached(t *testing.T) {
	db := openDB(t)
	m := &Mapper{}

	for i := 0; i < 3; i++ {
		if _, err := ObjectListWith[user](m, query(t, db, "SELECT id, email FROM users")); err != nil {
			t.Fatalf("ObjectListWith failed: %v", err)
		}
	}
	if _, err := ObjectListWith[user](m, query(t, db, "SELECT id FROM users")); err != nil {
		t.Fatalf("ObjectListWith failed: %v", err)
	}

	if n := countPlans(&m.plans); n != 2 {
		t.Errorf("Expected 2 cached plans, got %d", n)
	}
}

func countPlans(plans *sync.Map) int {
	n := 0
	plans.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

func TestToMap(t *testing.T) {
	db := openDB(t)

	m, err := ToMap(query(t, db, "SELECT id, email, nickname, CAST('raw' AS BLOB) AS data FROM users WHERE id = 2"))
	if err != nil {
		t.Fatalf("ToMap failed: %v", err)
	}

	if m["id"] != int64(2) {
		t.Errorf("Expected id 2, got %#v", m["id"])
	}
	if m["email"] != "b@x" {
		t.Errorf("Expected email b@x, got %#v", m["email"])
	}
	if v, ok := m["nickname"]; !ok || v != nil {
		t.Errorf("Expected nil nickname present in map, got %#v (present=%v)", v, ok)
	}
	if m["data"] != "raw" {
		t.Errorf("Expected []byte cleaned to string, got %#v", m["data"])
	}

	none, err := ToMap(query(t, db, "SELECT id FROM users WHERE id = 99"))
	if err != nil {
		t.Fatalf("ToMap failed: %v", err)
	}
	if none != nil {
		t.Errorf("Expected nil map for empty result, got %v", none)
	}
}

func TestToMapList(t *testing.T) {
	db := openDB(t)

	list, err := ToMapList(query(t, db, "SELECT id, email FROM users ORDER BY id"))
	if err != nil {
		t.Fatalf("ToMapList failed: %v", err)
	}
	if len(list) != 2 || list[1]["email"] != "b@x" {
		t.Errorf("Unexpected list: %v", list)
	}
}

func TestToRecordList_KeepsColumnOrder(t *testing.T) {
	db := openDB(t)

	records, err := ToRecordList(query(t, db, "SELECT email, id FROM users WHERE id = 1"))
	if err != nil {
		t.Fatalf("ToRecordList failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("Expected 1 record, got %d", len(records))
	}

	rec := records[0]
	if rec.Columns[0] != "email" || rec.Columns[1] != "id" {
		t.Errorf("Unexpected column order: %v", rec.Columns)
	}
	if v, ok := rec.Get("id"); !ok || v != int64(1) {
		t.Errorf("Get(id) = %#v, %v", v, ok)
	}
	if _, ok := rec.Get("missing"); ok {
		t.Error("Get of unknown column should report false")
	}

	out, err := yaml.Marshal(rec)
	if err != nil {
		t.Fatalf("yaml.Marshal failed: %v", err)
	}
	if string(out) != "email: a@x\nid: 1\n" {
		t.Errorf("Unexpected YAML:\n%s", out)
	}
}

func TestClean(t *testing.T) {
	midnight := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	moment := time.Date(2024, 3, 1, 14, 5, 9, 500000000, time.UTC)

	tests := []struct {
		name string
		in   any
		want any
	}{
		{"bytes", []byte("abc"), "abc"},
		{"date", midnight, "2024-03-01"},
		{"timestamp", moment, "2024-03-01 14:05:09.5"},
		{"time pointer", &moment, "2024-03-01 14:05:09.5"},
		{"nil time pointer", (*time.Time)(nil), nil},
		{"null time", sql.NullTime{}, nil},
		{"valid null time", sql.NullTime{Time: midnight, Valid: true}, "2024-03-01"},
		{"mysql null time", mysql.NullTime{Time: moment, Valid: true}, "2024-03-01 14:05:09.5"},
		{"pg date", pgtype.Date{Time: midnight, Valid: true}, "2024-03-01"},
		{"pg invalid date", pgtype.Date{}, nil},
		{"pg timestamp", pgtype.Timestamp{Time: moment, Valid: true}, "2024-03-01 14:05:09.5"},
		{"pg timestamptz", pgtype.Timestamptz{Time: midnight, Valid: true}, "2024-03-01"},
		{"int untouched", int64(7), int64(7)},
		{"string untouched", "s", "s"},
		{"nil", nil, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Clean(tt.in); got != tt.want {
				t.Errorf("Clean(%#v) = %#v, want %#v", tt.in, got, tt.want)
			}
		})
	}
}
