// Package dberr описывает таксономию ошибок слоя доступа к БД.
//
// Каждая категория представлена sentinel-ошибкой (для errors.Is) и, где нужен
// контекст (ключ конфигурации, SQL, колонка), структурным типом (для errors.As).
// Структурные типы реализуют Is() для своей категории и Unwrap() для причины.
package dberr

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration - отсутствует/некорректен ключ конфигурации или
	// не удалось инициализировать соединение
	ErrConfiguration = errors.New("database configuration error")

	// ErrIllegalOperation - операция недопустима в текущем состоянии коннектора
	ErrIllegalOperation = errors.New("illegal operation")

	// ErrQuery - ошибка выполнения SQL (кроме нарушения уникальности)
	ErrQuery = errors.New("sql query error")

	// ErrDuplicateKey - нарушение primary/unique ключа
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrInvalidInput - не переданы обязательные вложения или не найден ресурс
	ErrInvalidInput = errors.New("invalid input")

	// ErrFormat - ошибка рендеринга SQL шаблона
	ErrFormat = errors.New("sql format error")

	// ErrConversion - значение из БД несовместимо с типом поля
	ErrConversion = errors.New("conversion error")

	// ErrCloning - вариант коннектора не поддерживает клонирование
	ErrCloning = errors.New("connector cloning not supported")

	// ErrSQLKey - ключ запроса отсутствует в каталоге
	ErrSQLKey = errors.New("sql key not found")

	// ErrTransaction - ошибка commit/rollback/savepoint
	ErrTransaction = errors.New("transaction error")
)

// ConfigKeyError - отсутствует обязательный ключ конфигурации
type ConfigKeyError struct {
	Key string
}

func (e *ConfigKeyError) Error() string {
	return fmt.Sprintf("missing required configuration key %q", e.Key)
}

func (e *ConfigKeyError) Is(target error) bool { return target == ErrConfiguration }

// InitError - сбой инициализации соединения (драйвер, lookup, пул)
type InitError struct {
	Message string
	Err     error
}

func (e *InitError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

func (e *InitError) Is(target error) bool { return target == ErrConfiguration }
func (e *InitError) Unwrap() error        { return e.Err }

// QueryError - ошибка выполнения SQL, хранит текст запроса для диагностики
type QueryError struct {
	SQL     string
	Message string
	Err     error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("%s [sql: %s]: %v", e.Message, e.SQL, e.Err)
}

func (e *QueryError) Is(target error) bool { return target == ErrQuery }
func (e *QueryError) Unwrap() error        { return e.Err }

// DuplicateKeyError - запись отклонена из-за нарушения уникальности.
// Отделена от QueryError, чтобы вызывающий код мог реализовать upsert/повтор с новым ключом.
type DuplicateKeyError struct {
	SQL string
	Err error
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("duplicate key [sql: %s]: %v", e.SQL, e.Err)
}

func (e *DuplicateKeyError) Is(target error) bool { return target == ErrDuplicateKey }
func (e *DuplicateKeyError) Unwrap() error        { return e.Err }

// SQLKeyError - ключ не найден в каталоге запросов
type SQLKeyError struct {
	Key     string
	Catalog string
}

func (e *SQLKeyError) Error() string {
	return fmt.Sprintf("unable to run query %q: key not present in catalog %s", e.Key, e.Catalog)
}

func (e *SQLKeyError) Is(target error) bool { return target == ErrSQLKey }

// FormatError - плейсхолдер без значения или неразрешенная ссылка ${key}
type FormatError struct {
	Message string
	// Placeholder - плейсхолдер без значения, например "{3}"
	Placeholder string
	// Reference - имя неразрешенной ссылки на другой запрос каталога
	Reference string
}

func (e *FormatError) Error() string { return e.Message }

func (e *FormatError) Is(target error) bool { return target == ErrFormat }

// ConversionError - значение колонки нельзя присвоить полю
type ConversionError struct {
	Column string
	Field  string
	Err    error
}

func (e *ConversionError) Error() string {
	switch {
	case e.Column == "":
		return fmt.Sprintf("cannot convert row to %s: %v", e.Field, e.Err)
	case e.Field == "":
		return fmt.Sprintf("cannot convert column %q: %v", e.Column, e.Err)
	default:
		return fmt.Sprintf("cannot set %s from column %q: %v", e.Field, e.Column, e.Err)
	}
}

func (e *ConversionError) Is(target error) bool { return target == ErrConversion }
func (e *ConversionError) Unwrap() error        { return e.Err }

// CloningError - конкретный вариант коннектора не реализует Clone
type CloningError struct {
	Kind string
}

func (e *CloningError) Error() string {
	return fmt.Sprintf("connector %q does not implement cloning", e.Kind)
}

func (e *CloningError) Is(target error) bool { return target == ErrCloning }

// TransactionError - сбой commit/rollback/savepoint на уровне драйвера
type TransactionError struct {
	Op  string
	Err error
}

func (e *TransactionError) Error() string {
	return fmt.Sprintf("unable to %s: %v", e.Op, e.Err)
}

func (e *TransactionError) Is(target error) bool { return target == ErrTransaction }
func (e *TransactionError) Unwrap() error        { return e.Err }

// ClosedError - операция над закрытым коннектором.
// Закрытие окончательно: ошибка относится и к ErrConfiguration, и к ErrIllegalOperation.
type ClosedError struct {
	Kind string
}

func (e *ClosedError) Error() string {
	return fmt.Sprintf("%s connector is closed", e.Kind)
}

func (e *ClosedError) Is(target error) bool {
	return target == ErrConfiguration || target == ErrIllegalOperation
}

// IllegalOperation создает ошибку недопустимой операции
func IllegalOperation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrIllegalOperation, fmt.Sprintf(format, args...))
}

// InvalidInput создает ошибку некорректного ввода с опциональной причиной
func InvalidInput(message string, cause error) error {
	if cause == nil {
		return fmt.Errorf("%w: %s", ErrInvalidInput, message)
	}
	return fmt.Errorf("%w: %s: %w", ErrInvalidInput, message, cause)
}
