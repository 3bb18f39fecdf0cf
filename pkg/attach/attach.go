// Package attach - источники бинарных данных для записи в BLOB колонки.
//
// Attachment открывается лениво в момент выполнения запроса; вызывающая сторона
// (коннектор) отвечает за закрытие полученного reader на всех путях.
package attach

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Attachment - один бинарный параметр запроса
type Attachment interface {
	// Open возвращает поток данных и размер (-1 если неизвестен)
	Open(ctx context.Context) (io.ReadCloser, int64, error)
	// Name - имя для логов и ошибок
	Name() string
}

// fileAttachment - файл на локальном диске
type fileAttachment struct {
	path string
}

// File создает вложение из файла
func File(path string) Attachment {
	return &fileAttachment{path: path}
}

func (f *fileAttachment) Open(ctx context.Context) (io.ReadCloser, int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}

	file, err := os.Open(f.path)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to open attachment %s: %w", f.path, err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, 0, fmt.Errorf("failed to stat attachment %s: %w", f.path, err)
	}

	return file, info.Size(), nil
}

func (f *fileAttachment) Name() string {
	return filepath.Base(f.path)
}

// bytesAttachment - данные в памяти
type bytesAttachment struct {
	name string
	data []byte
}

// Bytes создает вложение из среза байт. Срез не копируется.
func Bytes(name string, data []byte) Attachment {
	return &bytesAttachment{name: name, data: data}
}

func (b *bytesAttachment) Open(ctx context.Context) (io.ReadCloser, int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	return io.NopCloser(bytes.NewReader(b.data)), int64(len(b.data)), nil
}

func (b *bytesAttachment) Name() string {
	return b.name
}

// ReadAll открывает вложение, читает его целиком и закрывает reader
func ReadAll(ctx context.Context, a Attachment) ([]byte, error) {
	rc, size, err := a.Open(ctx)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	var buf bytes.Buffer
	if size > 0 {
		buf.Grow(int(size))
	}
	if _, err := io.Copy(&buf, rc); err != nil {
		return nil, fmt.Errorf("failed to read attachment %s: %w", a.Name(), err)
	}

	return buf.Bytes(), nil
}
