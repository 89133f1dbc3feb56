// Package filestore сохраняет файлы с результатами заказов на локальном диске.
package filestore

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Store сохраняет загружаемые файлы в указанный каталог.
type Store struct {
	dir string
}

// New создаёт хранилище, при необходимости создавая каталог.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// StagePendingUpload сохраняет содержимое во временный файл и возвращает путь.
// Имя файла дополняется случайным суффиксом во избежание перезаписи.
func (s *Store) StagePendingUpload(data io.Reader, name string) (string, error) {
	suffix := make([]byte, 8)
	if _, err := rand.Read(suffix); err != nil {
		return "", fmt.Errorf("generate suffix: %w", err)
	}

	path := filepath.Join(s.dir, hex.EncodeToString(suffix)+"_"+filepath.Base(name))

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, data); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("write file: %w", err)
	}

	return path, nil
}

// Discard удаляет ранее сохранённый файл.
func (s *Store) Discard(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove file: %w", err)
	}
	return nil
}
