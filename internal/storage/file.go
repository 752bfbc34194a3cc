package storage

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const fileSuffix = ".json"

// File stores one file per key under a directory.
type File struct {
	mu    sync.Mutex
	dir   string
	quota int64
}

// NewFile creates the directory if needed.
func NewFile(dir string, quota int64) (*File, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("falha ao criar diretório de armazenamento: %w", err)
	}
	return &File{dir: dir, quota: quota}, nil
}

func (f *File) path(key string) string {
	return filepath.Join(f.dir, base64.RawURLEncoding.EncodeToString([]byte(key))+fileSuffix)
}

// GetItem implements Storage.
func (f *File) GetItem(_ context.Context, key string) (string, bool, error) {
	data, err := os.ReadFile(f.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("falha ao ler %q: %w", key, err)
	}
	return string(data), true, nil
}

// SetItem implements Storage. The value is written to a temp file and renamed
// so a failed write never leaves a truncated item behind.
func (f *File) SetItem(_ context.Context, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	used, replaced, err := f.usage(key)
	if err != nil {
		return err
	}
	if err := checkQuota(f.quota, used, replaced, key, value); err != nil {
		return err
	}

	target := f.path(key)
	tmp, err := os.CreateTemp(f.dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("falha ao gravar %q: %w", key, err)
	}
	if _, err := tmp.WriteString(value); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("falha ao gravar %q: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("falha ao gravar %q: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("falha ao gravar %q: %w", key, err)
	}
	return nil
}

// usage sums key+value sizes of every stored item.
func (f *File) usage(key string) (used, replaced int64, err error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return 0, 0, fmt.Errorf("falha ao listar armazenamento: %w", err)
	}
	target := filepath.Base(f.path(key))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		rawKey, err := base64.RawURLEncoding.DecodeString(strings.TrimSuffix(name, fileSuffix))
		if err != nil {
			continue
		}
		size := int64(len(rawKey)) + info.Size()
		used += size
		if name == target {
			replaced = size
		}
	}
	return used, replaced, nil
}
