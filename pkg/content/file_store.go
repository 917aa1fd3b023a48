package content

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

const cacheExt = ".cache"

// FileStore 以 <dir>/<id>.cache 形式保存内容
type FileStore struct {
	dir string
}

// NewFileStore 创建文件内容存储，目录不存在时自动创建
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("content dir is required")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating content dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Path 返回内容文件路径
func (s *FileStore) Path(id string) string {
	return filepath.Join(s.dir, id+cacheExt)
}

// Put 先写临时文件再重命名，读者不会看到半截内容
func (s *FileStore) Put(_ context.Context, id string, data []byte) error {
	if err := validateID(id); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(s.dir, id+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing content: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.Path(id)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("renaming content file: %w", err)
	}
	return nil
}

// Get 读取内容
func (s *FileStore) Get(_ context.Context, id string) ([]byte, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.Path(id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("content %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("reading content: %w", err)
	}
	return data, nil
}

// Copy 复制内容
func (s *FileStore) Copy(ctx context.Context, src, dst string) error {
	if err := validateID(dst); err != nil {
		return err
	}
	data, err := s.Get(ctx, src)
	if err != nil {
		return err
	}
	return s.Put(ctx, dst, data)
}

// Exists 判断内容是否存在
func (s *FileStore) Exists(_ context.Context, id string) (bool, error) {
	if err := validateID(id); err != nil {
		return false, err
	}
	_, err := os.Stat(s.Path(id))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("stat content: %w", err)
}

// Close 文件存储无需释放资源
func (s *FileStore) Close() error {
	return nil
}
