package content

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
)

const contentBucketName = "content"

// BoltStore 基于 bbolt 的内容存储
type BoltStore struct {
	db *bbolt.DB
}

// NewBoltStore 打开 bbolt 数据库并创建内容桶
func NewBoltStore(path string) (*BoltStore, error) {
	if path == "" {
		return nil, fmt.Errorf("bolt path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating bolt directory: %w", err)
	}

	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening bolt database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(contentBucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating content bucket: %w", err)
	}

	return &BoltStore{db: db}, nil
}

// Put 写入内容
func (s *BoltStore) Put(_ context.Context, id string, data []byte) error {
	if err := validateID(id); err != nil {
		return err
	}
	err := s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(contentBucketName)).Put([]byte(id), data)
	})
	if err != nil {
		return fmt.Errorf("writing content: %w", err)
	}
	return nil
}

// Get 读取内容，返回值在事务外依然有效
func (s *BoltStore) Get(_ context.Context, id string) ([]byte, error) {
	var data []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket([]byte(contentBucketName)).Get([]byte(id))
		if v == nil {
			return fmt.Errorf("content %s: %w", id, ErrNotFound)
		}
		data = append([]byte{}, v...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Copy 在同一事务内复制内容
func (s *BoltStore) Copy(_ context.Context, src, dst string) error {
	if err := validateID(dst); err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(contentBucketName))
		v := bucket.Get([]byte(src))
		if v == nil {
			return fmt.Errorf("content %s: %w", src, ErrNotFound)
		}
		return bucket.Put([]byte(dst), append([]byte{}, v...))
	})
}

// Exists 判断内容是否存在
func (s *BoltStore) Exists(_ context.Context, id string) (bool, error) {
	var found bool
	err := s.db.View(func(tx *bbolt.Tx) error {
		found = tx.Bucket([]byte(contentBucketName)).Get([]byte(id)) != nil
		return nil
	})
	return found, err
}

// Close 关闭数据库
func (s *BoltStore) Close() error {
	return s.db.Close()
}
