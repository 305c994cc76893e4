package stores

import (
	"errors"
	"fmt"
	"io"
)

const (
	KindLocal = "local"
	KindMinio = "minio" // minio/s3 compatible
)

var ErrInvalidPath = errors.New("invalid path")

// Store Common Storage Modules
type Store interface {
	Read(key string) (io.ReadCloser, int64, error)
	Write(key string, r io.Reader) error
	Delete(key string) error
	Exists(key string) (bool, error)
}

// Config 产物存储配置，Kind 为空时使用本地目录
type Config struct {
	Kind  string
	Dir   string
	Minio MinioConfig
}

// New 按配置创建存储
func New(cfg Config) (Store, error) {
	switch cfg.Kind {
	case "", KindLocal:
		return NewLocalStore(cfg.Dir), nil
	case KindMinio:
		store, err := NewMinioStore(cfg.Minio)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage kind %q", cfg.Kind)
	}
}
