package stores

import (
	"context"
	"errors"
	"io"
	"path"
	"strings"
	"time"

	"github.com/code-100-precent/MedIntake/pkg/logger"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

const minioRequestTimeout = 30 * time.Second

// MinioConfig S3 兼容对象存储配置
type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	Prefix    string // 对象 key 前缀
	UseSSL    bool
}

type MinioStore struct {
	client *minio.Client
	bucket string
	prefix string
}

// NewMinioStore 创建 MinIO 存储，bucket 不存在时自动创建
func NewMinioStore(cfg MinioConfig) (*MinioStore, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, errors.New("minio: endpoint and bucket are required")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), minioRequestTimeout)
	defer cancel()
	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, err
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, err
		}
		logger.Info("Created artifact bucket", zap.String("bucket", cfg.Bucket))
	}

	return &MinioStore{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

func (m *MinioStore) object(key string) (string, error) {
	key = strings.TrimPrefix(path.Clean("/"+key), "/")
	if key == "" {
		return "", ErrInvalidPath
	}
	if m.prefix != "" {
		key = m.prefix + "/" + key
	}
	return key, nil
}

// Read implements Store.
func (m *MinioStore) Read(key string) (io.ReadCloser, int64, error) {
	name, err := m.object(key)
	if err != nil {
		return nil, 0, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), minioRequestTimeout)
	defer cancel()
	info, err := m.client.StatObject(ctx, m.bucket, name, minio.StatObjectOptions{})
	if err != nil {
		return nil, 0, err
	}
	obj, err := m.client.GetObject(context.Background(), m.bucket, name, minio.GetObjectOptions{})
	if err != nil {
		return nil, 0, err
	}
	return obj, info.Size, nil
}

// Write implements Store.
func (m *MinioStore) Write(key string, r io.Reader) error {
	name, err := m.object(key)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), minioRequestTimeout)
	defer cancel()
	_, err = m.client.PutObject(ctx, m.bucket, name, r, -1, minio.PutObjectOptions{
		ContentType: contentType(name),
	})
	return err
}

// Delete implements Store.
func (m *MinioStore) Delete(key string) error {
	name, err := m.object(key)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), minioRequestTimeout)
	defer cancel()
	return m.client.RemoveObject(ctx, m.bucket, name, minio.RemoveObjectOptions{})
}

// Exists implements Store.
func (m *MinioStore) Exists(key string) (bool, error) {
	name, err := m.object(key)
	if err != nil {
		return false, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), minioRequestTimeout)
	defer cancel()
	_, err = m.client.StatObject(ctx, m.bucket, name, minio.StatObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func contentType(name string) string {
	switch path.Ext(name) {
	case ".json":
		return "application/json"
	default:
		return "text/plain; charset=utf-8"
	}
}
