package MinIO

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"vault-service/internal/apperr"
)

type Config struct {
	MinioEndpoint  string `env:"MINIO_ENDPOINT" env-default:"minio:9000"`
	BucketName     string `env:"MINIO_BUCKET_NAME" env-default:"vault"`
	MinioAccessKey string `env:"MINIO_ACCESS_KEY" env-default:"admin"`
	MinioSecretKey string `env:"MINIO_SECRET_KEY" env-default:"admin"`
	MinioUseSSL    bool   `env:"MINIO_USE_SSL" env-default:"false"`
}

// MinIOClient is the content store: immutable byte blobs addressed by the
// SHA-256 of their content. It knows nothing about files or change requests.
type MinIOClient struct {
	Client *minio.Client
	Bucket string
}

func New(cfg Config) (*MinIOClient, error) {
	client, err := minio.New(cfg.MinioEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinioAccessKey, cfg.MinioSecretKey, ""),
		Secure: cfg.MinioUseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize minio client: %w", err)
	}

	ctx := context.Background()
	if err := client.MakeBucket(ctx, cfg.BucketName, minio.MakeBucketOptions{}); err != nil {
		exists, errBucketExists := client.BucketExists(ctx, cfg.BucketName)
		if !(errBucketExists == nil && exists) {
			return nil, fmt.Errorf("failed to create bucket %q: %w", cfg.BucketName, err)
		}
	}

	return &MinIOClient{
		Client: client,
		Bucket: cfg.BucketName,
	}, nil
}

// Key returns the content address for a payload.
func Key(data []byte) string {
	sum := sha256.Sum256(data)
	return "blobs/" + hex.EncodeToString(sum[:])
}

// Put stores a blob and returns its content address. Re-putting identical
// bytes returns the same key without a second upload.
func (m *MinIOClient) Put(ctx context.Context, data []byte) (string, error) {
	key := Key(data)
	if _, err := m.Client.StatObject(ctx, m.Bucket, key, minio.StatObjectOptions{}); err == nil {
		return key, nil
	}
	_, err := m.Client.PutObject(ctx, m.Bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{})
	if err != nil {
		return "", apperr.Wrap(apperr.KindStorageUnavailable, err, "failed to store blob")
	}
	return key, nil
}

// Get reads a blob back by its content address.
func (m *MinIOClient) Get(ctx context.Context, key string) ([]byte, error) {
	obj, err := m.Client.GetObject(ctx, m.Bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorageUnavailable, err, "failed to open blob")
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		var resp minio.ErrorResponse
		if errors.As(err, &resp) && resp.Code == "NoSuchKey" {
			return nil, apperr.New(apperr.KindNotFound, "blob %s not found", key)
		}
		return nil, apperr.Wrap(apperr.KindStorageUnavailable, err, "failed to read blob")
	}
	return data, nil
}

// PutMarker stores a zero-byte object under an explicit key. Folder
// placeholders are a store convention; they never enter a version chain.
func (m *MinIOClient) PutMarker(ctx context.Context, key string) error {
	_, err := m.Client.PutObject(ctx, m.Bucket, key, bytes.NewReader(nil), 0,
		minio.PutObjectOptions{ContentType: "application/x-directory"})
	if err != nil {
		return apperr.Wrap(apperr.KindStorageUnavailable, err, "failed to store marker")
	}
	return nil
}

// Remove deletes an object by key: folder markers, and retention tooling
// around abandoned staged content.
func (m *MinIOClient) Remove(ctx context.Context, key string) error {
	if err := m.Client.RemoveObject(ctx, m.Bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return apperr.Wrap(apperr.KindStorageUnavailable, err, "failed to remove blob")
	}
	return nil
}
