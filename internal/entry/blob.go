package entry

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/joshp123/gohome-electra/internal/config"
)

var ErrBlobNotFound = errors.New("entry blob not found")

// BlobStore mirrors entries to object storage so a fresh host can recover them.
type BlobStore interface {
	List(ctx context.Context, domain string) ([][]byte, error)
	Save(ctx context.Context, domain, entryID string, data []byte) error
	Delete(ctx context.Context, domain, entryID string) error
}

type S3Store struct {
	client *minio.Client
	bucket string
	prefix string
}

func NewS3Store(cfg *config.EntriesConfig) (*S3Store, error) {
	if cfg == nil {
		return nil, fmt.Errorf("missing entries config")
	}

	endpoint := strings.TrimSpace(cfg.BlobEndpoint)
	bucket := strings.TrimSpace(cfg.BlobBucket)
	prefix := strings.TrimSpace(cfg.BlobPrefix)
	accessKeyFile := strings.TrimSpace(cfg.BlobAccessKeyFile)
	secretKeyFile := strings.TrimSpace(cfg.BlobSecretKeyFile)
	region := strings.TrimSpace(cfg.BlobRegion)

	if endpoint == "" || bucket == "" || accessKeyFile == "" || secretKeyFile == "" {
		return nil, fmt.Errorf("missing blob configuration")
	}

	accessKey, err := readSecretFile(accessKeyFile)
	if err != nil {
		return nil, fmt.Errorf("read blob access key: %w", err)
	}
	secretKey, err := readSecretFile(secretKeyFile)
	if err != nil {
		return nil, fmt.Errorf("read blob secret key: %w", err)
	}

	host, secure, err := parseEndpoint(endpoint)
	if err != nil {
		return nil, err
	}

	client, err := minio.New(host, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: secure,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("init s3 client: %w", err)
	}

	if prefix == "" {
		prefix = config.DefaultEntriesBlob
	}

	return &S3Store{client: client, bucket: bucket, prefix: prefix}, nil
}

func (s *S3Store) List(ctx context.Context, domain string) ([][]byte, error) {
	var out [][]byte
	objects := s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    path.Join(s.prefix, domain) + "/",
		Recursive: true,
	})
	for info := range objects {
		if info.Err != nil {
			return nil, s.wrapError(info.Err)
		}
		if !strings.HasSuffix(info.Key, ".json") {
			continue
		}
		data, err := s.load(ctx, info.Key)
		if err != nil {
			return nil, err
		}
		out = append(out, data)
	}
	if len(out) == 0 {
		return nil, ErrBlobNotFound
	}
	return out, nil
}

func (s *S3Store) Save(ctx context.Context, domain, entryID string, data []byte) error {
	reader := bytes.NewReader(data)
	_, err := s.client.PutObject(ctx, s.bucket, s.key(domain, entryID), reader, int64(reader.Len()), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return s.wrapError(err)
	}
	return nil
}

func (s *S3Store) Delete(ctx context.Context, domain, entryID string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, s.key(domain, entryID), minio.RemoveObjectOptions{}); err != nil {
		return s.wrapError(err)
	}
	return nil
}

func (s *S3Store) load(ctx context.Context, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, s.wrapError(err)
	}
	defer obj.Close()

	if _, err := obj.Stat(); err != nil {
		return nil, s.wrapError(err)
	}

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("read blob: %w", err)
	}
	return data, nil
}

func (s *S3Store) key(domain, entryID string) string {
	return path.Join(s.prefix, domain, entryID+".json")
}

func (s *S3Store) wrapError(err error) error {
	resp := minio.ToErrorResponse(err)
	if resp.Code == "NoSuchKey" || resp.Code == "NoSuchBucket" {
		return ErrBlobNotFound
	}
	return err
}

func parseEndpoint(raw string) (string, bool, error) {
	if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
		u, err := url.Parse(raw)
		if err != nil {
			return "", false, fmt.Errorf("parse endpoint: %w", err)
		}
		if u.Host == "" {
			return "", false, fmt.Errorf("invalid endpoint: %q", raw)
		}
		return u.Host, u.Scheme == "https", nil
	}
	return raw, true, nil
}

func readSecretFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
