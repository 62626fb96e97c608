package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/fanwall/internal/config"
)

const (
	// ContentTypePNG is the content type of every stored signature.
	ContentTypePNG = "image/png"

	keyPrefix    = "signature-"
	keyExtension = ".png"
	suffixLength = 10
)

var (
	// ErrEmptyObject indicates an upload without payload bytes.
	ErrEmptyObject = errors.New("storage: object is empty")
	errMissingAPI  = errors.New("storage: object api is required")
)

// Object is one payload to store.
type Object struct {
	Data        []byte
	ContentType string
}

// Stored describes a successfully written object.
type Stored struct {
	Key string `json:"key"`
	URL string `json:"url"`
}

// BlobStore stores images and returns publicly resolvable URLs.
type BlobStore interface {
	Put(ctx context.Context, object Object) (Stored, error)
	Remove(ctx context.Context, key string) error
}

// ObjectAPI is the subset of *minio.Client used by MinioStore.
type ObjectAPI interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	RemoveObject(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error
}

// MinioConfig describes the dependencies of a MinioStore.
type MinioConfig struct {
	API           ObjectAPI
	Bucket        string
	Region        string
	PublicBaseURL string
	Clock         func() time.Time
	NewSuffix     func() (string, error)
	Logger        *zap.Logger
}

// MinioStore writes blobs to an S3-compatible bucket.
type MinioStore struct {
	api           ObjectAPI
	bucket        string
	region        string
	publicBaseURL string
	clock         func() time.Time
	newSuffix     func() (string, error)
	logger        *zap.Logger

	bucketMu    sync.Mutex
	bucketReady bool
}

// NewMinioClient builds an S3 client from the storage settings.
func NewMinioClient(cfg config.StorageConfig) (*minio.Client, error) {
	return minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
}

// NewMinioStore constructs a MinioStore.
func NewMinioStore(cfg MinioConfig) (*MinioStore, error) {
	if cfg.API == nil {
		return nil, errMissingAPI
	}
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, errors.New("storage: bucket is required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	newSuffix := cfg.NewSuffix
	if newSuffix == nil {
		newSuffix = func() (string, error) { return gonanoid.New(suffixLength) }
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MinioStore{
		api:           cfg.API,
		bucket:        cfg.Bucket,
		region:        cfg.Region,
		publicBaseURL: strings.TrimRight(cfg.PublicBaseURL, "/"),
		clock:         clock,
		newSuffix:     newSuffix,
		logger:        logger,
	}, nil
}

// Put uploads the object once, without retry.
func (s *MinioStore) Put(ctx context.Context, object Object) (Stored, error) {
	if len(object.Data) == 0 {
		return Stored{}, ErrEmptyObject
	}
	if err := s.ensureBucket(ctx); err != nil {
		return Stored{}, fmt.Errorf("storage: prepare bucket: %w", err)
	}

	key, err := s.newKey()
	if err != nil {
		return Stored{}, fmt.Errorf("storage: name object: %w", err)
	}
	contentType := object.ContentType
	if contentType == "" {
		contentType = ContentTypePNG
	}

	if _, err := s.api.PutObject(ctx, s.bucket, key, bytes.NewReader(object.Data), int64(len(object.Data)),
		minio.PutObjectOptions{ContentType: contentType}); err != nil {
		return Stored{}, fmt.Errorf("storage: upload %s: %w", key, err)
	}
	s.logger.Info("blob stored", zap.String("key", key), zap.Int("bytes", len(object.Data)))
	return Stored{Key: key, URL: s.publicBaseURL + "/" + key}, nil
}

// Remove deletes a stored object.
func (s *MinioStore) Remove(ctx context.Context, key string) error {
	if err := s.api.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("storage: remove %s: %w", key, err)
	}
	return nil
}

func (s *MinioStore) ensureBucket(ctx context.Context) error {
	s.bucketMu.Lock()
	defer s.bucketMu.Unlock()
	if s.bucketReady {
		return nil
	}
	exists, err := s.api.BucketExists(ctx, s.bucket)
	if err != nil {
		return err
	}
	if !exists {
		if err := s.api.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
			return err
		}
		s.logger.Info("bucket created", zap.String("bucket", s.bucket))
	}
	s.bucketReady = true
	return nil
}

func (s *MinioStore) newKey() (string, error) {
	suffix, err := s.newSuffix()
	if err != nil {
		return "", err
	}
	return ObjectKey(s.clock(), suffix), nil
}

// ObjectKey names a signature object from its upload time and a random suffix.
func ObjectKey(at time.Time, suffix string) string {
	return fmt.Sprintf("%s%d-%s%s", keyPrefix, at.UnixMilli(), suffix, keyExtension)
}
