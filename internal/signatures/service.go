package signatures

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()
)

type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew        = "signatures.service.new"
	opCreate            = "signatures.create"
	opGet               = "signatures.get"
	opListPage          = "signatures.list_page"
	opSetLike           = "signatures.set_like"
	opLikeStatus        = "signatures.like_status"
	opAddComment        = "signatures.add_comment"
	opListComments      = "signatures.list_comments"
	opUpdateReplyCount  = "signatures.update_reply_count"
	defaultProfileImage = "/profiles/gg_1.png"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

type ServiceConfig struct {
	Database      *gorm.DB
	Clock         func() time.Time
	IDProvider    IDProvider
	ProfilePicker func() string
	Logger        *zap.Logger
}

type IDProvider interface {
	NewID() (string, error)
}

// Service reads and writes signatures, likes and comments.
type Service struct {
	db            *gorm.DB
	clock         func() time.Time
	idProvider    IDProvider
	profilePicker func() string
	logger        *zap.Logger
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}

	profilePicker := cfg.ProfilePicker
	if profilePicker == nil {
		profilePicker = func() string { return defaultProfileImage }
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		db:            cfg.Database,
		clock:         clock,
		idProvider:    cfg.IDProvider,
		profilePicker: profilePicker,
		logger:        logger,
	}, nil
}

// Create inserts a signature referencing an already stored blob.
func (s *Service) Create(ctx context.Context, input NewSignature) (Signature, error) {
	signatureURL := strings.TrimSpace(input.SignatureURL)
	if signatureURL == "" {
		return Signature{}, newServiceError(opCreate, "missing_signature_url", ErrMissingSignatureURL)
	}

	id, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreate, "id_generation_failed", err)
		return Signature{}, newServiceError(opCreate, "id_generation_failed", err)
	}

	signature := Signature{
		ID:           id,
		Message:      strings.TrimSpace(input.Message),
		SignatureURL: signatureURL,
		AuthorName:   strings.TrimSpace(input.AuthorName),
		ProfileImage: s.profilePicker(),
		CreatedAt:    s.clock().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&signature).Error; err != nil {
		s.logError(opCreate, "insert_failed", err, zap.String("signature_id", id))
		return Signature{}, newServiceError(opCreate, "insert_failed", err)
	}
	return signature, nil
}

// Get loads a single signature.
func (s *Service) Get(ctx context.Context, rawID string) (Signature, error) {
	id, err := NewSignatureID(rawID)
	if err != nil {
		return Signature{}, newServiceError(opGet, "invalid_id", err)
	}
	var signature Signature
	err = s.db.WithContext(ctx).Where("id = ?", id.String()).Take(&signature).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Signature{}, newServiceError(opGet, "not_found", ErrSignatureNotFound)
	}
	if err != nil {
		s.logError(opGet, "query_failed", err, zap.String("signature_id", id.String()))
		return Signature{}, newServiceError(opGet, "query_failed", err)
	}
	return signature, nil
}

// ListPage returns the page-th slice of size rows, newest first.
func (s *Service) ListPage(ctx context.Context, page, size int) (Page, error) {
	if page < 0 || size <= 0 || page > (math.MaxInt-size)/size {
		return Page{}, newServiceError(opListPage, "invalid_page", fmt.Errorf("%w: page=%d size=%d", ErrInvalidPage, page, size))
	}

	db := s.db.WithContext(ctx)
	var total int64
	if err := db.Model(&Signature{}).Count(&total).Error; err != nil {
		s.logError(opListPage, "count_failed", err, zap.Int("page", page))
		return Page{}, newServiceError(opListPage, "count_failed", err)
	}

	offset := page * size
	rows := make([]Signature, 0, size)
	if err := db.Order("created_at DESC").Order("id DESC").
		Offset(offset).
		Limit(size).
		Find(&rows).Error; err != nil {
		s.logError(opListPage, "query_failed", err, zap.Int("page", page))
		return Page{}, newServiceError(opListPage, "query_failed", err)
	}

	return Page{
		Signatures: rows,
		HasMore:    int64(offset+len(rows)) < total,
		TotalCount: total,
	}, nil
}

func (s *Service) requireSignature(tx *gorm.DB, operation string, id SignatureID) error {
	var count int64
	if err := tx.Model(&Signature{}).Where("id = ?", id.String()).Count(&count).Error; err != nil {
		s.logError(operation, "signature_lookup_failed", err, zap.String("signature_id", id.String()))
		return newServiceError(operation, "signature_lookup_failed", err)
	}
	if count == 0 {
		return newServiceError(operation, "not_found", ErrSignatureNotFound)
	}
	return nil
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil {
		return noOpLogger
	}
	if s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("signatures service error", attrs...)
}
