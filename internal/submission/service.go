package submission

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/fanwall/internal/compositor"
	"github.com/MarcoPoloResearchLab/fanwall/internal/identity"
	"github.com/MarcoPoloResearchLab/fanwall/internal/signatures"
	"github.com/MarcoPoloResearchLab/fanwall/internal/storage"
)

var (
	// ErrEmptyMessage indicates a submission without message text.
	ErrEmptyMessage = errors.New("submission: message is required")
	// ErrMissingNickname indicates a submission without an author nickname.
	ErrMissingNickname   = errors.New("submission: nickname is required")
	errMissingDependency = errors.New("submission: dependency is required")
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
	opServiceNew = "submission.service.new"
	opSubmit     = "submission.submit"
)

func newServiceError(operation, reason string, cause error) error {
	return &ServiceError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

// SignatureCreator inserts signature rows.
type SignatureCreator interface {
	Create(ctx context.Context, input signatures.NewSignature) (signatures.Signature, error)
}

// Recorder observes submission outcomes.
type Recorder interface {
	RecordSubmission(outcome string)
	RecordUpload(outcome string)
}

type ServiceConfig struct {
	Compositor *compositor.Compositor
	Blobs      storage.BlobStore
	Signatures SignatureCreator
	Recorder   Recorder
	Logger     *zap.Logger
}

// Request is one signature submission.
type Request struct {
	Message    string
	AuthorName string
	Drawing    compositor.Drawing
	Background []byte
}

// Service runs the submit workflow: validate, compose, upload, insert.
type Service struct {
	compositor *compositor.Compositor
	blobs      storage.BlobStore
	signatures SignatureCreator
	recorder   Recorder
	logger     *zap.Logger
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Blobs == nil {
		return nil, newServiceError(opServiceNew, "missing_blob_store", errMissingDependency)
	}
	if cfg.Signatures == nil {
		return nil, newServiceError(opServiceNew, "missing_signature_store", errMissingDependency)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	composer := cfg.Compositor
	if composer == nil {
		composer = compositor.New(logger)
	}
	return &Service{
		compositor: composer,
		blobs:      cfg.Blobs,
		signatures: cfg.Signatures,
		recorder:   cfg.Recorder,
		logger:     logger,
	}, nil
}

// Submit stores the composed image and inserts the row referencing it.
// The upload always precedes the insert; a failed upload leaves no row.
func (s *Service) Submit(ctx context.Context, viewer identity.Identity, request Request) (signatures.Signature, error) {
	message := strings.TrimSpace(request.Message)
	if message == "" {
		s.record("invalid")
		return signatures.Signature{}, newServiceError(opSubmit, "empty_message", ErrEmptyMessage)
	}
	author := strings.TrimSpace(request.AuthorName)
	if author == "" {
		author = strings.TrimSpace(viewer.Username)
	}
	if author == "" {
		s.record("invalid")
		return signatures.Signature{}, newServiceError(opSubmit, "missing_nickname", ErrMissingNickname)
	}
	if err := request.Drawing.Validate(); err != nil {
		s.record("invalid")
		return signatures.Signature{}, newServiceError(opSubmit, "invalid_drawing", err)
	}

	composed, err := s.compositor.Compose(compositor.RenderLayer(request.Drawing), request.Background)
	if err != nil {
		s.logError("compose_failed", err)
		s.record("failed")
		return signatures.Signature{}, newServiceError(opSubmit, "compose_failed", err)
	}
	encoded, err := compositor.EncodePNG(composed)
	if err != nil {
		s.logError("encode_failed", err)
		s.record("failed")
		return signatures.Signature{}, newServiceError(opSubmit, "encode_failed", err)
	}

	stored, err := s.blobs.Put(ctx, storage.Object{Data: encoded, ContentType: storage.ContentTypePNG})
	if err != nil {
		s.logError("upload_failed", err)
		s.recordUpload("failed")
		s.record("failed")
		return signatures.Signature{}, newServiceError(opSubmit, "upload_failed", err)
	}
	s.recordUpload("stored")

	signature, err := s.signatures.Create(ctx, signatures.NewSignature{
		Message:      message,
		SignatureURL: stored.URL,
		AuthorName:   author,
	})
	if err != nil {
		s.logError("insert_failed", err, zap.String("key", stored.Key))
		if removeErr := s.blobs.Remove(ctx, stored.Key); removeErr != nil {
			s.logError("orphan_cleanup_failed", removeErr, zap.String("key", stored.Key))
		}
		s.record("failed")
		return signatures.Signature{}, newServiceError(opSubmit, "insert_failed", err)
	}

	s.record("created")
	s.logger.Info("signature submitted",
		zap.String("signature_id", signature.ID),
		zap.String("user_id", viewer.UserID))
	return signature, nil
}

func (s *Service) record(outcome string) {
	if s.recorder != nil {
		s.recorder.RecordSubmission(outcome)
	}
}

func (s *Service) recordUpload(outcome string) {
	if s.recorder != nil {
		s.recorder.RecordUpload(outcome)
	}
}

func (s *Service) logError(reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", opSubmit),
		zap.String("reason", reason),
		zap.Error(err),
	}
	attrs = append(attrs, fields...)
	s.logger.Error("submission service error", attrs...)
}
