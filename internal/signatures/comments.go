package signatures

import (
	"context"
	"strconv"
	"strings"

	"github.com/MarcoPoloResearchLab/fanwall/internal/identity"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// AddComment appends a comment to an existing signature.
func (s *Service) AddComment(ctx context.Context, viewer identity.Identity, rawID, username, message string) (Comment, error) {
	if viewer.IsZero() {
		return Comment{}, newServiceError(opAddComment, "missing_identity", ErrMissingIdentity)
	}
	id, err := NewSignatureID(rawID)
	if err != nil {
		return Comment{}, newServiceError(opAddComment, "invalid_id", err)
	}
	username = strings.TrimSpace(username)
	if username == "" {
		return Comment{}, newServiceError(opAddComment, "missing_nickname", ErrMissingNickname)
	}
	message = strings.TrimSpace(message)
	if message == "" {
		return Comment{}, newServiceError(opAddComment, "empty_message", ErrEmptyMessage)
	}

	commentID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opAddComment, "id_generation_failed", err)
		return Comment{}, newServiceError(opAddComment, "id_generation_failed", err)
	}

	comment := Comment{
		ID:          commentID,
		SignatureID: id.String(),
		UserID:      strings.TrimSpace(viewer.UserID),
		Username:    username,
		Message:     message,
		CreatedAt:   s.clock().UTC(),
	}
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.requireSignature(tx, opAddComment, id); err != nil {
			return err
		}
		if err := tx.Create(&comment).Error; err != nil {
			s.logError(opAddComment, "insert_failed", err, zap.String("signature_id", id.String()))
			return newServiceError(opAddComment, "insert_failed", err)
		}
		return nil
	})
	if txErr != nil {
		return Comment{}, txErr
	}
	return comment, nil
}

// ListComments returns the comments of a signature, oldest first.
func (s *Service) ListComments(ctx context.Context, rawID string) ([]Comment, error) {
	id, err := NewSignatureID(rawID)
	if err != nil {
		return nil, newServiceError(opListComments, "invalid_id", err)
	}
	comments := make([]Comment, 0)
	if err := s.db.WithContext(ctx).
		Where("signature_id = ?", id.String()).
		Order("created_at ASC").Order("id ASC").
		Find(&comments).Error; err != nil {
		s.logError(opListComments, "query_failed", err, zap.String("signature_id", id.String()))
		return nil, newServiceError(opListComments, "query_failed", err)
	}
	return comments, nil
}

// UpdateReplyCount overwrites the cosmetic reply counter of a signature.
// The value is whatever the caller observed and is not reconciled with the comment rows.
func (s *Service) UpdateReplyCount(ctx context.Context, rawID string, count int) error {
	id, err := NewSignatureID(rawID)
	if err != nil {
		return newServiceError(opUpdateReplyCount, "invalid_id", err)
	}
	if count < 0 {
		count = 0
	}
	update := s.db.WithContext(ctx).Model(&Signature{}).
		Where("id = ?", id.String()).
		UpdateColumn("reply", strconv.Itoa(count))
	if update.Error != nil {
		s.logError(opUpdateReplyCount, "update_failed", update.Error, zap.String("signature_id", id.String()))
		return newServiceError(opUpdateReplyCount, "update_failed", update.Error)
	}
	if update.RowsAffected == 0 {
		return newServiceError(opUpdateReplyCount, "not_found", ErrSignatureNotFound)
	}
	return nil
}
