package signatures

import (
	"context"
	"strings"

	"github.com/MarcoPoloResearchLab/fanwall/internal/identity"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// IncrementLikes atomically adds one to the like counter of the signature.
func IncrementLikes(tx *gorm.DB, id SignatureID) error {
	return tx.Model(&Signature{}).
		Where("id = ?", id.String()).
		UpdateColumn("likes", gorm.Expr("likes + 1")).Error
}

// DecrementLikes atomically subtracts one from the like counter, never going below zero.
func DecrementLikes(tx *gorm.DB, id SignatureID) error {
	return tx.Model(&Signature{}).
		Where("id = ?", id.String()).
		UpdateColumn("likes", gorm.Expr("CASE WHEN likes > 0 THEN likes - 1 ELSE 0 END")).Error
}

// SetLike moves the viewer's like on a signature to the desired state.
// The like row and the counter change in one transaction, and only when the row actually changed.
func (s *Service) SetLike(ctx context.Context, viewer identity.Identity, rawID string, liked bool) (LikeResult, error) {
	if viewer.IsZero() {
		return LikeResult{}, newServiceError(opSetLike, "missing_identity", ErrMissingIdentity)
	}
	id, err := NewSignatureID(rawID)
	if err != nil {
		return LikeResult{}, newServiceError(opSetLike, "invalid_id", err)
	}
	userID := strings.TrimSpace(viewer.UserID)
	fields := []zap.Field{zap.String("signature_id", id.String()), zap.String("user_id", userID)}

	var result LikeResult
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.requireSignature(tx, opSetLike, id); err != nil {
			return err
		}

		if liked {
			insert := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&Like{
				SignatureID: id.String(),
				UserID:      userID,
				CreatedAt:   s.clock().UTC(),
			})
			if insert.Error != nil {
				s.logError(opSetLike, "like_insert_failed", insert.Error, fields...)
				return newServiceError(opSetLike, "like_insert_failed", insert.Error)
			}
			if insert.RowsAffected == 1 {
				if err := IncrementLikes(tx, id); err != nil {
					s.logError(opSetLike, "increment_failed", err, fields...)
					return newServiceError(opSetLike, "increment_failed", err)
				}
			}
		} else {
			removal := tx.Where("signature_id = ? AND user_id = ?", id.String(), userID).Delete(&Like{})
			if removal.Error != nil {
				s.logError(opSetLike, "like_delete_failed", removal.Error, fields...)
				return newServiceError(opSetLike, "like_delete_failed", removal.Error)
			}
			if removal.RowsAffected == 1 {
				if err := DecrementLikes(tx, id); err != nil {
					s.logError(opSetLike, "decrement_failed", err, fields...)
					return newServiceError(opSetLike, "decrement_failed", err)
				}
			}
		}

		var signature Signature
		if err := tx.Select("likes").Where("id = ?", id.String()).Take(&signature).Error; err != nil {
			s.logError(opSetLike, "reload_failed", err, fields...)
			return newServiceError(opSetLike, "reload_failed", err)
		}
		result = LikeResult{Liked: liked, Likes: signature.Likes}
		return nil
	})
	if txErr != nil {
		return LikeResult{}, txErr
	}
	return result, nil
}

// LikeStatus reports, for each requested id, whether the viewer has a like row.
// An anonymous viewer has liked nothing.
func (s *Service) LikeStatus(ctx context.Context, viewer identity.Identity, ids []string) (map[string]bool, error) {
	status := make(map[string]bool, len(ids))
	keys := make([]string, 0, len(ids))
	for _, raw := range ids {
		id, err := NewSignatureID(raw)
		if err != nil {
			continue
		}
		status[id.String()] = false
		keys = append(keys, id.String())
	}
	if viewer.IsZero() || len(keys) == 0 {
		return status, nil
	}

	var likes []Like
	if err := s.db.WithContext(ctx).
		Where("user_id = ? AND signature_id IN ?", strings.TrimSpace(viewer.UserID), keys).
		Find(&likes).Error; err != nil {
		s.logError(opLikeStatus, "query_failed", err, zap.String("user_id", viewer.UserID))
		return nil, newServiceError(opLikeStatus, "query_failed", err)
	}
	for _, like := range likes {
		status[like.SignatureID] = true
	}
	return status, nil
}
