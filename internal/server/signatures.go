package server

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/fanwall/internal/compositor"
	"github.com/MarcoPoloResearchLab/fanwall/internal/sharecard"
	"github.com/MarcoPoloResearchLab/fanwall/internal/signatures"
)

type createSignatureRequest struct {
	Message      string `json:"message"`
	SignatureURL string `json:"signature_url" binding:"required,notblank"`
	AuthorName   string `json:"author_name"`
}

type likeRequest struct {
	Liked *bool `json:"liked" binding:"required"`
}

type commentRequest struct {
	Username string `json:"username"`
	Message  string `json:"message" binding:"required,notblank"`
}

type replyRequest struct {
	Reply *int `json:"reply" binding:"required"`
}

func (h *httpHandler) handleListSignatures(c *gin.Context) {
	page, err := queryInt(c, "page", 0)
	if err != nil || page < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_page"})
		return
	}
	limit, err := queryInt(c, "limit", h.options.PageSize)
	if err != nil || limit <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_limit"})
		return
	}
	if limit > h.options.MaxPageSize {
		limit = h.options.MaxPageSize
	}

	result, err := h.signatures.ListPage(c.Request.Context(), page, limit)
	if errors.Is(err, signatures.ErrInvalidPage) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_page"})
		return
	}
	if err != nil {
		h.respondSignatureError(c, "signatures_fetch_failed", err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *httpHandler) handleCreateSignature(c *gin.Context) {
	var request createSignatureRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_signature"})
		return
	}
	author := strings.TrimSpace(request.AuthorName)
	if author == "" {
		author = identityFromContext(c).Username
	}
	created, err := h.signatures.Create(c.Request.Context(), signatures.NewSignature{
		Message:      request.Message,
		SignatureURL: request.SignatureURL,
		AuthorName:   author,
	})
	if err != nil {
		h.respondSignatureError(c, "signature_create_failed", err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (h *httpHandler) handleGetSignature(c *gin.Context) {
	signature, err := h.signatures.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondSignatureError(c, "signature_fetch_failed", err)
		return
	}
	c.JSON(http.StatusOK, signature)
}

func (h *httpHandler) handleSetLike(c *gin.Context) {
	var request likeRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_like"})
		return
	}
	result, err := h.signatures.SetLike(c.Request.Context(), identityFromContext(c), c.Param("id"), *request.Liked)
	if err != nil {
		h.respondSignatureError(c, "like_failed", err)
		return
	}
	action := "unlike"
	if result.Liked {
		action = "like"
	}
	h.metrics.RecordLikeChange(action)
	c.JSON(http.StatusOK, result)
}

func (h *httpHandler) handleLikeStatus(c *gin.Context) {
	var ids []string
	for _, raw := range strings.Split(c.Query("ids"), ",") {
		if trimmed := strings.TrimSpace(raw); trimmed != "" {
			ids = append(ids, trimmed)
		}
	}
	status, err := h.signatures.LikeStatus(c.Request.Context(), identityFromContext(c), ids)
	if err != nil {
		h.respondSignatureError(c, "like_status_failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"liked": status})
}

func (h *httpHandler) handleListComments(c *gin.Context) {
	comments, err := h.signatures.ListComments(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondSignatureError(c, "comments_fetch_failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"comments": comments})
}

func (h *httpHandler) handleAddComment(c *gin.Context) {
	var request commentRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		h.metrics.RecordComment("invalid")
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "empty_message"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_comment"})
		return
	}
	viewer := identityFromContext(c)
	username := strings.TrimSpace(request.Username)
	if username == "" {
		username = viewer.Username
	}
	comment, err := h.signatures.AddComment(c.Request.Context(), viewer, c.Param("id"), username, request.Message)
	if err != nil {
		if isSignatureValidation(err) {
			h.metrics.RecordComment("invalid")
		} else {
			h.metrics.RecordComment("failed")
		}
		h.respondSignatureError(c, "comment_failed", err)
		return
	}
	h.metrics.RecordComment("created")
	c.JSON(http.StatusCreated, comment)
}

func (h *httpHandler) handleUpdateReply(c *gin.Context) {
	var request replyRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_reply"})
		return
	}
	if err := h.signatures.UpdateReplyCount(c.Request.Context(), c.Param("id"), *request.Reply); err != nil {
		h.respondSignatureError(c, "reply_update_failed", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleShareCard(c *gin.Context) {
	if h.shareCards == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "share_card_unavailable"})
		return
	}
	signature, err := h.signatures.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondSignatureError(c, "signature_fetch_failed", err)
		return
	}
	card, err := h.shareCards.Render(c.Request.Context(), sharecard.Card{
		AuthorName:   signature.AuthorName,
		SignatureURL: signature.SignatureURL,
		Message:      signature.Message,
	})
	if err != nil {
		if errors.Is(err, sharecard.ErrSignatureImageUnavailable) {
			c.JSON(http.StatusBadGateway, gin.H{"error": "signature_image_unavailable"})
			return
		}
		h.logger.Error("share card render failed", zap.String("signature_id", signature.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "share_card_failed"})
		return
	}
	encoded, err := compositor.EncodePNG(card)
	if err != nil {
		h.logger.Error("share card encode failed", zap.String("signature_id", signature.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "share_card_failed"})
		return
	}
	fileName := sharecard.FileName(signature.AuthorName, signature.SignatureURL)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", fileName))
	c.Data(http.StatusOK, "image/png", encoded)
}

func (h *httpHandler) respondSignatureError(c *gin.Context, fallback string, err error) {
	switch {
	case errors.Is(err, signatures.ErrSignatureNotFound):
		respondError(c, http.StatusNotFound, "signature_not_found", err)
	case errors.Is(err, signatures.ErrEmptyMessage):
		respondError(c, http.StatusBadRequest, "empty_message", err)
	case errors.Is(err, signatures.ErrMissingNickname):
		respondError(c, http.StatusBadRequest, "missing_nickname", err)
	case errors.Is(err, signatures.ErrMissingIdentity):
		respondError(c, http.StatusBadRequest, "missing_identity", err)
	case isSignatureValidation(err):
		respondError(c, http.StatusBadRequest, "invalid_request", err)
	default:
		respondError(c, http.StatusInternalServerError, fallback, err)
	}
}

func isSignatureValidation(err error) bool {
	return errors.Is(err, signatures.ErrInvalidSignatureID) ||
		errors.Is(err, signatures.ErrMissingSignatureURL) ||
		errors.Is(err, signatures.ErrEmptyMessage) ||
		errors.Is(err, signatures.ErrMissingNickname) ||
		errors.Is(err, signatures.ErrMissingIdentity) ||
		errors.Is(err, signatures.ErrInvalidPage)
}

func queryInt(c *gin.Context, key string, fallback int) (int, error) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}
