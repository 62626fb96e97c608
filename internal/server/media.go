package server

import (
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/fanwall/internal/compositor"
	"github.com/MarcoPoloResearchLab/fanwall/internal/storage"
	"github.com/MarcoPoloResearchLab/fanwall/internal/submission"
)

const (
	deviceIOS     = "iOS"
	deviceAndroid = "Android"
	deviceOther   = "Other"

	defaultProxyContentType = "image/png"
)

func (h *httpHandler) handleUpload(c *gin.Context) {
	if h.blobs == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage_unavailable"})
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.options.UploadMaxBytes)

	data, err := readFormFile(c, "file")
	if err != nil {
		h.respondFormFileError(c, err)
		return
	}
	if len(data) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing_file"})
		return
	}

	stored, err := h.blobs.Put(c.Request.Context(), storage.Object{Data: data, ContentType: storage.ContentTypePNG})
	if err != nil {
		h.metrics.RecordUpload("failed")
		h.logger.Error("upload failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "upload_failed",
			"details": err.Error(),
			"name":    "StorageError",
		})
		return
	}
	h.metrics.RecordUpload("stored")
	c.JSON(http.StatusOK, gin.H{"url": stored.URL})
}

func (h *httpHandler) handleSubmit(c *gin.Context) {
	if h.submissions == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage_unavailable"})
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.options.UploadMaxBytes)

	if _, err := c.MultipartForm(); err != nil {
		h.respondFormFileError(c, err)
		return
	}
	var drawing compositor.Drawing
	if err := json.Unmarshal([]byte(c.PostForm("drawing")), &drawing); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_drawing"})
		return
	}
	background, err := readFormFile(c, "background")
	if err != nil && !errors.Is(err, http.ErrMissingFile) {
		h.respondFormFileError(c, err)
		return
	}

	created, err := h.submissions.Submit(c.Request.Context(), identityFromContext(c), submission.Request{
		Message:    c.PostForm("message"),
		AuthorName: c.PostForm("author_name"),
		Drawing:    drawing,
		Background: background,
	})
	if err != nil {
		switch {
		case errors.Is(err, submission.ErrEmptyMessage):
			respondError(c, http.StatusBadRequest, "empty_message", err)
		case errors.Is(err, submission.ErrMissingNickname):
			respondError(c, http.StatusBadRequest, "missing_nickname", err)
		case errors.Is(err, compositor.ErrInvalidDimensions),
			errors.Is(err, compositor.ErrColorNotInPalette),
			errors.Is(err, compositor.ErrInvalidStrokeWidth):
			respondError(c, http.StatusBadRequest, "invalid_drawing", err)
		default:
			respondError(c, http.StatusInternalServerError, "submission_failed", err)
		}
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (h *httpHandler) handleGenerateName(c *gin.Context) {
	c.Header("Cache-Control", "no-store, max-age=0")
	defer func() {
		if recovered := recover(); recovered != nil {
			h.logger.Error("name generation panicked", zap.Any("panic", recovered))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "name_generation_failed"})
		}
	}()

	name := h.nicknames.Generate(c.Request.Context())
	if strings.TrimSpace(name.Value) == "" {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "name_generation_failed"})
		return
	}
	h.metrics.RecordNickname(string(name.Source))
	c.JSON(http.StatusOK, name)
}

func (h *httpHandler) handleProxyImage(c *gin.Context) {
	rawURL := strings.TrimSpace(c.Query("url"))
	if rawURL == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing_url"})
		return
	}
	target, err := url.Parse(rawURL)
	if err != nil || (target.Scheme != "http" && target.Scheme != "https") || target.Host == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_url"})
		return
	}

	request, err := http.NewRequestWithContext(c.Request.Context(), http.MethodGet, target.String(), nil)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_url"})
		return
	}
	response, err := h.proxyClient.Do(request)
	if err != nil {
		h.logger.Warn("proxy fetch failed", zap.String("url", target.String()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "image_fetch_failed"})
		return
	}
	defer response.Body.Close()
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		h.logger.Warn("proxy fetch rejected", zap.String("url", target.String()), zap.Int("status", response.StatusCode))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "image_fetch_failed"})
		return
	}

	contentType := response.Header.Get("Content-Type")
	if contentType == "" {
		contentType = defaultProxyContentType
	}
	c.DataFromReader(http.StatusOK, response.ContentLength, contentType, response.Body, map[string]string{
		"Access-Control-Allow-Origin": "*",
	})
}

func (h *httpHandler) handleStream(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"url":    h.options.StreamURL,
		"device": deviceFromUserAgent(c.Request.UserAgent()),
	})
}

func deviceFromUserAgent(userAgent string) string {
	switch {
	case strings.Contains(userAgent, "iPhone"), strings.Contains(userAgent, "iPad"), strings.Contains(userAgent, "iPod"):
		return deviceIOS
	case strings.Contains(userAgent, "Android"):
		return deviceAndroid
	default:
		return deviceOther
	}
}

func readFormFile(c *gin.Context, field string) ([]byte, error) {
	header, err := c.FormFile(field)
	if err != nil {
		return nil, err
	}
	return readMultipartFile(header)
}

func readMultipartFile(header *multipart.FileHeader) ([]byte, error) {
	file, err := header.Open()
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return io.ReadAll(file)
}

func (h *httpHandler) respondFormFileError(c *gin.Context, err error) {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file_too_large"})
	case errors.Is(err, http.ErrMissingFile):
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing_file"})
	default:
		h.logger.Warn("form file read failed", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing_file"})
	}
}
