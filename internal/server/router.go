package server

import (
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/fanwall/internal/metrics"
	"github.com/MarcoPoloResearchLab/fanwall/internal/nickname"
	"github.com/MarcoPoloResearchLab/fanwall/internal/sharecard"
	"github.com/MarcoPoloResearchLab/fanwall/internal/signatures"
	"github.com/MarcoPoloResearchLab/fanwall/internal/storage"
	"github.com/MarcoPoloResearchLab/fanwall/internal/submission"
)

const (
	defaultPageSize       = 20
	defaultMaxPageSize    = 40
	defaultUploadMaxBytes = 10 << 20
	defaultProxyTimeout   = 15 * time.Second
)

var (
	errMissingSignatureService = errors.New("signature service dependency required")
	errMissingNicknameService  = errors.New("nickname generator dependency required")
	registerValidatorsOnce     sync.Once
)

// Options holds request-shaping settings.
type Options struct {
	PageSize       int
	MaxPageSize    int
	UploadMaxBytes int64
	StreamURL      string
}

type Dependencies struct {
	Signatures  *signatures.Service
	Submissions *submission.Service
	Blobs       storage.BlobStore
	Nicknames   *nickname.Generator
	ShareCards  *sharecard.Renderer
	ProxyClient *http.Client
	Metrics     *metrics.Recorder
	Clock       func() time.Time
	Options     Options
	Logger      *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Signatures == nil {
		return nil, errMissingSignatureService
	}
	if deps.Nicknames == nil {
		return nil, errMissingNicknameService
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	proxyClient := deps.ProxyClient
	if proxyClient == nil {
		proxyClient = &http.Client{Timeout: defaultProxyTimeout}
	}
	options := deps.Options
	if options.PageSize <= 0 {
		options.PageSize = defaultPageSize
	}
	if options.MaxPageSize <= 0 {
		options.MaxPageSize = defaultMaxPageSize
	}
	if options.UploadMaxBytes <= 0 {
		options.UploadMaxBytes = defaultUploadMaxBytes
	}

	registerValidators(logger)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())
	router.Use(deps.Metrics.Middleware())

	handler := &httpHandler{
		signatures:  deps.Signatures,
		submissions: deps.Submissions,
		blobs:       deps.Blobs,
		nicknames:   deps.Nicknames,
		shareCards:  deps.ShareCards,
		proxyClient: proxyClient,
		metrics:     deps.Metrics,
		clock:       clock,
		options:     options,
		logger:      logger,
	}

	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}

	api := router.Group("/api")
	api.Use(handler.resolveIdentity)

	api.GET("/identity", handler.handleGetIdentity)
	api.PUT("/identity/username", handler.handleSetUsername)
	api.POST("/identity/hide-popup", handler.handleHidePopup)
	api.GET("/identity/popup", handler.handlePopupStatus)

	api.GET("/signatures", handler.handleListSignatures)
	api.POST("/signatures", handler.handleCreateSignature)
	api.GET("/signatures/:id", handler.handleGetSignature)
	api.POST("/signatures/:id/like", handler.handleSetLike)
	api.GET("/signatures/:id/comments", handler.handleListComments)
	api.POST("/signatures/:id/comments", handler.handleAddComment)
	api.PATCH("/signatures/:id/reply", handler.handleUpdateReply)
	api.GET("/signatures/:id/share-card", handler.handleShareCard)
	api.GET("/likes", handler.handleLikeStatus)

	api.POST("/upload", handler.handleUpload)
	api.POST("/submissions", handler.handleSubmit)

	api.GET("/name-generator", handler.handleGenerateName)
	api.GET("/proxy-image", handler.handleProxyImage)
	api.GET("/stream", handler.handleStream)

	return router, nil
}

type httpHandler struct {
	signatures  *signatures.Service
	submissions *submission.Service
	blobs       storage.BlobStore
	nicknames   *nickname.Generator
	shareCards  *sharecard.Renderer
	proxyClient *http.Client
	metrics     *metrics.Recorder
	clock       func() time.Time
	options     Options
	logger      *zap.Logger
}

func corsMiddleware() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOriginFunc:  func(string) bool { return true },
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodOptions},
		AllowHeaders:     []string{"Content-Type", "Cache-Control"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	})
}

// registerValidators adds the notblank rule to gin's shared validator engine.
func registerValidators(logger *zap.Logger) {
	registerValidatorsOnce.Do(func() {
		engine, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		if err := engine.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
			return strings.TrimSpace(fl.Field().String()) != ""
		}); err != nil {
			logger.Error("validator registration failed", zap.Error(err))
		}
	})
}

type codedError interface {
	Code() string
}

func respondError(c *gin.Context, status int, code string, err error) {
	payload := gin.H{"error": code}
	var coded codedError
	if errors.As(err, &coded) {
		payload["code"] = coded.Code()
	}
	c.JSON(status, payload)
}
