package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/fanwall/internal/identity"
)

const (
	identityContextKey = "fanwall_identity"
	providerContextKey = "fanwall_identity_provider"
)

type usernameRequest struct {
	Username string `json:"username" binding:"required,notblank"`
}

// resolveIdentity binds the cookie-backed identity to the request, minting a token on first contact.
func (h *httpHandler) resolveIdentity(c *gin.Context) {
	provider := identity.NewProvider(identity.ProviderConfig{
		Store: identity.NewCookieStore(c),
		Clock: h.clock,
	})
	viewer, err := provider.Current()
	if err != nil {
		h.logger.Error("identity resolution failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "identity_unavailable"})
		return
	}
	c.Set(identityContextKey, viewer)
	c.Set(providerContextKey, provider)
	c.Next()
}

func identityFromContext(c *gin.Context) identity.Identity {
	value, exists := c.Get(identityContextKey)
	if !exists {
		return identity.Identity{}
	}
	viewer, ok := value.(identity.Identity)
	if !ok {
		return identity.Identity{}
	}
	return viewer
}

func providerFromContext(c *gin.Context) *identity.Provider {
	value, exists := c.Get(providerContextKey)
	if !exists {
		return nil
	}
	provider, _ := value.(*identity.Provider)
	return provider
}

func (h *httpHandler) handleGetIdentity(c *gin.Context) {
	c.JSON(http.StatusOK, identityFromContext(c))
}

func (h *httpHandler) handleSetUsername(c *gin.Context) {
	var request usernameRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_username"})
		return
	}
	provider := providerFromContext(c)
	if err := provider.SetUsername(request.Username); err != nil {
		if errors.Is(err, identity.ErrBlankUsername) || errors.Is(err, identity.ErrUsernameTooLong) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_username"})
			return
		}
		h.logger.Error("username persistence failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "identity_unavailable"})
		return
	}
	viewer := identityFromContext(c).WithUsername(request.Username)
	c.Set(identityContextKey, viewer)
	c.JSON(http.StatusOK, viewer)
}

func (h *httpHandler) handleHidePopup(c *gin.Context) {
	if err := providerFromContext(c).HidePopupForToday(); err != nil {
		h.logger.Error("popup preference failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "identity_unavailable"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handlePopupStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"hidden": providerFromContext(c).PopupHidden()})
}
