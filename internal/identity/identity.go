package identity

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// CookieUserID stores the opaque per-browser token.
	CookieUserID = "user_id"
	// CookieUsername stores the display nickname.
	CookieUsername = "username"
	// CookieHidePopup suppresses the mission popup until midnight.
	CookieHidePopup = "hidePopup"

	// Lifetime is the expiry applied to the user token and nickname.
	Lifetime = 365 * 24 * time.Hour

	maxUsernameLength = 64
)

var (
	// ErrBlankUsername indicates an empty or whitespace-only nickname.
	ErrBlankUsername = errors.New("identity: username is blank")
	// ErrUsernameTooLong indicates a nickname longer than the stored bound.
	ErrUsernameTooLong = errors.New("identity: username too long")
)

// Identity is the per-session viewer context handed to every store operation.
// Neither field is verified by the server.
type Identity struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}

// IsZero reports whether no user token is available yet.
func (identity Identity) IsZero() bool {
	return strings.TrimSpace(identity.UserID) == ""
}

// HasUsername reports whether a non-blank nickname is attached.
func (identity Identity) HasUsername() bool {
	return strings.TrimSpace(identity.Username) != ""
}

// WithUsername returns a copy carrying the provided nickname.
func (identity Identity) WithUsername(name string) Identity {
	identity.Username = strings.TrimSpace(name)
	return identity
}

// Store persists identity values on the client side.
type Store interface {
	Get(name string) (string, bool)
	Set(name, value string, expires time.Time) error
}

// ProviderConfig describes the dependencies of a Provider.
type ProviderConfig struct {
	Store    Store
	Clock    func() time.Time
	NewToken func() string
}

// Provider issues and persists the client identity.
// A Provider without a store behaves as a context with no document: it yields an empty identity.
type Provider struct {
	store    Store
	clock    func() time.Time
	newToken func() string
}

// NewProvider constructs a Provider.
func NewProvider(cfg ProviderConfig) *Provider {
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	newToken := cfg.NewToken
	if newToken == nil {
		newToken = uuid.NewString
	}
	return &Provider{
		store:    cfg.Store,
		clock:    clock,
		newToken: newToken,
	}
}

// UserID returns the stored token, minting and persisting a new one on first use.
func (p *Provider) UserID() (string, error) {
	if p == nil || p.store == nil {
		return "", nil
	}
	if existing, ok := p.store.Get(CookieUserID); ok && strings.TrimSpace(existing) != "" {
		return strings.TrimSpace(existing), nil
	}
	token := p.newToken()
	if err := p.store.Set(CookieUserID, token, p.clock().Add(Lifetime)); err != nil {
		return "", fmt.Errorf("identity: persist user id: %w", err)
	}
	return token, nil
}

// Username returns the stored nickname, if any.
func (p *Provider) Username() (string, bool) {
	if p == nil || p.store == nil {
		return "", false
	}
	raw, ok := p.store.Get(CookieUsername)
	if !ok {
		return "", false
	}
	name := decodeUsername(raw)
	if name == "" {
		return "", false
	}
	return name, true
}

// SetUsername persists a nickname for the lifetime of the identity.
func (p *Provider) SetUsername(name string) error {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return ErrBlankUsername
	}
	if len([]rune(trimmed)) > maxUsernameLength {
		return fmt.Errorf("%w: exceeds %d characters", ErrUsernameTooLong, maxUsernameLength)
	}
	if p == nil || p.store == nil {
		return nil
	}
	return p.store.Set(CookieUsername, trimmed, p.clock().Add(Lifetime))
}

// Current resolves the full identity, minting a token when needed.
func (p *Provider) Current() (Identity, error) {
	userID, err := p.UserID()
	if err != nil {
		return Identity{}, err
	}
	username, _ := p.Username()
	return Identity{UserID: userID, Username: username}, nil
}

// HidePopupForToday suppresses the popup until the next local midnight.
func (p *Provider) HidePopupForToday() error {
	if p == nil || p.store == nil {
		return nil
	}
	return p.store.Set(CookieHidePopup, "true", NextMidnight(p.clock()))
}

// PopupHidden reports whether the popup was dismissed today.
func (p *Provider) PopupHidden() bool {
	if p == nil || p.store == nil {
		return false
	}
	value, ok := p.store.Get(CookieHidePopup)
	return ok && value != ""
}

// NextMidnight returns the first instant of the day after now, in now's location.
func NextMidnight(now time.Time) time.Time {
	year, month, day := now.Date()
	return time.Date(year, month, day+1, 0, 0, 0, 0, now.Location())
}

// decodeUsername unwraps values stored as a JSON array by older clients.
func decodeUsername(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(trimmed, "[") {
		var values []string
		if err := json.Unmarshal([]byte(trimmed), &values); err == nil {
			if len(values) == 0 {
				return ""
			}
			return strings.TrimSpace(values[0])
		}
	}
	return trimmed
}
