package identity

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// CookieStore reads identity cookies from a request and writes them back on the response.
// Values set during the request are visible to later reads of the same request.
type CookieStore struct {
	ctx     *gin.Context
	written map[string]string
}

// NewCookieStore binds a store to the gin request context.
func NewCookieStore(ctx *gin.Context) *CookieStore {
	return &CookieStore{ctx: ctx, written: make(map[string]string)}
}

func (s *CookieStore) Get(name string) (string, bool) {
	if value, ok := s.written[name]; ok {
		return value, value != ""
	}
	if s.ctx == nil || s.ctx.Request == nil {
		return "", false
	}
	cookie, err := s.ctx.Request.Cookie(name)
	if err != nil || cookie == nil {
		return "", false
	}
	value, err := url.QueryUnescape(cookie.Value)
	if err != nil {
		value = cookie.Value
	}
	return value, value != ""
}

func (s *CookieStore) Set(name, value string, expires time.Time) error {
	s.written[name] = value
	if s.ctx == nil || s.ctx.Writer == nil {
		return nil
	}
	http.SetCookie(s.ctx.Writer, &http.Cookie{
		Name:     name,
		Value:    url.QueryEscape(value),
		Path:     "/",
		Expires:  expires.UTC(),
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

type fileEntry struct {
	Value   string    `json:"value"`
	Expires time.Time `json:"expires"`
}

// FileStore persists identity values in a JSON file, standing in for browser cookies in the CLI.
type FileStore struct {
	path  string
	clock func() time.Time

	mu      sync.Mutex
	loaded  bool
	entries map[string]fileEntry
}

// NewFileStore returns a store backed by the file at path.
func NewFileStore(path string, clock func() time.Time) *FileStore {
	if clock == nil {
		clock = time.Now
	}
	return &FileStore{path: path, clock: clock, entries: make(map[string]fileEntry)}
}

func (s *FileStore) Get(name string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(); err != nil {
		return "", false
	}
	entry, ok := s.entries[name]
	if !ok || entry.Value == "" {
		return "", false
	}
	if !entry.Expires.IsZero() && !s.clock().Before(entry.Expires) {
		return "", false
	}
	return entry.Value, true
}

func (s *FileStore) Set(name, value string, expires time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(); err != nil {
		return err
	}
	s.entries[name] = fileEntry{Value: value, Expires: expires.UTC()}
	return s.flushLocked()
}

func (s *FileStore) loadLocked() error {
	if s.loaded {
		return nil
	}
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		s.loaded = true
		return nil
	}
	if err != nil {
		return fmt.Errorf("identity: read %s: %w", s.path, err)
	}
	entries := make(map[string]fileEntry)
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &entries); err != nil {
			return fmt.Errorf("identity: decode %s: %w", s.path, err)
		}
	}
	s.entries = entries
	s.loaded = true
	return nil
}

func (s *FileStore) flushLocked() error {
	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("identity: create %s: %w", dir, err)
		}
	}
	raw, err := json.MarshalIndent(s.entries, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, raw, 0o600)
}
