package identity

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

type memoryStore struct {
	values  map[string]string
	expires map[string]time.Time
}

func newMemoryStore() *memoryStore {
	return &memoryStore{values: map[string]string{}, expires: map[string]time.Time{}}
}

func (s *memoryStore) Get(name string) (string, bool) {
	value, ok := s.values[name]
	return value, ok
}

func (s *memoryStore) Set(name, value string, expires time.Time) error {
	s.values[name] = value
	s.expires[name] = expires
	return nil
}

func fixedClock() time.Time {
	return time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC)
}

func TestUserIDIsMintedOnceAndReused(t *testing.T) {
	store := newMemoryStore()
	minted := 0
	provider := NewProvider(ProviderConfig{
		Store: store,
		Clock: fixedClock,
		NewToken: func() string {
			minted++
			return "token-1"
		},
	})

	first, err := provider.UserID()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := provider.UserID()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first != "token-1" || second != first {
		t.Fatalf("expected stable token, got %q then %q", first, second)
	}
	if minted != 1 {
		t.Fatalf("expected exactly one mint, got %d", minted)
	}
	wantExpiry := fixedClock().Add(Lifetime)
	if !store.expires[CookieUserID].Equal(wantExpiry) {
		t.Fatalf("expected one year expiry, got %v", store.expires[CookieUserID])
	}
}

func TestProviderWithoutStoreYieldsEmptyIdentity(t *testing.T) {
	provider := NewProvider(ProviderConfig{})
	current, err := provider.Current()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !current.IsZero() || current.HasUsername() {
		t.Fatalf("expected empty identity, got %+v", current)
	}
	if err := provider.SetUsername("ghost"); err != nil {
		t.Fatalf("set without store should be a no-op, got %v", err)
	}
}

func TestSetUsernameValidatesAndPersists(t *testing.T) {
	store := newMemoryStore()
	provider := NewProvider(ProviderConfig{Store: store, Clock: fixedClock})

	if err := provider.SetUsername("   "); err != ErrBlankUsername {
		t.Fatalf("expected blank username error, got %v", err)
	}
	if err := provider.SetUsername(strings.Repeat("n", maxUsernameLength+1)); err == nil {
		t.Fatalf("expected length error")
	}
	if err := provider.SetUsername("  Ye Fan "); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	name, ok := provider.Username()
	if !ok || name != "Ye Fan" {
		t.Fatalf("unexpected username %q (ok=%v)", name, ok)
	}
}

func TestUsernameUnwrapsLegacyArrayEncoding(t *testing.T) {
	store := newMemoryStore()
	store.values[CookieUsername] = `["Moon Walker","ignored"]`
	provider := NewProvider(ProviderConfig{Store: store})

	name, ok := provider.Username()
	if !ok || name != "Moon Walker" {
		t.Fatalf("expected first array element, got %q", name)
	}
}

func TestHidePopupExpiresAtNextMidnight(t *testing.T) {
	store := newMemoryStore()
	provider := NewProvider(ProviderConfig{Store: store, Clock: fixedClock})

	if provider.PopupHidden() {
		t.Fatalf("popup should be visible before dismissal")
	}
	if err := provider.HidePopupForToday(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !provider.PopupHidden() {
		t.Fatalf("popup should be hidden after dismissal")
	}
	want := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
	if !store.expires[CookieHidePopup].Equal(want) {
		t.Fatalf("expected midnight expiry, got %v", store.expires[CookieHidePopup])
	}
}

func TestCookieStoreRoundTripsThroughResponse(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := httptest.NewRecorder()
	context, _ := gin.CreateTestContext(recorder)
	request := httptest.NewRequest(http.MethodGet, "/api/identity", http.NoBody)
	request.AddCookie(&http.Cookie{Name: CookieUsername, Value: "%EB%8B%89"})
	context.Request = request

	store := NewCookieStore(context)
	name, ok := store.Get(CookieUsername)
	if !ok || name != "닉" {
		t.Fatalf("expected unescaped cookie value, got %q", name)
	}

	provider := NewProvider(ProviderConfig{Store: store, Clock: fixedClock, NewToken: func() string { return "abc" }})
	userID, err := provider.UserID()
	if err != nil || userID != "abc" {
		t.Fatalf("unexpected user id %q (%v)", userID, err)
	}
	again, _ := provider.UserID()
	if again != "abc" {
		t.Fatalf("expected value written in this request to be visible, got %q", again)
	}

	setCookie := recorder.Header().Get("Set-Cookie")
	if !strings.Contains(setCookie, "user_id=abc") || !strings.Contains(setCookie, "Path=/") {
		t.Fatalf("unexpected Set-Cookie header %q", setCookie)
	}
}

func TestFileStorePersistsAcrossInstancesAndHonoursExpiry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "identity.json")
	now := fixedClock()
	clock := func() time.Time { return now }

	first := NewFileStore(path, clock)
	if err := first.Set(CookieUserID, "u1", now.Add(time.Hour)); err != nil {
		t.Fatalf("unexpected set error: %v", err)
	}
	if err := first.Set(CookieHidePopup, "true", now.Add(time.Minute)); err != nil {
		t.Fatalf("unexpected set error: %v", err)
	}

	now = now.Add(10 * time.Minute)
	second := NewFileStore(path, clock)
	if value, ok := second.Get(CookieUserID); !ok || value != "u1" {
		t.Fatalf("expected persisted user id, got %q (ok=%v)", value, ok)
	}
	if _, ok := second.Get(CookieHidePopup); ok {
		t.Fatalf("expected expired popup flag to be absent")
	}
}
