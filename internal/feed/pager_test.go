package feed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/fanwall/internal/identity"
	"github.com/MarcoPoloResearchLab/fanwall/internal/signatures"
)

type sliceSource struct {
	mu      sync.Mutex
	rows    []signatures.Signature
	calls   []int
	failOn  map[int]error
	release chan struct{}
	started chan struct{}
}

func newSliceSource(count int) *sliceSource {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rows := make([]signatures.Signature, 0, count)
	for i := count - 1; i >= 0; i-- {
		rows = append(rows, signatures.Signature{
			ID:        fmt.Sprintf("sig-%03d", i),
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
	}
	return &sliceSource{rows: rows, failOn: map[int]error{}}
}

func (s *sliceSource) FetchPage(_ context.Context, _ identity.Identity, page, size int) (signatures.Page, error) {
	s.mu.Lock()
	s.calls = append(s.calls, page)
	err := s.failOn[page]
	release := s.release
	started := s.started
	s.mu.Unlock()
	if started != nil {
		started <- struct{}{}
	}
	if release != nil {
		<-release
	}
	if err != nil {
		return signatures.Page{}, err
	}
	start := min(page*size, len(s.rows))
	end := min(start+size, len(s.rows))
	return signatures.Page{
		Signatures: append([]signatures.Signature(nil), s.rows[start:end]...),
		HasMore:    end < len(s.rows),
		TotalCount: int64(len(s.rows)),
	}, nil
}

type mapLikes struct {
	liked map[string]bool
	err   error
}

func (m mapLikes) LikeStatus(_ context.Context, _ identity.Identity, ids []string) (map[string]bool, error) {
	if m.err != nil {
		return nil, m.err
	}
	result := make(map[string]bool, len(ids))
	for _, id := range ids {
		result[id] = m.liked[id]
	}
	return result, nil
}

var viewer = identity.Identity{UserID: "u1"}

func TestAccumulatingPagerConcatenatesInStoreOrder(t *testing.T) {
	source := newSliceSource(95)
	pager, err := NewPager(Config{Source: source, Viewer: viewer, Options: DesktopOptions})
	if err != nil {
		t.Fatalf("failed to build pager: %v", err)
	}

	for pager.HasMore() {
		if _, err := pager.Next(context.Background()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	added, err := pager.Next(context.Background())
	if err != nil || added != nil {
		t.Fatalf("expected exhausted pager to return nothing, got %d rows (%v)", len(added), err)
	}

	items := pager.Items()
	if len(items) != len(source.rows) {
		t.Fatalf("expected %d rows, got %d", len(source.rows), len(items))
	}
	seen := map[string]bool{}
	for index, row := range items {
		if row.ID != source.rows[index].ID {
			t.Fatalf("row %d out of store order: %s vs %s", index, row.ID, source.rows[index].ID)
		}
		if seen[row.ID] {
			t.Fatalf("duplicate id %s", row.ID)
		}
		seen[row.ID] = true
	}
	if len(source.calls) != 3 || source.calls[0] != 0 || source.calls[2] != 2 {
		t.Fatalf("unexpected page requests %v", source.calls)
	}
	if pager.TotalPages() != 3 || pager.TotalCount() != 95 {
		t.Fatalf("unexpected totals pages=%d count=%d", pager.TotalPages(), pager.TotalCount())
	}
}

func TestAccumulatingPagerRetriesFailedPage(t *testing.T) {
	source := newSliceSource(50)
	source.failOn[1] = errors.New("timeout")
	pager, _ := NewPager(Config{Source: source, Viewer: viewer, Options: DesktopOptions})

	if _, err := pager.Next(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := pager.Next(context.Background()); err == nil {
		t.Fatalf("expected failure on page 1")
	}
	delete(source.failOn, 1)
	added, err := pager.Next(context.Background())
	if err != nil || len(added) != 10 {
		t.Fatalf("expected retry of page 1 to add 10 rows, got %d (%v)", len(added), err)
	}
	if _, err := pager.GoTo(context.Background(), 0); !errors.Is(err, ErrAccumulatingPager) {
		t.Fatalf("expected accumulate mode to refuse page jumps, got %v", err)
	}
}

func TestReplacingPagerShowsExactlyTargetPageAndClearsLikes(t *testing.T) {
	source := newSliceSource(45)
	likes := mapLikes{liked: map[string]bool{"sig-044": true, "sig-020": true}}
	pager, _ := NewPager(Config{Source: source, Likes: likes, Viewer: viewer, Options: MobileOptions})

	first, err := pager.Next(context.Background())
	if err != nil || len(first) != 20 {
		t.Fatalf("unexpected first page %d (%v)", len(first), err)
	}
	if !pager.Liked("sig-044") {
		t.Fatalf("expected like cache for page 0")
	}

	second, err := pager.GoTo(context.Background(), 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	items := pager.Items()
	if len(items) != 20 || len(second) != 20 {
		t.Fatalf("expected exactly 20 rows, got %d", len(items))
	}
	for index, row := range items {
		if row.ID != source.rows[20+index].ID {
			t.Fatalf("row %d mismatch: %s", index, row.ID)
		}
	}
	if pager.Liked("sig-044") {
		t.Fatalf("expected like cache from page 0 to be cleared")
	}
	if !pager.Liked("sig-020") {
		t.Fatalf("expected like cache for page 1")
	}
	if pager.CurrentPage() != 1 || pager.TotalPages() != 3 {
		t.Fatalf("unexpected page state current=%d total=%d", pager.CurrentPage(), pager.TotalPages())
	}

	if _, err := pager.GoTo(context.Background(), 3); !errors.Is(err, ErrPageOutOfRange) {
		t.Fatalf("expected out of range, got %v", err)
	}
	if _, err := pager.GoTo(context.Background(), -1); !errors.Is(err, ErrPageOutOfRange) {
		t.Fatalf("expected out of range, got %v", err)
	}
}

func TestReplacingPagerIgnoresRequestsWhileInFlight(t *testing.T) {
	source := newSliceSource(45)
	source.release = make(chan struct{})
	source.started = make(chan struct{}, 1)
	pager, _ := NewPager(Config{Source: source, Viewer: viewer, Options: MobileOptions})

	done := make(chan error, 1)
	go func() {
		_, err := pager.GoTo(context.Background(), 0)
		done <- err
	}()
	<-source.started

	if _, err := pager.GoTo(context.Background(), 1); !errors.Is(err, ErrFetchInFlight) {
		t.Fatalf("expected in-flight rejection, got %v", err)
	}
	close(source.release)
	if err := <-done; err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pager.CurrentPage() != 0 || len(source.calls) != 1 {
		t.Fatalf("expected only the first request to run, calls=%v", source.calls)
	}
}

func TestLikeLookupFailureReadsAsNotLiked(t *testing.T) {
	source := newSliceSource(5)
	pager, _ := NewPager(Config{Source: source, Likes: mapLikes{err: errors.New("boom")}, Viewer: viewer, Options: MobileOptions})
	if _, err := pager.Next(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	states := pager.LikeStates()
	if len(states) != 5 {
		t.Fatalf("expected a state per row, got %d", len(states))
	}
	for id, liked := range states {
		if liked {
			t.Fatalf("expected %s to read as not liked", id)
		}
	}
}

func TestLevelForUsesStrictThresholds(t *testing.T) {
	testCases := []struct {
		total int64
		want  string
	}{
		{total: 0, want: "E-X"},
		{total: 5000, want: "E-X"},
		{total: 5001, want: "Noise Made"},
		{total: 10000, want: "Noise Made"},
		{total: 10001, want: "Clicked Up"},
		{total: 20001, want: "Rep Zone"},
		{total: 30001, want: "Flex Season"},
		{total: 45001, want: "Talk Reckless"},
		{total: 60001, want: "GOD TIER"},
		{total: 75001, want: "OG Time"},
		{total: 90001, want: "Re-Up-Era"},
		{total: 100000, want: "Re-Up-Era"},
		{total: 100001, want: "Bulltmode"},
	}
	for _, testCase := range testCases {
		t.Run(fmt.Sprint(testCase.total), func(t *testing.T) {
			if got := LevelFor(testCase.total); got != testCase.want {
				t.Fatalf("LevelFor(%d) = %q, want %q", testCase.total, got, testCase.want)
			}
		})
	}
}
