package feed

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/fanwall/internal/identity"
	"github.com/MarcoPoloResearchLab/fanwall/internal/signatures"
)

var (
	// ErrFetchInFlight indicates a page request issued while another one is pending.
	ErrFetchInFlight = errors.New("feed: fetch already in flight")
	// ErrPageOutOfRange indicates a page index outside [0, TotalPages).
	ErrPageOutOfRange = errors.New("feed: page out of range")
	// ErrAccumulatingPager indicates a numbered page change on an accumulating pager.
	ErrAccumulatingPager = errors.New("feed: accumulating pager cannot jump to a page")
	errMissingSource     = errors.New("feed: page source is required")
)

// PageSource fetches one newest-first page of the wall.
type PageSource interface {
	FetchPage(ctx context.Context, viewer identity.Identity, page, size int) (signatures.Page, error)
}

// LikeStatusSource reports which of the given signatures the viewer liked.
type LikeStatusSource interface {
	LikeStatus(ctx context.Context, viewer identity.Identity, ids []string) (map[string]bool, error)
}

// Options selects between appending pages and replacing them.
type Options struct {
	PageSize   int
	Accumulate bool
}

var (
	// DesktopOptions accumulates 40-row pages for infinite scroll.
	DesktopOptions = Options{PageSize: 40, Accumulate: true}
	// MobileOptions replaces the view with numbered 20-row pages.
	MobileOptions = Options{PageSize: 20, Accumulate: false}
)

// Config describes the dependencies of a Pager.
type Config struct {
	Source  PageSource
	Likes   LikeStatusSource
	Viewer  identity.Identity
	Options Options
	Logger  *zap.Logger
}

// Pager retrieves the wall page by page for one viewer.
type Pager struct {
	source  PageSource
	likes   LikeStatusSource
	viewer  identity.Identity
	options Options
	logger  *zap.Logger

	mu          sync.Mutex
	inFlight    bool
	items       []signatures.Signature
	seen        map[string]struct{}
	fetched     map[int]struct{}
	nextPage    int
	currentPage int
	hasMore     bool
	totalKnown  bool
	totalCount  int64
	liked       map[string]bool
}

// NewPager constructs a Pager.
func NewPager(cfg Config) (*Pager, error) {
	if cfg.Source == nil {
		return nil, errMissingSource
	}
	options := cfg.Options
	if options.PageSize <= 0 {
		return nil, fmt.Errorf("feed: page size must be positive, got %d", options.PageSize)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pager{
		source:      cfg.Source,
		likes:       cfg.Likes,
		viewer:      cfg.Viewer,
		options:     options,
		logger:      logger,
		seen:        make(map[string]struct{}),
		fetched:     make(map[int]struct{}),
		currentPage: -1,
		hasMore:     true,
		liked:       make(map[string]bool),
	}, nil
}

// Next loads the following page. An accumulating pager appends it and skips page indexes
// already fetched; a replacing pager moves to the next numbered page.
// It returns the rows added to the view, or nil once the wall is exhausted.
func (p *Pager) Next(ctx context.Context) ([]signatures.Signature, error) {
	if !p.options.Accumulate {
		p.mu.Lock()
		target := p.currentPage + 1
		exhausted := p.totalKnown && !p.hasMore
		p.mu.Unlock()
		if exhausted {
			return nil, nil
		}
		return p.GoTo(ctx, target)
	}

	p.mu.Lock()
	if p.inFlight {
		p.mu.Unlock()
		return nil, ErrFetchInFlight
	}
	for {
		if _, done := p.fetched[p.nextPage]; !done {
			break
		}
		p.nextPage++
	}
	if !p.hasMore {
		p.mu.Unlock()
		return nil, nil
	}
	page := p.nextPage
	p.inFlight = true
	p.mu.Unlock()

	result, err := p.source.FetchPage(ctx, p.viewer, page, p.options.PageSize)
	if err != nil {
		p.finishFailed()
		p.logger.Warn("feed page fetch failed", zap.Int("page", page), zap.Error(err))
		return nil, err
	}
	liked := p.lookupLikes(ctx, result.Signatures)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.inFlight = false
	p.fetched[page] = struct{}{}
	p.nextPage = page + 1
	p.currentPage = page
	p.applyTotals(result)
	added := make([]signatures.Signature, 0, len(result.Signatures))
	for _, row := range result.Signatures {
		if _, duplicate := p.seen[row.ID]; duplicate {
			continue
		}
		p.seen[row.ID] = struct{}{}
		p.items = append(p.items, row)
		added = append(added, row)
	}
	for id, value := range liked {
		p.liked[id] = value
	}
	return added, nil
}

// GoTo replaces the view with the rows of the given page and resets the like cache.
func (p *Pager) GoTo(ctx context.Context, page int) ([]signatures.Signature, error) {
	if p.options.Accumulate {
		return nil, ErrAccumulatingPager
	}

	p.mu.Lock()
	if p.inFlight {
		p.mu.Unlock()
		return nil, ErrFetchInFlight
	}
	if page < 0 || (p.totalKnown && page > 0 && page >= p.totalPagesLocked()) {
		pages := p.totalPagesLocked()
		p.mu.Unlock()
		return nil, fmt.Errorf("%w: %d of %d", ErrPageOutOfRange, page, pages)
	}
	p.inFlight = true
	p.mu.Unlock()

	result, err := p.source.FetchPage(ctx, p.viewer, page, p.options.PageSize)
	if err != nil {
		p.finishFailed()
		p.logger.Warn("feed page fetch failed", zap.Int("page", page), zap.Error(err))
		return nil, err
	}
	liked := p.lookupLikes(ctx, result.Signatures)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.inFlight = false
	p.currentPage = page
	p.applyTotals(result)
	p.items = append([]signatures.Signature(nil), result.Signatures...)
	p.seen = make(map[string]struct{}, len(p.items))
	for _, row := range p.items {
		p.seen[row.ID] = struct{}{}
	}
	p.liked = liked
	return append([]signatures.Signature(nil), p.items...), nil
}

func (p *Pager) finishFailed() {
	p.mu.Lock()
	p.inFlight = false
	p.mu.Unlock()
}

func (p *Pager) applyTotals(result signatures.Page) {
	p.hasMore = result.HasMore
	p.totalCount = result.TotalCount
	p.totalKnown = true
}

// lookupLikes resolves like state for the rows; lookup failures read as not liked.
func (p *Pager) lookupLikes(ctx context.Context, rows []signatures.Signature) map[string]bool {
	liked := make(map[string]bool, len(rows))
	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		liked[row.ID] = false
		ids = append(ids, row.ID)
	}
	if p.likes == nil || p.viewer.IsZero() || len(ids) == 0 {
		return liked
	}
	status, err := p.likes.LikeStatus(ctx, p.viewer, ids)
	if err != nil {
		p.logger.Warn("like status lookup failed", zap.String("user_id", p.viewer.UserID), zap.Error(err))
		return liked
	}
	for _, id := range ids {
		liked[id] = status[id]
	}
	return liked
}

// Items returns the rows currently in view, in fetch order.
func (p *Pager) Items() []signatures.Signature {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]signatures.Signature(nil), p.items...)
}

// Liked reports the cached like state for a row in view.
func (p *Pager) Liked(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.liked[id]
}

// LikeStates returns a copy of the like cache.
func (p *Pager) LikeStates() map[string]bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	states := make(map[string]bool, len(p.liked))
	for id, value := range p.liked {
		states[id] = value
	}
	return states
}

// HasMore reports whether the store announced further pages.
func (p *Pager) HasMore() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hasMore
}

// CurrentPage is the index of the most recently loaded page, or -1 before the first load.
func (p *Pager) CurrentPage() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.currentPage
}

// TotalCount is the wall size reported by the last fetch.
func (p *Pager) TotalCount() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.totalCount
}

// TotalPages is the number of pages at the configured size.
func (p *Pager) TotalPages() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.totalPagesLocked()
}

func (p *Pager) totalPagesLocked() int {
	size := int64(p.options.PageSize)
	return int((p.totalCount + size - 1) / size)
}

// Level is the cosmetic label for the last reported total.
func (p *Pager) Level() string {
	return LevelFor(p.TotalCount())
}
