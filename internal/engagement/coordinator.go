package engagement

import (
	"context"
	"errors"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/fanwall/internal/identity"
	"github.com/MarcoPoloResearchLab/fanwall/internal/nickname"
	"github.com/MarcoPoloResearchLab/fanwall/internal/signatures"
)

var (
	// ErrToggleInFlight indicates a like toggle issued while another one for the same key is pending.
	ErrToggleInFlight = errors.New("engagement: like toggle already in flight")
	// ErrEmptyMessage indicates a blank comment.
	ErrEmptyMessage = errors.New("engagement: comment message is required")
	// ErrMissingNickname indicates that no nickname could be resolved or generated.
	ErrMissingNickname = errors.New("engagement: nickname is required")
	// ErrMissingIdentity indicates a per-user action without a user token.
	ErrMissingIdentity = errors.New("engagement: user identity is required")
	errMissingStore    = errors.New("engagement: store is required")
)

// Phase is the lifecycle position of the like state for one (signature, user) key.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhasePending    Phase = "pending"
	PhaseCommitted  Phase = "committed"
	PhaseRolledBack Phase = "rolled-back"
)

// LikeState is the locally displayed like state of one signature.
type LikeState struct {
	Liked bool
	Likes int64
	Phase Phase
}

// LikeStore persists like changes.
type LikeStore interface {
	SetLike(ctx context.Context, viewer identity.Identity, id string, liked bool) (signatures.LikeResult, error)
}

// CommentStore persists and lists comments.
type CommentStore interface {
	AddComment(ctx context.Context, viewer identity.Identity, id, username, message string) (signatures.Comment, error)
	ListComments(ctx context.Context, id string) ([]signatures.Comment, error)
	UpdateReplyCount(ctx context.Context, id string, count int) error
}

// NameSource produces a nickname when the viewer has none.
type NameSource interface {
	Generate(ctx context.Context) nickname.Name
}

// UsernamePersister stores a generated nickname with the client identity.
type UsernamePersister interface {
	SetUsername(name string) error
}

// Config describes the dependencies of a Coordinator.
type Config struct {
	Viewer    identity.Identity
	Likes     LikeStore
	Comments  CommentStore
	Names     NameSource
	Persister UsernamePersister
	Logger    *zap.Logger
}

// Coordinator applies likes and comments optimistically for one viewer.
type Coordinator struct {
	likes     LikeStore
	comments  CommentStore
	names     NameSource
	persister UsernamePersister
	logger    *zap.Logger

	mu           sync.Mutex
	viewer       identity.Identity
	states       map[string]LikeState
	commentLists map[string][]signatures.Comment
}

// NewCoordinator constructs a Coordinator.
func NewCoordinator(cfg Config) (*Coordinator, error) {
	if cfg.Likes == nil || cfg.Comments == nil {
		return nil, errMissingStore
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		likes:        cfg.Likes,
		comments:     cfg.Comments,
		names:        cfg.Names,
		persister:    cfg.Persister,
		logger:       logger,
		viewer:       cfg.Viewer,
		states:       make(map[string]LikeState),
		commentLists: make(map[string][]signatures.Comment),
	}, nil
}

// Viewer returns the identity the coordinator acts for.
func (c *Coordinator) Viewer() identity.Identity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewer
}

// Seed records the like state observed from the feed. Pending keys are left untouched.
func (c *Coordinator) Seed(id string, liked bool, likes int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.states[id].Phase == PhasePending {
		return
	}
	c.states[id] = LikeState{Liked: liked, Likes: likes, Phase: PhaseIdle}
}

// State returns the displayed like state of a signature.
func (c *Coordinator) State(id string) LikeState {
	c.mu.Lock()
	defer c.mu.Unlock()
	state, ok := c.states[id]
	if !ok {
		return LikeState{Phase: PhaseIdle}
	}
	return state
}

// Toggle flips the viewer's like. The displayed state changes before the remote call and is
// restored exactly if the call fails. A second toggle on a pending key is rejected.
func (c *Coordinator) Toggle(ctx context.Context, id string) (LikeState, error) {
	c.mu.Lock()
	viewer := c.viewer
	if viewer.IsZero() {
		c.mu.Unlock()
		return LikeState{}, ErrMissingIdentity
	}
	prior, ok := c.states[id]
	if !ok {
		prior = LikeState{Phase: PhaseIdle}
	}
	if prior.Phase == PhasePending {
		c.mu.Unlock()
		return prior, ErrToggleInFlight
	}
	desired := !prior.Liked
	optimistic := LikeState{Liked: desired, Likes: prior.Likes, Phase: PhasePending}
	if desired {
		optimistic.Likes++
	} else if optimistic.Likes > 0 {
		optimistic.Likes--
	}
	c.states[id] = optimistic
	c.mu.Unlock()

	result, err := c.likes.SetLike(ctx, viewer, id, desired)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		rolledBack := LikeState{Liked: prior.Liked, Likes: prior.Likes, Phase: PhaseRolledBack}
		c.states[id] = rolledBack
		c.logger.Warn("like toggle rolled back",
			zap.String("signature_id", id),
			zap.String("user_id", viewer.UserID),
			zap.Error(err))
		return rolledBack, err
	}
	committed := LikeState{Liked: result.Liked, Likes: result.Likes, Phase: PhaseCommitted}
	c.states[id] = committed
	return committed, nil
}

// LoadComments replaces the local comment list of a signature with the stored one.
func (c *Coordinator) LoadComments(ctx context.Context, id string) ([]signatures.Comment, error) {
	comments, err := c.comments.ListComments(ctx, id)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.commentLists[id] = append([]signatures.Comment(nil), comments...)
	return append([]signatures.Comment(nil), comments...), nil
}

// Comments returns the local comment list of a signature.
func (c *Coordinator) Comments(id string) []signatures.Comment {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]signatures.Comment(nil), c.commentLists[id]...)
}

// SubmitComment validates and stores a comment, then appends it locally.
// The reply counter update that follows is best-effort.
func (c *Coordinator) SubmitComment(ctx context.Context, id, message string) (signatures.Comment, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return signatures.Comment{}, ErrEmptyMessage
	}
	viewer := c.Viewer()
	if viewer.IsZero() {
		return signatures.Comment{}, ErrMissingIdentity
	}
	username, err := c.resolveUsername(ctx, viewer)
	if err != nil {
		return signatures.Comment{}, err
	}
	viewer = viewer.WithUsername(username)

	comment, err := c.comments.AddComment(ctx, viewer, id, username, message)
	if err != nil {
		return signatures.Comment{}, err
	}

	c.mu.Lock()
	c.commentLists[id] = append(c.commentLists[id], comment)
	count := len(c.commentLists[id])
	c.mu.Unlock()

	if err := c.comments.UpdateReplyCount(ctx, id, count); err != nil {
		c.logger.Warn("reply counter update failed",
			zap.String("signature_id", id),
			zap.Int("count", count),
			zap.Error(err))
	}
	return comment, nil
}

func (c *Coordinator) resolveUsername(ctx context.Context, viewer identity.Identity) (string, error) {
	if viewer.HasUsername() {
		return strings.TrimSpace(viewer.Username), nil
	}
	if c.names == nil {
		return "", ErrMissingNickname
	}
	generated := strings.TrimSpace(c.names.Generate(ctx).Value)
	if generated == "" {
		return "", ErrMissingNickname
	}
	if c.persister != nil {
		if err := c.persister.SetUsername(generated); err != nil {
			c.logger.Warn("generated nickname not persisted", zap.Error(err))
		}
	}
	c.mu.Lock()
	c.viewer = c.viewer.WithUsername(generated)
	c.mu.Unlock()
	return generated, nil
}
