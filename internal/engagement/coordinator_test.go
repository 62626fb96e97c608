package engagement

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/MarcoPoloResearchLab/fanwall/internal/identity"
	"github.com/MarcoPoloResearchLab/fanwall/internal/nickname"
	"github.com/MarcoPoloResearchLab/fanwall/internal/signatures"
)

type scriptedLikes struct {
	mu      sync.Mutex
	err     error
	calls   int
	likes   int64
	block   chan struct{}
	started chan struct{}
}

func (s *scriptedLikes) SetLike(_ context.Context, _ identity.Identity, _ string, liked bool) (signatures.LikeResult, error) {
	if s.started != nil {
		s.started <- struct{}{}
	}
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return signatures.LikeResult{}, s.err
	}
	if liked {
		s.likes++
	} else {
		s.likes--
	}
	return signatures.LikeResult{Liked: liked, Likes: s.likes}, nil
}

type recordingComments struct {
	addErr    error
	replyErr  error
	added     []signatures.Comment
	replies   []int
	stored    []signatures.Comment
	usernames []string
}

func (r *recordingComments) AddComment(_ context.Context, viewer identity.Identity, id, username, message string) (signatures.Comment, error) {
	if r.addErr != nil {
		return signatures.Comment{}, r.addErr
	}
	comment := signatures.Comment{ID: "c" + message, SignatureID: id, UserID: viewer.UserID, Username: username, Message: message}
	r.added = append(r.added, comment)
	r.usernames = append(r.usernames, username)
	return comment, nil
}

func (r *recordingComments) ListComments(context.Context, string) ([]signatures.Comment, error) {
	return r.stored, nil
}

func (r *recordingComments) UpdateReplyCount(_ context.Context, _ string, count int) error {
	r.replies = append(r.replies, count)
	return r.replyErr
}

type fixedNames struct {
	name  string
	calls int
}

func (f *fixedNames) Generate(context.Context) nickname.Name {
	f.calls++
	return nickname.Name{Value: f.name, Source: nickname.SourceFallback}
}

type recordingPersister struct {
	names []string
}

func (p *recordingPersister) SetUsername(name string) error {
	p.names = append(p.names, name)
	return nil
}

var viewer = identity.Identity{UserID: "u1"}

func TestToggleTwiceAgainstStoreRestoresOriginalState(t *testing.T) {
	database, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "engagement.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := database.AutoMigrate(signatures.Models()...); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	seed := signatures.Signature{ID: "abc", SignatureURL: "u", CreatedAt: time.Now().UTC(), Likes: 4}
	if err := database.Create(&seed).Error; err != nil {
		t.Fatalf("failed to seed: %v", err)
	}
	store, err := signatures.NewService(signatures.ServiceConfig{Database: database, IDProvider: signatures.NewUUIDProvider()})
	if err != nil {
		t.Fatalf("failed to build store: %v", err)
	}

	coordinator, _ := NewCoordinator(Config{Viewer: viewer, Likes: store, Comments: store})
	coordinator.Seed("abc", false, 4)

	first, err := coordinator.Toggle(context.Background(), "abc")
	if err != nil || !first.Liked || first.Likes != 5 || first.Phase != PhaseCommitted {
		t.Fatalf("unexpected first toggle %+v (%v)", first, err)
	}
	second, err := coordinator.Toggle(context.Background(), "abc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.Liked || second.Likes != 4 {
		t.Fatalf("expected original state after two toggles, got %+v", second)
	}
	status, _ := store.LikeStatus(context.Background(), viewer, []string{"abc"})
	if status["abc"] {
		t.Fatalf("expected no like row to remain")
	}
}

func TestToggleFailureRestoresPriorStateExactly(t *testing.T) {
	likes := &scriptedLikes{err: errors.New("network down")}
	coordinator, _ := NewCoordinator(Config{Viewer: viewer, Likes: likes, Comments: &recordingComments{}})
	coordinator.Seed("abc", true, 9)

	state, err := coordinator.Toggle(context.Background(), "abc")
	if err == nil {
		t.Fatalf("expected failure to surface")
	}
	if !state.Liked || state.Likes != 9 || state.Phase != PhaseRolledBack {
		t.Fatalf("expected exact rollback, got %+v", state)
	}
	if likes.calls != 1 {
		t.Fatalf("expected a single attempt, got %d", likes.calls)
	}
}

func TestToggleWhilePendingIsRejected(t *testing.T) {
	likes := &scriptedLikes{block: make(chan struct{}), started: make(chan struct{}, 1)}
	coordinator, _ := NewCoordinator(Config{Viewer: viewer, Likes: likes, Comments: &recordingComments{}})

	done := make(chan LikeState, 1)
	go func() {
		state, _ := coordinator.Toggle(context.Background(), "abc")
		done <- state
	}()
	<-likes.started

	pending := coordinator.State("abc")
	if pending.Phase != PhasePending || !pending.Liked || pending.Likes != 1 {
		t.Fatalf("expected optimistic pending state, got %+v", pending)
	}
	if _, err := coordinator.Toggle(context.Background(), "abc"); !errors.Is(err, ErrToggleInFlight) {
		t.Fatalf("expected in-flight rejection, got %v", err)
	}
	close(likes.block)
	final := <-done
	if final.Phase != PhaseCommitted || !final.Liked {
		t.Fatalf("unexpected final state %+v", final)
	}
	if likes.calls != 1 {
		t.Fatalf("expected the rejected toggle to make no call, got %d", likes.calls)
	}
}

func TestToggleRequiresIdentity(t *testing.T) {
	coordinator, _ := NewCoordinator(Config{Likes: &scriptedLikes{}, Comments: &recordingComments{}})
	if _, err := coordinator.Toggle(context.Background(), "abc"); !errors.Is(err, ErrMissingIdentity) {
		t.Fatalf("expected missing identity, got %v", err)
	}
}

func TestSubmitCommentRejectsBlankMessageBeforeRemoteCall(t *testing.T) {
	comments := &recordingComments{}
	names := &fixedNames{name: "Saint Pablo"}
	coordinator, _ := NewCoordinator(Config{Viewer: viewer, Likes: &scriptedLikes{}, Comments: comments, Names: names})

	if _, err := coordinator.SubmitComment(context.Background(), "abc", "   "); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("expected empty message error, got %v", err)
	}
	if len(comments.added) != 0 || names.calls != 0 {
		t.Fatalf("expected no remote work")
	}
}

func TestSubmitCommentGeneratesAndPersistsNickname(t *testing.T) {
	comments := &recordingComments{}
	names := &fixedNames{name: "Saint Pablo"}
	persister := &recordingPersister{}
	coordinator, _ := NewCoordinator(Config{Viewer: viewer, Likes: &scriptedLikes{}, Comments: comments, Names: names, Persister: persister})

	if _, err := coordinator.SubmitComment(context.Background(), "abc", "first"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := coordinator.SubmitComment(context.Background(), "abc", "second"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if names.calls != 1 {
		t.Fatalf("expected one generated nickname, got %d", names.calls)
	}
	if len(persister.names) != 1 || persister.names[0] != "Saint Pablo" {
		t.Fatalf("expected nickname to be persisted, got %v", persister.names)
	}
	if comments.usernames[1] != "Saint Pablo" || coordinator.Viewer().Username != "Saint Pablo" {
		t.Fatalf("expected nickname reuse, got %v", comments.usernames)
	}
	if len(comments.replies) != 2 || comments.replies[1] != 2 {
		t.Fatalf("unexpected reply counter updates %v", comments.replies)
	}
	if local := coordinator.Comments("abc"); len(local) != 2 {
		t.Fatalf("expected two local comments, got %d", len(local))
	}
}

func TestSubmitCommentFailureLeavesLocalStateUntouched(t *testing.T) {
	comments := &recordingComments{addErr: errors.New("insert failed")}
	coordinator, _ := NewCoordinator(Config{Viewer: identity.Identity{UserID: "u1", Username: "n"}, Likes: &scriptedLikes{}, Comments: comments})

	if _, err := coordinator.SubmitComment(context.Background(), "abc", "hello"); err == nil {
		t.Fatalf("expected insert failure")
	}
	if len(coordinator.Comments("abc")) != 0 || len(comments.replies) != 0 {
		t.Fatalf("expected no local append and no reply update")
	}
}

func TestReplyCounterFailureIsNotSurfaced(t *testing.T) {
	comments := &recordingComments{
		replyErr: errors.New("rpc failed"),
		stored:   []signatures.Comment{{ID: "old", Message: "old"}},
	}
	coordinator, _ := NewCoordinator(Config{Viewer: identity.Identity{UserID: "u1", Username: "n"}, Likes: &scriptedLikes{}, Comments: comments})

	if _, err := coordinator.LoadComments(context.Background(), "abc"); err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	comment, err := coordinator.SubmitComment(context.Background(), "abc", "hello")
	if err != nil {
		t.Fatalf("expected reply failure to be swallowed, got %v", err)
	}
	if comment.Message != "hello" {
		t.Fatalf("unexpected comment %+v", comment)
	}
	local := coordinator.Comments("abc")
	if len(local) != 2 || local[1].Message != "hello" {
		t.Fatalf("expected comment to stay appended, got %+v", local)
	}
	if comments.replies[0] != 2 {
		t.Fatalf("expected reply count 2, got %v", comments.replies)
	}
}

func TestSubmitCommentWithoutNameSourceNeedsNickname(t *testing.T) {
	coordinator, _ := NewCoordinator(Config{Viewer: viewer, Likes: &scriptedLikes{}, Comments: &recordingComments{}})
	if _, err := coordinator.SubmitComment(context.Background(), "abc", "hello"); !errors.Is(err, ErrMissingNickname) {
		t.Fatalf("expected missing nickname, got %v", err)
	}
}
