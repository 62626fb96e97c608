package submission

import (
	"bytes"
	"context"
	"errors"
	"image/png"
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/MarcoPoloResearchLab/fanwall/internal/compositor"
	"github.com/MarcoPoloResearchLab/fanwall/internal/identity"
	"github.com/MarcoPoloResearchLab/fanwall/internal/signatures"
	"github.com/MarcoPoloResearchLab/fanwall/internal/storage"
)

type fakeBlobStore struct {
	putErr  error
	objects map[string][]byte
	removed []string
	next    int
}

func newFakeBlobStore() *fakeBlobStore {
	return &fakeBlobStore{objects: map[string][]byte{}}
}

func (f *fakeBlobStore) Put(_ context.Context, object storage.Object) (storage.Stored, error) {
	if f.putErr != nil {
		return storage.Stored{}, f.putErr
	}
	f.next++
	key := storage.ObjectKey(time.UnixMilli(int64(f.next)), "test")
	f.objects[key] = object.Data
	return storage.Stored{Key: key, URL: "https://cdn.example/" + key}, nil
}

func (f *fakeBlobStore) Remove(_ context.Context, key string) error {
	f.removed = append(f.removed, key)
	delete(f.objects, key)
	return nil
}

type failingCreator struct{}

func (failingCreator) Create(context.Context, signatures.NewSignature) (signatures.Signature, error) {
	return signatures.Signature{}, errors.New("database is locked")
}

type countingRecorder struct {
	submissions map[string]int
	uploads     map[string]int
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{submissions: map[string]int{}, uploads: map[string]int{}}
}

func (r *countingRecorder) RecordSubmission(outcome string) { r.submissions[outcome]++ }
func (r *countingRecorder) RecordUpload(outcome string)     { r.uploads[outcome]++ }

func newSignatureService(t *testing.T) *signatures.Service {
	t.Helper()
	database, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "submission.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := database.AutoMigrate(signatures.Models()...); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	service, err := signatures.NewService(signatures.ServiceConfig{
		Database:   database,
		IDProvider: signatures.NewUUIDProvider(),
	})
	if err != nil {
		t.Fatalf("failed to build signature service: %v", err)
	}
	return service
}

func blankDrawing() compositor.Drawing {
	return compositor.Drawing{Width: 300, Height: 150}
}

func TestSubmitBlankCanvasStoresTransparentSquareAndInsertsRow(t *testing.T) {
	blobs := newFakeBlobStore()
	store := newSignatureService(t)
	recorder := newCountingRecorder()
	service, err := NewService(ServiceConfig{Blobs: blobs, Signatures: store, Recorder: recorder})
	if err != nil {
		t.Fatalf("failed to build service: %v", err)
	}

	viewer := identity.Identity{UserID: "u1", Username: "Ye Fan"}
	signature, err := service.Submit(context.Background(), viewer, Request{Message: "hello", Drawing: blankDrawing()})
	if err != nil {
		t.Fatalf("unexpected submit error: %v", err)
	}
	if signature.AuthorName != "Ye Fan" || signature.Message != "hello" {
		t.Fatalf("unexpected signature %+v", signature)
	}

	if len(blobs.objects) != 1 {
		t.Fatalf("expected one stored blob, got %d", len(blobs.objects))
	}
	for _, data := range blobs.objects {
		decoded, err := png.Decode(bytes.NewReader(data))
		if err != nil {
			t.Fatalf("expected png payload: %v", err)
		}
		if decoded.Bounds().Dx() != 300 || decoded.Bounds().Dy() != 300 {
			t.Fatalf("expected 300x300 square, got %v", decoded.Bounds())
		}
		if _, _, _, alpha := decoded.At(150, 150).RGBA(); alpha != 0 {
			t.Fatalf("expected transparent pixel")
		}
	}

	page, err := store.ListPage(context.Background(), 0, 20)
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if len(page.Signatures) != 1 || page.Signatures[0].ID != signature.ID {
		t.Fatalf("expected new row at the top of the feed, got %+v", page.Signatures)
	}
	if recorder.submissions["created"] != 1 || recorder.uploads["stored"] != 1 {
		t.Fatalf("unexpected metrics %+v %+v", recorder.submissions, recorder.uploads)
	}
}

func TestSubmitUploadFailureLeavesNoRow(t *testing.T) {
	blobs := newFakeBlobStore()
	blobs.putErr = errors.New("storage offline")
	store := newSignatureService(t)
	service, _ := NewService(ServiceConfig{Blobs: blobs, Signatures: store})

	_, err := service.Submit(context.Background(), identity.Identity{UserID: "u1", Username: "n"}, Request{Message: "hello", Drawing: blankDrawing()})
	var serviceErr *ServiceError
	if !errors.As(err, &serviceErr) || serviceErr.Code() != "submission.submit.upload_failed" {
		t.Fatalf("expected upload failure, got %v", err)
	}
	page, _ := store.ListPage(context.Background(), 0, 20)
	if page.TotalCount != 0 {
		t.Fatalf("expected no rows after failed upload, got %d", page.TotalCount)
	}
}

func TestSubmitInsertFailureRemovesUploadedBlob(t *testing.T) {
	blobs := newFakeBlobStore()
	service, _ := NewService(ServiceConfig{Blobs: blobs, Signatures: failingCreator{}})

	_, err := service.Submit(context.Background(), identity.Identity{UserID: "u1", Username: "n"}, Request{Message: "hello", Drawing: blankDrawing()})
	if err == nil {
		t.Fatalf("expected insert failure")
	}
	if len(blobs.removed) != 1 || len(blobs.objects) != 0 {
		t.Fatalf("expected orphan blob to be removed, removed=%v remaining=%d", blobs.removed, len(blobs.objects))
	}
}

func TestSubmitValidatesBeforeAnyRemoteCall(t *testing.T) {
	testCases := []struct {
		name    string
		viewer  identity.Identity
		request Request
		want    error
	}{
		{name: "blank-message", viewer: identity.Identity{Username: "n"}, request: Request{Message: "  ", Drawing: blankDrawing()}, want: ErrEmptyMessage},
		{name: "no-nickname", viewer: identity.Identity{UserID: "u1"}, request: Request{Message: "hi", Drawing: blankDrawing()}, want: ErrMissingNickname},
		{name: "bad-drawing", viewer: identity.Identity{Username: "n"}, request: Request{Message: "hi", Drawing: compositor.Drawing{}}, want: compositor.ErrInvalidDimensions},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			blobs := newFakeBlobStore()
			service, _ := NewService(ServiceConfig{Blobs: blobs, Signatures: failingCreator{}})
			_, err := service.Submit(context.Background(), testCase.viewer, testCase.request)
			if !errors.Is(err, testCase.want) {
				t.Fatalf("expected %v, got %v", testCase.want, err)
			}
			if blobs.next != 0 {
				t.Fatalf("expected no upload attempt")
			}
		})
	}
}

func TestSubmitPrefersExplicitAuthorName(t *testing.T) {
	service, _ := NewService(ServiceConfig{Blobs: newFakeBlobStore(), Signatures: newSignatureService(t)})
	signature, err := service.Submit(context.Background(), identity.Identity{UserID: "u1", Username: "cookie"}, Request{
		Message:    "hi",
		AuthorName: "explicit",
		Drawing:    blankDrawing(),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if signature.AuthorName != "explicit" {
		t.Fatalf("unexpected author %q", signature.AuthorName)
	}
}
