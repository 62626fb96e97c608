package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MarcoPoloResearchLab/fanwall/internal/identity"
	"github.com/MarcoPoloResearchLab/fanwall/internal/signatures"
)

func TestLikeEndpointCountsEachUserOnce(t *testing.T) {
	harness := newTestHarness(t, harnessOptions{})
	target := harness.seed(t, 1)[0]
	likePath := "/api/signatures/" + target.ID + "/like"

	steps := []struct {
		userID string
		body   string
		likes  int64
	}{
		{userID: "user-a", body: `{"liked":true}`, likes: 1},
		{userID: "user-a", body: `{"liked":true}`, likes: 1},
		{userID: "user-b", body: `{"liked":true}`, likes: 2},
		{userID: "user-a", body: `{"liked":false}`, likes: 1},
		{userID: "user-a", body: `{"liked":false}`, likes: 1},
	}
	for index, step := range steps {
		recorder := harness.do(jsonRequest(http.MethodPost, likePath, step.body), userCookie(step.userID))
		if recorder.Code != http.StatusOK {
			t.Fatalf("step %d: expected 200, got %d: %s", index, recorder.Code, recorder.Body.String())
		}
		var result signatures.LikeResult
		decodeBody(t, recorder, &result)
		if result.Likes != step.likes {
			t.Fatalf("step %d: expected %d likes, got %d", index, step.likes, result.Likes)
		}
	}

	status := harness.do(httptest.NewRequest(http.MethodGet, "/api/likes?ids="+target.ID+",missing", http.NoBody), userCookie("user-b"))
	var payload struct {
		Liked map[string]bool `json:"liked"`
	}
	decodeBody(t, status, &payload)
	if !payload.Liked[target.ID] {
		t.Fatalf("expected user-b to have liked %s", target.ID)
	}
	if liked, ok := payload.Liked["missing"]; !ok || liked {
		t.Fatalf("expected unknown id to read as not liked, got %v", payload.Liked)
	}
}

func TestLikeEndpointRejectsBadRequests(t *testing.T) {
	harness := newTestHarness(t, harnessOptions{})
	target := harness.seed(t, 1)[0]

	missingBody := harness.do(jsonRequest(http.MethodPost, "/api/signatures/"+target.ID+"/like", `{}`), userCookie("user-a"))
	if missingBody.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", missingBody.Code)
	}

	unknown := harness.do(jsonRequest(http.MethodPost, "/api/signatures/unknown/like", `{"liked":true}`), userCookie("user-a"))
	if unknown.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", unknown.Code)
	}
}

func TestCommentEndpointsAppendAndList(t *testing.T) {
	harness := newTestHarness(t, harnessOptions{})
	target := harness.seed(t, 1)[0]
	commentsPath := "/api/signatures/" + target.ID + "/comments"

	noName := harness.do(jsonRequest(http.MethodPost, commentsPath, `{"message":"hello"}`), userCookie("user-a"))
	if noName.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without nickname, got %d", noName.Code)
	}
	var payload map[string]string
	decodeBody(t, noName, &payload)
	if payload["error"] != "missing_nickname" {
		t.Fatalf("unexpected error %v", payload)
	}

	blank := harness.do(jsonRequest(http.MethodPost, commentsPath, `{"username":"Owl","message":"   "}`), userCookie("user-a"))
	if blank.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for blank message, got %d", blank.Code)
	}
	decodeBody(t, blank, &payload)
	if payload["error"] != "empty_message" {
		t.Fatalf("expected empty_message, got %v", payload)
	}

	malformed := harness.do(jsonRequest(http.MethodPost, commentsPath, `{"message":`), userCookie("user-a"))
	if malformed.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed body, got %d", malformed.Code)
	}
	payload = nil
	decodeBody(t, malformed, &payload)
	if payload["error"] != "invalid_comment" {
		t.Fatalf("expected invalid_comment, got %v", payload)
	}

	first := harness.do(jsonRequest(http.MethodPost, commentsPath, `{"username":"Owl","message":"first"}`), userCookie("user-a"))
	if first.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", first.Code, first.Body.String())
	}
	second := harness.do(jsonRequest(http.MethodPost, commentsPath, `{"message":"second"}`),
		userCookie("user-b"), &http.Cookie{Name: identity.CookieUsername, Value: "Fox"})
	if second.Code != http.StatusCreated {
		t.Fatalf("expected 201 with cookie nickname, got %d", second.Code)
	}

	listed := harness.do(httptest.NewRequest(http.MethodGet, commentsPath, http.NoBody))
	var comments struct {
		Comments []signatures.Comment `json:"comments"`
	}
	decodeBody(t, listed, &comments)
	if len(comments.Comments) != 2 {
		t.Fatalf("expected two comments, got %d", len(comments.Comments))
	}
	if comments.Comments[0].Message != "first" || comments.Comments[1].Username != "Fox" {
		t.Fatalf("unexpected comment order %+v", comments.Comments)
	}

	missing := harness.do(jsonRequest(http.MethodPost, "/api/signatures/unknown/comments", `{"username":"Owl","message":"hi"}`), userCookie("user-a"))
	if missing.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", missing.Code)
	}
}

func TestReplyEndpointOverwritesCounter(t *testing.T) {
	harness := newTestHarness(t, harnessOptions{})
	target := harness.seed(t, 1)[0]

	updated := harness.do(jsonRequest(http.MethodPatch, "/api/signatures/"+target.ID+"/reply", `{"reply":3}`))
	if updated.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", updated.Code)
	}
	fetched := harness.do(httptest.NewRequest(http.MethodGet, "/api/signatures/"+target.ID, http.NoBody))
	var signature signatures.Signature
	decodeBody(t, fetched, &signature)
	if signature.Reply == nil || *signature.Reply != "3" {
		t.Fatalf("expected reply counter 3, got %v", signature.Reply)
	}

	missing := harness.do(jsonRequest(http.MethodPatch, "/api/signatures/unknown/reply", `{"reply":1}`))
	if missing.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", missing.Code)
	}
	invalid := harness.do(jsonRequest(http.MethodPatch, "/api/signatures/"+target.ID+"/reply", `{}`))
	if invalid.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", invalid.Code)
	}
}
