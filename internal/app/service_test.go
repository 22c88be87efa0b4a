package app

import (
	"net/http"
	"sync"
	"testing"

	"breathewell/api/internal/search"
)

// recordingIndex stands in for the remote search index and records which
// documents reached it.
type recordingIndex struct {
	mu      sync.Mutex
	indexed []string
	deleted []string
}

func (f *recordingIndex) Healthy() bool { return true }

func (f *recordingIndex) Search(q search.Query) ([]search.Result, int, error) {
	return []search.Result{}, 0, nil
}

func (f *recordingIndex) IndexPost(rec search.PostRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexed = append(f.indexed, rec.ID)
	return nil
}

func (f *recordingIndex) DeletePost(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *recordingIndex) sawIndexed(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, got := range f.indexed {
		if got == id {
			return true
		}
	}
	return false
}

func (f *recordingIndex) sawDeleted(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, got := range f.deleted {
		if got == id {
			return true
		}
	}
	return false
}

func TestDeletePostDropsSearchDocument(t *testing.T) {
	idx := &recordingIndex{}
	handler := setupServerWith(t, idx)
	token := signUp(t, handler, "alice@example.com", "Alice")

	rec, _ := doJSON(t, handler, http.MethodPost, "/api/posts", token, map[string]any{
		"title": "Spacer technique",
		"body":  "How to use one properly",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create post = %d: %s", rec.Code, rec.Body.String())
	}

	var postID string
	waitForHTTP(t, func() bool {
		_, body := doJSON(t, handler, http.MethodGet, "/api/posts", "", nil)
		posts, _ := body["posts"].([]any)
		if len(posts) != 1 {
			return false
		}
		postID, _ = posts[0].(map[string]any)["id"].(string)
		return postID != ""
	})

	// The snapshot hook pushes the new post into the index.
	waitForHTTP(t, func() bool { return idx.sawIndexed(postID) })

	rec, _ = doJSON(t, handler, http.MethodDelete, "/api/posts/"+postID, token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete post = %d: %s", rec.Code, rec.Body.String())
	}

	// The delete must reach the index too, or the document lingers.
	waitForHTTP(t, func() bool { return idx.sawDeleted(postID) })
}

func TestDeleteUnknownPostReturnsNotFound(t *testing.T) {
	handler := setupServer(t)
	token := signUp(t, handler, "alice@example.com", "Alice")

	rec, body := doJSON(t, handler, http.MethodDelete, "/api/posts/no-such-post", token, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if body["code"] != "NOT_FOUND" {
		t.Errorf("code = %v, want NOT_FOUND", body["code"])
	}
}
