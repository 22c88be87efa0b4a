package docstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func setupTestStore(t *testing.T) *RedisStore {
	t.Helper()
	s := miniredis.RunT(t)
	store, err := NewRedisStore("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("failed to create redis store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func waitForDocs(t *testing.T, sub *Subscription, count int) Snapshot {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case snap, ok := <-sub.Snapshots():
			if !ok {
				t.Fatalf("snapshot channel closed while waiting for %d docs", count)
			}
			if len(snap.Docs) == count {
				return snap
			}
		case err := <-sub.Errs():
			t.Fatalf("stream error: %v", err)
		case <-deadline:
			t.Fatalf("timed out waiting for snapshot with %d docs", count)
		}
	}
}

func TestCreateAndGet(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	id, err := store.Create(ctx, "posts", map[string]any{
		"title":     "Managing morning symptoms",
		"likeCount": 0,
		"createdAt": ServerTimestamp,
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	doc, ok, err := store.Get(ctx, "posts/"+id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !ok {
		t.Fatal("expected document to exist")
	}
	if got := doc.StringField("title", ""); got != "Managing morning symptoms" {
		t.Errorf("title = %q", got)
	}
	if doc.IntField("likeCount") != 0 {
		t.Errorf("likeCount = %d, want 0", doc.IntField("likeCount"))
	}
	if doc.TimeField("createdAt").IsZero() {
		t.Error("server timestamp was not resolved to a real time")
	}
}

func TestGetMissingDocument(t *testing.T) {
	store := setupTestStore(t)

	_, ok, err := store.Get(context.Background(), "posts/nope")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if ok {
		t.Error("expected missing document to report ok=false")
	}
}

func TestDeleteAndListIDs(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	id1, _ := store.Create(ctx, "posts", map[string]any{"title": "a"})
	id2, _ := store.Create(ctx, "posts", map[string]any{"title": "b"})

	ids, err := store.ListIDs(ctx, "posts")
	if err != nil {
		t.Fatalf("ListIDs failed: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("got %d ids, want 2", len(ids))
	}

	if err := store.Delete(ctx, "posts/"+id1); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	ids, _ = store.ListIDs(ctx, "posts")
	if len(ids) != 1 || ids[0] != id2 {
		t.Errorf("ids after delete = %v, want [%s]", ids, id2)
	}

	// Deleting a missing document is a no-op.
	if err := store.Delete(ctx, "posts/"+id1); err != nil {
		t.Errorf("second delete errored: %v", err)
	}
}

func TestDeleteCollection(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	id, _ := store.Create(ctx, "posts/p1/likes", map[string]any{})
	_, _ = store.Create(ctx, "posts/p1/likes", map[string]any{})

	if err := store.DeleteCollection(ctx, "posts/p1/likes"); err != nil {
		t.Fatalf("DeleteCollection failed: %v", err)
	}

	ids, _ := store.ListIDs(ctx, "posts/p1/likes")
	if len(ids) != 0 {
		t.Errorf("ids after DeleteCollection = %v, want none", ids)
	}
	_, ok, _ := store.Get(ctx, "posts/p1/likes/"+id)
	if ok {
		t.Error("document survived DeleteCollection")
	}
}

func TestRunTransactionReadModifyWrite(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	id, _ := store.Create(ctx, "posts", map[string]any{"likeCount": 3})
	path := "posts/" + id

	err := store.RunTransaction(ctx, func(tx Tx) error {
		doc, ok, err := tx.Get(path)
		if err != nil {
			return err
		}
		if !ok {
			t.Fatal("transaction did not see the committed document")
		}
		return tx.Update(path, map[string]any{"likeCount": doc.IntField("likeCount") + 1})
	}, path)
	if err != nil {
		t.Fatalf("RunTransaction failed: %v", err)
	}

	doc, _, _ := store.Get(ctx, path)
	if doc.IntField("likeCount") != 4 {
		t.Errorf("likeCount = %d, want 4", doc.IntField("likeCount"))
	}
}

func TestRunTransactionSetAndDelete(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	id, _ := store.Create(ctx, "posts", map[string]any{"title": "x"})
	postPath := "posts/" + id
	likePath := postPath + "/likes/u1"

	err := store.RunTransaction(ctx, func(tx Tx) error {
		tx.Set(likePath, map[string]any{})
		tx.Delete(postPath)
		return nil
	}, postPath, likePath)
	if err != nil {
		t.Fatalf("RunTransaction failed: %v", err)
	}

	if _, ok, _ := store.Get(ctx, likePath); !ok {
		t.Error("transactional Set did not commit")
	}
	if _, ok, _ := store.Get(ctx, postPath); ok {
		t.Error("transactional Delete did not commit")
	}
	ids, _ := store.ListIDs(ctx, "posts")
	if len(ids) != 0 {
		t.Errorf("collection index still lists %v", ids)
	}
}

func TestRunTransactionErrorAborts(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	id, _ := store.Create(ctx, "posts", map[string]any{"likeCount": 1})
	path := "posts/" + id

	wantErr := errors.New("closure failed")
	err := store.RunTransaction(ctx, func(tx Tx) error {
		tx.Set(path, map[string]any{"likeCount": 99})
		return wantErr
	}, path)
	if !errors.Is(err, wantErr) {
		t.Fatalf("err = %v, want %v", err, wantErr)
	}

	doc, _, _ := store.Get(ctx, path)
	if doc.IntField("likeCount") != 1 {
		t.Errorf("aborted transaction leaked a write, likeCount = %d", doc.IntField("likeCount"))
	}
}

func TestStreamDeliversOrderedSnapshots(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	sub, err := store.Stream(ctx, "posts", Order{Field: "createdAt", Descending: true}, 0)
	if err != nil {
		t.Fatalf("Stream failed: %v", err)
	}
	defer sub.Cancel()

	waitForDocs(t, sub, 0)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, title := range []string{"oldest", "middle", "newest"} {
		_, err := store.Create(ctx, "posts", map[string]any{
			"title":     title,
			"createdAt": base.Add(time.Duration(i) * time.Minute).Format(time.RFC3339Nano),
		})
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}

	snap := waitForDocs(t, sub, 3)
	got := []string{
		snap.Docs[0].StringField("title", ""),
		snap.Docs[1].StringField("title", ""),
		snap.Docs[2].StringField("title", ""),
	}
	want := []string{"newest", "middle", "oldest"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("descending order = %v, want %v", got, want)
		}
	}
}

func TestStreamLimitKeepsTrailingWindow(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, text := range []string{"first", "second", "third"} {
		_, _ = store.Create(ctx, "messages", map[string]any{
			"text":      text,
			"timestamp": base.Add(time.Duration(i) * time.Second).Format(time.RFC3339Nano),
		})
	}

	sub, err := store.Stream(ctx, "messages", Order{Field: "timestamp"}, 2)
	if err != nil {
		t.Fatalf("Stream failed: %v", err)
	}
	defer sub.Cancel()

	snap := waitForDocs(t, sub, 2)
	if snap.Docs[0].StringField("text", "") != "second" || snap.Docs[1].StringField("text", "") != "third" {
		t.Errorf("window = [%s %s], want the two most recent in ascending order",
			snap.Docs[0].StringField("text", ""), snap.Docs[1].StringField("text", ""))
	}
}

func TestStreamObservesDeletes(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	id, _ := store.Create(ctx, "posts", map[string]any{"title": "gone soon"})

	sub, err := store.Stream(ctx, "posts", Order{Field: "createdAt"}, 0)
	if err != nil {
		t.Fatalf("Stream failed: %v", err)
	}
	defer sub.Cancel()
	waitForDocs(t, sub, 1)

	if err := store.Delete(ctx, "posts/"+id); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	waitForDocs(t, sub, 0)
}

func TestSubscriptionCancelIsIdempotent(t *testing.T) {
	store := setupTestStore(t)

	sub, err := store.Stream(context.Background(), "posts", Order{Field: "createdAt"}, 0)
	if err != nil {
		t.Fatalf("Stream failed: %v", err)
	}
	sub.Cancel()
	sub.Cancel()
}
