// Package likes keeps the "liked by me" view in sync with server truth and
// performs atomic like toggles.
package likes

import (
	"context"
	"fmt"
	"sync"

	"breathewell/api/internal/auth"
	"breathewell/api/internal/docstore"
)

// CommentKey composes the liked-set key for a comment like. Comment likes are
// scoped per post, so the key carries both IDs.
func CommentKey(postID, commentID string) string {
	return postID + "#" + commentID
}

// Entry names one item whose liked-status should be resynced: its liked-set
// key and the path of the current principal's like document.
type Entry struct {
	Key      string
	LikePath string
}

// Reconciler owns one screen's liked-set. The set is replaced per refresh for
// exactly the keys asked about; keys outside the asked set keep prior state.
type Reconciler struct {
	store docstore.Store
	auth  auth.Provider

	mu    sync.Mutex
	liked map[string]struct{}
}

func New(store docstore.Store, provider auth.Provider) *Reconciler {
	return &Reconciler{
		store: store,
		auth:  provider,
		liked: map[string]struct{}{},
	}
}

// IsLiked reports current liked-set membership.
func (r *Reconciler) IsLiked(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.liked[key]
	return ok
}

// Liked returns a copy of the liked-set.
func (r *Reconciler) Liked() map[string]struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]struct{}, len(r.liked))
	for k := range r.liked {
		out[k] = struct{}{}
	}
	return out
}

// Refresh fans out one existence lookup per entry, collects the results, and
// applies them as a single batch. No-op when signed out or the set is empty.
// On any lookup failure the liked-set is left untouched.
func (r *Reconciler) Refresh(ctx context.Context, entries []Entry) error {
	if _, ok := r.auth.Current(); !ok || len(entries) == 0 {
		return nil
	}

	type result struct {
		key   string
		liked bool
		err   error
	}

	results := make(chan result, len(entries))
	for _, e := range entries {
		go func(e Entry) {
			_, exists, err := r.store.Get(ctx, e.LikePath)
			results <- result{key: e.Key, liked: exists, err: err}
		}(e)
	}

	found := make(map[string]struct{})
	for range entries {
		res := <-results
		if res.err != nil {
			return fmt.Errorf("refresh liked: %w", res.err)
		}
		if res.liked {
			found[res.key] = struct{}{}
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range entries {
		delete(r.liked, e.Key)
	}
	for k := range found {
		r.liked[k] = struct{}{}
	}
	return nil
}

// Toggle flips the (item, user) like inside one store transaction: read like
// existence and likeCount, then delete-and-decrement (floored at zero) or
// create-and-increment. After commit the local liked-set flips to match.
// Returns the new liked state.
func (r *Reconciler) Toggle(ctx context.Context, key, itemPath, likePath string) (bool, error) {
	if _, ok := r.auth.Current(); !ok {
		return false, auth.ErrUnauthenticated
	}

	var nowLiked bool
	err := r.store.RunTransaction(ctx, func(tx docstore.Tx) error {
		_, liked, err := tx.Get(likePath)
		if err != nil {
			return err
		}
		item, ok, err := tx.Get(itemPath)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("toggle like: %s no longer exists", itemPath)
		}

		count := item.IntField("likeCount")
		if liked {
			tx.Delete(likePath)
			count = max(0, count-1)
			nowLiked = false
		} else {
			tx.Set(likePath, map[string]any{})
			count++
			nowLiked = true
		}
		return tx.Update(itemPath, map[string]any{"likeCount": count})
	}, likePath, itemPath)
	if err != nil {
		return false, err
	}

	r.mu.Lock()
	if nowLiked {
		r.liked[key] = struct{}{}
	} else {
		delete(r.liked, key)
	}
	r.mu.Unlock()
	return nowLiked, nil
}
