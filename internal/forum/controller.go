package forum

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"breathewell/api/internal/auth"
	"breathewell/api/internal/docstore"
	"breathewell/api/internal/likes"
	"breathewell/api/internal/ownership"
	"breathewell/api/internal/profile"
)

// ErrNotAllowed is returned when a delete is attempted by someone other than
// the item's author.
var ErrNotAllowed = errors.New("only the author can delete this")

// ErrNotFound is returned when a delete targets a post or comment absent from
// the current snapshot.
var ErrNotFound = errors.New("not found")

// Author is the attribution applied to items the current user creates,
// sourced from the resolved profile.
type Author struct {
	Name   string
	Avatar string
}

// Controller owns the forum screen's published state. Stream snapshots
// wholesale-replace the post and comment lists; mutations apply optimistic
// local effects that the next authoritative snapshot overwrites.
type Controller struct {
	store docstore.Store
	auth  auth.Provider

	postLikes    *likes.Reconciler
	commentLikes *likes.Reconciler

	mu            sync.Mutex
	posts         []Post
	comments      []Comment
	commentsReady bool
	errorMessage  string
	author        Author
	openPostID    string
	onPosts       func([]Post)

	draftTitle   string
	draftBody    string
	draftComment string

	postsSub    *docstore.Subscription
	commentsSub *docstore.Subscription
}

func NewController(store docstore.Store, provider auth.Provider) *Controller {
	return &Controller{
		store:        store,
		auth:         provider,
		postLikes:    likes.New(store, provider),
		commentLikes: likes.New(store, provider),
	}
}

// SetAuthor installs the resolved profile's attribution for future creates.
func (c *Controller) SetAuthor(a Author) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.author = a
}

// OnPostsChanged registers a callback invoked after every posts snapshot,
// with the new list. Used for fire-and-forget concerns like search indexing.
func (c *Controller) OnPostsChanged(fn func([]Post)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onPosts = fn
}

// OpenPostID is the post whose comment thread is currently streamed.
func (c *Controller) OpenPostID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.openPostID
}

// ThreadReady reports whether the comment stream for postID has delivered its
// first snapshot.
func (c *Controller) ThreadReady(postID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.openPostID == postID && c.commentsReady
}

// Posts returns the current post list, newest first.
func (c *Controller) Posts() []Post {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Post, len(c.posts))
	copy(out, c.posts)
	return out
}

// Comments returns the comment list of the open post, oldest first.
func (c *Controller) Comments() []Comment {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Comment, len(c.comments))
	copy(out, c.comments)
	return out
}

// LikedPosts is the set of post IDs the current user has liked.
func (c *Controller) LikedPosts() map[string]struct{} { return c.postLikes.Liked() }

// LikedComments is the set of composite comment like keys the current user
// has liked.
func (c *Controller) LikedComments() map[string]struct{} { return c.commentLikes.Liked() }

// ErrorMessage is the last captured remote failure, empty when healthy.
func (c *Controller) ErrorMessage() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errorMessage
}

// ClearError resets the published error field.
func (c *Controller) ClearError() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errorMessage = ""
}

func (c *Controller) setError(msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errorMessage = msg
}

// SetPostDraft updates the post composer fields.
func (c *Controller) SetPostDraft(title, body string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.draftTitle, c.draftBody = title, body
}

// SetCommentDraft updates the comment composer field.
func (c *Controller) SetCommentDraft(body string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.draftComment = body
}

// PostDraft returns the post composer fields.
func (c *Controller) PostDraft() (title, body string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.draftTitle, c.draftBody
}

// CommentDraft returns the comment composer field.
func (c *Controller) CommentDraft() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.draftComment
}

// StartPosts begins (or restarts) the live posts stream, newest first. A
// previous subscription is cancelled before the new one starts.
func (c *Controller) StartPosts(ctx context.Context) error {
	c.mu.Lock()
	prev := c.postsSub
	c.mu.Unlock()
	if prev != nil {
		prev.Cancel()
	}

	sub, err := c.store.Stream(ctx, postsCollection, docstore.Order{Field: "createdAt", Descending: true}, 0)
	if err != nil {
		c.setError(err.Error())
		return err
	}

	c.mu.Lock()
	c.postsSub = sub
	c.mu.Unlock()

	go c.consumePosts(ctx, sub)
	return nil
}

func (c *Controller) consumePosts(ctx context.Context, sub *docstore.Subscription) {
	for {
		select {
		case snap, ok := <-sub.Snapshots():
			if !ok {
				return
			}
			posts := make([]Post, 0, len(snap.Docs))
			ids := make([]string, 0, len(snap.Docs))
			for _, d := range snap.Docs {
				posts = append(posts, postFromDoc(d))
				ids = append(ids, d.ID)
			}
			c.mu.Lock()
			c.posts = posts
			onPosts := c.onPosts
			c.mu.Unlock()
			go c.refreshLikedPosts(ctx, ids)
			if onPosts != nil {
				go onPosts(posts)
			}
		case err := <-sub.Errs():
			// Last good snapshot stays in place.
			c.setError(err.Error())
		}
	}
}

// OpenComments begins (or moves) the live comment stream to the given post,
// oldest first. Changing posts cancels the previous stream first.
func (c *Controller) OpenComments(ctx context.Context, postID string) error {
	c.mu.Lock()
	prev := c.commentsSub
	c.openPostID = postID
	c.comments = nil
	c.commentsReady = false
	c.mu.Unlock()
	if prev != nil {
		prev.Cancel()
	}

	sub, err := c.store.Stream(ctx, commentsCollection(postID), docstore.Order{Field: "createdAt"}, 0)
	if err != nil {
		c.setError(err.Error())
		return err
	}

	c.mu.Lock()
	c.commentsSub = sub
	c.mu.Unlock()

	go c.consumeComments(ctx, sub, postID)
	return nil
}

func (c *Controller) consumeComments(ctx context.Context, sub *docstore.Subscription, postID string) {
	for {
		select {
		case snap, ok := <-sub.Snapshots():
			if !ok {
				return
			}
			comments := make([]Comment, 0, len(snap.Docs))
			ids := make([]string, 0, len(snap.Docs))
			for _, d := range snap.Docs {
				comments = append(comments, commentFromDoc(d))
				ids = append(ids, d.ID)
			}
			c.mu.Lock()
			if c.openPostID != postID {
				// A newer OpenComments superseded this stream.
				c.mu.Unlock()
				return
			}
			c.comments = comments
			c.commentsReady = true
			c.mu.Unlock()
			go c.refreshLikedComments(ctx, postID, ids)
		case err := <-sub.Errs():
			c.setError(err.Error())
		}
	}
}

// Close cancels both streams.
func (c *Controller) Close() {
	c.mu.Lock()
	postsSub, commentsSub := c.postsSub, c.commentsSub
	c.postsSub, c.commentsSub = nil, nil
	c.mu.Unlock()
	if postsSub != nil {
		postsSub.Cancel()
	}
	if commentsSub != nil {
		commentsSub.Cancel()
	}
}

// refreshLikedPosts resyncs liked-status for the observed post IDs.
// Best-effort: a failure surfaces on the error field and keeps prior state.
func (c *Controller) refreshLikedPosts(ctx context.Context, postIDs []string) {
	p, ok := c.auth.Current()
	if !ok || len(postIDs) == 0 {
		return
	}
	entries := make([]likes.Entry, len(postIDs))
	for i, id := range postIDs {
		entries[i] = likes.Entry{Key: id, LikePath: postLikePath(id, p.ID)}
	}
	if err := c.postLikes.Refresh(ctx, entries); err != nil {
		c.setError(err.Error())
	}
}

func (c *Controller) refreshLikedComments(ctx context.Context, postID string, commentIDs []string) {
	p, ok := c.auth.Current()
	if !ok || len(commentIDs) == 0 {
		return
	}
	entries := make([]likes.Entry, len(commentIDs))
	for i, id := range commentIDs {
		entries[i] = likes.Entry{
			Key:      likes.CommentKey(postID, id),
			LikePath: commentLikePath(postID, id, p.ID),
		}
	}
	if err := c.commentLikes.Refresh(ctx, entries); err != nil {
		c.setError(err.Error())
	}
}

// effectiveAuthor resolves attribution the way the profile screen does:
// profile display name, then the principal's name, then email, then a
// placeholder.
func (c *Controller) effectiveAuthor(p auth.Principal) Author {
	c.mu.Lock()
	a := c.author
	c.mu.Unlock()

	name := strings.TrimSpace(a.Name)
	if name == "" {
		name = strings.TrimSpace(p.DisplayName)
	}
	if name == "" {
		name = p.Email
	}
	if name == "" {
		name = "Anonymous"
	}
	avatar := a.Avatar
	if avatar == "" {
		avatar = profile.DefaultAvatar
	}
	return Author{Name: name, Avatar: avatar}
}

// CreatePost submits the composed post. Requires a signed-in principal; a
// blank title or body after trimming is a silent no-op. The new post is not
// inserted locally: its createdAt is server-assigned, so ordering waits for
// the next snapshot.
func (c *Controller) CreatePost(ctx context.Context) error {
	p, ok := c.auth.Current()
	if !ok {
		c.setError(auth.ErrUnauthenticated.Error())
		return auth.ErrUnauthenticated
	}

	title, body := c.PostDraft()
	title = strings.TrimSpace(title)
	body = strings.TrimSpace(body)
	if title == "" || body == "" {
		return nil
	}

	author := c.effectiveAuthor(p)
	_, err := c.store.Create(ctx, postsCollection, map[string]any{
		"title":        title,
		"body":         body,
		"authorId":     p.ID,
		"authorName":   author.Name,
		"authorAvatar": author.Avatar,
		"createdAt":    docstore.ServerTimestamp,
		"likeCount":    0,
	})
	if err != nil {
		c.setError(err.Error())
		return err
	}

	c.mu.Lock()
	c.draftTitle, c.draftBody = "", ""
	c.mu.Unlock()
	return nil
}

// CreateComment submits the composed comment under the given post. Same auth
// and emptiness rules as CreatePost.
func (c *Controller) CreateComment(ctx context.Context, postID string) error {
	p, ok := c.auth.Current()
	if !ok {
		c.setError(auth.ErrUnauthenticated.Error())
		return auth.ErrUnauthenticated
	}

	body := strings.TrimSpace(c.CommentDraft())
	if body == "" {
		return nil
	}

	author := c.effectiveAuthor(p)
	_, err := c.store.Create(ctx, commentsCollection(postID), map[string]any{
		"body":         body,
		"authorId":     p.ID,
		"authorName":   author.Name,
		"authorAvatar": author.Avatar,
		"createdAt":    docstore.ServerTimestamp,
		"likeCount":    0,
	})
	if err != nil {
		c.setError(err.Error())
		return err
	}

	c.mu.Lock()
	c.draftComment = ""
	c.mu.Unlock()
	return nil
}

// CanDeletePost reports whether the current principal may delete the post.
// The UI uses this for affordances; DeletePost re-checks it.
func (c *Controller) CanDeletePost(post Post) bool {
	p, ok := c.auth.Current()
	if !ok {
		return false
	}
	return ownership.CanDelete(post.AuthorID, post.AuthorName, p.ID, c.effectiveAuthor(p).Name)
}

// CanDeleteComment reports whether the current principal may delete the
// comment.
func (c *Controller) CanDeleteComment(comment Comment) bool {
	p, ok := c.auth.Current()
	if !ok {
		return false
	}
	return ownership.CanDelete(comment.AuthorID, comment.AuthorName, p.ID, c.effectiveAuthor(p).Name)
}

// DeletePost deletes the author's own post, then purges its comment and like
// subcollections best-effort. The purge runs after the parent delete so a
// partial failure never resurrects the post.
func (c *Controller) DeletePost(ctx context.Context, postID string) error {
	p, ok := c.auth.Current()
	if !ok {
		c.setError(auth.ErrUnauthenticated.Error())
		return auth.ErrUnauthenticated
	}

	var target *Post
	c.mu.Lock()
	for i := range c.posts {
		if c.posts[i].ID == postID {
			target = &c.posts[i]
			break
		}
	}
	c.mu.Unlock()
	if target == nil {
		return fmt.Errorf("post %s: %w", postID, ErrNotFound)
	}
	if !ownership.CanDelete(target.AuthorID, target.AuthorName, p.ID, c.effectiveAuthor(p).Name) {
		return ErrNotAllowed
	}

	if err := c.store.Delete(ctx, postPath(postID)); err != nil {
		c.setError(err.Error())
		return err
	}

	if commentIDs, err := c.store.ListIDs(ctx, commentsCollection(postID)); err == nil {
		for _, cid := range commentIDs {
			if err := c.store.DeleteCollection(ctx, commentPath(postID, cid)+"/likes"); err != nil {
				log.Printf("forum: purge comment likes %s/%s: %v", postID, cid, err)
			}
		}
	}
	if err := c.store.DeleteCollection(ctx, commentsCollection(postID)); err != nil {
		log.Printf("forum: purge comments of %s: %v", postID, err)
	}
	if err := c.store.DeleteCollection(ctx, postPath(postID)+"/likes"); err != nil {
		log.Printf("forum: purge likes of %s: %v", postID, err)
	}
	return nil
}

// DeleteComment deletes the author's own comment and purges its likes.
func (c *Controller) DeleteComment(ctx context.Context, postID, commentID string) error {
	p, ok := c.auth.Current()
	if !ok {
		c.setError(auth.ErrUnauthenticated.Error())
		return auth.ErrUnauthenticated
	}

	var target *Comment
	c.mu.Lock()
	for i := range c.comments {
		if c.comments[i].ID == commentID {
			target = &c.comments[i]
			break
		}
	}
	c.mu.Unlock()
	if target == nil {
		return fmt.Errorf("comment %s: %w", commentID, ErrNotFound)
	}
	if !ownership.CanDelete(target.AuthorID, target.AuthorName, p.ID, c.effectiveAuthor(p).Name) {
		return ErrNotAllowed
	}

	if err := c.store.Delete(ctx, commentPath(postID, commentID)); err != nil {
		c.setError(err.Error())
		return err
	}
	if err := c.store.DeleteCollection(ctx, commentPath(postID, commentID)+"/likes"); err != nil {
		log.Printf("forum: purge likes of comment %s/%s: %v", postID, commentID, err)
	}
	return nil
}

// TogglePostLike flips the current user's like on a post through the
// reconciler's transaction, then applies the provisional local adjustment
// that the next snapshot overwrites.
func (c *Controller) TogglePostLike(ctx context.Context, postID string) error {
	p, ok := c.auth.Current()
	if !ok {
		c.setError(auth.ErrUnauthenticated.Error())
		return auth.ErrUnauthenticated
	}

	nowLiked, err := c.postLikes.Toggle(ctx, postID, postPath(postID), postLikePath(postID, p.ID))
	if err != nil {
		c.setError("Failed to toggle like: " + err.Error())
		return err
	}

	c.mu.Lock()
	for i := range c.posts {
		if c.posts[i].ID != postID {
			continue
		}
		if nowLiked {
			c.posts[i].LikeCount++
		} else {
			c.posts[i].LikeCount = max(0, c.posts[i].LikeCount-1)
		}
		break
	}
	c.mu.Unlock()
	return nil
}

// ToggleCommentLike flips the current user's like on a comment.
func (c *Controller) ToggleCommentLike(ctx context.Context, postID, commentID string) error {
	p, ok := c.auth.Current()
	if !ok {
		c.setError(auth.ErrUnauthenticated.Error())
		return auth.ErrUnauthenticated
	}

	key := likes.CommentKey(postID, commentID)
	nowLiked, err := c.commentLikes.Toggle(ctx, key, commentPath(postID, commentID), commentLikePath(postID, commentID, p.ID))
	if err != nil {
		c.setError("Failed to toggle like: " + err.Error())
		return err
	}

	c.mu.Lock()
	for i := range c.comments {
		if c.comments[i].ID != commentID {
			continue
		}
		if nowLiked {
			c.comments[i].LikeCount++
		} else {
			c.comments[i].LikeCount = max(0, c.comments[i].LikeCount-1)
		}
		break
	}
	c.mu.Unlock()
	return nil
}
