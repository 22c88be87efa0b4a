// Package forum is the community forum screen controller: a live local mirror
// of posts and comments with optimistic create/delete/like mutations.
package forum

import (
	"time"

	"breathewell/api/internal/docstore"
	"breathewell/api/internal/profile"
)

const postsCollection = "posts"

// Post mirrors one forum post document.
type Post struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Body         string    `json:"body"`
	AuthorID     string    `json:"authorId"`
	AuthorName   string    `json:"authorName"`
	AuthorAvatar string    `json:"authorAvatar"`
	CreatedAt    time.Time `json:"createdAt"`
	LikeCount    int       `json:"likeCount"`
}

// Comment mirrors one comment document, scoped to its parent post.
type Comment struct {
	ID           string    `json:"id"`
	Body         string    `json:"body"`
	AuthorID     string    `json:"authorId"`
	AuthorName   string    `json:"authorName"`
	AuthorAvatar string    `json:"authorAvatar"`
	CreatedAt    time.Time `json:"createdAt"`
	LikeCount    int       `json:"likeCount"`
}

func postPath(postID string) string {
	return postsCollection + "/" + postID
}

func commentsCollection(postID string) string {
	return postPath(postID) + "/comments"
}

func commentPath(postID, commentID string) string {
	return commentsCollection(postID) + "/" + commentID
}

func postLikePath(postID, uid string) string {
	return postPath(postID) + "/likes/" + uid
}

func commentLikePath(postID, commentID, uid string) string {
	return commentPath(postID, commentID) + "/likes/" + uid
}

func postFromDoc(d docstore.Doc) Post {
	return Post{
		ID:           d.ID,
		Title:        d.StringField("title", ""),
		Body:         d.StringField("body", ""),
		AuthorID:     d.StringField("authorId", ""),
		AuthorName:   d.StringField("authorName", "Anonymous"),
		AuthorAvatar: d.StringField("authorAvatar", profile.DefaultAvatar),
		CreatedAt:    d.TimeField("createdAt"),
		LikeCount:    d.IntField("likeCount"),
	}
}

func commentFromDoc(d docstore.Doc) Comment {
	return Comment{
		ID:           d.ID,
		Body:         d.StringField("body", ""),
		AuthorID:     d.StringField("authorId", ""),
		AuthorName:   d.StringField("authorName", "Anonymous"),
		AuthorAvatar: d.StringField("authorAvatar", profile.DefaultAvatar),
		CreatedAt:    d.TimeField("createdAt"),
		LikeCount:    d.IntField("likeCount"),
	}
}
