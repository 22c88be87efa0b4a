// Package search provides forum post search: Meilisearch when configured,
// with a local scan fallback so search always answers.
package search

// PostRecord is the data we index for a forum post.
type PostRecord struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	Body       string `json:"body"`
	AuthorName string `json:"authorName"`
	CreatedAt  string `json:"createdAt"`
}

// Query describes a search request.
type Query struct {
	Text  string
	Limit int
}

// Result is a single search hit returned to the caller.
type Result struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	Snippet    string `json:"snippet"`
	AuthorName string `json:"authorName"`
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}
