package search

import (
	"log"
	"strings"
)

// Indexer is the remote search index behind the service. *Meili implements
// it; tests substitute a fake.
type Indexer interface {
	Healthy() bool
	Search(q Query) ([]Result, int, error)
	IndexPost(rec PostRecord) error
	DeletePost(id string) error
}

// Service is the facade that tries the remote index first and falls back to a
// scan of the live post snapshot.
type Service struct {
	index Indexer
	local func() []PostRecord
}

// NewService creates a search service. index may be nil if no remote index is
// configured; local supplies the current post snapshot for the fallback.
func NewService(index Indexer, local func() []PostRecord) *Service {
	return &Service{index: index, local: local}
}

// Search tries the remote index if healthy, otherwise scans the local
// snapshot.
func (s *Service) Search(q Query) Response {
	if s.index != nil && s.index.Healthy() {
		results, total, err := s.index.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		log.Printf("search: index error, falling back to local scan: %v", err)
	}
	return s.scan(q)
}

func (s *Service) scan(q Query) Response {
	limit := q.Limit
	if limit == 0 {
		limit = 20
	}
	needle := strings.ToLower(strings.TrimSpace(q.Text))

	results := []Result{}
	total := 0
	for _, rec := range s.local() {
		if needle != "" &&
			!strings.Contains(strings.ToLower(rec.Title), needle) &&
			!strings.Contains(strings.ToLower(rec.Body), needle) &&
			!strings.Contains(strings.ToLower(rec.AuthorName), needle) {
			continue
		}
		total++
		if len(results) < limit {
			results = append(results, Result{
				ID:         rec.ID,
				Title:      rec.Title,
				Snippet:    rec.Body,
				AuthorName: rec.AuthorName,
			})
		}
	}
	return Response{Results: results, Total: total, Query: q.Text}
}

// IndexPost pushes a post into the index (fire-and-forget).
func (s *Service) IndexPost(rec PostRecord) {
	if s.index == nil || !s.index.Healthy() {
		return
	}
	go func() {
		if err := s.index.IndexPost(rec); err != nil {
			log.Printf("search: index post %s: %v", rec.ID, err)
		}
	}()
}

// DeletePost removes a post from the index (fire-and-forget).
func (s *Service) DeletePost(id string) {
	if s.index == nil || !s.index.Healthy() {
		return
	}
	go func() {
		if err := s.index.DeletePost(id); err != nil {
			log.Printf("search: delete post %s: %v", id, err)
		}
	}()
}

func nonNil(results []Result) []Result {
	if results == nil {
		return []Result{}
	}
	return results
}
