// Package search maintains an in-memory full-text index over stored
// extractions. The index is rebuilt from the database at startup and
// updated as new extractions are saved; losing it costs nothing but a
// rebuild.
package search

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/blevesearch/bleve"
	"github.com/blevesearch/bleve/search/query"

	"github.com/amarchal/fundscan/internal/store"
)

type document struct {
	User    string `json:"user"`
	Content string `json:"content"`
	Data    string `json:"data"`
}

// Hit is one search result.
type Hit struct {
	ExtractionID int64   `json:"extraction_id"`
	Score        float64 `json:"score"`
}

// Index is a process-local full-text index over extractions.
type Index struct {
	mu  sync.RWMutex
	idx bleve.Index
}

// New creates an empty in-memory index.
func New() (*Index, error) {
	mapping := bleve.NewIndexMapping()
	idx, err := bleve.NewMemOnly(mapping)
	if err != nil {
		return nil, fmt.Errorf("create search index: %w", err)
	}
	return &Index{idx: idx}, nil
}

// Rebuild indexes every extraction in the store. Called once at startup
// on a fresh index.
func (s *Index) Rebuild(ctx context.Context, st *store.Store) (int, error) {
	rows, err := st.ListAllExtractions(ctx)
	if err != nil {
		return 0, fmt.Errorf("rebuild search index: %w", err)
	}
	for _, e := range rows {
		if err := s.Add(e); err != nil {
			return 0, err
		}
	}
	return len(rows), nil
}

// Add indexes one extraction, replacing any previous version of it.
func (s *Index) Add(e store.Extraction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc := document{
		User:    strconv.FormatInt(e.UserID, 10),
		Content: e.OriginalContent,
		Data:    string(e.ExtractedData),
	}
	return s.idx.Index(docID(e.UserID, e.ID), doc)
}

// Remove drops one extraction from the index.
func (s *Index) Remove(userID, extractionID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.idx.Delete(docID(userID, extractionID))
}

// Search returns up to limit extractions of one user matching the query,
// best first.
func (s *Index) Search(userID int64, q string, limit int) ([]Hit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 {
		limit = 20
	}

	owner := bleve.NewMatchQuery(strconv.FormatInt(userID, 10))
	owner.SetField("user")
	text := bleve.NewMatchQuery(q)

	req := bleve.NewSearchRequestOptions(
		query.NewConjunctionQuery([]query.Query{owner, text}), limit, 0, false)
	res, err := s.idx.Search(req)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	hits := make([]Hit, 0, len(res.Hits))
	for _, h := range res.Hits {
		id, uid, ok := parseDocID(h.ID)
		if !ok || uid != userID {
			continue
		}
		hits = append(hits, Hit{ExtractionID: id, Score: h.Score})
	}
	return hits, nil
}

func docID(userID, extractionID int64) string {
	return fmt.Sprintf("%d:%d", userID, extractionID)
}

func parseDocID(s string) (extractionID, userID int64, ok bool) {
	var u, e int64
	if _, err := fmt.Sscanf(s, "%d:%d", &u, &e); err != nil {
		return 0, 0, false
	}
	return e, u, true
}
