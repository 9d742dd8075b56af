package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/amarchal/fundscan/internal/extract"
	"github.com/amarchal/fundscan/internal/fingerprint"
	"github.com/amarchal/fundscan/internal/prompt"
	"github.com/amarchal/fundscan/internal/search"
	"github.com/amarchal/fundscan/internal/store"
	"github.com/amarchal/fundscan/internal/telemetry"
)

// Extractor runs one LLM extraction. Satisfied by *extract.Client.
type Extractor interface {
	Extract(ctx context.Context, systemPrompt, content string) (extract.Result, error)
}

// Pipeline is the shared analyze-and-persist path used by the API
// handlers and the watch scheduler.
type Pipeline struct {
	Store   *store.Store
	Extract Extractor
	Prompts *prompt.Resolver
	Search  *search.Index
	Metrics *telemetry.Metrics
	Logger  *log.Logger
}

// Process resolves the user's prompt, extracts structured data from
// content and upserts the result keyed by the content fingerprint. The
// search index is refreshed on success.
func (p *Pipeline) Process(ctx context.Context, userID int64, content string, sourceURL *string) (store.Extraction, error) {
	system, err := p.Prompts.Resolve(ctx, userID)
	if err != nil {
		return store.Extraction{}, fmt.Errorf("resolve prompt: %w", err)
	}
	result, err := p.Extract.Extract(ctx, system, content)
	if err != nil {
		return store.Extraction{}, err
	}
	payload, err := json.Marshal(result)
	if err != nil {
		return store.Extraction{}, fmt.Errorf("encode extraction: %w", err)
	}
	rec, err := p.Store.UpsertExtraction(ctx, userID, content, payload, fingerprint.Hash(content), sourceURL)
	if err != nil {
		return store.Extraction{}, fmt.Errorf("save extraction: %w", err)
	}
	if p.Metrics != nil {
		p.Metrics.Upserts.Inc()
	}
	if p.Search != nil {
		if err := p.Search.Add(rec); err != nil && p.Logger != nil {
			p.Logger.Printf("index extraction %d: %v", rec.ID, err)
		}
	}
	return rec, nil
}
