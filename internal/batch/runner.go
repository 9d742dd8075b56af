// Package batch drives the extraction pipeline over a directory of text
// files or a CSV of articles. Items fail independently: an extraction or
// save error is counted and the run continues. Files are moved to the
// processed directory only after a successful save, so an interrupted run
// picks up where it left off.
package batch

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/amarchal/fundscan/internal/extract"
	"github.com/amarchal/fundscan/internal/fingerprint"
	"github.com/amarchal/fundscan/internal/store"
	"github.com/amarchal/fundscan/internal/telemetry"
)

// Accepted CSV header names for the article text column, checked in order.
var contentColumns = []string{"content", "article", "text", "texte", "contenu"}

// Extractor is the slice of the extraction client the runner needs.
type Extractor interface {
	Extract(ctx context.Context, systemPrompt, articleText string) (extract.Result, error)
}

// Saver is the slice of the store the runner needs.
type Saver interface {
	UpsertExtraction(ctx context.Context, userID int64, originalContent string, extractedData []byte, contentHash string, sourceURL *string) (store.Extraction, error)
}

// Report aggregates the outcome of one batch run.
type Report struct {
	Processed int
	Succeeded int
	Failed    int
}

// Runner orchestrates extract-then-save over many articles.
type Runner struct {
	Extractor Extractor
	Saver     Saver
	Logger    *log.Logger
	Metrics   *telemetry.Metrics
}

func (r *Runner) logger() *log.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return log.New(log.Writer(), "[BATCH] ", log.LstdFlags)
}

// processItem runs one article through extract → fingerprint → upsert.
func (r *Runner) processItem(ctx context.Context, userID int64, systemPrompt, content string) error {
	result, err := r.Extractor.Extract(ctx, systemPrompt, content)
	if err != nil {
		return fmt.Errorf("extraction: %w", err)
	}
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode extracted data: %w", err)
	}
	hash := fingerprint.Hash(content)
	if _, err := r.Saver.UpsertExtraction(ctx, userID, content, data, hash, nil); err != nil {
		return fmt.Errorf("save: %w", err)
	}
	if r.Metrics != nil {
		r.Metrics.Upserts.Inc()
	}
	return nil
}

// RunDir processes every .txt file in srcDir, moving each to processedDir
// after its extraction has been saved.
func (r *Runner) RunDir(ctx context.Context, userID int64, systemPrompt, srcDir, processedDir string) (Report, error) {
	logger := r.logger()
	jobID := uuid.NewString()

	if err := os.MkdirAll(processedDir, 0o755); err != nil {
		return Report{}, fmt.Errorf("create processed dir: %w", err)
	}
	entries, err := os.ReadDir(srcDir)
	if err != nil {
		return Report{}, fmt.Errorf("read source dir: %w", err)
	}

	var rep Report
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".txt") {
			continue
		}
		path := filepath.Join(srcDir, entry.Name())
		b, err := os.ReadFile(path)
		if err != nil {
			logger.Printf("[%s] %s: read failed: %v", jobID, entry.Name(), err)
			rep.Processed++
			rep.Failed++
			r.count("failed")
			continue
		}
		content := string(b)
		if strings.TrimSpace(content) == "" {
			logger.Printf("[%s] %s: empty file, skipped", jobID, entry.Name())
			continue
		}

		rep.Processed++
		logger.Printf("[%s] processing %s", jobID, entry.Name())
		if err := r.processItem(ctx, userID, systemPrompt, content); err != nil {
			logger.Printf("[%s] %s: %v", jobID, entry.Name(), err)
			rep.Failed++
			r.count("failed")
			continue
		}
		// The move is the commit marker: a file still in srcDir will be
		// reprocessed by the next run, one in processedDir will not.
		if err := os.Rename(path, filepath.Join(processedDir, entry.Name())); err != nil {
			logger.Printf("[%s] %s: saved but move failed: %v", jobID, entry.Name(), err)
			rep.Failed++
			r.count("failed")
			continue
		}
		rep.Succeeded++
		r.count("succeeded")
	}
	return rep, nil
}

// RunCSV processes a CSV whose article column is auto-detected among the
// accepted header names.
func (r *Runner) RunCSV(ctx context.Context, userID int64, systemPrompt, csvPath string) (Report, error) {
	logger := r.logger()
	jobID := uuid.NewString()

	f, err := os.Open(csvPath)
	if err != nil {
		return Report{}, fmt.Errorf("open csv: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	header, err := reader.Read()
	if err != nil {
		return Report{}, fmt.Errorf("read csv header: %w", err)
	}

	contentIdx := -1
	for _, want := range contentColumns {
		for i, col := range header {
			if strings.EqualFold(strings.TrimSpace(col), want) {
				contentIdx = i
				break
			}
		}
		if contentIdx != -1 {
			break
		}
	}
	if contentIdx == -1 {
		return Report{}, fmt.Errorf("no content column in csv (available: %s; expected one of: %s)",
			strings.Join(header, ", "), strings.Join(contentColumns, ", "))
	}
	logger.Printf("[%s] content column: %q", jobID, header[contentIdx])

	var rep Report
	for line := 2; ; line++ {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			logger.Printf("[%s] line %d: %v", jobID, line, err)
			rep.Processed++
			rep.Failed++
			r.count("failed")
			continue
		}
		if contentIdx >= len(row) {
			continue
		}
		content := strings.TrimSpace(row[contentIdx])
		if content == "" {
			logger.Printf("[%s] line %d: empty content, skipped", jobID, line)
			continue
		}

		rep.Processed++
		if err := r.processItem(ctx, userID, systemPrompt, content); err != nil {
			logger.Printf("[%s] line %d: %v", jobID, line, err)
			rep.Failed++
			r.count("failed")
			continue
		}
		rep.Succeeded++
		r.count("succeeded")
	}
	return rep, nil
}

func (r *Runner) count(outcome string) {
	if r.Metrics != nil {
		r.Metrics.BatchItems.WithLabelValues(outcome).Inc()
	}
}
