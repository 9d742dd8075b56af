// Package store persists users, extractions and WordPress watches in
// Postgres. Extractions are keyed by (user_id, content_hash): re-submitting
// the same article overwrites the prior record instead of duplicating it.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	_ "github.com/lib/pq"
)

type Store struct {
	DB *sql.DB
}

// User is a stored account row.
type User struct {
	ID                 int64
	Username           string
	PasswordHash       string
	CustomSystemPrompt string
	CreatedAt          time.Time
}

// Extraction is a stored extraction record. ExtractedData is kept as raw
// JSON: the payload shape is whatever the prompt asked the model for.
type Extraction struct {
	ID              int64           `json:"id"`
	UserID          int64           `json:"user_id"`
	OriginalContent string          `json:"original_content"`
	ExtractedData   json.RawMessage `json:"extracted_data"`
	ContentHash     string          `json:"content_hash"`
	SourceURL       *string         `json:"source_url,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

// Watch is a scheduled WordPress import definition.
type Watch struct {
	ID              string     `json:"id"`
	UserID          int64      `json:"user_id"`
	BaseDomain      string     `json:"base_domain"`
	UseSubdirectory bool       `json:"use_subdirectory"`
	Site            string     `json:"site"`
	Search          string     `json:"search"`
	CronSpec        string     `json:"cron_spec"`
	LastRunAt       *time.Time `json:"last_run_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// NewWithDSN constructs the Store using an explicit Postgres DSN.
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Store{DB: db}, nil
}

// User operations

func (s *Store) CreateUser(ctx context.Context, username, hash string) (int64, error) {
	var id int64
	err := s.DB.QueryRowContext(ctx,
		`INSERT INTO users (username, password_hash) VALUES ($1,$2) RETURNING id`,
		username, hash).Scan(&id)
	return id, err
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (User, error) {
	var u User
	var prompt sql.NullString
	err := s.DB.QueryRowContext(ctx,
		`SELECT id, username, password_hash, custom_system_prompt, created_at FROM users WHERE username=$1`,
		username).Scan(&u.ID, &u.Username, &u.PasswordHash, &prompt, &u.CreatedAt)
	if err != nil {
		return User{}, err
	}
	u.CustomSystemPrompt = prompt.String
	return u, nil
}

// UpdateUserPrompt stores a per-user system prompt override. An empty
// prompt clears the override back to the platform default.
func (s *Store) UpdateUserPrompt(ctx context.Context, userID int64, prompt string) error {
	var value interface{}
	if prompt != "" {
		value = prompt
	}
	_, err := s.DB.ExecContext(ctx,
		`UPDATE users SET custom_system_prompt = $1 WHERE id = $2`, value, userID)
	return err
}

func (s *Store) GetUserPrompt(ctx context.Context, userID int64) (string, error) {
	var prompt sql.NullString
	err := s.DB.QueryRowContext(ctx,
		`SELECT custom_system_prompt FROM users WHERE id=$1`, userID).Scan(&prompt)
	return prompt.String, err
}

// Extraction operations

// UpsertExtraction inserts or replaces the extraction for (userID,
// contentHash) atomically. On conflict the payload is overwritten and the
// timestamp refreshed; the record id is preserved.
func (s *Store) UpsertExtraction(ctx context.Context, userID int64, originalContent string, extractedData []byte, contentHash string, sourceURL *string) (Extraction, error) {
	var rec Extraction
	var src sql.NullString
	err := s.DB.QueryRowContext(ctx, `
INSERT INTO extractions (user_id, original_content, extracted_data, content_hash, source_url)
VALUES ($1,$2,$3::jsonb,$4,$5)
ON CONFLICT (user_id, content_hash) DO UPDATE SET
  original_content = EXCLUDED.original_content,
  extracted_data   = EXCLUDED.extracted_data,
  source_url       = EXCLUDED.source_url,
  created_at       = NOW()
RETURNING id, user_id, original_content, extracted_data, content_hash, source_url, created_at
`, userID, originalContent, extractedData, contentHash, sourceURL).
		Scan(&rec.ID, &rec.UserID, &rec.OriginalContent, &rec.ExtractedData, &rec.ContentHash, &src, &rec.CreatedAt)
	if err != nil {
		return Extraction{}, err
	}
	if src.Valid {
		rec.SourceURL = &src.String
	}
	return rec, nil
}

// ListExtractions returns all extractions for a user, newest first.
func (s *Store) ListExtractions(ctx context.Context, userID int64) ([]Extraction, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, user_id, original_content, extracted_data, content_hash, source_url, created_at
FROM extractions WHERE user_id=$1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Extraction
	for rows.Next() {
		var rec Extraction
		var src sql.NullString
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.OriginalContent, &rec.ExtractedData, &rec.ContentHash, &src, &rec.CreatedAt); err != nil {
			return nil, err
		}
		if src.Valid {
			rec.SourceURL = &src.String
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ListAllExtractions returns every extraction across all users. Used to
// rebuild the search index at startup.
func (s *Store) ListAllExtractions(ctx context.Context) ([]Extraction, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, user_id, original_content, extracted_data, content_hash, source_url, created_at
FROM extractions ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Extraction
	for rows.Next() {
		var rec Extraction
		var src sql.NullString
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.OriginalContent, &rec.ExtractedData, &rec.ContentHash, &src, &rec.CreatedAt); err != nil {
			return nil, err
		}
		if src.Valid {
			rec.SourceURL = &src.String
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// GetExtraction fetches one extraction scoped to its owner.
func (s *Store) GetExtraction(ctx context.Context, userID, id int64) (Extraction, error) {
	var rec Extraction
	var src sql.NullString
	err := s.DB.QueryRowContext(ctx, `
SELECT id, user_id, original_content, extracted_data, content_hash, source_url, created_at
FROM extractions WHERE id=$1 AND user_id=$2`, id, userID).
		Scan(&rec.ID, &rec.UserID, &rec.OriginalContent, &rec.ExtractedData, &rec.ContentHash, &src, &rec.CreatedAt)
	if err != nil {
		return Extraction{}, err
	}
	if src.Valid {
		rec.SourceURL = &src.String
	}
	return rec, nil
}

// Watch operations

func (s *Store) CreateWatch(ctx context.Context, w Watch) (string, error) {
	var id string
	err := s.DB.QueryRowContext(ctx, `
INSERT INTO watches (user_id, base_domain, use_subdirectory, site, search, cron_spec)
VALUES ($1,$2,$3,$4,$5,$6) RETURNING id`,
		w.UserID, w.BaseDomain, w.UseSubdirectory, w.Site, w.Search, w.CronSpec).Scan(&id)
	return id, err
}

func (s *Store) ListWatches(ctx context.Context, userID int64) ([]Watch, error) {
	return s.queryWatches(ctx, `
SELECT id, user_id, base_domain, use_subdirectory, site, search, cron_spec, last_run_at, created_at
FROM watches WHERE user_id=$1 ORDER BY created_at DESC`, userID)
}

// ListAllWatches returns every watch across users, for the scheduler.
func (s *Store) ListAllWatches(ctx context.Context) ([]Watch, error) {
	return s.queryWatches(ctx, `
SELECT id, user_id, base_domain, use_subdirectory, site, search, cron_spec, last_run_at, created_at
FROM watches`)
}

func (s *Store) DeleteWatch(ctx context.Context, userID int64, id string) error {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM watches WHERE id=$1 AND user_id=$2`, id, userID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return sql.ErrNoRows
	}
	return err
}

// TouchWatch records a completed scheduler pass.
func (s *Store) TouchWatch(ctx context.Context, id string) error {
	_, err := s.DB.ExecContext(ctx, `UPDATE watches SET last_run_at = NOW() WHERE id=$1`, id)
	return err
}

func (s *Store) queryWatches(ctx context.Context, q string, args ...interface{}) ([]Watch, error) {
	rows, err := s.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Watch
	for rows.Next() {
		var w Watch
		var last sql.NullTime
		if err := rows.Scan(&w.ID, &w.UserID, &w.BaseDomain, &w.UseSubdirectory, &w.Site, &w.Search, &w.CronSpec, &last, &w.CreatedAt); err != nil {
			return nil, err
		}
		if last.Valid {
			t := last.Time
			w.LastRunAt = &t
		}
		out = append(out, w)
	}
	return out, rows.Err()
}
