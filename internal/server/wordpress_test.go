package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/labstack/echo/v4"

	"github.com/amarchal/fundscan/config"
	"github.com/amarchal/fundscan/internal/extract"
)

func TestImportPostsIsolatesFailures(t *testing.T) {
	e := echo.New()

	wpSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/posts/1"):
			w.Write([]byte(`{"id": 1, "title": {"rendered": "Levée Alan"},
				"content": {"rendered": "<p>Alan lève 50M€</p>"},
				"link": "https://example.com/news/1"}`))
		case strings.HasSuffix(r.URL.Path, "/posts/2"):
			http.Error(w, "not found", http.StatusNotFound)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer wpSrv.Close()

	ex := &stubExtractor{result: extract.Result{"Société": "Alan"}}
	eh, mock := newHandlerEnv(t, ex)

	mock.ExpectQuery(`SELECT custom_system_prompt FROM users WHERE id=\$1`).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"custom_system_prompt"}).AddRow(nil))
	mock.ExpectQuery(`INSERT INTO extractions`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "original_content", "extracted_data", "content_hash", "source_url", "created_at"}).
			AddRow(int64(11), int64(1), "Alan lève 50M€", []byte(`{"Société":"Alan"}`), "h", "https://example.com/news/1", time.Now()))

	h := &WordPressHandler{Pipeline: eh.Pipeline, Config: config.WordPressConfig{Timeout: 5 * time.Second}}

	body := fmt.Sprintf(`{"base_domain": %q, "use_subdirectory": true, "site": "news", "post_ids": [1, 2]}`, wpSrv.URL)
	req := httptest.NewRequest(http.MethodPost, "/api/wordpress/import", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	ctx := newAuthedContext(e, req, rec, 1)

	if err := h.importPosts(ctx); err != nil {
		t.Fatalf("importPosts: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 got %d", rec.Code)
	}
	var out []ImportOutcome
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 outcomes, got %d", len(out))
	}
	if out[0].ExtractionID != 11 || out[0].Error != "" {
		t.Fatalf("post 1 outcome: %+v", out[0])
	}
	if out[1].Error == "" || out[1].ExtractionID != 0 {
		t.Fatalf("post 2 should have failed: %+v", out[1])
	}
}

func TestImportPostsValidation(t *testing.T) {
	e := echo.New()
	eh, _ := newHandlerEnv(t, &stubExtractor{})
	h := &WordPressHandler{Pipeline: eh.Pipeline, Config: config.WordPressConfig{}}

	req := httptest.NewRequest(http.MethodPost, "/api/wordpress/import", strings.NewReader(`{"site": "news"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	ctx := newAuthedContext(e, req, rec, 1)

	err := h.importPosts(ctx)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 error, got %#v", err)
	}
}

func TestPostsRequiresSiteParams(t *testing.T) {
	e := echo.New()
	eh, _ := newHandlerEnv(t, &stubExtractor{})
	h := &WordPressHandler{Pipeline: eh.Pipeline}

	req := httptest.NewRequest(http.MethodPost, "/api/wordpress/posts", strings.NewReader(`{"site": "news"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	ctx := newAuthedContext(e, req, rec, 1)

	err := h.posts(ctx)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 error, got %#v", err)
	}
}

func TestPostsForwardsFilters(t *testing.T) {
	e := echo.New()

	wpSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("search") != "levée" || q.Get("categories") != "3,7" || q.Get("page") != "2" {
			t.Errorf("filters not forwarded: %v", q)
		}
		w.Header().Set("X-WP-Total", "1")
		w.Header().Set("X-WP-TotalPages", "1")
		w.Write([]byte(`[]`))
	}))
	defer wpSrv.Close()

	eh, _ := newHandlerEnv(t, &stubExtractor{})
	h := &WordPressHandler{Pipeline: eh.Pipeline, Config: config.WordPressConfig{Timeout: 5 * time.Second}}

	body := fmt.Sprintf(`{"base_domain": %q, "use_subdirectory": true, "site": "news",
		"search": "levée", "categories": [3, 7], "page": 2}`, wpSrv.URL)
	req := httptest.NewRequest(http.MethodPost, "/api/wordpress/posts", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	ctx := newAuthedContext(e, req, rec, 1)

	if err := h.posts(ctx); err != nil {
		t.Fatalf("posts: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 got %d", rec.Code)
	}
}
