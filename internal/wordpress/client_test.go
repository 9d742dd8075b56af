package wordpress

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

func newTestClient(handler http.Handler) (*Client, *httptest.Server) {
	srv := httptest.NewServer(handler)
	c := NewClient(srv.URL, true, "", "", 5*time.Second, nil)
	return c, srv
}

func TestSiteURLShapes(t *testing.T) {
	sub := NewClient("example.com", false, "", "", 0, nil)
	if got := sub.SiteURL("tech"); got != "https://tech.example.com" {
		t.Fatalf("subdomain url = %q", got)
	}
	dir := NewClient("example.com", true, "", "", 0, nil)
	if got := dir.SiteURL("tech"); got != "https://example.com/tech" {
		t.Fatalf("subdirectory url = %q", got)
	}
}

func TestGetPostsFlattensAndPaginates(t *testing.T) {
	c, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/wp-json/wp/v2/posts") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("per_page"); got != "100" {
			t.Errorf("per_page = %q, want capped at 100", got)
		}
		if got := r.URL.Query().Get("search"); got != "levée" {
			t.Errorf("search = %q", got)
		}
		w.Header().Set("X-WP-Total", "42")
		w.Header().Set("X-WP-TotalPages", "3")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[
			{"id": 7, "title": {"rendered": "Levée de fonds"}, "content": {"rendered": "<p>Corps</p>"},
			 "date": "2025-03-01T10:00:00", "link": "https://example.com/news/7", "status": "publish",
			 "_embedded": {"author": [{"name": "A. Martin"}],
			              "wp:term": [[{"name": "Finance"}, {"name": "Startups"}]]}},
			{"id": 8, "title": {"rendered": ""}, "content": {"rendered": ""}}
		]`))
	}))
	defer srv.Close()

	page, err := c.GetPosts(context.Background(), "news", PostsQuery{PerPage: 500, Search: "levée"})
	if err != nil {
		t.Fatalf("GetPosts: %v", err)
	}
	if page.TotalPosts != 42 || page.TotalPages != 3 || page.CurrentPage != 1 {
		t.Fatalf("pagination = %+v", page)
	}
	if len(page.Posts) != 2 {
		t.Fatalf("got %d posts", len(page.Posts))
	}
	p := page.Posts[0]
	if p.Title != "Levée de fonds" || p.Author != "A. Martin" {
		t.Fatalf("flattened post = %+v", p)
	}
	if len(p.Categories) != 2 || p.Categories[0] != "Finance" {
		t.Fatalf("categories = %v", p.Categories)
	}
	if page.Posts[1].Title != "Sans titre" || page.Posts[1].Author != "Inconnu" {
		t.Fatalf("defaults not applied: %+v", page.Posts[1])
	}
}

func TestGetPostsErrorStatus(t *testing.T) {
	c, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	if _, err := c.GetPosts(context.Background(), "news", PostsQuery{}); err == nil {
		t.Fatal("expected error on 403")
	}
}

func TestBasicAuthHeader(t *testing.T) {
	var gotUser, gotPass string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser, gotPass, _ = r.BasicAuth()
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, true, "editor", "s3cret", time.Second, nil)
	if _, err := c.GetPosts(context.Background(), "news", PostsQuery{}); err != nil {
		t.Fatalf("GetPosts: %v", err)
	}
	if gotUser != "editor" || gotPass != "s3cret" {
		t.Fatalf("basic auth = %q/%q", gotUser, gotPass)
	}
}

func TestTestConnection(t *testing.T) {
	c, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	status := c.TestConnection(context.Background(), "news")
	if !status.Success || status.StatusCode != 200 {
		t.Fatalf("status = %+v", status)
	}

	srv.Close()
	status = c.TestConnection(context.Background(), "news")
	if status.Success {
		t.Fatal("expected failure after server shutdown")
	}
}

type mapCache struct {
	mu sync.Mutex
	m  map[string]string
}

func (c *mapCache) Get(_ context.Context, key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.m[key]
	return v, ok
}

func (c *mapCache) Set(_ context.Context, key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[key] = value
}

func TestCategoryCacheSkipsSecondFetch(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Write([]byte(`[{"id": 1, "name": "Finance", "count": 12}]`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, true, "", "", time.Second, &mapCache{m: map[string]string{}})
	for i := 0; i < 3; i++ {
		cats, err := c.GetCategories(context.Background(), "news")
		if err != nil {
			t.Fatalf("GetCategories: %v", err)
		}
		if len(cats) != 1 || cats[0].Name != "Finance" {
			t.Fatalf("categories = %+v", cats)
		}
	}
	if hits != 1 {
		t.Fatalf("server hit %d times, want 1", hits)
	}
}

func TestStripHTML(t *testing.T) {
	in := `<p>Montant&nbsp;: <strong>5M&euro;</strong></p><script>alert(1)</script>
	<p>Tour de   série A</p>`
	got := StripHTML(in)
	if strings.Contains(got, "alert") {
		t.Fatalf("script survived: %q", got)
	}
	if !strings.Contains(got, "5M€") {
		t.Fatalf("entity not decoded: %q", got)
	}
	if strings.Contains(got, "  ") {
		t.Fatalf("whitespace not collapsed: %q", got)
	}
}
