// Package wordpress is a REST client for WordPress multisite
// installations. Sites are addressed either as subdomains
// (tech.example.com) or subdirectories (example.com/tech); raw API posts
// are flattened into a simplified record before they reach the extraction
// pipeline.
package wordpress

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client talks to the wp-json/wp/v2 API of one multisite installation.
type Client struct {
	BaseDomain      string
	UseSubdirectory bool
	AuthUser        string
	AuthPass        string

	httpClient *http.Client
	cache      Cache
}

// Post is a flattened WordPress article.
type Post struct {
	ID            int      `json:"id"`
	Title         string   `json:"title"`
	Content       string   `json:"content"`
	Excerpt       string   `json:"excerpt"`
	Date          string   `json:"date"`
	Modified      string   `json:"modified"`
	Link          string   `json:"link"`
	Author        string   `json:"author"`
	Categories    []string `json:"categories"`
	FeaturedImage string   `json:"featured_image,omitempty"`
	Status        string   `json:"status"`
}

// PostsPage is one page of results plus pagination totals from the
// X-WP-Total / X-WP-TotalPages headers.
type PostsPage struct {
	Posts       []Post `json:"posts"`
	TotalPages  int    `json:"total_pages"`
	TotalPosts  int    `json:"total_posts"`
	CurrentPage int    `json:"current_page"`
}

// Category is a site category with its post count.
type Category struct {
	ID    int    `json:"id"`
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// PostsQuery narrows a posts listing.
type PostsQuery struct {
	PerPage    int
	Page       int
	Search     string
	Categories []int
	After      string // ISO 8601
	Before     string // ISO 8601
}

// ConnectionStatus reports the outcome of a connectivity probe.
type ConnectionStatus struct {
	Success    bool   `json:"success"`
	Message    string `json:"message"`
	URL        string `json:"url"`
	StatusCode int    `json:"status_code,omitempty"`
}

// NewClient builds a connector for one multisite installation. cache may
// be nil to disable response caching.
func NewClient(baseDomain string, useSubdirectory bool, authUser, authPass string, timeout time.Duration, cache Cache) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		BaseDomain:      strings.TrimRight(baseDomain, "/"),
		UseSubdirectory: useSubdirectory,
		AuthUser:        authUser,
		AuthPass:        authPass,
		httpClient:      &http.Client{Timeout: timeout},
		cache:           cache,
	}
}

// SiteURL returns the root URL for one site of the multisite. A scheme
// already present on BaseDomain is kept, otherwise https is assumed.
func (c *Client) SiteURL(site string) string {
	domain := c.BaseDomain
	scheme := "https"
	if i := strings.Index(domain, "://"); i >= 0 {
		scheme = domain[:i]
		domain = domain[i+3:]
	}
	if c.UseSubdirectory {
		return fmt.Sprintf("%s://%s/%s", scheme, domain, site)
	}
	return fmt.Sprintf("%s://%s.%s", scheme, site, domain)
}

// raw API shapes

type rendered struct {
	Rendered string `json:"rendered"`
}

type rawPost struct {
	ID       int      `json:"id"`
	Title    rendered `json:"title"`
	Content  rendered `json:"content"`
	Excerpt  rendered `json:"excerpt"`
	Date     string   `json:"date"`
	Modified string   `json:"modified"`
	Link     string   `json:"link"`
	Status   string   `json:"status"`
	Embedded struct {
		Author []struct {
			Name string `json:"name"`
		} `json:"author"`
		FeaturedMedia []struct {
			SourceURL string `json:"source_url"`
		} `json:"wp:featuredmedia"`
		Terms [][]struct {
			Name string `json:"name"`
		} `json:"wp:term"`
	} `json:"_embedded"`
}

func flattenPost(p rawPost) Post {
	out := Post{
		ID:       p.ID,
		Title:    p.Title.Rendered,
		Content:  p.Content.Rendered,
		Excerpt:  p.Excerpt.Rendered,
		Date:     p.Date,
		Modified: p.Modified,
		Link:     p.Link,
		Author:   "Inconnu",
		Status:   p.Status,
	}
	if out.Title == "" {
		out.Title = "Sans titre"
	}
	if out.Status == "" {
		out.Status = "publish"
	}
	if len(p.Embedded.Author) > 0 && p.Embedded.Author[0].Name != "" {
		out.Author = p.Embedded.Author[0].Name
	}
	if len(p.Embedded.FeaturedMedia) > 0 {
		out.FeaturedImage = p.Embedded.FeaturedMedia[0].SourceURL
	}
	if len(p.Embedded.Terms) > 0 {
		for _, term := range p.Embedded.Terms[0] {
			out.Categories = append(out.Categories, term.Name)
		}
	}
	return out
}

// GetPosts lists posts for one site with pagination, search, category and
// date filters. WordPress caps per_page at 100.
func (c *Client) GetPosts(ctx context.Context, site string, q PostsQuery) (PostsPage, error) {
	if q.PerPage <= 0 {
		q.PerPage = 20
	}
	if q.PerPage > 100 {
		q.PerPage = 100
	}
	if q.Page <= 0 {
		q.Page = 1
	}

	params := url.Values{}
	params.Set("per_page", strconv.Itoa(q.PerPage))
	params.Set("page", strconv.Itoa(q.Page))
	params.Set("_embed", "true")
	if q.Search != "" {
		params.Set("search", q.Search)
	}
	if len(q.Categories) > 0 {
		ids := make([]string, len(q.Categories))
		for i, id := range q.Categories {
			ids[i] = strconv.Itoa(id)
		}
		params.Set("categories", strings.Join(ids, ","))
	}
	if q.After != "" {
		params.Set("after", q.After)
	}
	if q.Before != "" {
		params.Set("before", q.Before)
	}

	apiURL := c.SiteURL(site) + "/wp-json/wp/v2/posts?" + params.Encode()

	var page PostsPage
	if c.cacheGet(ctx, apiURL, &page) {
		return page, nil
	}

	body, header, err := c.get(ctx, apiURL)
	if err != nil {
		return PostsPage{}, err
	}
	var raws []rawPost
	if err := json.Unmarshal(body, &raws); err != nil {
		return PostsPage{}, fmt.Errorf("decode posts: %w", err)
	}

	page = PostsPage{CurrentPage: q.Page, TotalPages: 1}
	if v, err := strconv.Atoi(header.Get("X-WP-TotalPages")); err == nil {
		page.TotalPages = v
	}
	if v, err := strconv.Atoi(header.Get("X-WP-Total")); err == nil {
		page.TotalPosts = v
	}
	for _, rp := range raws {
		page.Posts = append(page.Posts, flattenPost(rp))
	}

	c.cacheSet(ctx, apiURL, page)
	return page, nil
}

// GetPost fetches a single post by id.
func (c *Client) GetPost(ctx context.Context, site string, postID int) (Post, error) {
	apiURL := fmt.Sprintf("%s/wp-json/wp/v2/posts/%d?_embed=true", c.SiteURL(site), postID)
	body, _, err := c.get(ctx, apiURL)
	if err != nil {
		return Post{}, err
	}
	var rp rawPost
	if err := json.Unmarshal(body, &rp); err != nil {
		return Post{}, fmt.Errorf("decode post: %w", err)
	}
	return flattenPost(rp), nil
}

// GetCategories lists the categories available on one site.
func (c *Client) GetCategories(ctx context.Context, site string) ([]Category, error) {
	apiURL := c.SiteURL(site) + "/wp-json/wp/v2/categories?per_page=100"

	var cats []Category
	if c.cacheGet(ctx, apiURL, &cats) {
		return cats, nil
	}

	body, _, err := c.get(ctx, apiURL)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(body, &cats); err != nil {
		return nil, fmt.Errorf("decode categories: %w", err)
	}
	c.cacheSet(ctx, apiURL, cats)
	return cats, nil
}

// TestConnection probes the wp-json root of one site.
func (c *Client) TestConnection(ctx context.Context, site string) ConnectionStatus {
	apiURL := c.SiteURL(site) + "/wp-json/wp/v2"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return ConnectionStatus{Message: err.Error(), URL: apiURL}
	}
	c.setAuth(req)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return ConnectionStatus{
			Message: fmt.Sprintf("impossible de se connecter à %s: %v", c.SiteURL(site), err),
			URL:     apiURL,
		}
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusOK {
		return ConnectionStatus{Success: true, Message: "connexion réussie", URL: apiURL, StatusCode: resp.StatusCode}
	}
	return ConnectionStatus{
		Message:    fmt.Sprintf("erreur HTTP %d", resp.StatusCode),
		URL:        apiURL,
		StatusCode: resp.StatusCode,
	}
}

func (c *Client) get(ctx context.Context, apiURL string) ([]byte, http.Header, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return nil, nil, err
	}
	c.setAuth(req)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("wordpress request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, nil, fmt.Errorf("wordpress returned status %d: %s", resp.StatusCode, string(b))
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("read wordpress response: %w", err)
	}
	return body, resp.Header, nil
}

func (c *Client) setAuth(req *http.Request) {
	if c.AuthUser != "" && c.AuthPass != "" {
		req.SetBasicAuth(c.AuthUser, c.AuthPass)
	}
}

func (c *Client) cacheGet(ctx context.Context, key string, out interface{}) bool {
	if c.cache == nil {
		return false
	}
	raw, ok := c.cache.Get(ctx, key)
	if !ok {
		return false
	}
	return json.Unmarshal([]byte(raw), out) == nil
}

func (c *Client) cacheSet(ctx context.Context, key string, v interface{}) {
	if c.cache == nil {
		return
	}
	if b, err := json.Marshal(v); err == nil {
		c.cache.Set(ctx, key, string(b))
	}
}
