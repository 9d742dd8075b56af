package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/amarchal/fundscan/config"
	"github.com/amarchal/fundscan/internal/runtime"
	"github.com/amarchal/fundscan/internal/wordpress"
)

// WordPressHandler browses a multisite installation and imports posts
// into the extraction pipeline. The target installation is named per
// request; credentials and timeouts come from config.
type WordPressHandler struct {
	Pipeline *Pipeline
	Config   config.WordPressConfig
	Cache    wordpress.Cache
}

func (h *WordPressHandler) Register(g *echo.Group, secret []byte) {
	g.Use(runtime.EchoAuthMiddleware(secret))
	g.POST("/test", h.test)
	g.POST("/posts", h.posts)
	g.POST("/categories", h.categories)
	g.POST("/import", h.importPosts)
}

func (h *WordPressHandler) client(baseDomain string, useSubdirectory bool) *wordpress.Client {
	return wordpress.NewClient(baseDomain, useSubdirectory, h.Config.AuthUser, h.Config.AuthPass, h.Config.Timeout, h.Cache)
}

func (h *WordPressHandler) test(c echo.Context) error {
	var req WordPressSiteRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.BaseDomain == "" || req.Site == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "base_domain and site are required")
	}
	status := h.client(req.BaseDomain, req.UseSubdirectory).TestConnection(c.Request().Context(), req.Site)
	return c.JSON(http.StatusOK, status)
}

func (h *WordPressHandler) posts(c echo.Context) error {
	var req WordPressPostsRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.BaseDomain == "" || req.Site == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "base_domain and site are required")
	}

	q := wordpress.PostsQuery{
		PerPage:    req.PerPage,
		Page:       req.Page,
		Search:     req.Search,
		Categories: req.Categories,
		After:      req.After,
		Before:     req.Before,
	}
	page, err := h.client(req.BaseDomain, req.UseSubdirectory).GetPosts(c.Request().Context(), req.Site, q)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return c.JSON(http.StatusOK, page)
}

func (h *WordPressHandler) categories(c echo.Context) error {
	var req WordPressSiteRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.BaseDomain == "" || req.Site == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "base_domain and site are required")
	}
	cats, err := h.client(req.BaseDomain, req.UseSubdirectory).GetCategories(c.Request().Context(), req.Site)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return c.JSON(http.StatusOK, cats)
}

// importPosts fetches each requested post, strips its HTML and feeds it
// through the extraction pipeline. Failures are reported per post, a bad
// article never aborts the batch.
func (h *WordPressHandler) importPosts(c echo.Context) error {
	userID, ok := runtime.UserID(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	var req WordPressImportRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.BaseDomain == "" || req.Site == "" || len(req.PostIDs) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "base_domain, site and post_ids are required")
	}

	client := h.client(req.BaseDomain, req.UseSubdirectory)
	ctx := c.Request().Context()
	out := make([]ImportOutcome, 0, len(req.PostIDs))
	for _, postID := range req.PostIDs {
		outcome := ImportOutcome{PostID: postID}
		post, err := client.GetPost(ctx, req.Site, postID)
		if err != nil {
			outcome.Error = err.Error()
			out = append(out, outcome)
			continue
		}
		outcome.Title = post.Title
		content := wordpress.StripHTML(post.Content)
		if content == "" {
			outcome.Error = "post has no text content"
			out = append(out, outcome)
			continue
		}
		link := post.Link
		rec, err := h.Pipeline.Process(ctx, userID, content, &link)
		if err != nil {
			outcome.Error = err.Error()
		} else {
			outcome.ExtractionID = rec.ID
		}
		out = append(out, outcome)
	}
	return c.JSON(http.StatusOK, out)
}

// importRecent is the scheduler entry point: pull the latest posts
// matching a saved search and run them through the pipeline.
func (h *WordPressHandler) importRecent(userID int64, baseDomain string, useSubdirectory bool, site, searchTerm string, since *time.Time) (int, error) {
	client := h.client(baseDomain, useSubdirectory)
	ctx := runtime.ContextWithUserID(context.Background(), userID)

	q := wordpress.PostsQuery{Search: searchTerm, PerPage: 50}
	if since != nil {
		q.After = since.UTC().Format("2006-01-02T15:04:05")
	}
	page, err := client.GetPosts(ctx, site, q)
	if err != nil {
		return 0, err
	}
	imported := 0
	for _, post := range page.Posts {
		content := wordpress.StripHTML(post.Content)
		if content == "" {
			continue
		}
		link := post.Link
		if _, err := h.Pipeline.Process(ctx, userID, content, &link); err != nil {
			if h.Pipeline.Logger != nil {
				h.Pipeline.Logger.Printf("import post %d from %s: %v", post.ID, site, err)
			}
			continue
		}
		imported++
	}
	if imported < len(page.Posts) && h.Pipeline.Logger != nil {
		h.Pipeline.Logger.Printf("imported %d/%d posts from %s", imported, len(page.Posts), fmt.Sprintf("%s/%s", baseDomain, site))
	}
	return imported, nil
}
