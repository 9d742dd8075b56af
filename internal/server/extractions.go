package server

import (
	"database/sql"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	readability "github.com/go-shiori/go-readability"
	"github.com/labstack/echo/v4"

	"github.com/amarchal/fundscan/internal/extract"
	"github.com/amarchal/fundscan/internal/runtime"
	"github.com/amarchal/fundscan/internal/store"
)

// ExtractionsHandler exposes the analyze endpoint and the extraction
// history (list, detail, search, CSV export).
type ExtractionsHandler struct {
	*Pipeline
	HTTPClient *http.Client
}

func (h *ExtractionsHandler) Register(g *echo.Group, secret []byte) {
	g.Use(runtime.EchoAuthMiddleware(secret))
	g.POST("", h.analyze)
	g.POST("/from-url", h.fromURL)
	g.GET("", h.list)
	g.GET("/search", h.search)
	g.GET("/export", h.exportCSV)
	g.GET("/:id", h.get)
}

func (h *ExtractionsHandler) analyze(c echo.Context) error {
	userID, ok := runtime.UserID(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	var req AnalyzeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.Content) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "content is required")
	}
	rec, err := h.Process(c.Request().Context(), userID, req.Content, req.SourceURL)
	if err != nil {
		return extractionError(err)
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *ExtractionsHandler) fromURL(c echo.Context) error {
	userID, ok := runtime.UserID(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	var req FromURLRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	pageURL, err := url.ParseRequestURI(req.URL)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid url")
	}

	httpClient := h.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	httpReq, err := http.NewRequestWithContext(c.Request().Context(), http.MethodGet, req.URL, nil)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	resp, err := httpClient.Do(httpReq)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, fmt.Sprintf("fetch %s: %v", req.URL, err))
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return echo.NewHTTPError(http.StatusBadGateway, fmt.Sprintf("fetch %s: status %d", req.URL, resp.StatusCode))
	}

	article, err := readability.FromReader(io.LimitReader(resp.Body, 4<<20), pageURL)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, fmt.Sprintf("readability: %v", err))
	}
	content := strings.TrimSpace(article.TextContent)
	if content == "" {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, "no readable content on page")
	}

	rec, err := h.Process(c.Request().Context(), userID, content, &req.URL)
	if err != nil {
		return extractionError(err)
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *ExtractionsHandler) list(c echo.Context) error {
	userID, ok := runtime.UserID(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	rows, err := h.Store.ListExtractions(c.Request().Context(), userID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, rows)
}

func (h *ExtractionsHandler) get(c echo.Context) error {
	userID, ok := runtime.UserID(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	rec, err := h.Store.GetExtraction(c.Request().Context(), userID, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return echo.NewHTTPError(http.StatusNotFound, "not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *ExtractionsHandler) search(c echo.Context) error {
	userID, ok := runtime.UserID(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	q := strings.TrimSpace(c.QueryParam("q"))
	if q == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "q is required")
	}
	limit, _ := strconv.Atoi(c.QueryParam("limit"))

	hits, err := h.Search.Search(userID, q, limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	out := make([]SearchResult, 0, len(hits))
	for _, hit := range hits {
		rec, err := h.Store.GetExtraction(c.Request().Context(), userID, hit.ExtractionID)
		if err != nil {
			// index may be ahead of or behind the table, skip strays
			continue
		}
		out = append(out, SearchResult{Score: hit.Score, Extraction: rec})
	}
	return c.JSON(http.StatusOK, out)
}

// exportCSV streams the user's history as CSV. Columns are the union of
// all keys seen across extractions, sorted, after the fixed columns.
func (h *ExtractionsHandler) exportCSV(c echo.Context) error {
	userID, ok := runtime.UserID(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	rows, err := h.Store.ListExtractions(c.Request().Context(), userID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	keys := collectKeys(rows)
	header := append([]string{"id", "created_at", "source_url", "content_hash"}, keys...)
	header = append(header, "extracted_data")

	c.Response().Header().Set(echo.HeaderContentType, "text/csv; charset=utf-8")
	c.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="extractions.csv"`)
	c.Response().WriteHeader(http.StatusOK)

	w := csv.NewWriter(c.Response())
	if err := w.Write(header); err != nil {
		return err
	}
	for _, rec := range rows {
		fields, err := extract.ParseObject(string(rec.ExtractedData))
		if err != nil {
			fields = extract.Result{}
		}
		row := []string{
			strconv.FormatInt(rec.ID, 10),
			rec.CreatedAt.Format(time.RFC3339),
			derefOr(rec.SourceURL, ""),
			rec.ContentHash,
		}
		for _, k := range keys {
			row = append(row, stringify(fields[k]))
		}
		row = append(row, string(rec.ExtractedData))
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func collectKeys(rows []store.Extraction) []string {
	seen := map[string]struct{}{}
	for _, rec := range rows {
		fields, err := extract.ParseObject(string(rec.ExtractedData))
		if err != nil {
			continue
		}
		for k := range fields {
			seen[k] = struct{}{}
		}
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func extractionError(err error) error {
	switch {
	case errors.Is(err, extract.ErrTransport):
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	case errors.Is(err, extract.ErrMalformedOutput):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

func derefOr(s *string, def string) string {
	if s == nil {
		return def
	}
	return *s
}

func stringify(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}
