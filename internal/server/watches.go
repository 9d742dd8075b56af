package server

import (
	"database/sql"
	"errors"
	"net/http"

	"github.com/gorhill/cronexpr"
	"github.com/labstack/echo/v4"

	"github.com/amarchal/fundscan/internal/runtime"
	"github.com/amarchal/fundscan/internal/store"
)

// WatchesHandler manages recurring WordPress searches. Each watch is
// evaluated by the scheduler against its cron spec.
type WatchesHandler struct {
	Store *store.Store
}

func (h *WatchesHandler) Register(g *echo.Group, secret []byte) {
	g.Use(runtime.EchoAuthMiddleware(secret))
	g.GET("", h.list)
	g.POST("", h.create)
	g.DELETE("/:id", h.remove)
}

func (h *WatchesHandler) list(c echo.Context) error {
	userID, ok := runtime.UserID(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	rows, err := h.Store.ListWatches(c.Request().Context(), userID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, rows)
}

func (h *WatchesHandler) create(c echo.Context) error {
	userID, ok := runtime.UserID(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	var req WatchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.BaseDomain == "" || req.Site == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "base_domain and site are required")
	}
	if req.CronSpec == "" {
		req.CronSpec = "@daily"
	}
	if req.CronSpec != "@daily" && req.CronSpec != "@hourly" {
		if _, err := cronexpr.Parse(req.CronSpec); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid cron expression")
		}
	}

	w := store.Watch{
		UserID:          userID,
		BaseDomain:      req.BaseDomain,
		UseSubdirectory: req.UseSubdirectory,
		Site:            req.Site,
		Search:          req.Search,
		CronSpec:        req.CronSpec,
	}
	id, err := h.Store.CreateWatch(c.Request().Context(), w)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	w.ID = id
	return c.JSON(http.StatusCreated, w)
}

func (h *WatchesHandler) remove(c echo.Context) error {
	userID, ok := runtime.UserID(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	if err := h.Store.DeleteWatch(c.Request().Context(), userID, c.Param("id")); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return echo.NewHTTPError(http.StatusNotFound, "not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}
