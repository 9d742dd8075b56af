package server

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/amarchal/fundscan/internal/prompt"
	"github.com/amarchal/fundscan/internal/runtime"
	"github.com/amarchal/fundscan/internal/store"
)

// PromptHandler exposes the per-user system prompt. An empty PUT resets
// the user to the default prompt.
type PromptHandler struct {
	Store   *store.Store
	Prompts *prompt.Resolver
}

func (h *PromptHandler) Register(g *echo.Group, secret []byte) {
	g.Use(runtime.EchoAuthMiddleware(secret))
	g.GET("", h.get)
	g.PUT("", h.put)
}

func (h *PromptHandler) get(c echo.Context) error {
	userID, ok := runtime.UserID(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	custom, err := h.Store.GetUserPrompt(c.Request().Context(), userID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if custom != "" {
		return c.JSON(http.StatusOK, PromptResponse{Prompt: custom})
	}
	def, err := h.Prompts.Default()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, PromptResponse{Prompt: def, Default: true})
}

func (h *PromptHandler) put(c echo.Context) error {
	userID, ok := runtime.UserID(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	var req PromptRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.Store.UpdateUserPrompt(c.Request().Context(), userID, req.Prompt); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusOK)
}
