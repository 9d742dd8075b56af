// Package prompt resolves the system prompt used for extraction: the
// user's stored override when present, otherwise the platform default
// read from disk. Consumers receive a resolved string and stay indifferent
// to its provenance.
package prompt

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/amarchal/fundscan/internal/store"
)

var ErrEmptyPrompt = errors.New("system prompt is empty")

// Resolver picks the effective system prompt for a user.
type Resolver struct {
	Store       *store.Store
	DefaultPath string
}

// Resolve returns the user's custom prompt when set, else the default
// prompt file contents.
func (r *Resolver) Resolve(ctx context.Context, userID int64) (string, error) {
	custom, err := r.Store.GetUserPrompt(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("load user prompt: %w", err)
	}
	if strings.TrimSpace(custom) != "" {
		return custom, nil
	}
	return r.Default()
}

// ResolveFor is Resolve for an already-loaded user row, sparing a query.
func (r *Resolver) ResolveFor(u store.User) (string, error) {
	if strings.TrimSpace(u.CustomSystemPrompt) != "" {
		return u.CustomSystemPrompt, nil
	}
	return r.Default()
}

// Default reads the platform prompt file.
func (r *Resolver) Default() (string, error) {
	b, err := os.ReadFile(r.DefaultPath)
	if err != nil {
		return "", fmt.Errorf("read prompt file %s: %w", r.DefaultPath, err)
	}
	if strings.TrimSpace(string(b)) == "" {
		return "", ErrEmptyPrompt
	}
	return string(b), nil
}
