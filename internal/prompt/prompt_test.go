package prompt

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/amarchal/fundscan/internal/store"
)

func writePromptFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "system_prompt.txt")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write prompt file: %v", err)
	}
	return path
}

func TestResolveForPrefersCustomPrompt(t *testing.T) {
	r := &Resolver{DefaultPath: writePromptFile(t, "défaut")}
	got, err := r.ResolveFor(store.User{CustomSystemPrompt: "mon prompt"})
	if err != nil {
		t.Fatalf("ResolveFor: %v", err)
	}
	if got != "mon prompt" {
		t.Fatalf("expected custom prompt, got %q", got)
	}
}

func TestResolveForFallsBackToFile(t *testing.T) {
	r := &Resolver{DefaultPath: writePromptFile(t, "défaut")}
	got, err := r.ResolveFor(store.User{CustomSystemPrompt: "   "})
	if err != nil {
		t.Fatalf("ResolveFor: %v", err)
	}
	if got != "défaut" {
		t.Fatalf("expected default prompt, got %q", got)
	}
}

func TestDefaultEmptyFile(t *testing.T) {
	r := &Resolver{DefaultPath: writePromptFile(t, "  \n")}
	if _, err := r.Default(); !errors.Is(err, ErrEmptyPrompt) {
		t.Fatalf("expected ErrEmptyPrompt, got %v", err)
	}
}

func TestDefaultMissingFile(t *testing.T) {
	r := &Resolver{DefaultPath: filepath.Join(t.TempDir(), "absent.txt")}
	if _, err := r.Default(); err == nil {
		t.Fatal("expected error for missing file")
	}
}
