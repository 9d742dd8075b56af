package extract

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/amarchal/fundscan/config"
)

func chatReply(t *testing.T, w http.ResponseWriter, content string) {
	t.Helper()
	resp := map[string]interface{}{
		"choices": []map[string]interface{}{
			{"message": map[string]string{"role": "assistant", "content": content}},
		},
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		t.Fatalf("encode reply: %v", err)
	}
}

func newTestClient(url string, maxRetries int) *Client {
	return NewClient(config.LLMConfig{
		URL:         url,
		Temperature: 0.1,
		MaxTokens:   2000,
		MaxRetries:  maxRetries,
		Timeout:     5 * time.Second,
	}, nil, nil)
}

func TestExtractFirstTrySuccess(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		chatReply(t, w, `{"Nom_start-up":"Alan","Montant":"50M€"}`)
	}))
	defer srv.Close()

	got, err := newTestClient(srv.URL, 2).Extract(context.Background(), "prompt", "article")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if got["Montant"] != "50M€" {
		t.Fatalf("unexpected result: %v", got)
	}
	if calls != 1 {
		t.Fatalf("expected 1 request, got %d", calls)
	}
}

func TestExtractRetryBudgetExhausted(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		chatReply(t, w, "je ne comprends pas votre demande")
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL, 2).Extract(context.Background(), "prompt", "article")
	if !errors.Is(err, ErrMalformedOutput) {
		t.Fatalf("expected ErrMalformedOutput, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected max_retries+1=3 requests, got %d", calls)
	}
}

func TestExtractRecoversWithinBudget(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			chatReply(t, w, "voici les données : Montant 5M€")
			return
		}
		chatReply(t, w, "```json\n{\"Montant\":\"5M€\"}\n```")
	}))
	defer srv.Close()

	got, err := newTestClient(srv.URL, 2).Extract(context.Background(), "prompt", "article")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if got["Montant"] != "5M€" {
		t.Fatalf("unexpected result: %v", got)
	}
	if calls != 2 {
		t.Fatalf("expected recovery to stop after 2 requests, got %d", calls)
	}
}

func TestExtractRepairResendsFullHistory(t *testing.T) {
	var histories [][]Message
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Messages []Message `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		histories = append(histories, req.Messages)
		if len(histories) == 1 {
			chatReply(t, w, "pas de JSON ici")
			return
		}
		chatReply(t, w, `{"ok":true}`)
	}))
	defer srv.Close()

	if _, err := newTestClient(srv.URL, 2).Extract(context.Background(), "prompt système", "texte article"); err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(histories) != 2 {
		t.Fatalf("expected 2 requests, got %d", len(histories))
	}
	first, second := histories[0], histories[1]
	if len(first) != 2 || first[0].Role != "system" || first[1].Role != "user" {
		t.Fatalf("unexpected seed history: %+v", first)
	}
	if len(second) != 4 {
		t.Fatalf("expected grown history of 4 turns, got %d", len(second))
	}
	if second[2].Role != "assistant" || second[2].Content != "pas de JSON ici" {
		t.Fatalf("malformed reply not appended: %+v", second[2])
	}
	if second[3].Role != "user" || second[3].Content == "" {
		t.Fatalf("correction turn missing: %+v", second[3])
	}
}

func TestExtractTransportFailureShortCircuits(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused from here on

	_, err := newTestClient(srv.URL, 2).Extract(context.Background(), "prompt", "article")
	if !errors.Is(err, ErrTransport) {
		t.Fatalf("expected ErrTransport, got %v", err)
	}
}

func TestExtractHTTPErrorIsTransport(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "upstream overloaded", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL, 2).Extract(context.Background(), "prompt", "article")
	if !errors.Is(err, ErrTransport) {
		t.Fatalf("expected ErrTransport, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("transport failure must not retry, got %d requests", calls)
	}
}

func TestExtractSendsBearerWhenConfigured(t *testing.T) {
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		chatReply(t, w, `{}`)
	}))
	defer srv.Close()

	c := NewClient(config.LLMConfig{URL: srv.URL, APIKey: "sk-test", MaxRetries: 0, Timeout: time.Second}, nil, nil)
	if _, err := c.Extract(context.Background(), "s", "a"); err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if auth != "Bearer sk-test" {
		t.Fatalf("expected bearer header, got %q", auth)
	}
}
