// Package extract talks to an OpenAI-compatible chat-completion endpoint
// and pulls a JSON object out of the model's free-form reply. Malformed
// replies are fed back to the model with a correction instruction for a
// bounded number of repair round-trips.
package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/amarchal/fundscan/config"
	"github.com/amarchal/fundscan/internal/telemetry"
)

// Transport failures are never retried; malformed output is retried up to
// the configured budget. Callers treat both as "no result".
var (
	ErrTransport       = errors.New("llm transport failure")
	ErrMalformedOutput = errors.New("llm returned no parseable JSON object")
)

// Result is the schema-free extraction payload. The contract with the LLM
// is "a valid JSON object", not a specific shape; downstream consumers read
// optional keys defensively.
type Result map[string]interface{}

// Message represents a message in a conversation
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// request represents a request to the chat-completion API
type request struct {
	Model       string    `json:"model,omitempty"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Stream      bool      `json:"stream"`
}

// response represents a response from the chat-completion API
type response struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

const repairInstruction = "Votre réponse précédente n'était pas un JSON valide. " +
	"Veuillez corriger le format et ne renvoyer que le JSON corrigé, sans texte supplémentaire."

// Client issues extraction requests against a configured LLM endpoint.
type Client struct {
	url         string
	apiKey      string
	model       string
	temperature float64
	maxTokens   int
	maxRetries  int
	httpClient  *http.Client
	logger      *log.Logger
	metrics     *telemetry.Metrics
}

// NewClient creates an extraction client from the LLM config. metrics may
// be nil.
func NewClient(cfg config.LLMConfig, logger *log.Logger, metrics *telemetry.Metrics) *Client {
	if logger == nil {
		logger = log.New(log.Writer(), "[LLM] ", log.LstdFlags)
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = time.Minute
	}
	return &Client{
		url:         cfg.URL,
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		maxRetries:  cfg.MaxRetries,
		httpClient:  &http.Client{Timeout: timeout},
		logger:      logger,
		metrics:     metrics,
	}
}

// Extract sends articleText to the LLM and returns the first JSON object
// found in its reply. The conversation is seeded with systemPrompt and the
// article; each malformed reply is appended to the history together with a
// correction instruction and the whole history is re-sent, up to MaxRetries
// repair attempts. Transport errors fail immediately without retrying.
func (c *Client) Extract(ctx context.Context, systemPrompt, articleText string) (Result, error) {
	history := []Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: articleText},
	}

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		raw, err := c.sendRequest(ctx, history)
		if err != nil {
			if c.metrics != nil {
				c.metrics.ExtractionFailures.WithLabelValues("transport").Inc()
			}
			c.logger.Printf("transport error talking to %s: %v", c.url, err)
			return nil, fmt.Errorf("%w: %v", ErrTransport, err)
		}

		result, perr := ParseObject(raw)
		if perr == nil {
			if c.metrics != nil {
				c.metrics.Extractions.Inc()
			}
			return result, nil
		}

		c.logger.Printf("attempt %d: no valid JSON in reply: %v", attempt+1, perr)
		if attempt < c.maxRetries {
			if c.metrics != nil {
				c.metrics.RepairAttempts.Inc()
			}
			history = append(history,
				Message{Role: "assistant", Content: raw},
				Message{Role: "user", Content: repairInstruction},
			)
		}
	}

	if c.metrics != nil {
		c.metrics.ExtractionFailures.WithLabelValues("malformed").Inc()
	}
	c.logger.Printf("extraction failed after %d attempts", c.maxRetries+1)
	return nil, ErrMalformedOutput
}

// sendRequest sends one chat-completion request with the full history.
func (c *Client) sendRequest(ctx context.Context, messages []Message) (string, error) {
	requestBody := request{
		Model:       c.model,
		Messages:    messages,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
		Stream:      false,
	}

	jsonData, err := json.Marshal(requestBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	if c.metrics != nil {
		c.metrics.LLMRequests.Inc()
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("API returned status %d: %s", resp.StatusCode, string(b))
	}

	var apiResp response
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	if len(apiResp.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}
	return apiResp.Choices[0].Message.Content, nil
}
