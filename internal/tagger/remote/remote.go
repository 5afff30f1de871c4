// Package remote implements the Tagger interface against an HTTP
// sequence-tagging service (typically a fine-tuned BERT token classifier).
//
// Request:  POST {"text": "..."}
// Response: {"tokens": ["客", "厅", ...], "tags": ["B-LOCATION", "I-LOCATION", ...]}
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/nadzzz/homenlu/internal/config"
	"github.com/nadzzz/homenlu/internal/tagger"
)

// Tagger calls a remote tagging endpoint.
type Tagger struct {
	endpoint string
	token    string
	client   *http.Client
}

// New creates a remote tagger from config.
func New(cfg config.RemoteTaggerConfig) *Tagger {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Tagger{
		endpoint: cfg.Endpoint,
		token:    cfg.Token,
		client:   &http.Client{Timeout: timeout},
	}
}

// Name returns the backend identifier.
func (t *Tagger) Name() string { return "remote" }

// Tag sends text to the tagging service.
func (t *Tagger) Tag(ctx context.Context, text string) (*tagger.Result, error) {
	if text == "" {
		return nil, tagger.ErrEmptyText
	}

	bodyBytes, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return nil, fmt.Errorf("marshalling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if t.token != "" {
		req.Header.Set("Authorization", "Bearer "+t.token)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tagging request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("tagging failed (status %d): %s", resp.StatusCode, respBody)
	}

	var result tagger.Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding tagging response: %w", err)
	}

	slog.Debug("remote tagging complete", "tokens", len(result.Tokens), "tags", len(result.Tags))
	return &result, nil
}

// Close releases idle connections.
func (t *Tagger) Close() error {
	t.client.CloseIdleConnections()
	return nil
}
