// Package presidio is a client for the Presidio analyzer REST API, used as
// the PII span detector behind the anonymizer.
package presidio

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"counsel/internal/privacy"
	"counsel/internal/textutil"
)

const defaultTimeout = 30 * time.Second

// DefaultEntities is the entity set requested when none is configured.
var DefaultEntities = []string{"PERSON", "PHONE_NUMBER", "EMAIL_ADDRESS", "LOCATION"}

// Config captures the analyzer endpoint and request defaults.
type Config struct {
	BaseURL        string
	Language       string
	Entities       []string
	ScoreThreshold float64
	TimeoutSeconds int
}

// Client calls the analyzer service.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// NewClient constructs an analyzer client.
func NewClient(cfg Config, opts ...Option) *Client {
	timeout := defaultTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if strings.TrimSpace(cfg.Language) == "" {
		cfg.Language = "en"
	}
	if len(cfg.Entities) == 0 {
		cfg.Entities = DefaultEntities
	}
	c := &Client{cfg: cfg, httpClient: &http.Client{Timeout: timeout}}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type analyzeRequest struct {
	Text           string   `json:"text"`
	Language       string   `json:"language"`
	Entities       []string `json:"entities,omitempty"`
	ScoreThreshold float64  `json:"score_threshold,omitempty"`
}

type recognizerResult struct {
	EntityType string  `json:"entity_type"`
	Start      int     `json:"start"`
	End        int     `json:"end"`
	Score      float64 `json:"score"`
}

// Detect implements privacy.Detector. The analyzer reports code point
// offsets, which are used as rune offsets unchanged.
func (c *Client) Detect(ctx context.Context, text string) ([]privacy.Span, error) {
	if c.cfg.BaseURL == "" {
		return nil, errors.New("presidio analyze: base url required")
	}
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	endpoint, err := url.JoinPath(c.cfg.BaseURL, "analyze")
	if err != nil {
		return nil, fmt.Errorf("presidio analyze: build url: %w", err)
	}
	body, err := json.Marshal(analyzeRequest{
		Text:           text,
		Language:       c.cfg.Language,
		Entities:       c.cfg.Entities,
		ScoreThreshold: c.cfg.ScoreThreshold,
	})
	if err != nil {
		return nil, fmt.Errorf("presidio analyze: encode body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("presidio analyze: new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("presidio analyze: %w", err)
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("presidio analyze: read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("presidio analyze: http %d: %s", resp.StatusCode, textutil.Snippet(string(payload), 200))
	}
	var results []recognizerResult
	if err := json.Unmarshal(payload, &results); err != nil {
		return nil, fmt.Errorf("presidio analyze: decode response: %w", err)
	}
	spans := make([]privacy.Span, 0, len(results))
	for _, r := range results {
		spans = append(spans, privacy.Span{Entity: r.EntityType, Start: r.Start, End: r.End, Score: r.Score})
	}
	return spans, nil
}

// HealthCheck calls the analyzer health endpoint.
func (c *Client) HealthCheck(ctx context.Context) error {
	if c.cfg.BaseURL == "" {
		return errors.New("presidio health: base url required")
	}
	endpoint, err := url.JoinPath(c.cfg.BaseURL, "health")
	if err != nil {
		return fmt.Errorf("presidio health: build url: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("presidio health: new request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("presidio health: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("presidio health: http %d", resp.StatusCode)
	}
	return nil
}
