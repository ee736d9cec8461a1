package docparse

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"counsel/internal/textutil"
)

const (
	defaultConvertPath    = "/v1/convert/file"
	defaultSidecarTimeout = 120 * time.Second
)

// SidecarConfig locates the docling-serve instance.
type SidecarConfig struct {
	BaseURL        string
	ConvertPath    string
	APIKey         string
	TimeoutSeconds int
}

// Sidecar converts binary documents to Markdown over HTTP.
type Sidecar struct {
	cfg        SidecarConfig
	httpClient *http.Client
}

// NewSidecar constructs a sidecar client.
func NewSidecar(cfg SidecarConfig, client *http.Client) *Sidecar {
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if strings.TrimSpace(cfg.ConvertPath) == "" {
		cfg.ConvertPath = defaultConvertPath
	}
	if client == nil {
		timeout := defaultSidecarTimeout
		if cfg.TimeoutSeconds > 0 {
			timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &Sidecar{cfg: cfg, httpClient: client}
}

type convertResponse struct {
	Document struct {
		MDContent   string `json:"md_content"`
		TextContent string `json:"text_content"`
	} `json:"document"`
	Status string `json:"status"`
	Errors []any  `json:"errors"`
}

// Convert uploads data and returns the Markdown rendering.
func (s *Sidecar) Convert(ctx context.Context, filename string, data []byte) (string, error) {
	if s.cfg.BaseURL == "" {
		return "", errors.New("sidecar base url required")
	}
	endpoint, err := url.JoinPath(s.cfg.BaseURL, s.cfg.ConvertPath)
	if err != nil {
		return "", fmt.Errorf("build url: %w", err)
	}
	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	if err := form.WriteField("to_formats", "md"); err != nil {
		return "", err
	}
	name := filepath.Base(filename)
	if name == "." || name == "/" || name == "" {
		name = "document.pdf"
	}
	part, err := form.CreateFormFile("files", name)
	if err != nil {
		return "", err
	}
	if _, err := part.Write(data); err != nil {
		return "", err
	}
	if err := form.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", form.FormDataContentType())
	if s.cfg.APIKey != "" {
		req.Header.Set("X-Api-Key", s.cfg.APIKey)
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("convert request: %w", err)
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("convert: http %d: %s", resp.StatusCode, textutil.Snippet(string(payload), 200))
	}
	var decoded convertResponse
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if status := strings.ToLower(decoded.Status); status != "" && status != "success" && status != "partial_success" {
		return "", fmt.Errorf("convert: status %s (%d errors)", decoded.Status, len(decoded.Errors))
	}
	text := decoded.Document.MDContent
	if strings.TrimSpace(text) == "" {
		text = decoded.Document.TextContent
	}
	if strings.TrimSpace(text) == "" {
		return "", errors.New("convert: empty document")
	}
	return text, nil
}

// HealthCheck calls the sidecar health endpoint.
func (s *Sidecar) HealthCheck(ctx context.Context) error {
	if s.cfg.BaseURL == "" {
		return errors.New("sidecar base url required")
	}
	endpoint, err := url.JoinPath(s.cfg.BaseURL, "health")
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sidecar health: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("sidecar health: http %d", resp.StatusCode)
	}
	return nil
}
