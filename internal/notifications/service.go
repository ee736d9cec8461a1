package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"counsel/internal/analysis"
	"counsel/internal/config"
)

const userAgent = "Counsel-Go/0.1.0"

// Event identifies a notification kind.
type Event string

const (
	EventAnalysisReady  Event = "analysis_ready"
	EventAnalysisFailed Event = "analysis_failed"
	EventTest           Event = "test"
)

// Payload carries event fields. Known keys: filename, riskLevel, verdict,
// documentType, reason, message.
type Payload map[string]any

// Service publishes notifications.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
}

// NewService builds an ntfy-backed service, or a no-op one when
// notifications.ntfy_topic is empty.
func NewService(cfg *config.Config) Service {
	if cfg == nil {
		return noopService{}
	}
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}
	timeout := cfg.NotificationTimeout()
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
	}
}

type message struct {
	title    string
	body     string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
}

func (n *ntfyService) Publish(ctx context.Context, event Event, payload Payload) error {
	msg, ok := format(event, payload)
	if !ok {
		return nil
	}
	return n.send(ctx, msg)
}

func format(event Event, payload Payload) (message, bool) {
	filename := payloadString(payload, "filename")
	if filename == "" {
		filename = "document"
	}
	switch event {
	case EventAnalysisReady:
		risk := analysis.CanonicalRiskLevel(payloadString(payload, "riskLevel"))
		if risk == "" {
			risk = "Unknown"
		}
		body := fmt.Sprintf("%s: %s risk", filename, risk)
		if docType := payloadString(payload, "documentType"); docType != "" {
			body = fmt.Sprintf("%s (%s): %s risk", filename, docType, risk)
		}
		if verdict := analysis.CanonicalVerdict(payloadString(payload, "verdict")); verdict != "" {
			body += ", verdict: " + verdict
		}
		msg := message{
			title: "Counsel - Analysis Ready",
			body:  body,
			tags:  []string{"counsel", "analysis", strings.ToLower(risk)},
		}
		if risk == analysis.RiskHigh || risk == analysis.RiskCritical {
			msg.priority = "high"
		}
		return msg, true
	case EventAnalysisFailed:
		body := filename + ": analysis failed"
		if text := payloadString(payload, "message"); text != "" {
			body = filename + ": " + text
		}
		if reason := payloadString(payload, "reason"); reason != "" {
			body += " (" + reason + ")"
		}
		return message{
			title:    "Counsel - Analysis Failed",
			body:     body,
			tags:     []string{"counsel", "analysis", "failed"},
			priority: "high",
		}, true
	case EventTest:
		return message{
			title:    "Counsel - Test",
			body:     "Notification system test",
			tags:     []string{"counsel", "test"},
			priority: "low",
		}, true
	default:
		return message{}, false
	}
}

func payloadString(payload Payload, key string) string {
	if payload == nil {
		return ""
	}
	switch v := payload[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case fmt.Stringer:
		return strings.TrimSpace(v.String())
	case nil:
		return ""
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

func (n *ntfyService) send(ctx context.Context, msg message) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(msg.body))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if msg.title != "" {
		req.Header.Set("Title", msg.title)
	}
	if len(msg.tags) > 0 {
		req.Header.Set("Tags", strings.Join(msg.tags, ","))
	}
	if msg.priority != "" {
		req.Header.Set("Priority", msg.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) Publish(context.Context, Event, Payload) error { return nil }
