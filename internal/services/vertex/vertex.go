// Package vertex implements the inference provider on Vertex AI Gemini models.
package vertex

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/vertexai/genai"

	"counsel/internal/services/llm"
)

const defaultModel = "gemini-1.5-pro"

// Config selects the project, region and model.
type Config struct {
	Project         string
	Region          string
	Model           string
	ChatTemperature float32
}

// Provider issues analysis and chat calls against one Gemini model.
type Provider struct {
	client *genai.Client
	cfg    Config
}

// New connects to Vertex AI using application default credentials.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	cfg.Project = strings.TrimSpace(cfg.Project)
	cfg.Region = strings.TrimSpace(cfg.Region)
	if cfg.Project == "" || cfg.Region == "" {
		return nil, errors.New("vertex: project and region are required")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = defaultModel
	}
	if cfg.ChatTemperature <= 0 {
		cfg.ChatTemperature = 0.3
	}
	client, err := genai.NewClient(ctx, cfg.Project, cfg.Region)
	if err != nil {
		return nil, fmt.Errorf("vertex: new client: %w", err)
	}
	return &Provider{client: client, cfg: cfg}, nil
}

// Close releases the underlying client.
func (p *Provider) Close() error {
	if p == nil || p.client == nil {
		return nil
	}
	return p.client.Close()
}

func (p *Provider) Model() string { return p.cfg.Model }

func (p *Provider) model(system string, temperature float32) *genai.GenerativeModel {
	model := p.client.GenerativeModel(p.cfg.Model)
	if system = strings.TrimSpace(system); system != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}
	}
	model.GenerationConfig = genai.GenerationConfig{Temperature: genai.Ptr(temperature)}
	model.SafetySettings = []*genai.SafetySetting{
		{Category: genai.HarmCategoryHateSpeech, Threshold: genai.HarmBlockOnlyHigh},
		{Category: genai.HarmCategoryDangerousContent, Threshold: genai.HarmBlockOnlyHigh},
		{Category: genai.HarmCategorySexuallyExplicit, Threshold: genai.HarmBlockOnlyHigh},
		{Category: genai.HarmCategoryHarassment, Threshold: genai.HarmBlockOnlyHigh},
	}
	return model
}

// Complete runs the single-pass analysis prompt and returns the raw text.
func (p *Provider) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if strings.TrimSpace(userPrompt) == "" {
		return "", errors.New("vertex complete: user prompt required")
	}
	model := p.model(systemPrompt, 0)
	model.GenerationConfig.ResponseMIMEType = "application/json"
	resp, err := model.GenerateContent(ctx, genai.Text(userPrompt))
	if err != nil {
		return "", fmt.Errorf("vertex complete: %w", err)
	}
	text := responseText(resp)
	if text == "" {
		return "", fmt.Errorf("vertex complete: empty content (finish_reason=%s)", finishReason(resp))
	}
	return text, nil
}

// Chat sends the conversation; the final message must come from the user.
func (p *Provider) Chat(ctx context.Context, messages []llm.Message) (string, error) {
	system, history, last, err := splitConversation(messages)
	if err != nil {
		return "", err
	}
	session := p.model(system, p.cfg.ChatTemperature).StartChat()
	session.History = history
	resp, err := session.SendMessage(ctx, genai.Text(last))
	if err != nil {
		return "", fmt.Errorf("vertex chat: %w", err)
	}
	text := responseText(resp)
	if text == "" {
		return "", fmt.Errorf("vertex chat: empty content (finish_reason=%s)", finishReason(resp))
	}
	return text, nil
}

// HealthCheck confirms the model answers a trivial prompt.
func (p *Provider) HealthCheck(ctx context.Context) error {
	_, err := p.Complete(ctx, "You must respond with JSON only.", llm.HealthPrompt)
	return err
}

// splitConversation folds system messages into one instruction and maps the
// remaining turns onto Gemini's user/model roles.
func splitConversation(messages []llm.Message) (string, []*genai.Content, string, error) {
	var system []string
	var turns []llm.Message
	for _, msg := range messages {
		if strings.TrimSpace(msg.Content) == "" {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(msg.Role)) {
		case llm.RoleSystem:
			system = append(system, msg.Content)
		case llm.RoleUser, llm.RoleAssistant:
			turns = append(turns, msg)
		default:
			return "", nil, "", fmt.Errorf("vertex chat: unknown role %q", msg.Role)
		}
	}
	if len(turns) == 0 || strings.ToLower(turns[len(turns)-1].Role) != llm.RoleUser {
		return "", nil, "", errors.New("vertex chat: conversation must end with a user message")
	}
	history := make([]*genai.Content, 0, len(turns)-1)
	for _, msg := range turns[:len(turns)-1] {
		role := "user"
		if strings.ToLower(msg.Role) == llm.RoleAssistant {
			role = "model"
		}
		history = append(history, &genai.Content{Role: role, Parts: []genai.Part{genai.Text(msg.Content)}})
	}
	return strings.Join(system, "\n\n"), history, turns[len(turns)-1].Content, nil
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			b.WriteString(string(text))
		}
	}
	return strings.TrimSpace(b.String())
}

func finishReason(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 {
		return "no_candidates"
	}
	return resp.Candidates[0].FinishReason.String()
}
