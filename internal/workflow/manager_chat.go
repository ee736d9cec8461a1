package workflow

import (
	"context"
	"fmt"
	"strings"

	"counsel/internal/docstore"
	"counsel/internal/logging"
	"counsel/internal/privacy"
	"counsel/internal/retrieval"
	"counsel/internal/services"
	"counsel/internal/services/llm"
	"counsel/internal/session"
)

// FallbackReply is returned when every chat attempt produced tool-call markup.
const FallbackReply = "Sorry, I'm having trouble thinking clearly. Let's try that question again?"

const correctionPrompt = "Answer in plain conversational prose. Do not call tools or emit markup."

var toolMarkers = []string{"<function_calls>", "<invoke>", "<invoke "}

const chatPersona = `You are a friendly legal counsel and career coach continuing a conversation about a document you already reviewed.
Answer in short conversational paragraphs. Never answer in JSON, tables or key/value lists.
Placeholders such as <PERSON_1> stand for people and details that were removed for privacy; refer to them as written.`

// Chat runs one conversational turn for a ChatReady session and returns the
// de-anonymized reply. The model is seeded with the narrative brief and the
// most relevant excerpts of the anonymized document, never with the record.
func (m *Manager) Chat(ctx context.Context, sessionID, message string) (string, error) {
	s, err := m.lookup(sessionID)
	if err != nil {
		return "", err
	}
	message = strings.TrimSpace(message)
	if message == "" {
		return "", ErrEmptyMessage
	}
	snap := s.snapshot()
	if snap.state != session.StateChatReady || snap.chat == nil {
		return "", fmt.Errorf("%w (state %s)", ErrChatNotReady, snap.state)
	}

	s.turn.Lock()
	defer s.turn.Unlock()

	tokens := m.documentMap(s)
	question := tokens.Apply(message)
	excerpts := m.deps.Retriever.Search(s.id, question)

	messages := []llm.Message{{Role: llm.RoleSystem, Content: chatSystemPrompt(snap.chat.Brief(), excerpts)}}
	for _, turn := range snap.chat.Window(m.cfg.ChatHistory) {
		role := llm.RoleUser
		if turn.Role == session.RoleAssistant {
			role = llm.RoleAssistant
		}
		messages = append(messages, llm.Message{Role: role, Content: turn.Text})
	}
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: question})

	ctx = services.WithSessionID(ctx, s.id)
	logger := m.sessionLogger(ctx)
	reply, attempts, err := m.chatWithRetry(ctx, messages)
	if err != nil {
		logging.WarnWithContext(logger, "chat turn failed", "chat_failed",
			logging.Error(err),
			logging.Int("attempts", attempts),
			logging.String(logging.FieldImpact, "user must resend the message"),
		)
		return "", err
	}

	snap.chat.Append(session.RoleUser, question)
	snap.chat.Append(session.RoleAssistant, reply)
	m.extendSession(ctx, s)
	logger.Info("chat turn completed",
		logging.String(logging.FieldEventType, "chat_turn"),
		logging.Int("attempts", attempts),
		logging.Int("excerpts", len(excerpts)),
		logging.Int("history", snap.chat.Len()),
	)
	return tokens.Restore(reply), nil
}

// ChatHistory returns the de-anonymized conversation of a session.
func (m *Manager) ChatHistory(sessionID string) ([]session.Message, error) {
	s, err := m.lookup(sessionID)
	if err != nil {
		return nil, err
	}
	snap := s.snapshot()
	if snap.chat == nil {
		return nil, nil
	}
	tokens := m.documentMap(s)
	history := snap.chat.History()
	for i := range history {
		history[i].Text = tokens.Restore(history[i].Text)
	}
	return history, nil
}

// chatWithRetry rejects replies carrying tool-call markup, appending a
// correction and retrying up to the configured attempts before giving up
// with FallbackReply.
func (m *Manager) chatWithRetry(ctx context.Context, messages []llm.Message) (string, int, error) {
	for attempt := 1; attempt <= m.cfg.ChatAttempts; attempt++ {
		callCtx, cancel := context.WithTimeout(services.WithStage(ctx, "chat"), m.cfg.ChatTimeout)
		reply, err := m.deps.Inference.Chat(callCtx, messages)
		cancel()
		if err != nil {
			marker := services.ErrExternalTool
			if services.IsTimeout(err) {
				marker = services.ErrTimeout
			}
			return "", attempt, services.Wrap(marker, "chat", "inference", "", err)
		}
		reply = strings.TrimSpace(reply)
		if reply != "" && !hasToolMarkup(reply) {
			return reply, attempt, nil
		}
		m.sessionLogger(ctx).Debug("chat reply rejected",
			logging.String(logging.FieldEventType, "chat_reply_rejected"),
			logging.Int("attempt", attempt),
		)
		messages = append(messages,
			llm.Message{Role: llm.RoleAssistant, Content: reply},
			llm.Message{Role: llm.RoleUser, Content: correctionPrompt},
		)
	}
	return FallbackReply, m.cfg.ChatAttempts, nil
}

func hasToolMarkup(reply string) bool {
	lower := strings.ToLower(reply)
	for _, marker := range toolMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func chatSystemPrompt(brief string, excerpts []retrieval.Match) string {
	var b strings.Builder
	b.WriteString(chatPersona)
	b.WriteString("\n\nHere is your earlier review of the document:\n")
	b.WriteString(brief)
	if len(excerpts) > 0 {
		b.WriteString("\n\nThese passages of the document look relevant to the question. ")
		for i, match := range excerpts {
			fmt.Fprintf(&b, "Passage %d reads: \"%s\". ", i+1, strings.Join(strings.Fields(match.Chunk.Text), " "))
		}
	}
	return strings.TrimSpace(b.String())
}

// documentMap rebuilds the session's token map from its stored document.
func (m *Manager) documentMap(s *sessionRun) *privacy.Map {
	doc, ok := m.deps.Store.Scope(s.id).Get(s.docID)
	if !ok {
		return nil
	}
	return privacy.MapFromTokens(doc.Mapping)
}

// extendSession pushes the document expiry out while the conversation is
// active.
func (m *Manager) extendSession(ctx context.Context, s *sessionRun) {
	now := m.now()
	s.touch(now)
	err := m.deps.Store.Scope(s.id).Update(ctx, s.docID, func(doc *docstore.Document) error {
		doc.ExpiresAt = now.Add(m.cfg.SessionTTL)
		return nil
	})
	if err != nil {
		m.sessionLogger(ctx).Debug("document expiry not extended", logging.Error(err))
	}
}
