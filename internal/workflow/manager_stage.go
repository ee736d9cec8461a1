package workflow

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"time"

	"counsel/internal/analysis"
	"counsel/internal/cache"
	"counsel/internal/docstore"
	"counsel/internal/extract"
	"counsel/internal/logging"
	"counsel/internal/privacy"
	"counsel/internal/services"
	"counsel/internal/session"
	"counsel/internal/stream"
)

const textExtractedProgress = 15

// CompletePayload accompanies the terminal Complete event. Values are
// de-anonymized.
type CompletePayload struct {
	State   string          `json:"state"`
	Percent int             `json:"percent"`
	Record  analysis.Record `json:"record"`
	Brief   string          `json:"brief"`
	Cached  bool            `json:"cached"`
}

// callContext bounds one external call. It ignores session
// cancellation: a call in flight is allowed to finish and its result is
// discarded at the next checkpoint.
func (m *Manager) callContext(s *sessionRun, stage string, timeout time.Duration) (context.Context, context.CancelFunc) {
	ctx := services.WithStage(context.WithoutCancel(s.ctx), stage)
	return context.WithTimeout(ctx, timeout)
}

func (m *Manager) parseStage(s *sessionRun, data []byte) (string, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return "", session.ErrMissingInput
	}
	callCtx, cancel := m.callContext(s, string(session.StateReceived), m.cfg.ParseTimeout)
	parsed, err := m.deps.Parser.Parse(callCtx, s.filename, data)
	cancel()
	if err != nil {
		if !errors.Is(err, services.ErrParse) {
			err = services.Wrap(services.ErrParse, string(session.StateReceived), "parse", s.filename, err)
		}
		return "", err
	}
	if err := s.ctx.Err(); err != nil {
		return "", err
	}
	text := strings.TrimSpace(parsed.Text)
	if text == "" {
		return "", session.ErrMissingInput
	}

	scope := m.deps.Store.Scope(s.id)
	if err := scope.Put(s.ctx, docstore.Document{
		ID:        s.docID,
		SessionID: s.id,
		Filename:  s.filename,
		RawText:   text,
		Status:    docstore.StatusReceived,
	}); err != nil {
		return "", err
	}

	m.stageLogger(s, session.StateReceived).Debug("document text extracted",
		logging.String(logging.FieldEventType, "text_extracted"),
		logging.String("format", string(parsed.Format)),
		logging.Int("pages", parsed.Pages),
		logging.Int("chars", len(text)),
	)
	s.setProgress(textExtractedProgress, m.now())
	if err := m.emitProgress(s, session.StateReceived, textExtractedProgress, "Text extracted"); err != nil {
		return "", err
	}
	return text, nil
}

// anonymizeStage replaces the raw text with its anonymized form. From here
// on the raw text exists only inside the document's token map.
func (m *Manager) anonymizeStage(s *sessionRun, text string) (privacy.Result, error) {
	callCtx, cancel := m.callContext(s, string(session.StateAnonymizing), m.cfg.PrivacyTimeout)
	result, err := m.deps.Privacy.Anonymize(callCtx, text)
	cancel()
	if err != nil {
		if !errors.Is(err, services.ErrPrivacy) {
			err = services.Wrap(services.ErrPrivacy, string(session.StateAnonymizing), "anonymize", "", err)
		}
		return privacy.Result{}, err
	}
	if err := s.ctx.Err(); err != nil {
		return privacy.Result{}, err
	}

	scope := m.deps.Store.Scope(s.id)
	err = scope.Update(s.ctx, s.docID, func(doc *docstore.Document) error {
		doc.AnonymizedText = result.Text
		doc.Mapping = result.Map.Tokens()
		doc.RawText = ""
		doc.Status = docstore.StatusAnonymized
		return nil
	})
	if err != nil {
		return privacy.Result{}, err
	}
	chunks := m.deps.Retriever.Index(s.id, result.Text)

	m.stageLogger(s, session.StateAnonymizing).Info("document anonymized",
		logging.String(logging.FieldEventType, "document_anonymized"),
		logging.Int("tokens", result.Map.Len()),
		logging.Any("entities", result.Entities),
		logging.Int("chunks", chunks),
	)
	return result, nil
}

// analyzeStage issues the single inference call, or reuses a cached raw
// output for identical anonymized input.
func (m *Manager) analyzeStage(s *sessionRun, anonymized privacy.Result) (string, bool, error) {
	logger := m.stageLogger(s, session.StateAnalyzing)
	model := m.deps.Inference.Model()
	key := cache.Key(model, m.cfg.PromptVersion, anonymized.Text)

	if m.deps.Cache != nil {
		entry, ok, err := m.deps.Cache.Get(s.ctx, key)
		switch {
		case err != nil:
			logging.WarnWithContext(logger, "analysis cache lookup failed", "cache_lookup_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "run 'counsel cache clear' if the cache file is corrupt"),
				logging.String(logging.FieldImpact, "document analyzed without cache"),
			)
		case ok:
			logger.Info("analysis cache hit",
				logging.String(logging.FieldEventType, "cache_hit"),
				logging.Int("hits", entry.HitCount),
			)
			return entry.RawOutput, true, nil
		}
	}

	// last checkpoint before dispatch
	if s.abandoned() && !m.streams.Attached(s.id) {
		m.cancelSession(s, "client disconnected before analysis")
	}
	if err := s.ctx.Err(); err != nil {
		return "", false, err
	}
	prompt := analysis.BuildPrompt(anonymized.Text, m.cfg.MaxInputChars)
	callCtx, cancel := m.callContext(s, string(session.StateAnalyzing), m.cfg.InferenceTimeout)
	start := m.now()
	raw, err := m.deps.Inference.Complete(callCtx, prompt.System, prompt.User)
	cancel()
	if s.ctx.Err() != nil {
		logger.Info("inference result discarded after cancellation",
			logging.String(logging.FieldEventType, "inference_discarded"),
		)
		return "", false, s.ctx.Err()
	}
	if err != nil {
		if services.IsTimeout(err) {
			return "", false, services.Wrap(services.ErrTimeout, string(session.StateAnalyzing), "inference", model, err)
		}
		return "", false, services.Wrap(services.ErrExternalTool, string(session.StateAnalyzing), "inference", model, err)
	}
	logger.Info("inference completed",
		logging.String(logging.FieldEventType, "inference_completed"),
		logging.String("model", model),
		logging.Int("output_chars", len(raw)),
		logging.Duration("duration", m.now().Sub(start)),
	)

	if m.deps.Cache != nil && strings.TrimSpace(raw) != "" {
		if err := m.deps.Cache.Put(s.ctx, cache.Entry{Key: key, Model: model, RawOutput: raw}); err != nil {
			logging.WarnWithContext(logger, "analysis cache store failed", "cache_store_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "identical documents will be analyzed again"),
			)
		}
	}
	return raw, false, nil
}

// deserializeStage normalizes the raw output, checks grounding, renders the
// narrative brief and moves the session to ChatReady.
func (m *Manager) deserializeStage(s *sessionRun, anonymized privacy.Result, raw string, cached bool) error {
	logger := m.stageLogger(s, session.StateDeserializing)
	restore := anonymized.Map.Restore

	normalizer := m.deps.Normalizer.With(extract.WithObserver(func(field extract.Field, value any) {
		if field == extract.FieldIsLegal || field == extract.FieldConfidence {
			return
		}
		err := s.publisher.Partial(s.ctx, stream.PartialPayload{
			Field: string(field),
			Value: restoreValue(value, restore),
		})
		if err != nil {
			logger.Debug("partial event dropped", logging.String("field", string(field)), logging.Error(err))
		}
	}))
	result, attempt := normalizer.Attempt(raw)
	record := normalizer.Reduce(result)
	logger.Info("analysis normalized",
		logging.String(logging.FieldEventType, "analysis_normalized"),
		logging.String("parse_mode", string(attempt.ParseMode)),
		logging.Bool("degraded", record.Degraded),
		logging.Int("recovered_fields", len(attempt.RecoveredFields)),
		logging.Int("fuzzy_fields", attempt.FuzzyCount()),
		logging.Int("drift", len(attempt.Drift)),
		logging.Int("conflicts", len(attempt.Conflicts)),
	)
	if record.Rejected {
		return session.ErrNotLegal
	}

	if ungrounded := analysis.Ground(&record, anonymized.Text); ungrounded > 0 {
		logging.WarnWithContext(logger, "risk clause references not found in document", "ungrounded_risks",
			logging.Int("ungrounded", ungrounded),
			logging.Int("risks", len(record.Risks)),
			logging.String(logging.FieldImpact, "brief flags the unverified risks"),
		)
	}
	brief := analysis.RenderBrief(record)

	scope := m.deps.Store.Scope(s.id)
	if err := scope.Update(s.ctx, s.docID, func(doc *docstore.Document) error {
		doc.Status = docstore.StatusAnalyzed
		return nil
	}); err != nil {
		return err
	}

	if err := s.ctx.Err(); err != nil {
		return err
	}
	if err := s.markReady(record, brief, cached, m.now()); err != nil {
		return err
	}
	err := s.publisher.Complete(s.ctx, CompletePayload{
		State:   string(session.StateChatReady),
		Percent: session.StateChatReady.Progress(),
		Record:  record.MapText(restore),
		Brief:   restore(brief),
		Cached:  cached,
	})
	if err != nil {
		logger.Info("complete event not delivered",
			logging.String(logging.FieldEventType, "complete_dropped"),
			logging.Error(err),
		)
	}
	return nil
}

// restoreValue de-anonymizes a recovered field value of any supported shape.
func restoreValue(value any, restore func(string) string) any {
	switch v := value.(type) {
	case string:
		return restore(v)
	case []string:
		out := make([]string, len(v))
		for i, item := range v {
			out[i] = restore(item)
		}
		return out
	case []analysis.RiskItem:
		record := analysis.Record{Risks: v}
		return record.MapText(restore).Risks
	case []analysis.GlossaryTerm:
		record := analysis.Record{Glossary: v}
		return record.MapText(restore).Glossary
	default:
		return value
	}
}
