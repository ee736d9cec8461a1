package workflow

import (
	"context"
	"time"

	"counsel/internal/logging"
	"counsel/internal/session"
	"counsel/internal/stream"
)

const cleanupTimeout = 5 * time.Second

var reasonMessages = map[session.Reason]string{
	session.ReasonInferenceTimeout:     "The analysis took too long. Please try again.",
	session.ReasonInferenceFailure:     "The analysis service is unavailable. Please try again.",
	session.ReasonPrivacyEngineFailure: "Personal information could not be removed, so the document was not analyzed.",
	session.ReasonDocumentParseFailure: "The document could not be read.",
	session.ReasonNotLegalDocument:     "This does not look like a legal document.",
	session.ReasonMissingInput:         "The document is empty.",
	session.ReasonStoreConcurrency:     "The document is busy. Please try again.",
	session.ReasonCancelled:            "The analysis was cancelled.",
	session.ReasonInternal:             "Something went wrong while analyzing the document.",
}

// ReasonMessage returns the client-facing text for a failure reason.
func ReasonMessage(reason session.Reason) string {
	if msg, ok := reasonMessages[reason]; ok {
		return msg
	}
	return reasonMessages[session.ReasonInternal]
}

// fail moves the session to Failed, purges its documents and publishes the
// terminal Error event unless the session was cancelled.
func (m *Manager) fail(s *sessionRun, cause error) {
	reason := session.ReasonFor(cause)
	if s.ctx.Err() != nil {
		reason = session.ReasonCancelled
	}
	logger := m.sessionLogger(s.ctx)
	from := s.currentState()

	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(s.ctx), cleanupTimeout)
	removed, err := m.deps.Store.Scope(s.id).Clear(cleanupCtx)
	cancel()
	if err != nil {
		logging.ErrorWithContext(logger, "failed to purge documents of failed session", "document_purge_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "documents expire with the store TTL"),
		)
	}
	m.deps.Retriever.Drop(s.id)

	if !s.markFailed(reason, ReasonMessage(reason), m.now()) {
		return
	}

	attrs := []logging.Attr{
		logging.String(logging.FieldReasonCode, string(reason)),
		logging.String("from_state", string(from)),
		logging.Bool("retryable", reason.Retryable()),
		logging.Int("documents_removed", removed),
		logging.Error(cause),
	}
	if reason == session.ReasonCancelled {
		logger.Info("session stopped", logging.Args(append(attrs, logging.String(logging.FieldEventType, "session_stopped"))...)...)
		return
	}
	m.setLastError(cause)
	logging.ErrorWithContext(logger, "session failed", "session_failed", append(attrs, logging.String(logging.FieldErrorHint, failureHint(reason)))...)

	err = s.publisher.Fail(s.ctx, stream.ErrorPayload{
		Reason:    string(reason),
		Retryable: reason.Retryable(),
		Message:   ReasonMessage(reason),
	})
	if err != nil {
		logger.Debug("error event not delivered", logging.Error(err))
	}
}

func failureHint(reason session.Reason) string {
	switch reason {
	case session.ReasonInferenceTimeout:
		return "raise inference.timeout_seconds or check the provider's latency"
	case session.ReasonInferenceFailure:
		return "check llm.api_key, llm.base_url and provider status"
	case session.ReasonPrivacyEngineFailure:
		return "check that the privacy engine is reachable (counsel doctor)"
	case session.ReasonDocumentParseFailure:
		return "check the upload format and parser.url for PDF conversion"
	case session.ReasonStoreConcurrency:
		return "raise store.lock_timeout_seconds if this repeats"
	default:
		return "check logs for details"
	}
}
