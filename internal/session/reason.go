package session

import (
	"context"
	"errors"

	"counsel/internal/docstore"
	"counsel/internal/services"
)

// Reason is the stable failure code carried by a Failed session.
type Reason string

const (
	ReasonNone                 Reason = ""
	ReasonInferenceTimeout     Reason = "InferenceTimeout"
	ReasonInferenceFailure     Reason = "InferenceFailure"
	ReasonPrivacyEngineFailure Reason = "PrivacyEngineFailure"
	ReasonDocumentParseFailure Reason = "DocumentParseFailure"
	ReasonNotLegalDocument     Reason = "NotLegalDocument"
	ReasonMissingInput         Reason = "MissingInput"
	ReasonStoreConcurrency     Reason = "StoreConcurrency"
	ReasonCancelled            Reason = "Cancelled"
	ReasonInternal             Reason = "Internal"
)

var (
	// ErrNotLegal marks a document the model judged not to be a legal document.
	ErrNotLegal = errors.New("document is not a legal document")
	// ErrMissingInput marks a submission with no usable content.
	ErrMissingInput = errors.New("missing input")
)

// Retryable reports whether resubmitting the same document may succeed.
func (r Reason) Retryable() bool {
	switch r {
	case ReasonInferenceTimeout, ReasonInferenceFailure, ReasonStoreConcurrency:
		return true
	default:
		return false
	}
}

func (r Reason) String() string { return string(r) }

// ReasonFor maps an error chain onto a reason code. Order matters: the more
// specific markers are checked before the generic timeout and external tool
// classes.
func ReasonFor(err error) Reason {
	switch {
	case err == nil:
		return ReasonNone
	case errors.Is(err, ErrNotLegal):
		return ReasonNotLegalDocument
	case errors.Is(err, ErrMissingInput):
		return ReasonMissingInput
	case errors.Is(err, docstore.ErrConcurrency):
		return ReasonStoreConcurrency
	case errors.Is(err, services.ErrPrivacy):
		return ReasonPrivacyEngineFailure
	case errors.Is(err, services.ErrParse):
		return ReasonDocumentParseFailure
	case errors.Is(err, context.Canceled):
		return ReasonCancelled
	case services.IsTimeout(err):
		return ReasonInferenceTimeout
	case errors.Is(err, services.ErrExternalTool), errors.Is(err, services.ErrTransient):
		return ReasonInferenceFailure
	default:
		return ReasonInternal
	}
}
