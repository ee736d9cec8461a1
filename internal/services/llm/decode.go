package llm

import (
	"encoding/json"
	"errors"
	"fmt"

	"counsel/internal/textutil"
)

// DecodeLLMJSON decodes JSON from an LLM response, tolerating code fences and
// surrounding prose.
func DecodeLLMJSON(content string, target any) error {
	payload := textutil.ExtractJSON(content)
	if payload == "" {
		return fmt.Errorf("no json payload (payload snippet: %s)", summarizePayloadSnippet(content))
	}
	if err := json.Unmarshal([]byte(payload), target); err != nil {
		return fmt.Errorf("%w (payload snippet: %s)", err, summarizePayloadSnippet(payload))
	}
	return nil
}

// IsStatus reports whether err carries an HTTP status error with the code.
func IsStatus(err error, code int) bool {
	var statusErr *httpStatusError
	return errors.As(err, &statusErr) && statusErr.StatusCode == code
}
