package testsupport

import (
	"os"
	"path/filepath"
	"testing"
)

// SampleAgreement is a short contract with one email address for the
// pattern detector to anonymize.
const SampleAgreement = `EMPLOYMENT AGREEMENT

1. The Employee shall not work for a competitor for 24 months after leaving.
2. Notices go to jane.doe@example.com.
`

// WriteFile writes content to path, creating parent directories.
func WriteFile(t testing.TB, path, content string) string {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}
