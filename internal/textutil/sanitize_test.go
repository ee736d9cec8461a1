package textutil

import "testing"

func TestDisplayName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"contract.pdf", "contract.pdf"},
		{"  lease.docx ", "lease.docx"},
		{"../../etc/passwd", "passwd"},
		{`C:\Users\jane\offer.txt`, "offer.txt"},
		{"nda<v2>?.md", "ndav2.md"},
		{"terms\x00\n.txt", "terms.txt"},
		{"", "document"},
		{"..", "document"},
		{"/", "document"},
	}
	for _, tt := range tests {
		if got := DisplayName(tt.in); got != tt.want {
			t.Fatalf("DisplayName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
