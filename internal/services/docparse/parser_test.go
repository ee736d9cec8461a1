package docparse

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"counsel/internal/services"
)

func buildDOCX(t *testing.T, documentXML string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("word/document.xml")
	if err != nil {
		t.Fatalf("create entry: %v", err)
	}
	if _, err := io.WriteString(w, documentXML); err != nil {
		t.Fatalf("write entry: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	return buf.Bytes()
}

func TestParsePlainTextAndMarkdown(t *testing.T) {
	p := New()
	parsed, err := p.Parse(context.Background(), "contract.txt", []byte("\xef\xbb\xbfEMPLOYMENT AGREEMENT\r\n\r\n1. Term\r\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if parsed.Text != "EMPLOYMENT AGREEMENT\n\n1. Term" || parsed.Format != FormatText {
		t.Fatalf("unexpected parse %+v", parsed)
	}

	parsed, err = p.Parse(context.Background(), "nda.md", []byte("# NDA\n\n## 1. Confidentiality"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if parsed.Format != FormatMarkdown {
		t.Fatalf("expected markdown, got %s", parsed.Format)
	}
}

func TestParseWindows1252Fallback(t *testing.T) {
	parsed, err := New().Parse(context.Background(), "", []byte("Caf\xe9 lease \x96 clause 4"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if parsed.Text != "Café lease – clause 4" {
		t.Fatalf("unexpected decode %q", parsed.Text)
	}
}

func TestParseDOCX(t *testing.T) {
	doc := buildDOCX(t, `<?xml version="1.0" encoding="UTF-8"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
 <w:body>
  <w:p><w:r><w:t>SERVICE AGREEMENT</w:t></w:r></w:p>
  <w:p><w:r><w:t xml:space="preserve">1. The </w:t></w:r><w:r><w:t>Supplier</w:t></w:r><w:r><w:tab/><w:t>shall deliver.</w:t></w:r></w:p>
  <w:p></w:p>
 </w:body>
</w:document>`)
	parsed, err := New().Parse(context.Background(), "agreement.docx", doc)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if parsed.Text != "SERVICE AGREEMENT\n1. The Supplier\tshall deliver." {
		t.Fatalf("unexpected docx text %q", parsed.Text)
	}
	if parsed.Format != FormatDOCX {
		t.Fatalf("expected docx format, got %s", parsed.Format)
	}
}

func TestParseRejections(t *testing.T) {
	cases := []struct {
		name     string
		filename string
		data     []byte
	}{
		{"empty", "a.txt", nil},
		{"binary", "a.bin", []byte{0x00, 0x01, 0x02, 0x03, 0xff}},
		{"fake pdf", "a.pdf", []byte("hello")},
		{"fake docx", "a.docx", []byte("hello")},
		{"docx without body", "a.docx", func() []byte {
			var buf bytes.Buffer
			zw := zip.NewWriter(&buf)
			_, _ = zw.Create("other.xml")
			_ = zw.Close()
			return buf.Bytes()
		}()},
		{"invalid pdf", "a.pdf", []byte("%PDF-1.7\nnot really a pdf")},
		{"too large", "a.txt", bytes.Repeat([]byte("a"), 1025)},
	}
	p := New(WithMaxBytes(1024))
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := p.Parse(context.Background(), tc.filename, tc.data)
			if err == nil {
				t.Fatal("expected parse error")
			}
			if !errors.Is(err, services.ErrParse) {
				t.Fatalf("expected ErrParse marker, got %v", err)
			}
		})
	}
}

func TestParsePDFViaSidecar(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/convert/file" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if r.FormValue("to_formats") != "md" {
			t.Errorf("expected md output format")
		}
		file, header, err := r.FormFile("files")
		if err != nil {
			t.Errorf("form file: %v", err)
		} else {
			_ = file.Close()
			if header.Filename != "lease.pdf" {
				t.Errorf("unexpected filename %s", header.Filename)
			}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":   "success",
			"document": map[string]any{"md_content": "## 1. Lease Term\n\nTwelve months."},
		})
	}))
	defer server.Close()

	p := New(WithSidecar(NewSidecar(SidecarConfig{BaseURL: server.URL}, nil)), WithPDFValidation(false))
	parsed, err := p.Parse(context.Background(), "/uploads/lease.pdf", []byte("%PDF-1.7 stub"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if parsed.Format != FormatPDF || !strings.HasPrefix(parsed.Text, "## 1. Lease Term") {
		t.Fatalf("unexpected parse %+v", parsed)
	}
}

func TestParsePDFWithoutSidecar(t *testing.T) {
	_, err := New(WithPDFValidation(false)).Parse(context.Background(), "a.pdf", []byte("%PDF-1.7 stub"))
	if err == nil || !strings.Contains(err.Error(), "parser.url") {
		t.Fatalf("expected missing sidecar error, got %v", err)
	}
}

func TestSidecarFailureStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "failure", "errors": []any{"boom"}})
	}))
	defer server.Close()

	_, err := NewSidecar(SidecarConfig{BaseURL: server.URL}, nil).Convert(context.Background(), "a.pdf", []byte("x"))
	if err == nil || !strings.Contains(err.Error(), "status failure") {
		t.Fatalf("expected failure status error, got %v", err)
	}
}
