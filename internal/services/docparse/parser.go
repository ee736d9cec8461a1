package docparse

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"golang.org/x/text/encoding/charmap"

	"counsel/internal/logging"
	"counsel/internal/services"
)

// Format identifies how a document was read.
type Format string

const (
	FormatText     Format = "text"
	FormatMarkdown Format = "markdown"
	FormatDOCX     Format = "docx"
	FormatPDF      Format = "pdf"
)

// DefaultMaxBytes caps accepted uploads.
const DefaultMaxBytes = 20 << 20

// Parsed is the extracted text of one document.
type Parsed struct {
	Text   string
	Format Format
	Pages  int
}

// Parser extracts text from uploads.
type Parser struct {
	sidecar     *Sidecar
	maxBytes    int64
	maxPages    int
	validatePDF bool
	logger      *slog.Logger
}

// Option configures a Parser.
type Option func(*Parser)

// WithSidecar enables PDF and other binary formats through docling-serve.
func WithSidecar(s *Sidecar) Option {
	return func(p *Parser) { p.sidecar = s }
}

// WithMaxBytes caps upload size.
func WithMaxBytes(n int64) Option {
	return func(p *Parser) {
		if n > 0 {
			p.maxBytes = n
		}
	}
}

// WithMaxPages rejects PDFs with more pages. Zero disables the check.
func WithMaxPages(n int) Option {
	return func(p *Parser) { p.maxPages = n }
}

// WithPDFValidation toggles pdfcpu validation before conversion.
func WithPDFValidation(enabled bool) Option {
	return func(p *Parser) { p.validatePDF = enabled }
}

func WithLogger(logger *slog.Logger) Option {
	return func(p *Parser) { p.logger = logging.NewComponentLogger(logger, "docparse") }
}

// New constructs a parser.
func New(opts ...Option) *Parser {
	p := &Parser{maxBytes: DefaultMaxBytes, validatePDF: true, logger: logging.NewNop()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func parseError(operation, message string, err error) error {
	return services.Wrap(services.ErrParse, "received", operation, message, err)
}

// Parse extracts text from data. The filename only informs format detection.
func (p *Parser) Parse(ctx context.Context, filename string, data []byte) (Parsed, error) {
	if len(data) == 0 {
		return Parsed{}, parseError("parse", "empty upload", nil)
	}
	if int64(len(data)) > p.maxBytes {
		return Parsed{}, parseError("parse", fmt.Sprintf("upload of %d bytes exceeds limit of %d", len(data), p.maxBytes), nil)
	}
	format, err := detect(filename, data)
	if err != nil {
		return Parsed{}, err
	}
	var parsed Parsed
	switch format {
	case FormatText, FormatMarkdown:
		parsed = Parsed{Text: decodeText(data), Format: format}
	case FormatDOCX:
		text, err := extractDOCX(data)
		if err != nil {
			return Parsed{}, parseError("docx", "", err)
		}
		parsed = Parsed{Text: text, Format: FormatDOCX}
	case FormatPDF:
		parsed, err = p.parsePDF(ctx, filename, data)
		if err != nil {
			return Parsed{}, err
		}
	}
	parsed.Text = normalizeNewlines(parsed.Text)
	p.logger.Debug("document parsed",
		logging.String(logging.FieldEventType, "document_parsed"),
		logging.String("format", string(parsed.Format)),
		logging.Int("pages", parsed.Pages),
		logging.Int("chars", utf8.RuneCountInString(parsed.Text)),
	)
	return parsed, nil
}

func (p *Parser) parsePDF(ctx context.Context, filename string, data []byte) (Parsed, error) {
	pages := 0
	if p.validatePDF {
		conf := model.NewDefaultConfiguration()
		conf.ValidationMode = model.ValidationRelaxed
		if err := api.Validate(bytes.NewReader(data), conf); err != nil {
			return Parsed{}, parseError("pdf", "validation failed", err)
		}
		count, err := api.PageCount(bytes.NewReader(data), conf)
		if err != nil {
			return Parsed{}, parseError("pdf", "page count", err)
		}
		pages = count
		if p.maxPages > 0 && pages > p.maxPages {
			return Parsed{}, parseError("pdf", fmt.Sprintf("%d pages exceeds limit of %d", pages, p.maxPages), nil)
		}
	}
	if p.sidecar == nil {
		return Parsed{}, parseError("pdf", "pdf conversion requires parser.url", nil)
	}
	text, err := p.sidecar.Convert(ctx, filename, data)
	if err != nil {
		return Parsed{}, parseError("pdf", "sidecar conversion", err)
	}
	return Parsed{Text: text, Format: FormatPDF, Pages: pages}, nil
}

var (
	pdfMagic = []byte("%PDF-")
	zipMagic = []byte("PK\x03\x04")
)

func detect(filename string, data []byte) (Format, error) {
	if bytes.HasPrefix(data, pdfMagic) {
		return FormatPDF, nil
	}
	isZip := bytes.HasPrefix(data, zipMagic)
	switch ext := strings.ToLower(filepath.Ext(filename)); ext {
	case ".pdf":
		return "", parseError("detect", "file has a .pdf name but no PDF header", nil)
	case ".docx":
		if !isZip {
			return "", parseError("detect", "file has a .docx name but is not an archive", nil)
		}
		return FormatDOCX, nil
	case ".md", ".markdown":
		return FormatMarkdown, nil
	case ".txt", ".text", "":
	default:
		if isZip {
			return "", parseError("detect", fmt.Sprintf("unsupported archive format %q", ext), nil)
		}
	}
	if isZip {
		return FormatDOCX, nil
	}
	if sniff := http.DetectContentType(data); !strings.HasPrefix(sniff, "text/") {
		return "", parseError("detect", fmt.Sprintf("unsupported content type %s", sniff), nil)
	}
	return FormatText, nil
}

// decodeText returns data as UTF-8, dropping a byte order mark and reading
// invalid UTF-8 as Windows-1252.
func decodeText(data []byte) string {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if utf8.Valid(data) {
		return string(data)
	}
	decoded, err := charmap.Windows1252.NewDecoder().Bytes(data)
	if err != nil {
		return strings.ToValidUTF8(string(data), "�")
	}
	return string(decoded)
}

func normalizeNewlines(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	return strings.TrimSpace(text)
}
