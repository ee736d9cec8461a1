// Package docparse turns uploaded document bytes into layout-aware text.
//
// Plain text and Markdown pass through after encoding repair. DOCX bodies are
// read directly from the archive. PDFs are validated and page-counted with
// pdfcpu, then converted to Markdown by a docling-serve sidecar so clause
// numbering and tables survive. Every failure carries services.ErrParse.
package docparse
