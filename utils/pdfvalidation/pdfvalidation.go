package pdfvalidation

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// Limits bounds an uploaded PDF
type Limits struct {
	MaxFileSizeMB int
	MaxPages      int
}

// ReferenceLimits applies to reference material attached to a copilot session
var ReferenceLimits = Limits{
	MaxFileSizeMB: 20,
	MaxPages:      300,
}

// ErrInvalidPDF is wrapped by every rejection Validate returns
var ErrInvalidPDF = errors.New("invalid PDF upload")

// Result describes a PDF that passed validation
type Result struct {
	PageCount int
	FileSize  int64
}

// Validate checks the name, size, header and page count of an upload
func Validate(filename string, content []byte, limits Limits) (*Result, error) {
	result := &Result{FileSize: int64(len(content))}

	if !strings.HasSuffix(strings.ToLower(filename), ".pdf") {
		return nil, fmt.Errorf("%w: only PDF files are supported", ErrInvalidPDF)
	}
	if maxSize := int64(limits.MaxFileSizeMB) * 1024 * 1024; result.FileSize > maxSize {
		return nil, fmt.Errorf("%w: file exceeds %dMB", ErrInvalidPDF, limits.MaxFileSizeMB)
	}
	if !bytes.HasPrefix(content, []byte("%PDF-")) {
		return nil, fmt.Errorf("%w: missing PDF header", ErrInvalidPDF)
	}

	pageCount, err := PageCount(content)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPDF, err)
	}
	result.PageCount = pageCount

	switch {
	case pageCount == 0:
		return nil, fmt.Errorf("%w: PDF has no pages", ErrInvalidPDF)
	case pageCount > limits.MaxPages:
		return nil, fmt.Errorf("%w: PDF has %d pages, the maximum is %d", ErrInvalidPDF, pageCount, limits.MaxPages)
	}
	return result, nil
}

// Sanitize truncates content after the last %%EOF marker. PDFs saved from
// web pages often carry trailing HTML that breaks the parser.
func Sanitize(content []byte) []byte {
	if !bytes.HasPrefix(content, []byte("%PDF-")) {
		return content
	}

	eofMarker := []byte("%%EOF")
	lastEOF := bytes.LastIndex(content, eofMarker)
	if lastEOF == -1 {
		return content
	}

	pdfEnd := lastEOF + len(eofMarker)
	for pdfEnd < len(content) && (content[pdfEnd] == '\n' || content[pdfEnd] == '\r') {
		pdfEnd++
	}
	return content[:pdfEnd]
}

// PageCount returns the number of pages in a PDF
func PageCount(content []byte) (int, error) {
	content = Sanitize(content)
	reader, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return 0, fmt.Errorf("failed to parse PDF: %w", err)
	}
	return reader.NumPage(), nil
}
