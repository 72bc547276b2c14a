package pdfvalidation

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		content  []byte
		limits   Limits
	}{
		{"wrong extension", "notes.docx", []byte("%PDF-1.4"), ReferenceLimits},
		{"missing header", "notes.pdf", []byte("<html></html>"), ReferenceLimits},
		{"too large", "notes.pdf", bytes.Repeat([]byte("x"), 2<<20), Limits{MaxFileSizeMB: 1, MaxPages: 10}},
		{"unparseable", "notes.pdf", []byte("%PDF-1.4\nnot really a pdf"), ReferenceLimits},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := Validate(tt.filename, tt.content, tt.limits)
			assert.Nil(t, result)
			assert.True(t, errors.Is(err, ErrInvalidPDF), "got %v", err)
		})
	}
}

func TestSanitize(t *testing.T) {
	body := []byte("%PDF-1.4\nobjects\n%%EOF\r\n")

	assert.Equal(t, body, Sanitize(append(append([]byte{}, body...), []byte("<html>trailing page</html>")...)))
	assert.Equal(t, body, Sanitize(body))
	assert.Equal(t, []byte("plain text"), Sanitize([]byte("plain text")))
	assert.Equal(t, []byte("%PDF-1.4 no marker"), Sanitize([]byte("%PDF-1.4 no marker")))
}
