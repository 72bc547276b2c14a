package services

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/caseproof/memberpress-courses-copilot-sub010/utils"
	"github.com/caseproof/memberpress-courses-copilot-sub010/utils/pdfvalidation"
	"github.com/ledongthuc/pdf"
)

const (
	// MetadataReferenceMaterial is the session metadata key holding extracted reference text
	MetadataReferenceMaterial = "reference_material"
	// MetadataReferenceFilename is the session metadata key holding the uploaded file name
	MetadataReferenceFilename = "reference_filename"

	maxStoredReferenceChars = 20000
	minReferenceChars       = 50
)

// ErrReferenceUnreadable is returned for PDFs with no extractable text
var ErrReferenceUnreadable = errors.New("reference material has no extractable text")

// ReferenceExtractor pulls plain text out of PDF reference material using
// ledongthuc/pdf
type ReferenceExtractor struct {
	log *utils.Logger
}

func NewReferenceExtractor(log *utils.Logger) *ReferenceExtractor {
	return &ReferenceExtractor{log: log}
}

// ExtractText returns the text of every page, row by row, truncated to what
// a session can store
func (r *ReferenceExtractor) ExtractText(content []byte) (string, error) {
	if len(content) == 0 {
		return "", fmt.Errorf("empty PDF content")
	}
	content = pdfvalidation.Sanitize(content)

	pdfReader, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("failed to parse PDF: %w", err)
	}

	numPages := pdfReader.NumPage()
	if numPages == 0 {
		return "", fmt.Errorf("PDF has no pages")
	}

	var textBuilder strings.Builder
	for i := 1; i <= numPages; i++ {
		page := pdfReader.Page(i)
		if page.V.IsNull() {
			continue
		}

		rows, err := page.GetTextByRow()
		if err != nil {
			// Fallback to plain text if row extraction fails
			text, plainErr := page.GetPlainText(nil)
			if plainErr != nil {
				r.log.Warn("PDF page skipped", "page", i, "error", plainErr)
				continue
			}
			textBuilder.WriteString(text)
			textBuilder.WriteString("\n")
			continue
		}

		for _, row := range rows {
			var rowText strings.Builder
			for _, word := range row.Content {
				rowText.WriteString(word.S)
			}
			if line := strings.TrimSpace(rowText.String()); line != "" {
				textBuilder.WriteString(line)
				textBuilder.WriteString("\n")
			}
		}
		textBuilder.WriteString("\n")

		if textBuilder.Len() > maxStoredReferenceChars*4 {
			break
		}
	}

	extracted := strings.TrimSpace(textBuilder.String())
	if len(extracted) < minReferenceChars {
		return "", ErrReferenceUnreadable
	}

	r.log.Info("Reference material extracted", "pages", numPages, "characters", len(extracted))
	return truncateRunes(extracted, maxStoredReferenceChars), nil
}
