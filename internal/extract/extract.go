// Package extract provides MIME sniffing and best-effort text extraction
// for uploaded resume files. Extraction never fails an upload: a document
// whose internals cannot be parsed yields empty text.
package extract

import (
	"bytes"
	"fmt"
	"html"
	"io"
	"log/slog"
	"regexp"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
)

const (
	MimePDF  = "application/pdf"
	MimeDOCX = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
)

var allowedMimeTypes = map[string]struct{}{
	MimePDF:  {},
	MimeDOCX: {},
}

// SniffMime detects the MIME type from magic bytes (never the extension)
// and rejects anything outside the PDF/DOCX whitelist.
func SniffMime(data []byte) (string, error) {
	detected := mimetype.Detect(data).String()
	// mimetype appends parameters to some types; compare the bare type.
	if i := strings.IndexByte(detected, ';'); i >= 0 {
		detected = detected[:i]
	}
	if _, ok := allowedMimeTypes[detected]; !ok {
		return "", fmt.Errorf("unsupported file type %q, only PDF and DOCX are accepted", detected)
	}
	return detected, nil
}

// Text dispatches to the extractor for the detected MIME type.
func Text(data []byte, mimeType string, logger *slog.Logger) string {
	switch mimeType {
	case MimePDF:
		return pdfText(data, logger)
	case MimeDOCX:
		return docxText(data, logger)
	default:
		return ""
	}
}

func pdfText(data []byte, logger *slog.Logger) string {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		logger.Warn("pdf text extraction failed", slog.Any("error", err))
		return ""
	}
	plain, err := reader.GetPlainText()
	if err != nil {
		logger.Warn("pdf text extraction failed", slog.Any("error", err))
		return ""
	}
	text, err := io.ReadAll(plain)
	if err != nil {
		logger.Warn("pdf text extraction failed", slog.Any("error", err))
		return ""
	}
	return strings.TrimSpace(string(text))
}

var (
	docxParagraphEnd = regexp.MustCompile(`</w:p>`)
	docxTags         = regexp.MustCompile(`<[^>]+>`)
)

func docxText(data []byte, logger *slog.Logger) string {
	doc, err := docx.ReadDocxFromMemory(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		logger.Warn("docx text extraction failed", slog.Any("error", err))
		return ""
	}
	defer doc.Close()

	content := doc.Editable().GetContent()
	content = docxParagraphEnd.ReplaceAllString(content, "\n")
	content = docxTags.ReplaceAllString(content, "")
	return strings.TrimSpace(html.UnescapeString(content))
}
