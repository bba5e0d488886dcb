package services

import (
	"archive/zip"
	"bytes"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"html"
	"io"
	"log"
	"path/filepath"
	"regexp"
	"strings"

	"qa-agent/models"

	"github.com/unidoc/unipdf/v3/common/license"
	"github.com/unidoc/unipdf/v3/extractor"
	"github.com/unidoc/unipdf/v3/model"
)

// ExtractorService converts uploaded document bytes into plain text. Supported
// formats: markdown, plain text, JSON, PDF, DOCX and HTML; anything else fails
// with UnsupportedFormatError so the caller can tell the user which upload to fix.
type ExtractorService struct{}

// NewExtractorService applies the unipdf license key (resolved by the caller,
// typically from the environment in main) and returns the extractor.
func NewExtractorService(unidocLicenseKey string) *ExtractorService {
	if unidocLicenseKey == "" {
		log.Println("EXTRACTOR: no unidoc license key configured, PDF extraction will fail.")
	} else if err := license.SetMeteredKey(unidocLicenseKey); err != nil {
		log.Printf("EXTRACTOR: failed to set unidoc license key: %v. PDF extraction will fail.", err)
	}
	return &ExtractorService{}
}

// ExtractUpload decodes an uploaded document and converts it to a plain-text
// source ready for ingestion. Content is base64 unless encoding says "text".
func (e *ExtractorService) ExtractUpload(up models.DocumentUpload) (models.Document, error) {
	var data []byte
	if strings.EqualFold(up.Encoding, "text") {
		data = []byte(up.Content)
	} else {
		decoded, err := base64.StdEncoding.DecodeString(up.Content)
		if err != nil {
			return models.Document{}, fmt.Errorf("failed to decode upload %q: %w", up.Filename, err)
		}
		data = decoded
	}

	text, err := e.Extract(data, up.Filename, up.MimeType)
	if err != nil {
		return models.Document{}, err
	}
	return models.Document{
		Name:       up.Filename,
		Text:       text,
		SourceType: models.SourceSupportDoc,
	}, nil
}

// Extract returns the plain text of a document, selecting the conversion by
// file extension with the declared MIME type as fallback.
func (e *ExtractorService) Extract(data []byte, filename, mimeType string) (string, error) {
	format := detectFormat(filename, mimeType)

	switch format {
	case "txt", "md", "markdown", "text", "json":
		return string(data), nil
	case "pdf":
		return extractTextFromPDF(data)
	case "docx":
		return extractTextFromDOCX(data)
	case "html", "htm":
		return stripHTML(string(data)), nil
	default:
		return "", &UnsupportedFormatError{Filename: filename, Format: format}
	}
}

// detectFormat prefers the file extension and falls back to the MIME type.
func detectFormat(filename, mimeType string) string {
	if ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), "."); ext != "" {
		return ext
	}
	switch strings.ToLower(strings.TrimSpace(mimeType)) {
	case "text/plain":
		return "txt"
	case "text/markdown":
		return "md"
	case "application/json":
		return "json"
	case "application/pdf":
		return "pdf"
	case "application/vnd.openxmlformats-officedocument.wordprocessingml.document":
		return "docx"
	case "text/html", "application/xhtml+xml":
		return "html"
	default:
		return mimeType
	}
}

// extractTextFromPDF uses unipdf to pull the text out of every page.
func extractTextFromPDF(data []byte) (string, error) {
	pdfReader, err := model.NewPdfReader(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("failed to open pdf: %w", err)
	}

	numPages, err := pdfReader.GetNumPages()
	if err != nil {
		return "", fmt.Errorf("failed to read pdf page count: %w", err)
	}

	var sb strings.Builder
	for i := 1; i <= numPages; i++ {
		page, err := pdfReader.GetPage(i)
		if err != nil {
			return "", fmt.Errorf("failed to read pdf page %d: %w", i, err)
		}

		ex, err := extractor.New(page)
		if err != nil {
			return "", fmt.Errorf("failed to create extractor for pdf page %d: %w", i, err)
		}

		text, err := ex.ExtractText()
		if err != nil {
			return "", fmt.Errorf("failed to extract text from pdf page %d: %w", i, err)
		}
		sb.WriteString(text)
		sb.WriteString("\n\n")
	}

	return sb.String(), nil
}

// documentXML mirrors the parts of word/document.xml we read.
type documentXML struct {
	Body struct {
		Paragraphs []struct {
			Runs []struct {
				Text []struct {
					Content string `xml:",chardata"`
				} `xml:"t"`
			} `xml:"r"`
		} `xml:"p"`
	} `xml:"body"`
}

// extractTextFromDOCX pulls paragraph text out of the DOCX zip container.
func extractTextFromDOCX(data []byte) (string, error) {
	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("failed to open docx container: %w", err)
	}

	for _, file := range reader.File {
		if file.Name != "word/document.xml" {
			continue
		}
		rc, err := file.Open()
		if err != nil {
			return "", fmt.Errorf("failed to open docx document part: %w", err)
		}
		content, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return "", fmt.Errorf("failed to read docx document part: %w", err)
		}

		var doc documentXML
		if err := xml.Unmarshal(content, &doc); err != nil {
			return "", fmt.Errorf("failed to parse docx document xml: %w", err)
		}

		var sb strings.Builder
		for i, para := range doc.Body.Paragraphs {
			if i > 0 {
				sb.WriteString("\n")
			}
			for _, run := range para.Runs {
				for _, t := range run.Text {
					sb.WriteString(t.Content)
				}
			}
		}
		return strings.TrimSpace(sb.String()), nil
	}
	return "", fmt.Errorf("docx container has no word/document.xml")
}

var (
	scriptTag     = regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`)
	styleTag      = regexp.MustCompile(`(?is)<style[^>]*>.*?</style>`)
	htmlComments  = regexp.MustCompile(`(?s)<!--.*?-->`)
	blockElements = regexp.MustCompile(`(?i)</?(p|div|br|hr|h[1-6]|li|tr|blockquote|pre|table|section|article)[^>]*>`)
	allTags       = regexp.MustCompile(`<[^>]+>`)
	multiSpaces   = regexp.MustCompile(`[ \t]+`)
	multiNewlines = regexp.MustCompile(`\n{3,}`)
)

// stripHTML reduces an HTML support document to readable text. The target
// page's markup never goes through here; it is kept verbatim for script
// generation and only uploaded .html documentation is stripped.
func stripHTML(content string) string {
	content = scriptTag.ReplaceAllString(content, "")
	content = styleTag.ReplaceAllString(content, "")
	content = htmlComments.ReplaceAllString(content, "")
	content = blockElements.ReplaceAllString(content, "\n")
	content = allTags.ReplaceAllString(content, "")
	content = html.UnescapeString(content)
	content = multiSpaces.ReplaceAllString(content, " ")
	content = multiNewlines.ReplaceAllString(content, "\n\n")

	lines := strings.Split(content, "\n")
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		if line = strings.TrimSpace(line); line != "" {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}
