package agents

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	"github.com/lu4p/cat"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/veridoc/veridoc/internal/models"
)

// textBaseConfidence is the text modality's self-assessment for clean
// extractions. Degraded output lowers the per-result confidence.
const textBaseConfidence = 0.85

// TextAgent produces a transcript per region through format-native text
// extraction. It never consults the vision stack.
type TextAgent struct {
	logger *zap.Logger
}

// NewTextAgent creates a text extraction agent.
func NewTextAgent(logger *zap.Logger) *TextAgent {
	return &TextAgent{logger: logger}
}

func (a *TextAgent) Modality() models.Modality { return models.ModalityText }
func (a *TextAgent) Confidence() float64       { return textBaseConfidence }

// Process extracts one transcript per region. Pages that fail extraction
// are skipped; the remaining results are still returned alongside the error.
func (a *TextAgent) Process(ctx context.Context, doc *models.Document) ([]models.ExtractionResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ext := strings.ToLower(filepath.Ext(doc.Path))
	pageTexts, method, err := a.extractPages(doc.Path, ext, len(doc.Pages))
	if err != nil {
		return nil, &models.AgentFailure{Kind: models.FailureUnavailable, Agent: "text", Err: err}
	}

	var results []models.ExtractionResult
	for _, page := range doc.Pages {
		if page.Number > len(pageTexts) {
			continue
		}
		text := strings.TrimSpace(pageTexts[page.Number-1])
		for _, region := range page.Regions {
			results = append(results, models.NewExtractionResult(
				region.ID, models.ModalityText, method, text,
				transcriptConfidence(text)))
		}
	}

	if a.logger != nil {
		a.logger.Debug("text extraction done",
			zap.String("document_id", doc.ID),
			zap.String("method", method),
			zap.Int("results", len(results)))
	}
	return results, nil
}

// extractPages returns one text chunk per page, aligned with the layout's
// page numbering.
func (a *TextAgent) extractPages(path, ext string, pageCount int) ([]string, string, error) {
	switch ext {
	case ".pdf":
		texts, err := pdfPages(path)
		return texts, "pdf", err
	case ".xlsx", ".ods":
		texts, err := sheetPages(path)
		return texts, "sheet", err
	case ".docx", ".odt", ".rtf":
		text, err := cat.File(path)
		if err != nil {
			return nil, "cat", fmt.Errorf("extract %s: %w", ext, err)
		}
		return singlePage(text, pageCount), "cat", nil
	default:
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, "plain", fmt.Errorf("read file: %w", err)
		}
		if !utf8.Valid(content) {
			content = []byte(strings.ToValidUTF8(string(content), "�"))
		}
		return singlePage(string(content), pageCount), "plain", nil
	}
}

func pdfPages(path string) ([]string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	r, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("open PDF: %w", err)
	}

	texts := make([]string, r.NumPage())
	for i := 1; i <= r.NumPage(); i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			// Keep going, remaining pages may be readable.
			continue
		}
		texts[i-1] = text
	}
	return texts, nil
}

func sheetPages(path string) ([]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	var texts []string
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("get rows for sheet %q: %w", sheet, err)
		}
		var b strings.Builder
		for _, row := range rows {
			b.WriteString(strings.Join(row, "\t"))
			b.WriteByte('\n')
		}
		texts = append(texts, strings.TrimSpace(b.String()))
	}
	return texts, nil
}

// singlePage pads an unpaged transcript across the layout's page count so
// region alignment still works: all text lands on page one.
func singlePage(text string, pageCount int) []string {
	if pageCount < 1 {
		pageCount = 1
	}
	texts := make([]string, pageCount)
	texts[0] = text
	return texts
}

// transcriptConfidence grades a transcript by how much of it is printable
// prose. Replacement characters and control bytes suggest a bad decode.
func transcriptConfidence(text string) float64 {
	if text == "" {
		return 0
	}
	var bad int
	for _, r := range text {
		if r == '�' || (unicode.IsControl(r) && r != '\n' && r != '\t' && r != '\r') {
			bad++
		}
	}
	total := utf8.RuneCountInString(text)
	ratio := float64(bad) / float64(total)
	conf := textBaseConfidence * (1 - ratio*5)
	if conf < 0.1 {
		conf = 0.1
	}
	return conf
}
