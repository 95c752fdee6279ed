package agents

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/veridoc/veridoc/internal/models"
)

// defaultPageWidth and defaultPageHeight are US letter in points, used when
// the format does not carry page geometry.
const (
	defaultPageWidth  = 612.0
	defaultPageHeight = 792.0
)

// LayoutAgent detects pages and regions. It runs before the extraction
// modalities and populates Document.Pages in place.
type LayoutAgent struct {
	logger *zap.Logger
}

// NewLayoutAgent creates a layout agent.
func NewLayoutAgent(logger *zap.Logger) *LayoutAgent {
	return &LayoutAgent{logger: logger}
}

// Analyze detects the document's pages and regions by format. Sheet formats
// yield one table region per sheet; paged formats yield one text region per
// page, promoted to table when the page text looks tabular.
func (a *LayoutAgent) Analyze(ctx context.Context, doc *models.Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(doc.Pages) > 0 {
		// Layout already done, keep it.
		return nil
	}

	ext := strings.ToLower(filepath.Ext(doc.Path))
	var err error
	switch ext {
	case ".pdf":
		err = a.analyzePDF(doc)
	case ".xlsx", ".ods":
		err = a.analyzeSheets(doc)
	default:
		err = a.analyzeSinglePage(doc)
	}
	if err != nil {
		return &models.AgentFailure{Kind: models.FailureUnavailable, Agent: "layout", Err: err}
	}

	if a.logger != nil {
		a.logger.Debug("layout analyzed",
			zap.String("document_id", doc.ID),
			zap.Int("pages", len(doc.Pages)),
			zap.Int("regions", doc.RegionCount()))
	}
	return nil
}

func (a *LayoutAgent) analyzePDF(doc *models.Document) error {
	content, err := os.ReadFile(doc.Path)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}
	r, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return fmt.Errorf("open PDF: %w", err)
	}

	for i := 1; i <= r.NumPage(); i++ {
		page := models.Page{Number: i, Width: defaultPageWidth, Height: defaultPageHeight}
		doc.Pages = append(doc.Pages, page)

		p := r.Page(i)
		typ := models.RegionText
		if !p.V.IsNull() {
			if text, err := p.GetPlainText(nil); err == nil && looksTabular(text) {
				typ = models.RegionTable
			}
		}
		if _, err := doc.Pages[i-1].AddRegion(fullPageBBox(), typ); err != nil {
			return err
		}
	}
	return nil
}

func (a *LayoutAgent) analyzeSheets(doc *models.Document) error {
	f, err := excelize.OpenFile(doc.Path)
	if err != nil {
		return fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	for i := range f.GetSheetList() {
		doc.Pages = append(doc.Pages, models.Page{
			Number: i + 1, Width: defaultPageWidth, Height: defaultPageHeight,
		})
		if _, err := doc.Pages[i].AddRegion(fullPageBBox(), models.RegionTable); err != nil {
			return err
		}
	}
	return nil
}

func (a *LayoutAgent) analyzeSinglePage(doc *models.Document) error {
	if _, err := os.Stat(doc.Path); err != nil {
		return fmt.Errorf("stat file: %w", err)
	}
	doc.Pages = append(doc.Pages, models.Page{
		Number: 1, Width: defaultPageWidth, Height: defaultPageHeight,
	})
	_, err := doc.Pages[0].AddRegion(fullPageBBox(), models.RegionText)
	return err
}

func fullPageBBox() models.BoundingBox {
	return models.BoundingBox{X: 0, Y: 0, Width: defaultPageWidth, Height: defaultPageHeight}
}

// looksTabular is a cheap heuristic: a page whose lines are mostly short
// numeric cells separated by runs of whitespace is treated as a table.
func looksTabular(text string) bool {
	lines := strings.Split(text, "\n")
	if len(lines) < 3 {
		return false
	}
	columnar := 0
	for _, line := range lines {
		if strings.Contains(line, "\t") || strings.Contains(line, "  ") {
			columnar++
		}
	}
	return columnar*2 > len(lines)
}
