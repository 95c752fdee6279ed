// Package query indexes persisted extraction output for cross-document
// search: an operator can ask which documents carry a value without reading
// every transcript.
package query

import (
	"fmt"
	"os"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"

	"github.com/veridoc/veridoc/internal/models"
)

// entry is the indexed shape of one region's final value.
type entry struct {
	DocumentID string `json:"document_id"`
	Path       string `json:"path"`
	RegionID   string `json:"region_id"`
	RegionType string `json:"region_type"`
	Value      string `json:"value"`
	Modality   string `json:"modality"`
	Mode       string `json:"mode"`
}

// Hit is one search result.
type Hit struct {
	DocumentID string  `json:"document_id"`
	Path       string  `json:"path"`
	RegionID   string  `json:"region_id"`
	Value      string  `json:"value"`
	Score      float64 `json:"score"`
}

// Index is a bleve index over persisted region values.
type Index struct {
	index bleve.Index
}

// NewIndex creates or opens a bleve index at path.
func NewIndex(path string) (*Index, error) {
	if _, err := os.Stat(path); err == nil {
		idx, openErr := bleve.Open(path)
		if openErr != nil {
			return nil, fmt.Errorf("failed to open index: %w", openErr)
		}
		return &Index{index: idx}, nil
	}

	im := bleve.NewIndexMapping()
	docMapping := bleve.NewDocumentMapping()

	textField := bleve.NewTextFieldMapping()
	// Standard analyzer: lowercase + tokenize without stemming, so exact
	// extracted values like "5.2M" stay searchable.
	textField.Analyzer = standard.Name
	docMapping.AddFieldMappingsAt("value", textField)
	docMapping.AddFieldMappingsAt("path", textField)

	keywordField := bleve.NewKeywordFieldMapping()
	docMapping.AddFieldMappingsAt("document_id", keywordField)
	docMapping.AddFieldMappingsAt("region_id", keywordField)
	docMapping.AddFieldMappingsAt("region_type", keywordField)
	docMapping.AddFieldMappingsAt("modality", keywordField)

	im.DefaultMapping = docMapping

	idx, err := bleve.New(path, im)
	if err != nil {
		return nil, fmt.Errorf("failed to create index: %w", err)
	}
	return &Index{index: idx}, nil
}

// Index adds a persisted pipeline state. Each region's resolved value wins
// over the raw modality values; unresolved regions index their text value.
func (ix *Index) Index(state *models.PipelineState) error {
	doc := state.Document
	batch := ix.index.NewBatch()

	for _, page := range doc.Pages {
		for _, region := range page.Regions {
			value, modality := finalValue(state, region.ID)
			if strings.TrimSpace(value) == "" {
				continue
			}
			e := entry{
				DocumentID: doc.ID,
				Path:       doc.Path,
				RegionID:   region.ID,
				RegionType: string(region.Type),
				Value:      value,
				Modality:   modality,
				Mode:       state.Mode.String(),
			}
			if err := batch.Index(doc.ID+"/"+region.ID, e); err != nil {
				return fmt.Errorf("index region %s: %w", region.ID, err)
			}
		}
	}
	return ix.index.Batch(batch)
}

// finalValue picks the value search should surface for a region: a
// resolution when one exists, otherwise the text result, otherwise vision.
func finalValue(state *models.PipelineState, regionID string) (string, string) {
	for _, c := range state.Conflicts {
		if c.RegionID != regionID {
			continue
		}
		for _, r := range state.Resolutions {
			if r.ConflictID == c.ID {
				return r.ChosenValue, "resolved"
			}
		}
	}
	if r, ok := state.ResultFor(regionID, models.ModalityText); ok && r.Value != "" {
		return r.Value, string(models.ModalityText)
	}
	if r, ok := state.ResultFor(regionID, models.ModalityVision); ok {
		return r.Value, string(models.ModalityVision)
	}
	return "", ""
}

// Search runs a match query over region values and paths.
func (ix *Index) Search(q string, limit int) ([]Hit, error) {
	if limit <= 0 {
		limit = 10
	}
	req := bleve.NewSearchRequest(bleve.NewMatchQuery(q))
	req.Size = limit
	req.Fields = []string{"document_id", "path", "region_id", "value"}

	res, err := ix.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	hits := make([]Hit, 0, len(res.Hits))
	for _, h := range res.Hits {
		hit := Hit{Score: h.Score}
		if v, ok := h.Fields["document_id"].(string); ok {
			hit.DocumentID = v
		}
		if v, ok := h.Fields["path"].(string); ok {
			hit.Path = v
		}
		if v, ok := h.Fields["region_id"].(string); ok {
			hit.RegionID = v
		}
		if v, ok := h.Fields["value"].(string); ok {
			hit.Value = v
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

// Close releases the index.
func (ix *Index) Close() error {
	return ix.index.Close()
}
