// Package models defines core data structures for documents, regions,
// extraction results, conflicts, and pipeline state.
package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// BoundingBox is a rectangular area on a page, origin at the top-left corner.
type BoundingBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Valid reports whether the box has non-negative origin and dimensions.
func (b BoundingBox) Valid() bool {
	return b.X >= 0 && b.Y >= 0 && b.Width >= 0 && b.Height >= 0
}

// Within reports whether the box lies entirely inside a page of the given size.
func (b BoundingBox) Within(pageWidth, pageHeight float64) bool {
	return b.Valid() && b.X+b.Width <= pageWidth && b.Y+b.Height <= pageHeight
}

// RegionType classifies the semantic content of a region.
type RegionType string

const (
	RegionText  RegionType = "text"
	RegionTable RegionType = "table"
	RegionImage RegionType = "image"
	RegionChart RegionType = "chart"
)

// Region is a detected sub-area of a page. Regions are created by the layout
// stage and never deleted; downstream results reference them by ID.
type Region struct {
	ID         string      `json:"id"`
	PageNumber int         `json:"page_number"`
	BBox       BoundingBox `json:"bbox"`
	Type       RegionType  `json:"type"`
}

// Page is a single page of a document. Page numbers are 1-indexed.
type Page struct {
	Number  int      `json:"number"`
	Width   float64  `json:"width"`
	Height  float64  `json:"height"`
	Regions []Region `json:"regions"`
}

// AddRegion appends a region to the page after validating that its bounding
// box lies within the page bounds.
func (p *Page) AddRegion(bbox BoundingBox, typ RegionType) (Region, error) {
	if !bbox.Within(p.Width, p.Height) {
		return Region{}, fmt.Errorf("region bbox %+v outside page %d bounds (%gx%g)", bbox, p.Number, p.Width, p.Height)
	}
	r := Region{
		ID:         uuid.New().String(),
		PageNumber: p.Number,
		BBox:       bbox,
		Type:       typ,
	}
	p.Regions = append(p.Regions, r)
	return r, nil
}

// Document is an ordered sequence of pages plus metadata. It is immutable
// once ingested except for extraction results, which are appended by agents
// into the owning PipelineState.
type Document struct {
	ID          string    `json:"id"`
	Path        string    `json:"path"`
	Fingerprint string    `json:"fingerprint"`
	Pages       []Page    `json:"pages"`
	SizeBytes   int64     `json:"size_bytes"`
	CreatedAt   time.Time `json:"created_at"`
}

// NewDocument creates a document for the file at path with the given content
// fingerprint. Pages are attached by the layout stage.
func NewDocument(path, fingerprint string, sizeBytes int64) *Document {
	return &Document{
		ID:          uuid.New().String(),
		Path:        path,
		Fingerprint: fingerprint,
		SizeBytes:   sizeBytes,
		CreatedAt:   time.Now().UTC(),
	}
}

// Region returns the region with the given ID, or false if not found.
func (d *Document) Region(id string) (Region, bool) {
	for _, p := range d.Pages {
		for _, r := range p.Regions {
			if r.ID == id {
				return r, true
			}
		}
	}
	return Region{}, false
}

// RegionCount returns the total number of regions across all pages.
func (d *Document) RegionCount() int {
	n := 0
	for _, p := range d.Pages {
		n += len(p.Regions)
	}
	return n
}
