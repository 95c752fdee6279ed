package models

import (
	"time"

	"github.com/google/uuid"
)

// Modality identifies the independent extraction pathway that produced a result.
type Modality string

const (
	ModalityText   Modality = "text"
	ModalityVision Modality = "vision"
)

// ExtractionResult is the per-region output of one modality. Multiple results
// may exist for the same region (one per modality, plus retries); results are
// appended, never overwritten.
type ExtractionResult struct {
	ID         string    `json:"id"`
	RegionID   string    `json:"region_id"`
	Modality   Modality  `json:"modality"`
	Method     string    `json:"method"`
	Value      string    `json:"value"`
	Confidence float64   `json:"confidence"`
	Attempt    int       `json:"attempt"`
	CreatedAt  time.Time `json:"created_at"`
}

// NewExtractionResult creates a result with a fresh ID and timestamp.
// Confidence is clamped into [0,1].
func NewExtractionResult(regionID string, modality Modality, method, value string, confidence float64) ExtractionResult {
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}
	return ExtractionResult{
		ID:         uuid.New().String(),
		RegionID:   regionID,
		Modality:   modality,
		Method:     method,
		Value:      value,
		Confidence: confidence,
		CreatedAt:  time.Now().UTC(),
	}
}
