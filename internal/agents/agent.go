// Package agents holds the extraction agents. Each modality is one Agent
// implementation; the orchestrator fans them out per document and compares
// their results region by region.
package agents

import (
	"context"

	"github.com/veridoc/veridoc/internal/models"
)

// Agent extracts values for a document's regions through one modality.
type Agent interface {
	// Process extracts a value per applicable region. Partial results
	// with an error are valid: the orchestrator keeps what it got.
	Process(ctx context.Context, doc *models.Document) ([]models.ExtractionResult, error)
	// Confidence is the agent's baseline self-assessment, used when a
	// per-result confidence is not available.
	Confidence() float64
	Modality() models.Modality
}
