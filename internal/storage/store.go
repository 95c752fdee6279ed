package storage

import (
	"context"

	"github.com/veridoc/veridoc/internal/models"
)

// Store is the persistence contract the orchestrator and review server
// depend on. SQLiteStore is the production implementation.
type Store interface {
	// PersistState writes a finished pipeline state. Idempotent: rows
	// already present are left alone.
	PersistState(ctx context.Context, state *models.PipelineState) error

	GetDocument(ctx context.Context, id string) (*models.Document, error)
	DocumentByFingerprint(ctx context.Context, fingerprint string) (*models.Document, error)
	ResultsForDocument(ctx context.Context, docID string) ([]models.ExtractionResult, error)

	ConflictsByStatus(ctx context.Context, status models.ConflictStatus) ([]*models.Conflict, error)
	ConflictByID(ctx context.Context, id string) (*models.Conflict, string, error)
	ConflictsForDocument(ctx context.Context, docID string) ([]*models.Conflict, error)
	SaveResolution(ctx context.Context, r models.Resolution, status models.ConflictStatus) error
	ResolutionForConflict(ctx context.Context, conflictID string) (*models.Resolution, error)

	Close() error
}
