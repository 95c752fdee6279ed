// Package checkpoint persists pipeline state between stages so a crashed or
// interrupted run resumes where it stopped instead of starting over.
package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/veridoc/veridoc/internal/models"
)

// Version identifies the envelope layout. Bump on incompatible changes to
// PipelineState serialization.
const Version = 1

// ErrCheckpointCorrupt marks a checkpoint that cannot be decoded. The
// caller restarts the document from scratch.
var ErrCheckpointCorrupt = errors.New("checkpoint corrupt")

// ErrNotFound is returned when no checkpoint exists for a document.
var ErrNotFound = errors.New("checkpoint not found")

// envelope wraps the serialized state with its version and a stage summary
// readable without decoding the full state.
type envelope struct {
	Version int                   `json:"version"`
	Stage   models.Stage          `json:"stage"`
	State   *models.PipelineState `json:"state"`
}

// Store writes one checkpoint file per document id.
type Store struct {
	dir    string
	logger *zap.Logger
}

// NewStore creates a checkpoint store rooted at dir.
func NewStore(dir string, logger *zap.Logger) (*Store, error) {
	if dir == "" {
		return nil, errors.New("checkpoint dir not configured")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create checkpoint dir: %w", err)
	}
	return &Store{dir: dir, logger: logger}, nil
}

func (s *Store) pathFor(docID string) string {
	return filepath.Join(s.dir, docID+".json")
}

// Save snapshots the state atomically: write to a temp file, fsync, rename.
// A crash mid-save leaves the previous checkpoint intact.
func (s *Store) Save(state *models.PipelineState) error {
	if state == nil || state.Document == nil {
		return errors.New("state has no document")
	}
	b, err := json.MarshalIndent(envelope{
		Version: Version,
		Stage:   state.Stage,
		State:   state,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	final := s.pathFor(state.Document.ID)
	tmp, err := os.CreateTemp(s.dir, ".ckpt-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), final); err != nil {
		os.Remove(tmp.Name())
		return err
	}

	if s.logger != nil {
		s.logger.Debug("checkpoint saved",
			zap.String("document_id", state.Document.ID),
			zap.String("stage", string(state.Stage)))
	}
	return nil
}

// Load restores the checkpointed state for a document. Undecodable or
// version-mismatched files return ErrCheckpointCorrupt.
func (s *Store) Load(docID string) (*models.PipelineState, error) {
	b, err := os.ReadFile(s.pathFor(docID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCheckpointCorrupt, err)
	}
	if env.Version != Version || env.State == nil || env.State.Document == nil {
		return nil, ErrCheckpointCorrupt
	}
	return env.State, nil
}

// Clear removes the checkpoint for a document. Missing files are fine.
func (s *Store) Clear(docID string) error {
	err := os.Remove(s.pathFor(docID))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// List returns the ids of all checkpointed documents.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || filepath.Ext(name) != ".json" {
			continue
		}
		ids = append(ids, name[:len(name)-len(".json")])
	}
	return ids, nil
}
