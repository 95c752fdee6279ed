package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"

	"github.com/veridoc/veridoc/internal/checkpoint"
	"github.com/veridoc/veridoc/internal/fingerprint"
	"github.com/veridoc/veridoc/internal/models"
)

// Outcome summarizes one document's run for batch reporting.
type Outcome struct {
	Path       string
	DocumentID string
	Stage      models.Stage
	Mode       models.ProcessingMode
	Err        error
}

// Processor runs documents through the orchestrator with a bounded worker
// pool. Per-document failures are isolated; the batch keeps going.
type Processor struct {
	orch       *Orchestrator
	ckpt       *checkpoint.Store
	maxWorkers int
	mode       models.ProcessingMode
	logger     *zap.Logger
}

// NewProcessor creates a processor with the given concurrency bound.
func NewProcessor(orch *Orchestrator, ckpt *checkpoint.Store, maxWorkers int, mode models.ProcessingMode, logger *zap.Logger) *Processor {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	return &Processor{
		orch:       orch,
		ckpt:       ckpt,
		maxWorkers: maxWorkers,
		mode:       mode,
		logger:     logger,
	}
}

// ProcessFile runs a single document from its path.
func (p *Processor) ProcessFile(ctx context.Context, path string) Outcome {
	state, err := p.stateForPath(path)
	if err != nil {
		return Outcome{Path: path, Err: err}
	}
	err = p.orch.Run(ctx, state)
	return Outcome{
		Path:       path,
		DocumentID: state.Document.ID,
		Stage:      state.Stage,
		Mode:       state.Mode,
		Err:        err,
	}
}

// ProcessBatch fans paths across the worker pool and returns one outcome
// per path, in input order.
func (p *Processor) ProcessBatch(ctx context.Context, paths []string) []Outcome {
	outcomes := make([]Outcome, len(paths))
	sem := make(chan struct{}, p.maxWorkers)
	var wg sync.WaitGroup

	for i, path := range paths {
		wg.Add(1)
		go func(i int, path string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			outcomes[i] = p.ProcessFile(ctx, path)
			if outcomes[i].Err != nil && p.logger != nil && !errors.Is(outcomes[i].Err, ErrHeldForReview) {
				p.logger.Error("document failed",
					zap.String("path", path), zap.Error(outcomes[i].Err))
			}
		}(i, path)
	}
	wg.Wait()
	return outcomes
}

// Resume reloads a checkpointed document and continues it. A corrupt
// checkpoint restarts the document from the beginning when its source file
// still exists.
func (p *Processor) Resume(ctx context.Context, docID string) Outcome {
	state, err := p.ckpt.Load(docID)
	if errors.Is(err, checkpoint.ErrCheckpointCorrupt) {
		if p.logger != nil {
			p.logger.Warn("checkpoint corrupt, restarting document",
				zap.String("document_id", docID))
		}
		if clearErr := p.ckpt.Clear(docID); clearErr != nil {
			return Outcome{DocumentID: docID, Err: clearErr}
		}
		return Outcome{DocumentID: docID, Err: fmt.Errorf("checkpoint corrupt, resubmit the source file")}
	}
	if err != nil {
		return Outcome{DocumentID: docID, Err: err}
	}

	if state.Stage == models.StageAwaitingReview {
		err = p.orch.ResumeAfterReview(ctx, state)
	} else {
		err = p.orch.Run(ctx, state)
	}
	return Outcome{
		Path:       state.Document.Path,
		DocumentID: docID,
		Stage:      state.Stage,
		Mode:       state.Mode,
		Err:        err,
	}
}

// stateForPath builds the initial pipeline state for a file, resuming from
// a checkpoint when one exists for the same content.
func (p *Processor) stateForPath(path string) (*models.PipelineState, error) {
	fp, err := fingerprint.File(path)
	if err != nil {
		return nil, fmt.Errorf("fingerprint %s: %w", path, err)
	}

	if p.ckpt != nil {
		if state, ok := p.checkpointForFingerprint(fp); ok {
			if p.logger != nil {
				p.logger.Info("resuming from checkpoint",
					zap.String("path", path),
					zap.String("document_id", state.Document.ID),
					zap.String("stage", string(state.Stage)))
			}
			return state, nil
		}
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	doc := models.NewDocument(path, fp, info.Size())
	return models.NewPipelineState(doc, p.mode), nil
}

// checkpointForFingerprint scans saved checkpoints for a non-terminal state
// over the same content.
func (p *Processor) checkpointForFingerprint(fp string) (*models.PipelineState, bool) {
	ids, err := p.ckpt.List()
	if err != nil {
		return nil, false
	}
	for _, id := range ids {
		state, err := p.ckpt.Load(id)
		if err != nil {
			continue
		}
		if state.Document.Fingerprint == fp && !state.Stage.Terminal() {
			return state, true
		}
	}
	return nil, false
}
