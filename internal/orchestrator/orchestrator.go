// Package orchestrator drives each document through the pipeline state
// machine, fanning extraction out across modalities and routing conflicts
// to automatic resolution or human review.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/veridoc/veridoc/internal/agents"
	"github.com/veridoc/veridoc/internal/cache"
	"github.com/veridoc/veridoc/internal/checkpoint"
	"github.com/veridoc/veridoc/internal/conflict"
	"github.com/veridoc/veridoc/internal/fallback"
	"github.com/veridoc/veridoc/internal/models"
	"github.com/veridoc/veridoc/internal/monitor"
	"github.com/veridoc/veridoc/internal/resolution"
	"github.com/veridoc/veridoc/internal/storage"
)

// Stage names used as cache keys.
const (
	stageCacheLayout  = "layout"
	stageCacheExtract = "extract"
)

// ErrHealthBlocked means the pre-flight gate refused new work.
var ErrHealthBlocked = errors.New("system health critical, not admitting work")

// ErrHeldForReview means the document reached AWAITING_REVIEW and needs a
// human before it can continue.
var ErrHeldForReview = errors.New("document held for review")

// Indexer receives persisted states for search indexing. The query package
// provides the production implementation.
type Indexer interface {
	Index(state *models.PipelineState) error
}

// Config carries the pipeline tunables.
type Config struct {
	ReviewImpactBound float64
	AgentTimeout      time.Duration
	CheckpointEnabled bool
	Mode              models.ProcessingMode
	BackoffBase       time.Duration
}

// Orchestrator runs the state machine for single documents. It is safe for
// concurrent use across documents.
type Orchestrator struct {
	cfg      Config
	layout   *agents.LayoutAgent
	text     agents.Agent
	remote   agents.Agent
	local    agents.Agent
	detector *conflict.Detector
	engine   *resolution.Engine
	mon      *monitor.Monitor
	cache    *cache.StageCache
	ckpt     *checkpoint.Store
	store    storage.Store
	indexer  Indexer
	logger   *zap.Logger
}

// New wires an orchestrator. remote and local vision agents may be nil when
// the deployment lacks them; the fallback ladder routes around absent rungs.
func New(cfg Config, layout *agents.LayoutAgent, text, remote, local agents.Agent,
	detector *conflict.Detector, engine *resolution.Engine, mon *monitor.Monitor,
	stageCache *cache.StageCache, ckpt *checkpoint.Store, store storage.Store,
	indexer Indexer, logger *zap.Logger) *Orchestrator {
	if cfg.AgentTimeout <= 0 {
		cfg.AgentTimeout = 60 * time.Second
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = time.Second
	}
	return &Orchestrator{
		cfg:      cfg,
		layout:   layout,
		text:     text,
		remote:   remote,
		local:    local,
		detector: detector,
		engine:   engine,
		mon:      mon,
		cache:    stageCache,
		ckpt:     ckpt,
		store:    store,
		indexer:  indexer,
		logger:   logger,
	}
}

// Run drives state until a terminal stage or the AWAITING_REVIEW hold.
// Returns ErrHeldForReview when review is needed; nil means COMPLETE.
func (o *Orchestrator) Run(ctx context.Context, state *models.PipelineState) error {
	if admit, _ := o.mon.Gate(); !admit {
		return ErrHealthBlocked
	}

	fb := fallback.NewManager(state.Mode,
		fallback.WithLogger(o.logger), fallback.WithBackoffBase(o.cfg.BackoffBase))

	for {
		if state.Stage.Terminal() {
			return o.finish(state)
		}
		if state.Stage == models.StageAwaitingReview {
			o.checkpointState(state)
			// Persist now so the review API can list the flagged
			// conflicts while the document is held.
			if err := o.store.PersistState(ctx, state); err != nil && o.logger != nil {
				o.logger.Warn("persisting held state failed",
					zap.String("document_id", state.Document.ID), zap.Error(err))
			}
			return ErrHeldForReview
		}

		if err := ctx.Err(); err != nil {
			o.failState(state, fmt.Sprintf("cancelled at %s: %v", state.Stage, err))
			return err
		}

		next, err := o.step(ctx, state, fb)
		if err != nil {
			o.failState(state, err.Error())
			return err
		}
		o.transition(state, next)
	}
}

// step dispatches one stage. It returns the next stage without mutating
// state.Stage; Run owns the transition.
func (o *Orchestrator) step(ctx context.Context, state *models.PipelineState, fb *fallback.Manager) (models.Stage, error) {
	switch state.Stage {
	case models.StageIngested:
		return o.stepIngested(ctx, state, fb)
	case models.StageLayoutDone:
		return models.StageExtracting, nil
	case models.StageExtracting:
		return o.stepExtracting(ctx, state, fb)
	case models.StageConflictsDetected:
		return o.stepConflictsDetected(state)
	case models.StageAutoResolving:
		return o.stepAutoResolving(state)
	case models.StageNoConflicts:
		return models.StagePersisted, nil
	case models.StagePersisted:
		return o.stepPersisted(ctx, state)
	default:
		return "", fmt.Errorf("no transition from stage %s", state.Stage)
	}
}

func (o *Orchestrator) stepIngested(ctx context.Context, state *models.PipelineState, fb *fallback.Manager) (models.Stage, error) {
	health := o.mon.Health()
	state.Mode = fb.SelectMode(health, health.Sample.RemoteReachable, o.local != nil)

	doc := state.Document
	var cached []models.Page
	if hit, _ := o.cache.Get(doc.Fingerprint, stageCacheLayout, &cached); hit {
		doc.Pages = cached
		return models.StageLayoutDone, nil
	}

	if err := o.layout.Analyze(ctx, doc); err != nil {
		return "", fmt.Errorf("layout: %w", err)
	}
	if err := o.cache.Put(doc.Fingerprint, stageCacheLayout, doc.Pages); err != nil && o.logger != nil {
		o.logger.Warn("layout cache write failed", zap.Error(err))
	}
	return models.StageLayoutDone, nil
}

// stepExtracting fans text and vision out in parallel. A vision failure
// consults the fallback manager; text failures end the document since no
// degraded mode can replace the text modality.
func (o *Orchestrator) stepExtracting(ctx context.Context, state *models.PipelineState, fb *fallback.Manager) (models.Stage, error) {
	doc := state.Document

	var cached []models.ExtractionResult
	if hit, _ := o.cache.Get(doc.Fingerprint, stageCacheExtract, &cached); hit {
		for _, r := range cached {
			state.AppendResult(r)
		}
		return models.StageConflictsDetected, nil
	}

	var (
		textResults   []models.ExtractionResult
		visionResults []models.ExtractionResult
		errChan       = make(chan error, 2)
		wg            sync.WaitGroup
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		callCtx, cancel := context.WithTimeout(ctx, o.cfg.AgentTimeout)
		defer cancel()
		results, err := o.text.Process(callCtx, doc)
		textResults = results
		if err != nil {
			errChan <- fmt.Errorf("text extraction: %w", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		results, err := o.runVision(ctx, doc, fb)
		visionResults = results
		if err != nil {
			errChan <- err
		}
	}()

	wg.Wait()
	close(errChan)
	for err := range errChan {
		if err != nil {
			return "", err
		}
	}

	for _, r := range textResults {
		state.AppendResult(r)
	}
	for _, r := range visionResults {
		state.AppendResult(r)
	}
	// Record the mode extraction actually ran under; vision failures may
	// have lowered it mid-stage.
	state.Mode = fb.Current()

	if err := o.cache.Put(doc.Fingerprint, stageCacheExtract, append(textResults, visionResults...)); err != nil && o.logger != nil {
		o.logger.Warn("extract cache write failed", zap.Error(err))
	}
	return models.StageConflictsDetected, nil
}

// runVision drives the vision modality through retries and degradation.
// TEXT_ONLY produces no vision results and no error; a modality that fails
// all the way down the ladder degrades to the same outcome.
func (o *Orchestrator) runVision(ctx context.Context, doc *models.Document, fb *fallback.Manager) ([]models.ExtractionResult, error) {
	retries := make(map[models.FailureKind]int)

	for {
		agent := o.visionFor(fb.Current())
		if agent == nil {
			return nil, nil
		}

		callCtx, cancel := context.WithTimeout(ctx, o.cfg.AgentTimeout)
		results, err := agent.Process(callCtx, doc)
		cancel()
		if err == nil {
			return results, nil
		}
		if ctx.Err() != nil {
			return results, ctx.Err()
		}

		var failure *models.AgentFailure
		if !errors.As(err, &failure) {
			return results, fmt.Errorf("vision extraction: %w", err)
		}

		strategy := fb.HandleFailure(failure.Kind, retries[failure.Kind])
		if o.logger != nil {
			o.logger.Warn("vision extraction failed",
				zap.String("document_id", doc.ID),
				zap.String("kind", string(failure.Kind)),
				zap.String("strategy", string(strategy.Kind)),
				zap.Error(failure.Err))
		}

		switch strategy.Kind {
		case fallback.StrategyRetry:
			retries[failure.Kind]++
			if strategy.Backoff > 0 {
				select {
				case <-ctx.Done():
					return results, ctx.Err()
				case <-time.After(strategy.Backoff):
				}
			}
		case fallback.StrategyDowngrade:
			fb.Downgrade()
			retries = make(map[models.FailureKind]int)
		case fallback.StrategyIncremental:
			incr, err := o.runVisionIncremental(ctx, doc, fb)
			return incr, err
		case fallback.StrategySkip:
			return results, nil
		}
	}
}

// runVisionIncremental processes one page at a time so memory pressure from
// large documents stays bounded. Pages that still fail are skipped.
func (o *Orchestrator) runVisionIncremental(ctx context.Context, doc *models.Document, fb *fallback.Manager) ([]models.ExtractionResult, error) {
	agent := o.visionFor(fb.Current())
	if agent == nil {
		return nil, nil
	}

	var all []models.ExtractionResult
	for _, page := range doc.Pages {
		if err := ctx.Err(); err != nil {
			return all, err
		}
		single := &models.Document{
			ID: doc.ID, Path: doc.Path, Fingerprint: doc.Fingerprint,
			Pages: []models.Page{page}, SizeBytes: doc.SizeBytes, CreatedAt: doc.CreatedAt,
		}
		callCtx, cancel := context.WithTimeout(ctx, o.cfg.AgentTimeout)
		results, err := agent.Process(callCtx, single)
		cancel()
		all = append(all, results...)
		if err != nil && o.logger != nil {
			o.logger.Warn("incremental vision page failed",
				zap.String("document_id", doc.ID),
				zap.Int("page", page.Number),
				zap.Error(err))
		}
	}
	return all, nil
}

// visionFor maps the active mode to a vision agent. Both local rungs use
// the same local model; the GPU/CPU split is the runtime's concern.
func (o *Orchestrator) visionFor(mode models.ProcessingMode) agents.Agent {
	switch mode {
	case models.ModeHybrid:
		if o.remote != nil {
			return o.remote
		}
		return o.local
	case models.ModeLocalGPU, models.ModeLocalCPU:
		return o.local
	default:
		return nil
	}
}

// stepConflictsDetected compares modalities per region and routes by
// impact.
func (o *Orchestrator) stepConflictsDetected(state *models.PipelineState) (models.Stage, error) {
	doc := state.Document
	for _, page := range doc.Pages {
		for _, region := range page.Regions {
			if state.HasConflictFor(region.ID) {
				// Resumed run, already detected.
				continue
			}
			text, _ := state.ResultFor(region.ID, models.ModalityText)
			vision, _ := state.ResultFor(region.ID, models.ModalityVision)
			if c, ok := o.detector.Detect(region, text, vision); ok {
				state.Conflicts = append(state.Conflicts, c)
			}
		}
	}

	if len(state.Conflicts) == 0 {
		return models.StageNoConflicts, nil
	}
	if state.MaxImpact() >= o.cfg.ReviewImpactBound {
		// One high-impact conflict holds the whole document.
		for _, c := range state.Conflicts {
			o.engine.Register(c)
			if c.Status == models.ConflictPending {
				c.Status = models.ConflictFlagged
			}
		}
		return models.StageAwaitingReview, nil
	}
	return models.StageAutoResolving, nil
}

// stepAutoResolving runs the resolution engine over pending conflicts. Any
// conflict the engine flags sends the document to review.
func (o *Orchestrator) stepAutoResolving(state *models.PipelineState) (models.Stage, error) {
	flagged := false
	for _, c := range state.Conflicts {
		if c.Status.Terminal() {
			continue
		}
		if state.HasResolutionFor(c.ID) {
			continue
		}
		r, err := o.engine.Resolve(c)
		if err != nil && !errors.Is(err, resolution.ErrAlreadyResolved) {
			return "", fmt.Errorf("resolve conflict %s: %w", c.ID, err)
		}
		if r != nil {
			state.Resolutions = append(state.Resolutions, *r)
		}
		if c.Status == models.ConflictFlagged {
			flagged = true
		}
	}
	if flagged {
		return models.StageAwaitingReview, nil
	}
	return models.StagePersisted, nil
}

func (o *Orchestrator) stepPersisted(ctx context.Context, state *models.PipelineState) (models.Stage, error) {
	if err := o.store.PersistState(ctx, state); err != nil {
		return "", fmt.Errorf("persist: %w", err)
	}
	if o.indexer != nil {
		if err := o.indexer.Index(state); err != nil && o.logger != nil {
			o.logger.Warn("index failed",
				zap.String("document_id", state.Document.ID), zap.Error(err))
		}
	}
	return models.StageComplete, nil
}

// ResumeAfterReview continues a held document once every conflict carries a
// terminal status.
func (o *Orchestrator) ResumeAfterReview(ctx context.Context, state *models.PipelineState) error {
	if state.Stage != models.StageAwaitingReview {
		return fmt.Errorf("document %s is in %s, not awaiting review", state.Document.ID, state.Stage)
	}
	for _, c := range state.Conflicts {
		// A checkpointed conflict may have been resolved after the hold;
		// the engine or the store carries the newer status.
		r, ok := o.engine.ResolutionFor(c.ID)
		if !ok {
			if stored, err := o.store.ResolutionForConflict(ctx, c.ID); err == nil && stored != nil {
				r, ok = *stored, true
			}
		}
		if ok {
			if !state.HasResolutionFor(c.ID) {
				state.Resolutions = append(state.Resolutions, r)
			}
			if !c.Status.Terminal() {
				if r.Method == models.MethodManualOverride {
					c.Status = models.ConflictUserResolved
				} else {
					c.Status = models.ConflictAutoResolved
				}
			}
		}
		if !c.Status.Terminal() {
			return fmt.Errorf("conflict %s still %s", c.ID, c.Status)
		}
	}
	o.transition(state, models.StagePersisted)
	return o.Run(ctx, state)
}

// transition moves the state machine forward and checkpoints.
func (o *Orchestrator) transition(state *models.PipelineState, next models.Stage) {
	if o.logger != nil {
		o.logger.Info("stage transition",
			zap.String("document_id", state.Document.ID),
			zap.String("from", string(state.Stage)),
			zap.String("to", string(next)),
			zap.String("mode", state.Mode.String()))
	}
	state.Stage = next
	state.UpdatedAt = time.Now().UTC()
	o.checkpointState(state)
}

func (o *Orchestrator) checkpointState(state *models.PipelineState) {
	if !o.cfg.CheckpointEnabled || o.ckpt == nil {
		return
	}
	if err := o.ckpt.Save(state); err != nil && o.logger != nil {
		o.logger.Error("checkpoint save failed",
			zap.String("document_id", state.Document.ID), zap.Error(err))
	}
}

// failState marks the document FAILED and throws away the attempt's cached
// stage outputs so a rerun starts clean.
func (o *Orchestrator) failState(state *models.PipelineState, reason string) {
	state.LogError(reason)
	state.FailReason = reason
	o.transition(state, models.StageFailed)
	if err := o.cache.Invalidate(state.Document.Fingerprint, stageCacheLayout, stageCacheExtract); err != nil && o.logger != nil {
		o.logger.Warn("cache invalidate failed", zap.Error(err))
	}
}

// finish clears the checkpoint for completed documents. Failed documents
// keep theirs for post-mortem.
func (o *Orchestrator) finish(state *models.PipelineState) error {
	if state.Stage == models.StageComplete && o.ckpt != nil {
		if err := o.ckpt.Clear(state.Document.ID); err != nil && o.logger != nil {
			o.logger.Warn("checkpoint clear failed", zap.Error(err))
		}
	}
	return nil
}
