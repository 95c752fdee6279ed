// Package resolution applies a tiered policy to detected conflicts. The
// cheapest decisive rule wins; conflicts no rule can settle are flagged for
// human review.
package resolution

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/veridoc/veridoc/internal/models"
)

// ErrAlreadyResolved is returned when a conflict already carries a
// resolution. Resolutions are write-once.
var ErrAlreadyResolved = errors.New("conflict already resolved")

// ErrUnknownConflict is returned for resolution attempts against a conflict
// id the engine has never seen.
var ErrUnknownConflict = errors.New("unknown conflict")

const (
	// dominantConfidence and weakConfidence bound the dominance rule: one
	// source strictly above the former while the other is strictly below
	// the latter.
	dominantConfidence = 0.90
	weakConfidence     = 0.60
	// reasonableConfidence is the floor for region-type heuristics. Both
	// sources must strictly exceed it.
	reasonableConfidence = 0.80
	// massiveDiscrepancy forces human review regardless of region type.
	massiveDiscrepancy = 0.50
)

// Engine resolves conflicts and keeps the at-most-one-resolution registry.
type Engine struct {
	logger *zap.Logger

	mu          sync.Mutex
	conflicts   map[string]*models.Conflict
	resolutions map[string]models.Resolution
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets a logger for resolution decisions.
func WithLogger(l *zap.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// NewEngine creates an empty resolution engine.
func NewEngine(opts ...EngineOption) *Engine {
	e := &Engine{
		conflicts:   make(map[string]*models.Conflict),
		resolutions: make(map[string]models.Resolution),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Resolve runs the tiered policy against a pending conflict. It mutates the
// conflict's status and registers the conflict so later manual overrides can
// target it. A flagged conflict returns (nil, nil): the document must wait
// for review.
func (e *Engine) Resolve(c *models.Conflict) (*models.Resolution, error) {
	if c == nil {
		return nil, errors.New("nil conflict")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.conflicts[c.ID] = c
	if r, ok := e.resolutions[c.ID]; ok {
		return &r, ErrAlreadyResolved
	}
	if c.Status.Terminal() {
		return nil, ErrAlreadyResolved
	}

	// Tier 1: one source clearly dominates the other.
	if value, winner, ok := dominance(c); ok {
		r := e.autoResolve(c, value, models.MethodAutoConfidence,
			fmt.Sprintf("high %s confidence outweighs uncertain %s", winner, other(winner)))
		return &r, nil
	}

	// Tier 2: a discrepancy this large means at least one source
	// misread badly. Never auto-pick.
	if c.Discrepancy > massiveDiscrepancy {
		e.flag(c, "massive discrepancy requires human review")
		return nil, nil
	}

	// Tier 3: both sources reasonably confident, region type implies
	// which modality reads it better.
	if value, why, ok := regionBias(c); ok {
		r := e.autoResolve(c, value, models.MethodContextual, why)
		return &r, nil
	}

	// No decisive rule: hold for review.
	reason := "no clear resolution strategy applies"
	if c.TextConfidence <= reasonableConfidence && c.VisionConfidence <= reasonableConfidence {
		reason = "both confidence scores too low for auto-resolution"
	}
	e.flag(c, reason)
	return nil, nil
}

// RecordManual records a human decision for a flagged or pending conflict.
func (e *Engine) RecordManual(conflictID, value, actor string) (*models.Resolution, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	c, ok := e.conflicts[conflictID]
	if !ok {
		return nil, ErrUnknownConflict
	}
	if _, ok := e.resolutions[conflictID]; ok {
		return nil, ErrAlreadyResolved
	}
	if c.Status.Terminal() {
		return nil, ErrAlreadyResolved
	}
	r := models.NewResolution(c.ID, value, models.MethodManualOverride, actor, "manual override")
	e.resolutions[c.ID] = r
	c.Status = models.ConflictUserResolved
	e.logResolved(c, r)
	return &r, nil
}

// Register makes conflicts restored from a checkpoint or store addressable
// by RecordManual without re-running the policy.
func (e *Engine) Register(c *models.Conflict) {
	if c == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.conflicts[c.ID] = c
}

// ResolutionFor returns the recorded resolution for a conflict, if any.
func (e *Engine) ResolutionFor(conflictID string) (models.Resolution, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.resolutions[conflictID]
	return r, ok
}

// autoResolve must be called with e.mu held.
func (e *Engine) autoResolve(c *models.Conflict, value string, method models.ResolutionMethod, reason string) models.Resolution {
	r := models.NewResolution(c.ID, value, method, "engine", reason)
	e.resolutions[c.ID] = r
	c.Status = models.ConflictAutoResolved
	e.logResolved(c, r)
	return r
}

func (e *Engine) flag(c *models.Conflict, reason string) {
	c.Status = models.ConflictFlagged
	if e.logger != nil {
		e.logger.Info("conflict flagged for review",
			zap.String("conflict_id", c.ID),
			zap.String("region_id", c.RegionID),
			zap.String("reason", reason),
		)
	}
}

// dominance returns the winning value when one source is highly confident
// and the other is weak.
func dominance(c *models.Conflict) (value, winner string, ok bool) {
	switch {
	case c.TextConfidence > dominantConfidence && c.VisionConfidence < weakConfidence:
		return c.TextValue, "text", true
	case c.VisionConfidence > dominantConfidence && c.TextConfidence < weakConfidence:
		return c.VisionValue, "vision", true
	}
	return "", "", false
}

// regionBias applies region-type heuristics when both sides are reasonably
// confident. Text extraction reads dense tabular layouts more reliably;
// vision reads charts and rendered figures.
func regionBias(c *models.Conflict) (value, reason string, ok bool) {
	if c.TextConfidence <= reasonableConfidence || c.VisionConfidence <= reasonableConfidence {
		return "", "", false
	}
	switch c.RegionType {
	case models.RegionTable:
		return c.TextValue, "table region: text modality preferred for dense text", true
	case models.RegionChart:
		return c.VisionValue, "chart region: vision modality preferred for visual data", true
	}
	return "", "", false
}

func other(winner string) string {
	if winner == "text" {
		return "vision"
	}
	return "text"
}

func (e *Engine) logResolved(c *models.Conflict, r models.Resolution) {
	if e.logger == nil {
		return
	}
	e.logger.Info("conflict resolved",
		zap.String("conflict_id", c.ID),
		zap.String("region_id", c.RegionID),
		zap.String("method", string(r.Method)),
		zap.String("chosen_value", r.ChosenValue),
		zap.String("actor", r.Actor),
	)
}
