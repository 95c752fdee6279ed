package models

import (
	"time"

	"github.com/google/uuid"
)

// Stage is a pipeline state machine state.
type Stage string

const (
	StageIngested          Stage = "INGESTED"
	StageLayoutDone        Stage = "LAYOUT_DONE"
	StageExtracting        Stage = "EXTRACTING"
	StageConflictsDetected Stage = "CONFLICTS_DETECTED"
	StageAutoResolving     Stage = "AUTO_RESOLVING"
	StageAwaitingReview    Stage = "AWAITING_REVIEW"
	StageNoConflicts       Stage = "NO_CONFLICTS"
	StagePersisted         Stage = "PERSISTED"
	StageComplete          Stage = "COMPLETE"
	StageFailed            Stage = "FAILED"
)

// Terminal reports whether the stage ends processing for a document.
func (s Stage) Terminal() bool {
	return s == StageComplete || s == StageFailed
}

// PipelineState is the orchestrator's working set for one document. It is
// owned exclusively by the orchestrator while processing, serialized as a
// checkpoint at every transition, and archived at a terminal stage.
type PipelineState struct {
	Attempt     string             `json:"attempt"`
	Stage       Stage              `json:"stage"`
	Mode        ProcessingMode     `json:"mode"`
	Document    *Document          `json:"document"`
	Results     []ExtractionResult `json:"results"`
	Conflicts   []*Conflict        `json:"conflicts"`
	Resolutions []Resolution       `json:"resolutions"`
	ErrorLog    []string           `json:"error_log"`
	FailReason  string             `json:"fail_reason,omitempty"`
	UpdatedAt   time.Time          `json:"updated_at"`
}

// NewPipelineState creates the initial state for a document in the given mode.
func NewPipelineState(doc *Document, mode ProcessingMode) *PipelineState {
	return &PipelineState{
		Attempt:   uuid.New().String(),
		Stage:     StageIngested,
		Mode:      mode,
		Document:  doc,
		UpdatedAt: time.Now().UTC(),
	}
}

// AppendResult appends an extraction result. Results are never overwritten;
// the "active" value for a region is a pipeline decision, not a deletion.
func (st *PipelineState) AppendResult(r ExtractionResult) {
	st.Results = append(st.Results, r)
}

// ResultFor returns the most recent result for a region and modality.
func (st *PipelineState) ResultFor(regionID string, m Modality) (ExtractionResult, bool) {
	for i := len(st.Results) - 1; i >= 0; i-- {
		if st.Results[i].RegionID == regionID && st.Results[i].Modality == m {
			return st.Results[i], true
		}
	}
	return ExtractionResult{}, false
}

// HasConflictFor reports whether a conflict already exists for the region.
// Used to keep transition re-runs from duplicating conflicts after a resume.
func (st *PipelineState) HasConflictFor(regionID string) bool {
	for _, c := range st.Conflicts {
		if c.RegionID == regionID {
			return true
		}
	}
	return false
}

// ConflictByID returns the conflict with the given ID.
func (st *PipelineState) ConflictByID(id string) (*Conflict, bool) {
	for _, c := range st.Conflicts {
		if c.ID == id {
			return c, true
		}
	}
	return nil, false
}

// HasResolutionFor reports whether a resolution already exists for the conflict.
func (st *PipelineState) HasResolutionFor(conflictID string) bool {
	for _, r := range st.Resolutions {
		if r.ConflictID == conflictID {
			return true
		}
	}
	return false
}

// MaxImpact returns the highest impact score across all conflicts.
func (st *PipelineState) MaxImpact() float64 {
	max := 0.0
	for _, c := range st.Conflicts {
		if c.Impact > max {
			max = c.Impact
		}
	}
	return max
}

// LogError appends a message to the error log audit trail.
func (st *PipelineState) LogError(msg string) {
	st.ErrorLog = append(st.ErrorLog, msg)
}
