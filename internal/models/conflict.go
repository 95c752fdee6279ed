package models

import (
	"time"

	"github.com/google/uuid"
)

// ConflictStatus is the lifecycle state of a conflict. Conflicts are created
// pending, mutated only by the resolution engine, and never deleted.
type ConflictStatus string

const (
	ConflictPending      ConflictStatus = "pending"
	ConflictAutoResolved ConflictStatus = "auto_resolved"
	ConflictUserResolved ConflictStatus = "user_resolved"
	ConflictFlagged      ConflictStatus = "flagged"
)

// Terminal reports whether the status is a terminal resolution state.
// Flagged conflicts still await a manual resolution.
func (s ConflictStatus) Terminal() bool {
	return s == ConflictAutoResolved || s == ConflictUserResolved
}

// ResolutionMethod records how a conflict's value was chosen.
type ResolutionMethod string

const (
	MethodAutoConfidence ResolutionMethod = "auto_confidence"
	MethodContextual     ResolutionMethod = "contextual"
	MethodManualOverride ResolutionMethod = "manual_override"
)

// Conflict is a quantified disagreement between the text and vision values
// for one region. Conflicts form a permanent audit trail even after
// resolution.
type Conflict struct {
	ID               string         `json:"id"`
	RegionID         string         `json:"region_id"`
	RegionType       RegionType     `json:"region_type"`
	TextValue        string         `json:"text_value"`
	VisionValue      string         `json:"vision_value"`
	TextConfidence   float64        `json:"text_confidence"`
	VisionConfidence float64        `json:"vision_confidence"`
	Discrepancy      float64        `json:"discrepancy"`
	Impact           float64        `json:"impact"`
	Status           ConflictStatus `json:"status"`
	CreatedAt        time.Time      `json:"created_at"`
}

// NewConflict creates a pending conflict for the given region.
func NewConflict(region Region, textValue, visionValue string, textConf, visionConf, discrepancy, impact float64) *Conflict {
	return &Conflict{
		ID:               uuid.New().String(),
		RegionID:         region.ID,
		RegionType:       region.Type,
		TextValue:        textValue,
		VisionValue:      visionValue,
		TextConfidence:   textConf,
		VisionConfidence: visionConf,
		Discrepancy:      discrepancy,
		Impact:           impact,
		Status:           ConflictPending,
		CreatedAt:        time.Now().UTC(),
	}
}

// Resolution is the immutable record tying a conflict to its chosen value.
// A conflict has at most one resolution, created exactly once.
type Resolution struct {
	ID          string           `json:"id"`
	ConflictID  string           `json:"conflict_id"`
	ChosenValue string           `json:"chosen_value"`
	Method      ResolutionMethod `json:"method"`
	Actor       string           `json:"actor"`
	Reason      string           `json:"reason"`
	CreatedAt   time.Time        `json:"created_at"`
}

// NewResolution creates a resolution record for the given conflict.
func NewResolution(conflictID, chosenValue string, method ResolutionMethod, actor, reason string) Resolution {
	return Resolution{
		ID:          uuid.New().String(),
		ConflictID:  conflictID,
		ChosenValue: chosenValue,
		Method:      method,
		Actor:       actor,
		Reason:      reason,
		CreatedAt:   time.Now().UTC(),
	}
}
