package resolution

import (
	"errors"
	"testing"

	"github.com/veridoc/veridoc/internal/models"
)

func conflict(rt models.RegionType, textVal, visionVal string, textConf, visionConf, discrepancy float64) *models.Conflict {
	region := models.Region{ID: "r1", PageNumber: 1, Type: rt}
	return models.NewConflict(region, textVal, visionVal, textConf, visionConf, discrepancy, 0.5)
}

func TestResolveDominance(t *testing.T) {
	e := NewEngine()

	c := conflict(models.RegionTable, "5000000", "4800000", 0.95, 0.4, 0.04)
	r, err := e.Resolve(c)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if r == nil {
		t.Fatal("expected auto resolution")
	}
	if r.ChosenValue != "5000000" {
		t.Errorf("chosen = %q, want text value", r.ChosenValue)
	}
	if r.Method != models.MethodAutoConfidence {
		t.Errorf("method = %v, want auto_confidence", r.Method)
	}
	if c.Status != models.ConflictAutoResolved {
		t.Errorf("status = %v, want auto_resolved", c.Status)
	}

	// Mirror case: vision dominates.
	c2 := conflict(models.RegionText, "old", "new", 0.3, 0.92, 0.4)
	r2, err := e.Resolve(c2)
	if err != nil || r2 == nil {
		t.Fatalf("Resolve vision-dominant: r=%v err=%v", r2, err)
	}
	if r2.ChosenValue != "new" {
		t.Errorf("chosen = %q, want vision value", r2.ChosenValue)
	}
}

func TestResolveMassiveDiscrepancy(t *testing.T) {
	e := NewEngine()

	// Both sides very confident but the values are wildly apart. Must be
	// flagged, never auto-picked by region bias.
	c := conflict(models.RegionTable, "100", "900", 0.95, 0.95, 0.89)
	r, err := e.Resolve(c)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if r != nil {
		t.Fatalf("massive discrepancy must not auto-resolve, got %+v", r)
	}
	if c.Status != models.ConflictFlagged {
		t.Errorf("status = %v, want flagged", c.Status)
	}
}

func TestResolveRegionBias(t *testing.T) {
	e := NewEngine()

	tests := []struct {
		rt   models.RegionType
		want string
	}{
		{models.RegionTable, "text-val"},
		{models.RegionChart, "vision-val"},
	}
	for _, tt := range tests {
		c := conflict(tt.rt, "text-val", "vision-val", 0.85, 0.85, 0.2)
		r, err := e.Resolve(c)
		if err != nil {
			t.Fatalf("Resolve(%v): %v", tt.rt, err)
		}
		if r == nil {
			t.Fatalf("Resolve(%v): expected region bias resolution", tt.rt)
		}
		if r.ChosenValue != tt.want {
			t.Errorf("Resolve(%v) chose %q, want %q", tt.rt, r.ChosenValue, tt.want)
		}
		if r.Method != models.MethodContextual {
			t.Errorf("Resolve(%v) method = %v, want contextual", tt.rt, r.Method)
		}
	}

	// Confidence exactly at the bound does not qualify.
	c := conflict(models.RegionTable, "100.0", "150.0", 0.8, 0.8, 0.333)
	r, err := e.Resolve(c)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if r != nil {
		t.Fatal("boundary confidence must not trigger region bias")
	}
	if c.Status != models.ConflictFlagged {
		t.Errorf("status = %v, want flagged", c.Status)
	}

	// Region bias has no rule for free-text regions.
	c2 := conflict(models.RegionText, "a", "b", 0.85, 0.85, 0.2)
	if r, _ := e.Resolve(c2); r != nil {
		t.Fatal("text region must not trigger region bias")
	}
	if c2.Status != models.ConflictFlagged {
		t.Errorf("status = %v, want flagged", c2.Status)
	}
}

func TestResolveLowConfidenceFlags(t *testing.T) {
	e := NewEngine()

	c := conflict(models.RegionTable, "a", "b", 0.5, 0.55, 0.2)
	r, err := e.Resolve(c)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if r != nil {
		t.Fatal("low-confidence conflict must be flagged, not resolved")
	}
	if c.Status != models.ConflictFlagged {
		t.Errorf("status = %v, want flagged", c.Status)
	}
}

func TestResolveIdempotence(t *testing.T) {
	e := NewEngine()

	c := conflict(models.RegionTable, "1", "9", 0.95, 0.3, 0.89)
	first, err := e.Resolve(c)
	if err != nil || first == nil {
		t.Fatalf("first Resolve: r=%v err=%v", first, err)
	}
	second, err := e.Resolve(c)
	if !errors.Is(err, ErrAlreadyResolved) {
		t.Fatalf("second Resolve err = %v, want ErrAlreadyResolved", err)
	}
	if second == nil || second.ID != first.ID {
		t.Error("second Resolve must return the original resolution")
	}
}

func TestRecordManual(t *testing.T) {
	e := NewEngine()

	c := conflict(models.RegionTable, "100.0", "150.0", 0.8, 0.8, 0.333)
	if r, err := e.Resolve(c); err != nil || r != nil {
		t.Fatalf("setup Resolve: r=%v err=%v", r, err)
	}

	r, err := e.RecordManual(c.ID, "125.0", "analyst@example.com")
	if err != nil {
		t.Fatalf("RecordManual: %v", err)
	}
	if r.ChosenValue != "125.0" || r.Method != models.MethodManualOverride {
		t.Errorf("resolution = %+v", r)
	}
	if c.Status != models.ConflictUserResolved {
		t.Errorf("status = %v, want user_resolved", c.Status)
	}

	if _, err := e.RecordManual(c.ID, "130.0", "other@example.com"); !errors.Is(err, ErrAlreadyResolved) {
		t.Errorf("second manual err = %v, want ErrAlreadyResolved", err)
	}
	if _, err := e.RecordManual("missing", "x", "a"); !errors.Is(err, ErrUnknownConflict) {
		t.Errorf("unknown conflict err = %v, want ErrUnknownConflict", err)
	}

	got, ok := e.ResolutionFor(c.ID)
	if !ok || got.ChosenValue != "125.0" {
		t.Errorf("ResolutionFor = %+v ok=%v", got, ok)
	}
}

func TestRegisterRestoredConflict(t *testing.T) {
	e := NewEngine()

	c := conflict(models.RegionChart, "10", "90", 0.75, 0.75, 0.89)
	c.Status = models.ConflictFlagged
	e.Register(c)

	if _, err := e.RecordManual(c.ID, "90", "reviewer"); err != nil {
		t.Fatalf("RecordManual on registered conflict: %v", err)
	}
}
