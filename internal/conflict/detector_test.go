package conflict

import (
	"math"
	"testing"

	"github.com/veridoc/veridoc/internal/models"
)

func tableRegion() models.Region {
	return models.Region{ID: "r1", PageNumber: 1, Type: models.RegionTable}
}

func result(modality models.Modality, value string, conf float64) models.ExtractionResult {
	return models.NewExtractionResult("r1", modality, "test", value, conf)
}

func TestDetectAgreement(t *testing.T) {
	d := NewDetector(0.15)

	// Equivalent currency values with formatting noise must not conflict.
	text := result(models.ModalityText, "$1,234.56", 0.85)
	vision := result(models.ModalityVision, "$1,234.50", 0.85)
	if c, ok := d.Detect(tableRegion(), text, vision); ok {
		t.Fatalf("agreeing values produced conflict: %+v", c)
	}

	// Identical values are idempotent no matter how often compared.
	same := result(models.ModalityVision, "$1,234.56", 0.4)
	for i := 0; i < 3; i++ {
		if _, ok := d.Detect(tableRegion(), text, same); ok {
			t.Fatal("identical values produced conflict")
		}
	}
}

func TestDetectNumericMismatch(t *testing.T) {
	d := NewDetector(0.15)

	text := result(models.ModalityText, "100.0", 0.8)
	vision := result(models.ModalityVision, "150.0", 0.8)
	c, ok := d.Detect(tableRegion(), text, vision)
	if !ok {
		t.Fatal("expected conflict for 100 vs 150")
	}
	wantDelta := 50.0 / 150.0
	if math.Abs(c.Discrepancy-wantDelta) > 1e-9 {
		t.Errorf("discrepancy = %g, want %g", c.Discrepancy, wantDelta)
	}
	// Both sources confident: table weight 1.0 * delta * 1.25 boost.
	wantImpact := 1.0 * wantDelta * 1.25
	if math.Abs(c.Impact-wantImpact) > 1e-9 {
		t.Errorf("impact = %g, want %g", c.Impact, wantImpact)
	}
	if c.Status != models.ConflictPending {
		t.Errorf("status = %v, want pending", c.Status)
	}
}

func TestDetectThresholdBoundary(t *testing.T) {
	d := NewDetector(0.15)

	// 85 vs 100 gives a discrepancy of exactly 0.15, which does not
	// exceed the threshold and so is not a conflict.
	text := result(models.ModalityText, "85", 0.9)
	vision := result(models.ModalityVision, "100", 0.9)
	if _, ok := d.Detect(tableRegion(), text, vision); ok {
		t.Error("discrepancy equal to threshold must not conflict")
	}

	// Nudge past the boundary.
	text = result(models.ModalityText, "84", 0.9)
	if _, ok := d.Detect(tableRegion(), text, vision); !ok {
		t.Error("discrepancy past threshold must conflict")
	}
}

func TestDetectThresholdSensitivity(t *testing.T) {
	text := result(models.ModalityText, "5000000", 0.95)
	vision := result(models.ModalityVision, "4800000", 0.4)

	if _, ok := NewDetector(0.15).Detect(tableRegion(), text, vision); ok {
		t.Error("4% discrepancy under loose threshold must not conflict")
	}
	c, ok := NewDetector(0.02).Detect(tableRegion(), text, vision)
	if !ok {
		t.Fatal("4% discrepancy under tight threshold must conflict")
	}
	// Vision at 0.4 is below the confidence bound, so no boost applies.
	wantImpact := 1.0 * (200000.0 / 5000000.0)
	if math.Abs(c.Impact-wantImpact) > 1e-9 {
		t.Errorf("impact = %g, want %g", c.Impact, wantImpact)
	}
}

func TestDetectSingleSource(t *testing.T) {
	d := NewDetector(0.15)

	// Confident lone source is confirmation.
	text := result(models.ModalityText, "42", 0.8)
	if _, ok := d.Detect(tableRegion(), text, models.ExtractionResult{}); ok {
		t.Error("confident lone source must not conflict")
	}

	// Unconfident lone source needs review.
	weak := result(models.ModalityVision, "42", 0.5)
	c, ok := d.Detect(tableRegion(), models.ExtractionResult{}, weak)
	if !ok {
		t.Fatal("unconfident lone source must conflict")
	}
	if c.Discrepancy != 1.0 {
		t.Errorf("lone-source discrepancy = %g, want 1.0", c.Discrepancy)
	}
	if c.TextValue != "" || c.VisionValue != "42" {
		t.Errorf("conflict values = %q/%q", c.TextValue, c.VisionValue)
	}

	// Both absent: nothing to compare.
	if _, ok := d.Detect(tableRegion(), models.ExtractionResult{}, models.ExtractionResult{}); ok {
		t.Error("two empty results must not conflict")
	}
}

func TestDetectStringMismatch(t *testing.T) {
	d := NewDetector(0.15)

	text := result(models.ModalityText, "Acme Corporation", 0.9)
	vision := result(models.ModalityVision, "Apex Corporation", 0.9)
	c, ok := d.Detect(tableRegion(), text, vision)
	if !ok {
		t.Fatal("expected conflict for differing strings")
	}
	if c.Discrepancy <= 0 || c.Discrepancy > 1 {
		t.Errorf("string discrepancy = %g, want in (0,1]", c.Discrepancy)
	}

	// Case and spacing differences fold away.
	folded := result(models.ModalityVision, "  ACME   Corporation ", 0.9)
	if _, ok := d.Detect(tableRegion(), text, folded); ok {
		t.Error("case/whitespace variants must not conflict")
	}
}

func TestImpactWeighting(t *testing.T) {
	d := NewDetector(0.05)
	delta := 0.5

	var prev float64 = 2
	for _, rt := range []models.RegionType{models.RegionTable, models.RegionChart, models.RegionImage, models.RegionText} {
		got := d.impact(rt, delta, 0.5, 0.5)
		if got >= prev {
			t.Errorf("impact for %v = %g, want below %g", rt, got, prev)
		}
		prev = got
	}

	// Boost kicks in only when both sides clear the confidence bound.
	base := d.impact(models.RegionTable, delta, 0.69, 0.9)
	boosted := d.impact(models.RegionTable, delta, 0.7, 0.7)
	if math.Abs(boosted-base*1.25) > 1e-9 {
		t.Errorf("boosted = %g, want %g", boosted, base*1.25)
	}

	// Never exceeds 1 even for extreme deltas.
	if got := d.impact(models.RegionTable, 5.0, 0.99, 0.99); got != 1.0 {
		t.Errorf("clamped impact = %g, want 1.0", got)
	}
}
