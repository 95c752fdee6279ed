// Package conflict detects and scores disagreements between text-modality
// and vision-modality extraction results for the same region.
package conflict

import (
	"math"

	"go.uber.org/zap"

	"github.com/veridoc/veridoc/internal/models"
)

const (
	// epsilon keeps the discrepancy denominator away from zero.
	epsilon = 1e-9
	// highConfidenceBound is the confidence level above which disagreement
	// between both sources is a stronger signal.
	highConfidenceBound = 0.7
	// confidentBoost multiplies impact when both sources exceed the bound.
	confidentBoost = 1.25
	// trustBound: a lone value at or above this confidence is treated as
	// confirmation rather than conflict.
	trustBound = 0.8
)

// baseWeights prioritizes tabular and financial regions over free text.
var baseWeights = map[models.RegionType]float64{
	models.RegionTable: 1.0,
	models.RegionChart: 0.9,
	models.RegionImage: 0.7,
	models.RegionText:  0.6,
}

// Detector compares two modalities' values for a region and emits conflicts
// whose normalized discrepancy exceeds the threshold.
type Detector struct {
	threshold float64
	logger    *zap.Logger
}

// DetectorOption configures a Detector.
type DetectorOption func(*Detector)

// WithLogger sets a logger for debug output.
func WithLogger(l *zap.Logger) DetectorOption {
	return func(d *Detector) { d.logger = l }
}

// NewDetector creates a detector with the given discrepancy threshold.
// Deployments configure the threshold in [0.05, 0.30]; 0.15 is the default.
func NewDetector(threshold float64, opts ...DetectorOption) *Detector {
	d := &Detector{threshold: threshold}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Detect compares the text and vision results for region. Either result may
// be zero-valued (modality absent). Returns the conflict and true when the
// discrepancy exceeds the threshold; otherwise nil and false.
func (d *Detector) Detect(region models.Region, text, vision models.ExtractionResult) (*models.Conflict, bool) {
	textEmpty := text.Value == ""
	visionEmpty := vision.Value == ""

	if textEmpty && visionEmpty {
		return nil, false
	}

	// Exactly one value present: a confident lone source is confirmation,
	// not conflict. An unconfident lone source needs review.
	if textEmpty != visionEmpty {
		present := text
		if textEmpty {
			present = vision
		}
		if present.Confidence >= trustBound {
			return nil, false
		}
		c := models.NewConflict(region, text.Value, vision.Value,
			text.Confidence, vision.Confidence, 1.0,
			d.impact(region.Type, 1.0, text.Confidence, vision.Confidence))
		d.logDetected(c, "single low-confidence source")
		return c, true
	}

	delta, comparable := d.discrepancy(text.Value, vision.Value)
	if !comparable {
		return nil, false
	}
	if delta <= d.threshold {
		return nil, false
	}

	c := models.NewConflict(region, text.Value, vision.Value,
		text.Confidence, vision.Confidence, delta,
		d.impact(region.Type, delta, text.Confidence, vision.Confidence))
	d.logDetected(c, "value mismatch")
	return c, true
}

// discrepancy reduces both raw values to a comparable form and returns their
// normalized distance. Numeric when both sides parse as numbers, otherwise a
// normalized edit-distance ratio over folded strings.
func (d *Detector) discrepancy(a, b string) (float64, bool) {
	na, okA := ParseNumeric(a)
	nb, okB := ParseNumeric(b)
	if okA && okB {
		denom := math.Max(math.Max(math.Abs(na), math.Abs(nb)), epsilon)
		return math.Abs(na-nb) / denom, true
	}
	sa := normalizeString(a)
	sb := normalizeString(b)
	if sa == "" && sb == "" {
		return 0, false
	}
	return editRatio(sa, sb), true
}

// impact scores a conflict for resolution routing and review ordering.
// Higher for tabular regions, proportional to discrepancy, boosted when both
// sources are confident, clamped to [0,1].
func (d *Detector) impact(rt models.RegionType, delta, textConf, visionConf float64) float64 {
	w, ok := baseWeights[rt]
	if !ok {
		w = baseWeights[models.RegionText]
	}
	score := w * math.Min(delta, 1.0)
	if textConf >= highConfidenceBound && visionConf >= highConfidenceBound {
		score *= confidentBoost
	}
	return math.Min(score, 1.0)
}

func (d *Detector) logDetected(c *models.Conflict, why string) {
	if d.logger == nil {
		return
	}
	d.logger.Warn("conflict detected",
		zap.String("region_id", c.RegionID),
		zap.String("reason", why),
		zap.String("text_value", c.TextValue),
		zap.String("vision_value", c.VisionValue),
		zap.Float64("discrepancy", c.Discrepancy),
		zap.Float64("impact", c.Impact),
	)
}
