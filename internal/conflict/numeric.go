package conflict

import (
	"regexp"
	"strconv"
	"strings"
)

// Magnitude suffixes resolved to absolute values during normalization.
var multipliers = []struct {
	suffix string
	factor float64
}{
	{"K", 1e3},
	{"M", 1e6},
	{"B", 1e9},
	{"T", 1e12},
}

var (
	currencyRe   = regexp.MustCompile(`[$€£¥]`)
	numberRe     = regexp.MustCompile(`[-+]?\d*\.?\d+`)
	multiplierRe = map[string]*regexp.Regexp{}
)

func init() {
	for _, m := range multipliers {
		// Optional currency, digits with comma/dot grouping, then the suffix.
		multiplierRe[m.suffix] = regexp.MustCompile(`(?i)[$€£¥]?\s*([-+]?\d+(?:[,.]\d+)*)\s*` + m.suffix)
	}
}

// ParseNumeric extracts a numeric value from free text, resolving common
// document formats: percentages ("15%" -> 0.15), magnitude suffixes
// ("$5.2M" -> 5200000), currency symbols, and comma grouping ("1,234,567").
// Returns false if no number is found.
func ParseNumeric(text string) (float64, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0, false
	}

	if strings.Contains(text, "%") {
		cleaned := currencyRe.ReplaceAllString(strings.ReplaceAll(text, "%", ""), "")
		if m := numberRe.FindString(cleaned); m != "" {
			if v, err := strconv.ParseFloat(m, 64); err == nil {
				return v / 100.0, true
			}
		}
	}

	for _, mult := range multipliers {
		if m := multiplierRe[mult.suffix].FindStringSubmatch(text); m != nil {
			numStr := strings.ReplaceAll(m[1], ",", "")
			if v, err := strconv.ParseFloat(numStr, 64); err == nil {
				return v * mult.factor, true
			}
		}
	}

	cleaned := strings.ReplaceAll(currencyRe.ReplaceAllString(text, ""), ",", "")
	if m := numberRe.FindString(cleaned); m != "" {
		if v, err := strconv.ParseFloat(m, 64); err == nil {
			return v, true
		}
	}
	return 0, false
}

// normalizeString folds case and collapses whitespace for textual comparison.
func normalizeString(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
