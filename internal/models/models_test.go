package models

import (
	"encoding/json"
	"testing"
)

func TestBoundingBoxWithin(t *testing.T) {
	tests := []struct {
		name  string
		bbox  BoundingBox
		pw    float64
		ph    float64
		want  bool
	}{
		{"inside", BoundingBox{X: 10, Y: 10, Width: 50, Height: 50}, 100, 100, true},
		{"exact fit", BoundingBox{X: 0, Y: 0, Width: 100, Height: 100}, 100, 100, true},
		{"overflows right", BoundingBox{X: 60, Y: 10, Width: 50, Height: 50}, 100, 100, false},
		{"overflows bottom", BoundingBox{X: 10, Y: 60, Width: 50, Height: 50}, 100, 100, false},
		{"negative origin", BoundingBox{X: -1, Y: 0, Width: 10, Height: 10}, 100, 100, false},
	}
	for _, tt := range tests {
		if got := tt.bbox.Within(tt.pw, tt.ph); got != tt.want {
			t.Errorf("%s: Within(%g,%g) = %v, want %v", tt.name, tt.pw, tt.ph, got, tt.want)
		}
	}
}

func TestPageAddRegionRejectsOutOfBounds(t *testing.T) {
	p := &Page{Number: 1, Width: 612, Height: 792}
	if _, err := p.AddRegion(BoundingBox{X: 0, Y: 0, Width: 700, Height: 100}, RegionText); err == nil {
		t.Fatal("expected error for bbox wider than page")
	}
	r, err := p.AddRegion(BoundingBox{X: 10, Y: 10, Width: 100, Height: 50}, RegionTable)
	if err != nil {
		t.Fatalf("AddRegion: %v", err)
	}
	if r.ID == "" || r.PageNumber != 1 || r.Type != RegionTable {
		t.Errorf("unexpected region: %+v", r)
	}
	if len(p.Regions) != 1 {
		t.Errorf("page has %d regions, want 1", len(p.Regions))
	}
}

func TestResultForLastWins(t *testing.T) {
	st := NewPipelineState(NewDocument("a.pdf", "fp", 1), ModeHybrid)
	st.AppendResult(NewExtractionResult("r1", ModalityText, "pdf", "100", 0.5))
	retry := NewExtractionResult("r1", ModalityText, "pdf", "150", 0.9)
	retry.Attempt = 1
	st.AppendResult(retry)

	got, ok := st.ResultFor("r1", ModalityText)
	if !ok {
		t.Fatal("ResultFor returned no result")
	}
	if got.Value != "150" || got.Attempt != 1 {
		t.Errorf("ResultFor returned %+v, want the latest attempt", got)
	}
	if len(st.Results) != 2 {
		t.Errorf("results were overwritten: have %d, want 2", len(st.Results))
	}
}

func TestStageTerminal(t *testing.T) {
	for stage, want := range map[Stage]bool{
		StageComplete:       true,
		StageFailed:         true,
		StageAwaitingReview: false,
		StageIngested:       false,
	} {
		if got := stage.Terminal(); got != want {
			t.Errorf("%s.Terminal() = %v, want %v", stage, got, want)
		}
	}
}

func TestProcessingModeOrderingAndText(t *testing.T) {
	if !ModeTextOnly.Below(ModeHybrid) {
		t.Error("TEXT_ONLY should be below HYBRID")
	}
	if ModeHybrid.Below(ModeLocalCPU) {
		t.Error("HYBRID should not be below LOCAL_CPU")
	}
	b, err := json.Marshal(ModeLocalCPU)
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != `"LOCAL_CPU"` {
		t.Errorf("marshaled mode = %s, want \"LOCAL_CPU\"", b)
	}
	var m ProcessingMode
	if err := json.Unmarshal([]byte(`"TEXT_ONLY"`), &m); err != nil {
		t.Fatal(err)
	}
	if m != ModeTextOnly {
		t.Errorf("unmarshaled mode = %v, want TEXT_ONLY", m)
	}
}

func TestMaxImpact(t *testing.T) {
	st := NewPipelineState(NewDocument("a.pdf", "fp", 1), ModeHybrid)
	if got := st.MaxImpact(); got != 0 {
		t.Errorf("empty MaxImpact = %g, want 0", got)
	}
	r := Region{ID: "r1", Type: RegionTable}
	st.Conflicts = append(st.Conflicts,
		NewConflict(r, "1", "2", 0.8, 0.8, 0.5, 0.4),
		NewConflict(r, "3", "4", 0.8, 0.8, 0.9, 0.85),
	)
	if got := st.MaxImpact(); got != 0.85 {
		t.Errorf("MaxImpact = %g, want 0.85", got)
	}
}

func TestConflictStatusTerminal(t *testing.T) {
	if ConflictFlagged.Terminal() {
		t.Error("flagged is not terminal; it awaits manual resolution")
	}
	if !ConflictAutoResolved.Terminal() || !ConflictUserResolved.Terminal() {
		t.Error("resolved statuses should be terminal")
	}
}
