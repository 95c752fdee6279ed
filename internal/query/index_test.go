package query

import (
	"path/filepath"
	"testing"

	"github.com/veridoc/veridoc/internal/models"
)

func indexedState(t *testing.T, value string) *models.PipelineState {
	t.Helper()
	doc := models.NewDocument("/data/inbox/q3-report.pdf", "fp", 1024)
	doc.Pages = []models.Page{{Number: 1, Width: 612, Height: 792}}
	region, err := doc.Pages[0].AddRegion(models.BoundingBox{Width: 612, Height: 792}, models.RegionTable)
	if err != nil {
		t.Fatal(err)
	}
	state := models.NewPipelineState(doc, models.ModeHybrid)
	state.AppendResult(models.NewExtractionResult(region.ID, models.ModalityText, "pdf", value, 0.9))
	return state
}

func newTestIndex(t *testing.T) *Index {
	t.Helper()
	ix, err := NewIndex(filepath.Join(t.TempDir(), "search.bleve"))
	if err != nil {
		t.Fatalf("NewIndex: %v", err)
	}
	t.Cleanup(func() { ix.Close() })
	return ix
}

func TestIndexAndSearch(t *testing.T) {
	ix := newTestIndex(t)

	state := indexedState(t, "quarterly revenue 5200000")
	if err := ix.Index(state); err != nil {
		t.Fatalf("Index: %v", err)
	}

	hits, err := ix.Search("revenue", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("hits = %d, want 1", len(hits))
	}
	if hits[0].DocumentID != state.Document.ID {
		t.Errorf("hit document = %q", hits[0].DocumentID)
	}
	if hits[0].Value != "quarterly revenue 5200000" {
		t.Errorf("hit value = %q", hits[0].Value)
	}

	none, err := ix.Search("unrelated", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(none) != 0 {
		t.Errorf("unrelated query hit %d results", len(none))
	}
}

func TestIndexPrefersResolvedValue(t *testing.T) {
	ix := newTestIndex(t)

	state := indexedState(t, "100.0")
	region := state.Document.Pages[0].Regions[0]
	c := models.NewConflict(region, "100.0", "150.0", 0.8, 0.8, 0.333, 0.4)
	c.Status = models.ConflictUserResolved
	state.Conflicts = append(state.Conflicts, c)
	state.Resolutions = append(state.Resolutions,
		models.NewResolution(c.ID, "125.0", models.MethodManualOverride, "reviewer", "manual override"))

	if err := ix.Index(state); err != nil {
		t.Fatalf("Index: %v", err)
	}

	hits, err := ix.Search("125.0", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 || hits[0].Value != "125.0" {
		t.Errorf("hits = %+v, want the resolved value", hits)
	}
}

func TestIndexSkipsEmptyRegions(t *testing.T) {
	ix := newTestIndex(t)

	state := indexedState(t, "   ")
	if err := ix.Index(state); err != nil {
		t.Fatalf("Index: %v", err)
	}
	hits, err := ix.Search("anything", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 0 {
		t.Errorf("empty region was indexed: %+v", hits)
	}
}
