package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/veridoc/veridoc/internal/agents"
	"github.com/veridoc/veridoc/internal/cache"
	"github.com/veridoc/veridoc/internal/checkpoint"
	"github.com/veridoc/veridoc/internal/config"
	"github.com/veridoc/veridoc/internal/conflict"
	"github.com/veridoc/veridoc/internal/models"
	"github.com/veridoc/veridoc/internal/monitor"
	"github.com/veridoc/veridoc/internal/orchestrator"
	"github.com/veridoc/veridoc/internal/query"
	"github.com/veridoc/veridoc/internal/resolution"
	"github.com/veridoc/veridoc/internal/storage"
	"go.uber.org/zap"
)

type fixedSampler struct {
	mu     sync.Mutex
	sample models.Sample
}

func (f *fixedSampler) Sample() (models.Sample, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sample, nil
}

func (f *fixedSampler) set(s models.Sample) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sample = s
}

// regionAgent emits one canned result per layout region, so tests control
// the conflict outcome.
type regionAgent struct {
	modality models.Modality
	value    string
	conf     float64
}

func (a *regionAgent) Modality() models.Modality { return a.modality }
func (a *regionAgent) Confidence() float64       { return a.conf }

func (a *regionAgent) Process(_ context.Context, doc *models.Document) ([]models.ExtractionResult, error) {
	var out []models.ExtractionResult
	for _, page := range doc.Pages {
		for _, region := range page.Regions {
			out = append(out, models.NewExtractionResult(
				region.ID, a.modality, "test", a.value, a.conf))
		}
	}
	return out, nil
}

type serverHarness struct {
	srv       *Server
	processor *orchestrator.Processor
	store     *storage.SQLiteStore
	sampler   *fixedSampler
}

func newServerHarness(t *testing.T, text, remote agents.Agent, bound float64) *serverHarness {
	t.Helper()
	dir := t.TempDir()

	sampler := &fixedSampler{sample: models.Sample{MemoryUsedRatio: 0.4, RemoteReachable: true}}
	mon := monitor.New(sampler, monitor.Thresholds{
		RAMWarningPct: 85, RAMCriticalPct: 90, TempWarningC: 70, TempCriticalC: 80,
	}, time.Minute)
	mon.Refresh()

	ckpt, err := checkpoint.NewStore(filepath.Join(dir, "checkpoints"), nil)
	if err != nil {
		t.Fatal(err)
	}
	store, err := storage.NewSQLiteStore(filepath.Join(dir, "veridoc.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	index, err := query.NewIndex(filepath.Join(dir, "index.bleve"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { index.Close() })

	engine := resolution.NewEngine()
	orch := orchestrator.New(orchestrator.Config{
		ReviewImpactBound: bound,
		AgentTimeout:      5 * time.Second,
		CheckpointEnabled: true,
		Mode:              models.ModeHybrid,
		BackoffBase:       time.Millisecond,
	},
		agents.NewLayoutAgent(nil), text, remote, nil,
		conflict.NewDetector(0.15), engine, mon,
		cache.New(filepath.Join(dir, "cache"), "v1", nil),
		ckpt, store, index, nil)
	proc := orchestrator.NewProcessor(orch, ckpt, 2, models.ModeHybrid, zap.NewNop())

	srv := NewServer(store, engine, mon, index, proc, ckpt,
		&config.ServerConfig{Host: "127.0.0.1", Port: 8080}, zap.NewNop())
	return &serverHarness{srv: srv, processor: proc, store: store, sampler: sampler}
}

func writeDoc(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "doc.txt")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// holdDocument processes a file whose text and vision values disagree
// enough to land it in review, returning the document and conflict IDs.
func holdDocument(t *testing.T, h *serverHarness) (docID, conflictID string) {
	t.Helper()
	path := writeDoc(t, "total revenue 100")
	outcome := h.processor.ProcessFile(context.Background(), path)
	if !errors.Is(outcome.Err, orchestrator.ErrHeldForReview) {
		t.Fatalf("expected document held for review, got %v", outcome.Err)
	}
	conflicts, err := h.store.ConflictsForDocument(context.Background(), outcome.DocumentID)
	if err != nil {
		t.Fatal(err)
	}
	if len(conflicts) == 0 {
		t.Fatal("no conflicts persisted for held document")
	}
	return outcome.DocumentID, conflicts[0].ID
}

func TestHandleHealth(t *testing.T) {
	h := newServerHarness(t,
		&regionAgent{modality: models.ModalityText, value: "100", conf: 0.9},
		&regionAgent{modality: models.ModalityVision, value: "100", conf: 0.9}, 0.5)

	r := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	h.srv.handleHealth(w, r)
	if w.Code != http.StatusOK {
		t.Errorf("status: got %d, want %d", w.Code, http.StatusOK)
	}
	var health models.SystemHealth
	if err := json.NewDecoder(w.Body).Decode(&health); err != nil {
		t.Fatal(err)
	}
	if health.Level != models.HealthOK {
		t.Errorf("level: got %s, want %s", health.Level, models.HealthOK)
	}

	h.sampler.set(models.Sample{MemoryUsedRatio: 0.95})
	h.srv.mon.Refresh()
	w = httptest.NewRecorder()
	h.srv.handleHealth(w, r)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("critical status: got %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
}

func TestHandleListConflicts(t *testing.T) {
	h := newServerHarness(t,
		&regionAgent{modality: models.ModalityText, value: "100", conf: 0.85},
		&regionAgent{modality: models.ModalityVision, value: "150", conf: 0.8}, 0.2)
	holdDocument(t, h)

	r := httptest.NewRequest(http.MethodGet, "/api/v1/conflicts", nil)
	w := httptest.NewRecorder()
	h.srv.handleListConflicts(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, want %d", w.Code, http.StatusOK)
	}
	var out struct {
		Status    models.ConflictStatus `json:"status"`
		Conflicts []*models.Conflict    `json:"conflicts"`
	}
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out.Status != models.ConflictFlagged {
		t.Errorf("default status: got %s, want %s", out.Status, models.ConflictFlagged)
	}
	if len(out.Conflicts) == 0 {
		t.Fatal("expected flagged conflicts")
	}
	for i := 1; i < len(out.Conflicts); i++ {
		if out.Conflicts[i].Impact > out.Conflicts[i-1].Impact {
			t.Errorf("conflicts not ordered by impact: %f after %f",
				out.Conflicts[i].Impact, out.Conflicts[i-1].Impact)
		}
	}
}

func TestResolveConflictResumesDocument(t *testing.T) {
	h := newServerHarness(t,
		&regionAgent{modality: models.ModalityText, value: "100", conf: 0.85},
		&regionAgent{modality: models.ModalityVision, value: "150", conf: 0.8}, 0.2)
	docID, conflictID := holdDocument(t, h)

	body, _ := json.Marshal(map[string]string{"value": "125", "actor": "alice"})
	r := httptest.NewRequest(http.MethodPost,
		"/api/v1/conflicts/"+conflictID+"/resolution", bytes.NewReader(body))
	w := httptest.NewRecorder()
	h.srv.router().ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, body %s", w.Code, w.Body.String())
	}
	var out struct {
		DocumentID    string       `json:"document_id"`
		DocumentStage models.Stage `json:"document_stage"`
	}
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out.DocumentID != docID {
		t.Errorf("document_id: got %s, want %s", out.DocumentID, docID)
	}
	if out.DocumentStage != models.StageComplete {
		t.Errorf("document_stage: got %s, want %s", out.DocumentStage, models.StageComplete)
	}

	res, err := h.store.ResolutionForConflict(context.Background(), conflictID)
	if err != nil {
		t.Fatal(err)
	}
	if res == nil {
		t.Fatal("resolution not persisted")
	}
	if res.ChosenValue != "125" || res.Actor != "alice" {
		t.Errorf("resolution: got %q by %q", res.ChosenValue, res.Actor)
	}

	// Resolving twice is rejected.
	w = httptest.NewRecorder()
	r = httptest.NewRequest(http.MethodPost,
		"/api/v1/conflicts/"+conflictID+"/resolution", bytes.NewReader(body))
	h.srv.router().ServeHTTP(w, r)
	if w.Code != http.StatusConflict {
		t.Errorf("second resolution: got %d, want %d", w.Code, http.StatusConflict)
	}
}

func TestResolveConflictValidation(t *testing.T) {
	h := newServerHarness(t,
		&regionAgent{modality: models.ModalityText, value: "100", conf: 0.9},
		&regionAgent{modality: models.ModalityVision, value: "100", conf: 0.9}, 0.5)

	body, _ := json.Marshal(map[string]string{"value": "125"})
	r := httptest.NewRequest(http.MethodPost,
		"/api/v1/conflicts/no-such-conflict/resolution", bytes.NewReader(body))
	w := httptest.NewRecorder()
	h.srv.router().ServeHTTP(w, r)
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown conflict: got %d, want %d", w.Code, http.StatusNotFound)
	}

	body, _ = json.Marshal(map[string]string{"actor": "alice"})
	r = httptest.NewRequest(http.MethodPost,
		"/api/v1/conflicts/whatever/resolution", bytes.NewReader(body))
	w = httptest.NewRecorder()
	h.srv.router().ServeHTTP(w, r)
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing value: got %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestHandleGetDocument(t *testing.T) {
	h := newServerHarness(t,
		&regionAgent{modality: models.ModalityText, value: "100", conf: 0.85},
		&regionAgent{modality: models.ModalityVision, value: "150", conf: 0.8}, 0.2)
	docID, _ := holdDocument(t, h)

	r := httptest.NewRequest(http.MethodGet, "/api/v1/documents/"+docID, nil)
	w := httptest.NewRecorder()
	h.srv.router().ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	var out struct {
		Stage     models.Stage       `json:"stage"`
		Conflicts []*models.Conflict `json:"conflicts"`
	}
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out.Stage != models.StageAwaitingReview {
		t.Errorf("stage: got %s, want %s", out.Stage, models.StageAwaitingReview)
	}
	if len(out.Conflicts) == 0 {
		t.Error("expected conflicts in held document status")
	}

	r = httptest.NewRequest(http.MethodGet, "/api/v1/documents/no-such-doc", nil)
	w = httptest.NewRecorder()
	h.srv.router().ServeHTTP(w, r)
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown document: got %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestHandleSearch(t *testing.T) {
	h := newServerHarness(t,
		&regionAgent{modality: models.ModalityText, value: "quarterly revenue 4200", conf: 0.9},
		&regionAgent{modality: models.ModalityVision, value: "quarterly revenue 4200", conf: 0.9}, 0.5)

	path := writeDoc(t, "quarterly revenue 4200")
	outcome := h.processor.ProcessFile(context.Background(), path)
	if outcome.Err != nil {
		t.Fatalf("process: %v", outcome.Err)
	}

	r := httptest.NewRequest(http.MethodGet, "/api/v1/search?q=revenue", nil)
	w := httptest.NewRecorder()
	h.srv.handleSearch(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	var out struct {
		Hits []query.Hit `json:"hits"`
	}
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if len(out.Hits) == 0 {
		t.Error("expected search hits")
	}

	r = httptest.NewRequest(http.MethodGet, "/api/v1/search", nil)
	w = httptest.NewRecorder()
	h.srv.handleSearch(w, r)
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing query: got %d, want %d", w.Code, http.StatusBadRequest)
	}
}
