package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/veridoc/veridoc/internal/checkpoint"
	"github.com/veridoc/veridoc/internal/models"
	"github.com/veridoc/veridoc/internal/resolution"
	"go.uber.org/zap"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := s.mon.Health()
	status := http.StatusOK
	if health.Level == models.HealthCritical {
		status = http.StatusServiceUnavailable
	}
	s.respondJSON(w, status, health)
}

func (s *Server) handleListConflicts(w http.ResponseWriter, r *http.Request) {
	status := models.ConflictFlagged
	if raw := r.URL.Query().Get("status"); raw != "" {
		status = models.ConflictStatus(raw)
	}
	conflicts, err := s.store.ConflictsByStatus(r.Context(), status)
	if err != nil {
		s.logger.Error("list conflicts failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if conflicts == nil {
		conflicts = []*models.Conflict{}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":    status,
		"conflicts": conflicts,
	})
}

type resolveRequest struct {
	Value string `json:"value"`
	Actor string `json:"actor"`
}

func (s *Server) handleResolveConflict(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Value == "" {
		s.respondError(w, http.StatusBadRequest, "value is required")
		return
	}
	if req.Actor == "" {
		req.Actor = "reviewer"
	}

	conflict, docID, err := s.store.ConflictByID(r.Context(), id)
	if err != nil {
		s.respondError(w, http.StatusNotFound, "conflict not found")
		return
	}

	res, err := s.engine.RecordManual(id, req.Value, req.Actor)
	if errors.Is(err, resolution.ErrUnknownConflict) {
		// Conflict came from a previous process; make it addressable.
		s.engine.Register(conflict)
		res, err = s.engine.RecordManual(id, req.Value, req.Actor)
	}
	if errors.Is(err, resolution.ErrAlreadyResolved) {
		s.respondError(w, http.StatusConflict, "conflict already resolved")
		return
	}
	if err != nil {
		s.logger.Error("manual resolution failed", zap.String("conflict_id", id), zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if err := s.store.SaveResolution(r.Context(), *res, models.ConflictUserResolved); err != nil {
		s.logger.Error("saving resolution failed", zap.String("conflict_id", id), zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.logger.Info("manual resolution recorded",
		zap.String("conflict_id", id),
		zap.String("document_id", docID),
		zap.String("actor", req.Actor))

	resp := map[string]interface{}{
		"resolution":  res,
		"document_id": docID,
	}
	outcome := s.processor.Resume(r.Context(), docID)
	switch {
	case outcome.Err == nil:
		resp["document_stage"] = outcome.Stage
	case errors.Is(outcome.Err, checkpoint.ErrNotFound):
		// No held checkpoint; the document already finished.
	default:
		// Other conflicts are still pending, or the resume failed.
		// Either way the document stays held.
		s.logger.Debug("document not resumed",
			zap.String("document_id", docID), zap.Error(outcome.Err))
		resp["document_stage"] = models.StageAwaitingReview
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if state, err := s.ckpt.Load(id); err == nil {
		s.respondJSON(w, http.StatusOK, map[string]interface{}{
			"document":  state.Document,
			"stage":     state.Stage,
			"mode":      state.Mode.String(),
			"conflicts": state.Conflicts,
		})
		return
	}

	doc, err := s.store.GetDocument(r.Context(), id)
	if err != nil {
		s.logger.Error("loading document failed", zap.String("document_id", id), zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if doc == nil {
		s.respondError(w, http.StatusNotFound, "document not found")
		return
	}
	conflicts, err := s.store.ConflictsForDocument(r.Context(), id)
	if err != nil {
		s.logger.Error("loading conflicts failed", zap.String("document_id", id), zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if conflicts == nil {
		conflicts = []*models.Conflict{}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"document":  doc,
		"stage":     models.StageComplete,
		"conflicts": conflicts,
	})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		s.respondError(w, http.StatusBadRequest, "q is required")
		return
	}
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			s.respondError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	hits, err := s.index.Search(q, limit)
	if err != nil {
		s.logger.Error("search failed", zap.String("query", q), zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"query": q,
		"hits":  hits,
	})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
