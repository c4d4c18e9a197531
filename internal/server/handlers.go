package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/fractal-lba/banditd/internal/api"
	"github.com/fractal-lba/banditd/internal/journal"
	"github.com/fractal-lba/banditd/internal/orchestrator"
	"github.com/fractal-lba/banditd/internal/pending"
	"github.com/fractal-lba/banditd/pkg/otel"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type decisionRequest struct {
	Identity  string             `json:"identity" validate:"required,max=256"`
	Domain    string             `json:"domain" validate:"required,max=128"`
	Features  map[string]float64 `json:"features" validate:"max=256"`
	Metadata  map[string]string  `json:"metadata" validate:"max=64"`
	Algorithm string             `json:"algorithm,omitempty"`
}

type decisionResponse struct {
	DecisionID string     `json:"decision_id"`
	Action     api.Action `json:"action"`
}

type feedbackRequest struct {
	DecisionID string   `json:"decision_id" validate:"required,uuid"`
	Reward     *float64 `json:"reward" validate:"required"`
}

type feedbackResponse struct {
	DecisionID string `json:"decision_id"`
	Applied    bool   `json:"applied"`
}

type defaultAlgorithmRequest struct {
	Algorithm string `json:"algorithm" validate:"required"`
}

type defaultAlgorithmResponse struct {
	DefaultAlgorithm api.Algorithm `json:"default_algorithm"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleDecision(w http.ResponseWriter, r *http.Request) {
	var req decisionRequest
	if !s.decode(w, r, &req) {
		s.decisionError("invalid_request")
		return
	}

	c := api.NewContext(req.Identity, req.Domain, req.Features)
	c.Metadata = req.Metadata

	action, err := s.orch.MakeDecision(r.Context(), c, api.Algorithm(req.Algorithm))
	if err != nil {
		switch {
		case errors.Is(err, orchestrator.ErrUnknownDomain):
			s.decisionError("unknown_domain")
		case errors.Is(err, api.ErrUnknownAlgorithm):
			s.decisionError("unknown_algorithm")
		default:
			s.decisionError("internal")
			s.logger.Error("decision failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	d := &pending.Decision{
		ID:       uuid.NewString(),
		Context:  c,
		Action:   action,
		IssuedAt: s.now().UTC(),
	}
	if err := s.pending.Put(r.Context(), d, s.cfg.PendingTTL); err != nil {
		s.decisionError("pending_store")
		s.logger.Error("failed to store pending decision", zap.String("decision_id", d.ID), zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "decision could not be recorded")
		return
	}

	writeJSON(w, http.StatusOK, decisionResponse{DecisionID: d.ID, Action: action})
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	var req feedbackRequest
	if !s.decode(w, r, &req) {
		return
	}

	ctx, span := otel.StartSpan(r.Context(), tracerName, "Feedback", otel.FeedbackAttributes(req.DecisionID, *req.Reward)...)
	defer span.End()

	d, err := s.pending.Take(ctx, req.DecisionID)
	if err != nil {
		otel.RecordError(span, err, "pending lookup failed")
		s.logger.Error("pending lookup failed", zap.String("decision_id", req.DecisionID), zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "decision lookup failed")
		return
	}
	if d == nil {
		if s.metrics != nil {
			s.metrics.PendingMisses.Inc()
		}
		writeError(w, http.StatusNotFound, "unknown, expired or already rewarded decision")
		return
	}

	fb := d.Feedback(*req.Reward)
	applied := s.orch.ProvideFeedback(ctx, fb)

	if applied && s.journal != nil {
		if err := s.journal.Append(journal.Entry{DecisionID: d.ID, Feedback: fb}); err != nil {
			if s.metrics != nil {
				s.metrics.JournalErrors.Inc()
			}
			s.logger.Error("journal append failed", zap.String("decision_id", d.ID), zap.Error(err))
		}
	}

	writeJSON(w, http.StatusAccepted, feedbackResponse{DecisionID: d.ID, Applied: applied})
}

func (s *Server) handlePerformance(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.orch.PerformanceSummary())
}

func (s *Server) handleComparison(w http.ResponseWriter, r *http.Request) {
	cmp, err := s.orch.DomainComparison(r.PathValue("domain"))
	if errors.Is(err, orchestrator.ErrUnknownDomain) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, cmp)
}

func (s *Server) handleDefaultAlgorithm(w http.ResponseWriter, r *http.Request) {
	var req defaultAlgorithmRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.orch.SwitchDefaultAlgorithm(api.Algorithm(req.Algorithm)); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, defaultAlgorithmResponse{DefaultAlgorithm: s.orch.DefaultAlgorithm()})
}

func (s *Server) decisionError(reason string) {
	if s.metrics != nil {
		s.metrics.DecisionErrors.WithLabelValues(reason).Inc()
	}
}

// decode reads a size-limited JSON body into v and validates it, writing a
// 400 on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return false
	}
	if err := s.validate.Struct(v); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
