// File: internal/api/handlers.go
package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/cicerone-dev/cicerone/api/schemas"
	"github.com/cicerone-dev/cicerone/internal/degradation"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("Failed to encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) mapError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, schemas.ErrSessionNotFound), errors.Is(err, schemas.ErrPipelineNotFound):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, schemas.ErrCapacityExceeded):
		s.writeError(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, schemas.ErrFeatureUnavailable):
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, schemas.ErrTerminalState), errors.Is(err, schemas.ErrInvalidTransition):
		s.writeError(w, http.StatusConflict, err.Error())
	default:
		s.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

type createSessionRequest struct {
	OwnerID        string `json:"owner_id"`
	Input          string `json:"input"`
	SkillLevel     string `json:"skill_level,omitempty"`
	TimeConstraint string `json:"time_constraint,omitempty"`
}

// handleCreateSession accepts a guidance request and runs the pipeline in
// the background. The returned request id doubles as the pipeline key until
// the session exists; afterwards both ids resolve.
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var body createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(body.Input) == "" {
		s.writeError(w, http.StatusBadRequest, "input is required")
		return
	}
	// The pipeline would reject the request anyway; checking here surfaces
	// the condition before the 202 is committed.
	if !s.health.IsFeatureAvailable(degradation.FeatureGuidedSessions) {
		s.writeError(w, http.StatusServiceUnavailable, schemas.ErrFeatureUnavailable.Error())
		return
	}

	req := schemas.GuidanceRequest{
		ID:         uuid.New().String(),
		OwnerID:    body.OwnerID,
		RawInput:   body.Input,
		SkillLevel: body.SkillLevel,
	}

	// The pipeline outlives this HTTP exchange; detach it from the request
	// context so a disconnecting client does not cancel the session.
	go func() {
		if _, err := s.orch.ProcessRequest(context.Background(), req); err != nil {
			s.logger.Warn("Pipeline finished with error",
				zap.String("request_id", req.ID), zap.Error(err))
		}
	}()

	s.writeJSON(w, http.StatusAccepted, map[string]string{"request_id": req.ID})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.mapError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handlePipelineStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.orch.PipelineStatus(chi.URLParam(r, "id"))
	if err != nil {
		s.mapError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleOutcomes(w http.ResponseWriter, r *http.Request) {
	outcomes, err := s.sessions.Outcomes(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.mapError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, outcomes)
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Pause(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.mapError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Resume(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.mapError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Cancel(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.mapError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	var fb schemas.Feedback
	if err := json.NewDecoder(r.Body).Decode(&fb); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	fb.SessionID = chi.URLParam(r, "id")

	action, err := s.orch.HandleFeedback(r.Context(), fb)
	if err != nil {
		s.mapError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"adaptation": string(action)})
}

func (s *Server) handleHealthReport(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.health.Report())
}

func (s *Server) handleFeatureCheck(w http.ResponseWriter, r *http.Request) {
	feature := chi.URLParam(r, "feature")
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"feature":   feature,
		"available": s.health.IsFeatureAvailable(feature),
		"level":     s.health.OverallLevel().String(),
	})
}

// handleFallbacks reports the runtime fallback switches so interface clients
// can honor the ones only they can act on.
func (s *Server) handleFallbacks(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.toggles.Snapshot())
}

type degradeRequest struct {
	Level int `json:"level"`
}

func (s *Server) handleManualDegrade(w http.ResponseWriter, r *http.Request) {
	var body degradeRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	level := schemas.DegradationLevel(body.Level)
	if level < schemas.FullFunctionality || level > schemas.EmergencyMode {
		s.writeError(w, http.StatusBadRequest, "level out of range")
		return
	}

	if err := s.health.TriggerManualDegradation(r.Context(), chi.URLParam(r, "component"), level); err != nil {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, s.health.Report())
}

func (s *Server) handleRestore(w http.ResponseWriter, r *http.Request) {
	if err := s.health.RestoreComponent(r.Context(), chi.URLParam(r, "component")); err != nil {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, s.health.Report())
}
