package server

import (
	"encoding/json"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/groundtruth-ai/restaurant-chat/internal/privacy"
)

const maxBodyBytes = 1 << 20

type maskRequest struct {
	Text   string          `json:"text"`
	Config json.RawMessage `json:"config,omitempty"`
}

// decodeBody reads a JSON request body into v. An empty body leaves v untouched.
func decodeBody(r *http.Request, v interface{}) error {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}

// handleMask masks the posted text. A supplied config is applied over the
// all-enabled defaults; without one the stored configuration is used.
func (s *Server) handleMask(w http.ResponseWriter, r *http.Request) {
	var req maskRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	cfg := s.deps.Detector.Snapshot(r.Context())
	if len(req.Config) > 0 && string(req.Config) != "null" {
		cfg = privacy.DefaultMaskingConfig()
		if err := json.Unmarshal(req.Config, &cfg); err != nil {
			writeError(w, http.StatusBadRequest, "invalid masking config")
			return
		}
	}

	result := privacy.Mask(req.Text, cfg)
	if result.HasPII {
		s.logger.WithRequestID(getRequestID(r.Context())).Info("PII masked",
			zap.Int("detections", len(result.Detections)))
	}

	writeJSON(w, http.StatusOK, result)
}

// handleDetect reports which categories appear in the posted text
func (s *Server) handleDetect(w http.ResponseWriter, r *http.Request) {
	var req maskRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	writeJSON(w, http.StatusOK, privacy.Detect(req.Text))
}

// handleStatistics counts PII occurrences per category in the posted text
func (s *Server) handleStatistics(w http.ResponseWriter, r *http.Request) {
	var req maskRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	writeJSON(w, http.StatusOK, privacy.Statistics(req.Text))
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.deps.Settings.Get(r.Context())
	if err != nil {
		s.logger.Error("Failed to load PII config", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load config")
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// handleUpdateConfig applies a partial config document over the stored one
func (s *Server) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	cfg, err := s.deps.Settings.Get(ctx)
	if err != nil {
		s.logger.Error("Failed to load PII config", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load config")
		return
	}

	if err := decodeBody(r, &cfg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid masking config")
		return
	}

	if err := s.deps.Settings.Set(ctx, cfg); err != nil {
		s.logger.Error("Failed to save PII config", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to save config")
		return
	}

	s.logger.Info("PII config updated", zap.Any("enabled", cfg.EnabledCategories()))
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) handleResetConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.deps.Settings.Reset(r.Context())
	if err != nil {
		s.logger.Error("Failed to reset PII config", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to reset config")
		return
	}

	s.logger.Info("PII config reset to defaults")
	writeJSON(w, http.StatusOK, cfg)
}
