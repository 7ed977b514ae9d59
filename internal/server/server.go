package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/fairwaylabs/coachvoice/internal/observability"
	"github.com/fairwaylabs/coachvoice/internal/phrase"
	"github.com/fairwaylabs/coachvoice/internal/store"
	"github.com/fairwaylabs/coachvoice/internal/warmer"
	"github.com/rs/zerolog"
)

// Server exposes the phrase cache over HTTP: phrase registration, the
// audio read path, warm triggers, cache status, and a WebSocket progress
// stream
type Server struct {
	registry *phrase.Registry
	warmer   *warmer.Warmer
	store    *store.Store
	hub      *progressHub
	logger   zerolog.Logger
}

// New creates the HTTP surface and subscribes its progress hub to the
// warmer
func New(registry *phrase.Registry, w *warmer.Warmer, st *store.Store) *Server {
	s := &Server{
		registry: registry,
		warmer:   w,
		store:    st,
		hub:      newProgressHub(),
		logger:   observability.ComponentLogger("server"),
	}
	w.Subscribe(s.hub.Broadcast)
	return s
}

// Routes registers all handlers on the given mux
func (s *Server) Routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /phrases", s.handleListPhrases)
	mux.HandleFunc("POST /phrases", s.handleRegisterPhrases)
	mux.HandleFunc("GET /phrases/audio", s.handlePhraseAudio)
	mux.HandleFunc("POST /cache/warm", s.handleWarm)
	mux.HandleFunc("GET /cache/status", s.handleStatus)
	mux.HandleFunc("DELETE /cache", s.handleClear)
	mux.HandleFunc("GET /cache/progress", s.handleProgress)
}

type registerRequest struct {
	Texts []string `json:"texts"`
}

type registerResponse struct {
	Added int `json:"added"`
	Total int `json:"total"`
}

func (s *Server) handleRegisterPhrases(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(req.Texts) == 0 {
		writeError(w, http.StatusBadRequest, "texts is required")
		return
	}

	added := s.registry.Register(phrase.CategoryDynamic, req.Texts...)

	writeJSON(w, http.StatusCreated, registerResponse{
		Added: added,
		Total: s.registry.Len(),
	})
}

func (s *Server) handleListPhrases(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.All())
}

func (s *Server) handlePhraseAudio(w http.ResponseWriter, r *http.Request) {
	text := r.URL.Query().Get("text")
	if text == "" {
		writeError(w, http.StatusBadRequest, "text query parameter is required")
		return
	}

	audio, err := s.warmer.CachedAudio(text)
	if err != nil {
		if errors.Is(err, store.ErrCacheMiss) {
			writeError(w, http.StatusNotFound, "audio not cached")
			return
		}
		s.logger.Error().Err(err).Msg("Failed to read cached audio")
		writeError(w, http.StatusInternalServerError, "failed to read cached audio")
		return
	}

	w.Header().Set("Content-Type", "audio/mpeg")
	w.WriteHeader(http.StatusOK)
	w.Write(audio)
}

func (s *Server) handleWarm(w http.ResponseWriter, r *http.Request) {
	// Warm never blocks its caller; the cycle runs in the background and
	// progress is observable via /cache/status and /cache/progress.
	go s.warmer.Warm(context.Background())

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

type statusResponse struct {
	State         string  `json:"state"`
	Progress      float64 `json:"progress"`
	PhraseCount   int     `json:"phrase_count"`
	LastRefresh   string  `json:"last_refresh,omitempty"`
	ShouldRefresh bool    `json:"should_refresh"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		State:         "idle",
		Progress:      s.warmer.CurrentProgress(),
		PhraseCount:   s.store.PhraseCount(),
		ShouldRefresh: s.warmer.ShouldRefresh(),
	}
	if s.warmer.IsWarming() {
		resp.State = "warming"
	}
	if meta := s.store.Metadata(); meta != nil {
		resp.LastRefresh = meta.LastRefresh.UTC().Format(time.RFC3339)
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	if err := s.warmer.Clear(); err != nil {
		s.logger.Error().Err(err).Msg("Failed to clear cache")
		writeError(w, http.StatusInternalServerError, "failed to clear cache")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
