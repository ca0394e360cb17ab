// SPDX-License-Identifier: MIT

// Package api exposes the HTTP surface: the stream relay, playback
// session control, watch progress and the continue-watching list.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/bindothorpe/b-anime/internal/metadata"
	"github.com/bindothorpe/b-anime/internal/playback"
	"github.com/bindothorpe/b-anime/internal/progress"
)

// MetadataAPI is the metadata surface the handlers expose to clients.
type MetadataAPI interface {
	SeriesInfo(ctx context.Context, seriesID string) (*metadata.SeriesInfo, error)
}

// Server bundles the handler dependencies.
type Server struct {
	manager    *playback.Manager
	store      progress.Store
	aggregator *progress.Aggregator
	metadata   MetadataAPI
}

func NewServer(manager *playback.Manager, store progress.Store, aggregator *progress.Aggregator, meta MetadataAPI) *Server {
	return &Server{
		manager:    manager,
		store:      store,
		aggregator: aggregator,
		metadata:   meta,
	}
}

type startPlaybackRequest struct {
	SeriesID  string `json:"seriesId"`
	EpisodeID string `json:"episodeId"`
}

// sessionResponse is a session status with the one-time resume point
// attached when it is handed out.
type sessionResponse struct {
	playback.Status
	ResumeFrom *float64 `json:"resumeFrom,omitempty"`
}

func (s *Server) handleStartPlayback(w http.ResponseWriter, r *http.Request) {
	var req startPlaybackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if req.SeriesID == "" || req.EpisodeID == "" {
		writeError(w, errors.New("seriesId and episodeId are required"))
		return
	}

	session, err := s.manager.Start(req.SeriesID, req.EpisodeID)
	if err != nil {
		writeServiceUnavailable(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sessionResponse{Status: session.Status()})
}

// handlePlaybackStatus reports the session state. The resume point is
// included exactly once, on the first poll that finds the session
// playing; later polls and rebuffers never see it again.
func (s *Server) handlePlaybackStatus(w http.ResponseWriter, r *http.Request) {
	session, err := s.manager.Get(chi.URLParam(r, "sessionID"))
	if err != nil {
		writeNotFound(w)
		return
	}

	resp := sessionResponse{Status: session.Status()}
	if resp.State == playback.StatePlaying {
		if seconds, ok := session.ConsumeResume(); ok {
			resp.ResumeFrom = &seconds
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

type playbackEventRequest struct {
	Type     string  `json:"type"`
	Seconds  float64 `json:"seconds,omitempty"`
	Duration float64 `json:"duration,omitempty"`
	Fault    string  `json:"fault,omitempty"`
}

func (s *Server) handlePlaybackEvent(w http.ResponseWriter, r *http.Request) {
	session, err := s.manager.Get(chi.URLParam(r, "sessionID"))
	if err != nil {
		writeNotFound(w)
		return
	}

	var req playbackEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("invalid request body: %w", err))
		return
	}

	switch req.Type {
	case "timeupdate":
		err = session.RecordTime(r.Context(), req.Seconds)
	case "durationchange":
		err = session.RecordDuration(r.Context(), req.Duration)
	case "error":
		err = session.ReportFault(r.Context(), playback.FaultType(req.Fault))
	default:
		writeError(w, fmt.Errorf("unknown event type %q", req.Type))
		return
	}
	if err != nil {
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{Status: session.Status()})
}

func (s *Server) handleTeardownPlayback(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.Teardown(chi.URLParam(r, "sessionID")); err != nil {
		writeNotFound(w)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type secondsRequest struct {
	Seconds float64 `json:"seconds"`
}

func (s *Server) handleRecordSeconds(w http.ResponseWriter, r *http.Request) {
	var req secondsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if req.Seconds < 0 {
		writeError(w, errors.New("seconds must not be negative"))
		return
	}

	applied, err := s.store.RecordProgress(r.Context(), chi.URLParam(r, "seriesID"), chi.URLParam(r, "episodeID"), req.Seconds)
	if err != nil {
		writeServiceUnavailable(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"applied": applied})
}

type durationRequest struct {
	Duration float64 `json:"duration"`
}

func (s *Server) handleRecordDuration(w http.ResponseWriter, r *http.Request) {
	var req durationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if req.Duration <= 0 {
		writeError(w, errors.New("duration must be positive"))
		return
	}

	if err := s.store.RecordDuration(r.Context(), chi.URLParam(r, "seriesID"), chi.URLParam(r, "episodeID"), req.Duration); err != nil {
		writeServiceUnavailable(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleIsWatched(w http.ResponseWriter, r *http.Request) {
	watched, err := s.store.IsWatched(r.Context(), chi.URLParam(r, "seriesID"), chi.URLParam(r, "episodeID"))
	if err != nil {
		writeServiceUnavailable(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"watched": watched})
}

func (s *Server) handleDeleteSeries(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteSeries(r.Context(), chi.URLParam(r, "seriesID")); err != nil {
		writeServiceUnavailable(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleContinueWatching(w http.ResponseWriter, r *http.Request) {
	items, err := s.aggregator.List(r.Context())
	if err != nil {
		writeServiceUnavailable(w, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) handleSeriesInfo(w http.ResponseWriter, r *http.Request) {
	info, err := s.metadata.SeriesInfo(r.Context(), chi.URLParam(r, "seriesID"))
	if err != nil {
		writeServiceUnavailable(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}
