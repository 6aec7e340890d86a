// Collabd - Real-Time Collaborative Code Editing Backend
// SPDX-License-Identifier: MIT
// https://github.com/collabd/collabd

package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/collabd/collabd/internal/ai"
	"github.com/collabd/collabd/internal/capture"
	"github.com/collabd/collabd/internal/chat"
	"github.com/collabd/collabd/internal/config"
	"github.com/collabd/collabd/internal/logging"
	"github.com/collabd/collabd/internal/room"
	"github.com/collabd/collabd/internal/ws"
)

// Server bundles the transport dependencies behind the HTTP handlers.
type Server struct {
	cfg      *config.Config
	registry *room.Registry
	gateway  *chat.Gateway
	ai       *ai.Client
	engine   *capture.Engine
	upgrader websocket.Upgrader
}

// NewServer wires the handler set. The websocket upgrader reuses the
// configured CORS origins for its origin check.
func NewServer(cfg *config.Config, registry *room.Registry, gateway *chat.Gateway, aiClient *ai.Client, engine *capture.Engine) *Server {
	s := &Server{
		cfg:      cfg,
		registry: registry,
		gateway:  gateway,
		ai:       aiClient,
		engine:   engine,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:   4096,
		WriteBufferSize:  4096,
		HandshakeTimeout: cfg.Server.Timeout,
		CheckOrigin:      originChecker(cfg.Server.AllowedOrigins),
	}
	return s
}

func originChecker(allowed []string) func(*http.Request) bool {
	exact := make(map[string]struct{}, len(allowed))
	wildcard := false
	for _, o := range allowed {
		if o == "*" {
			wildcard = true
			continue
		}
		exact[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		if wildcard {
			return true
		}
		origin := r.Header.Get("Origin")
		if origin == "" {
			// Non-browser clients send no Origin header.
			return true
		}
		_, ok := exact[origin]
		return ok
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respond(w, r, http.StatusOK, map[string]any{
		"status": "ok",
		"rooms":  s.registry.RoomCount(),
	})
}

// handleWebSocket upgrades the connection and hands it to the relay.
// The connection owns its lifecycle from here on.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	wsConn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the handshake error.
		logging.Debug().Err(err).Str("remote", r.RemoteAddr).Msg("WebSocket upgrade failed")
		return
	}
	conn := ws.NewConn(wsConn, s.registry, s.gateway, ws.Config{
		SendQueueSize: s.cfg.Relay.SendQueueSize,
		MaxFrameSize:  s.cfg.Relay.MaxFrameSize,
	})
	conn.Start()
}

func (s *Server) handleReview(w http.ResponseWriter, r *http.Request) {
	var req ReviewRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	issues, err := s.ai.ReviewCode(r.Context(), req.Code, req.Language, req.Focus)
	if err != nil {
		s.respondAIError(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, map[string]any{
		"review": map[string]any{
			"issues":  issues,
			"summary": reviewSummary(issues),
		},
	})
}

func reviewSummary(issues []ai.ReviewIssue) string {
	if len(issues) == 0 {
		return "no issues found"
	}
	counts := map[string]int{}
	for _, is := range issues {
		counts[is.Severity]++
	}
	return fmt.Sprintf("%d issue(s) found (%d error, %d warning, %d info)",
		len(issues), counts["error"], counts["warning"], counts["info"])
}

// handleDebugAnalyze records the fault and requests an analysis. A
// client-supplied errorHistory bypasses the server-tracked history and
// goes straight to the AI client without being stored on the fault.
func (s *Server) handleDebugAnalyze(w http.ResponseWriter, r *http.Request) {
	var req DebugAnalyzeRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	faultID := s.engine.Capture(capture.RuntimeFault{
		Message:   req.Error.Message,
		Stack:     req.Error.Stack,
		Line:      req.Error.Line,
		Column:    req.Error.Column,
		FileName:  req.Error.FileName,
		Timestamp: req.Error.Timestamp,
	})

	var (
		analysis *ai.DebugAnalysis
		err      error
	)
	if len(req.ErrorHistory) > 0 {
		analysis, err = s.ai.AnalyzeRuntimeError(r.Context(), ai.AnalysisRequest{
			Message:  req.Error.Message,
			Stack:    req.Error.Stack,
			Line:     req.Error.Line,
			Column:   req.Error.Column,
			Code:     req.Code,
			Language: req.Language,
			History:  req.ErrorHistory,
		})
	} else {
		analysis, err = s.engine.RequestAnalysis(r.Context(), faultID, req.Code, req.Language)
	}
	if err != nil {
		s.respondAIError(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, map[string]any{
		"analysis": analysis,
		"faultId":  faultID,
	})
}

func (s *Server) handleDebugSteps(w http.ResponseWriter, r *http.Request) {
	var req DebugStepsRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	steps, err := s.ai.SuggestDebugSteps(r.Context(), ai.AnalysisRequest{
		Message:  req.Error.Message,
		Stack:    req.Error.Stack,
		Line:     req.Error.Line,
		Column:   req.Error.Column,
		Code:     req.Code,
		Language: req.Language,
	})
	if err != nil {
		s.respondAIError(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, map[string]any{"steps": steps})
}

func (s *Server) handleFaultList(w http.ResponseWriter, r *http.Request) {
	respond(w, r, http.StatusOK, map[string]any{"faults": s.engine.Active()})
}

func (s *Server) handleFaultHistory(w http.ResponseWriter, r *http.Request) {
	respond(w, r, http.StatusOK, map[string]any{"history": s.engine.History()})
}

func (s *Server) handleFaultDismiss(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.engine.Dismiss(id); err != nil {
		respondError(w, r, http.StatusNotFound, ErrCodeNotFound, "fault not found", nil)
		return
	}
	respond(w, r, http.StatusOK, map[string]any{"dismissed": id})
}

func (s *Server) handleFaultClear(w http.ResponseWriter, r *http.Request) {
	s.engine.Clear()
	respond(w, r, http.StatusOK, map[string]any{"cleared": true})
}

// respondAIError maps the AI client's typed failures onto HTTP status
// codes.
func (s *Server) respondAIError(w http.ResponseWriter, r *http.Request, err error) {
	var callErr *ai.CallError
	switch {
	case errors.Is(err, ai.ErrNotConfigured):
		respondError(w, r, http.StatusServiceUnavailable, ErrCodeServiceUnavailable,
			"AI service is not configured", nil)
	case errors.Is(err, ai.ErrTimeout):
		respondError(w, r, http.StatusGatewayTimeout, ErrCodeGatewayTimeout,
			"AI service timed out", nil)
	case errors.Is(err, ai.ErrThrottled):
		respondError(w, r, http.StatusTooManyRequests, ErrCodeTooManyRequests,
			"AI request rate exceeded, try again later", nil)
	case errors.Is(err, ai.ErrUnavailable):
		respondError(w, r, http.StatusBadGateway, ErrCodeBadGateway,
			"AI service is temporarily unavailable", nil)
	case errors.Is(err, capture.ErrFaultNotFound):
		respondError(w, r, http.StatusNotFound, ErrCodeNotFound,
			"fault not found", nil)
	case errors.Is(err, capture.ErrFaultDismissed):
		respondError(w, r, http.StatusConflict, ErrCodeConflict,
			"fault has been dismissed", nil)
	case errors.Is(err, capture.ErrAnalysisInFlight):
		respondError(w, r, http.StatusConflict, ErrCodeConflict,
			"analysis already in progress", nil)
	case errors.As(err, &callErr):
		logging.Warn().Err(err).Str("operation", callErr.Operation).Msg("AI call failed")
		respondError(w, r, http.StatusBadGateway, ErrCodeBadGateway,
			"AI call failed", nil)
	default:
		logging.Err(err).Str("path", r.URL.Path).Msg("Unexpected handler error")
		respondError(w, r, http.StatusInternalServerError, ErrCodeInternalError,
			"internal error", nil)
	}
}
