// Package api implements the local HTTP API: text turns (with SSE
// streaming), voice loop status, and a WebSocket chat channel.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/yuin/goldmark"

	"github.com/lumen-home/lumen/internal/buildinfo"
	"github.com/lumen-home/lumen/internal/chat"
	"github.com/lumen-home/lumen/internal/command"
	"github.com/lumen-home/lumen/internal/llm"
	"github.com/lumen-home/lumen/internal/voice"
)

// Chat is the slice of the chat controller the API uses.
type Chat interface {
	SubmitText(ctx context.Context, conversationID, utterance string) (*command.TurnResult, error)
	SubmitTextStream(ctx context.Context, conversationID, utterance string, onChunk llm.ChunkFunc) (*command.TurnResult, error)
}

// VoiceStatus exposes the voice loop snapshot.
type VoiceStatus interface {
	Status() voice.Status
}

// writeJSON encodes v to w; failures usually mean the client went
// away.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil && logger != nil {
		logger.Debug("write JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]string{"error": msg}); err != nil && logger != nil {
		logger.Debug("write error response", "error", err)
	}
}

// Server is the HTTP API server.
type Server struct {
	address string
	port    int
	chat    Chat
	voice   VoiceStatus
	logger  *slog.Logger
	server  *http.Server
	md      goldmark.Markdown
}

// NewServer creates the API server. voiceStatus may be nil when the
// voice loop is disabled.
func NewServer(address string, port int, chatCtl Chat, voiceStatus VoiceStatus, logger *slog.Logger) *Server {
	return &Server{
		address: address,
		port:    port,
		chat:    chatCtl,
		voice:   voiceStatus,
		logger:  logger,
		md:      goldmark.New(),
	}
}

// Handler builds the route table. Split from Start for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/turn", s.handleTurn)
	mux.HandleFunc("GET /v1/voice/status", s.handleVoiceStatus)
	mux.HandleFunc("GET /v1/chat/ws", s.handleChatWS)
	mux.HandleFunc("GET /v1/version", s.handleVersion)
	mux.HandleFunc("GET /healthz", s.handleHealth)

	return s.logRequests(mux)
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.address, s.port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		// No WriteTimeout: SSE and WebSocket connections are
		// long-lived.
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("api listening", "addr", s.server.Addr)
		errCh <- s.server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		if s.logger != nil {
			s.logger.Debug("http request",
				"method", r.Method, "path", r.URL.Path,
				"remote", r.RemoteAddr, "elapsed", time.Since(start))
		}
	})
}

type turnRequest struct {
	ConversationID string `json:"conversation_id"`
	Text           string `json:"text"`
}

type turnResponse struct {
	ID        string                    `json:"id"`
	Reply     string                    `json:"reply"`
	ReplyHTML string                    `json:"reply_html,omitempty"`
	Language  string                    `json:"language"`
	Results   []command.ExecutionResult `json:"results,omitempty"`
}

func (s *Server) handleTurn(w http.ResponseWriter, r *http.Request) {
	var req turnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body", s.logger)
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, "text is required", s.logger)
		return
	}
	if req.ConversationID == "" {
		req.ConversationID = "default"
	}

	if r.URL.Query().Get("stream") == "1" {
		s.handleTurnStream(w, r, req)
		return
	}

	result, err := s.chat.SubmitText(r.Context(), req.ConversationID, req.Text)
	if err != nil {
		s.turnError(w, err)
		return
	}
	writeJSON(w, s.toResponse(result), s.logger)
}

// handleTurnStream delivers model chunks as SSE events, followed by a
// final result event.
func (s *Server) handleTurnStream(w http.ResponseWriter, r *http.Request, req turnRequest) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported", s.logger)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	result, err := s.chat.SubmitTextStream(r.Context(), req.ConversationID, req.Text, func(chunk string) {
		payload, _ := json.Marshal(map[string]string{"text": chunk})
		fmt.Fprintf(w, "event: chunk\ndata: %s\n\n", payload)
		flusher.Flush()
	})
	if err != nil {
		payload, _ := json.Marshal(map[string]string{"error": err.Error()})
		fmt.Fprintf(w, "event: error\ndata: %s\n\n", payload)
		flusher.Flush()
		return
	}

	payload, _ := json.Marshal(s.toResponse(result))
	fmt.Fprintf(w, "event: result\ndata: %s\n\n", payload)
	flusher.Flush()
}

func (s *Server) turnError(w http.ResponseWriter, err error) {
	if errors.Is(err, chat.ErrTooManySessions) {
		writeError(w, http.StatusTooManyRequests, err.Error(), s.logger)
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error(), s.logger)
}

func (s *Server) toResponse(result *command.TurnResult) turnResponse {
	return turnResponse{
		ID:        result.ID,
		Reply:     result.Reply,
		ReplyHTML: s.renderHTML(result.Reply),
		Language:  result.Language,
		Results:   result.Results,
	}
}

// renderHTML converts the markdown reply for web clients; voice
// clients use the plain text.
func (s *Server) renderHTML(text string) string {
	var buf bytes.Buffer
	if err := s.md.Convert([]byte(text), &buf); err != nil {
		return ""
	}
	return buf.String()
}

func (s *Server) handleVoiceStatus(w http.ResponseWriter, r *http.Request) {
	if s.voice == nil {
		writeError(w, http.StatusNotFound, "voice loop not running", s.logger)
		return
	}
	writeJSON(w, s.voice.Status(), s.logger)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, buildinfo.Info(), s.logger)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"}, s.logger)
}
