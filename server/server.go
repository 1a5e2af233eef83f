// Package server exposes the chat orchestrator over HTTP: an SSE chat
// endpoint, session configuration and lifecycle routes, local model
// discovery, and API key validation.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	contractx "github.com/Jhons14/LocalAI/agent/contract"
	llmx "github.com/Jhons14/LocalAI/agent/llm"
	sessionx "github.com/Jhons14/LocalAI/agent/session"
	ollamax "github.com/Jhons14/LocalAI/pkg/ollama"
)

type Config struct {
	Addr              string `envconfig:"ADDR" split_words:"true" default:":8000"`
	AllowedOrigin     string `envconfig:"ALLOWED_ORIGIN" split_words:"true" default:"http://localhost:4321"`
	MaxPromptLength   int    `envconfig:"MAX_PROMPT_LENGTH" split_words:"true" default:"10000"`
	MaxThreadIDLength int    `envconfig:"MAX_THREAD_ID_LENGTH" split_words:"true" default:"100"`
	OpenAIBaseURL     string `envconfig:"OPENAI_BASE_URL" split_words:"true"`
}

type Server struct {
	cfg      Config
	registry *sessionx.Registry
	ollama   *ollamax.Client // nil when no local daemon is configured
}

func New(cfg Config, registry *sessionx.Registry, ollama *ollamax.Client) (*Server, error) {
	if registry == nil {
		return nil, errors.New("session registry is required")
	}
	return &Server{cfg: cfg, registry: registry, ollama: ollama}, nil
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Use(s.cors)

	r.Post("/chat", s.handleChat)
	r.Post("/configure", s.handleConfigure)
	r.Get("/sessions/{threadID}", s.handleSessionStatus)
	r.Delete("/sessions/{threadID}", s.handleSessionDelete)
	r.Get("/models", s.handleListModels)
	r.Post("/keys/validate", s.handleValidateKey)

	return r
}

func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{Addr: s.cfg.Addr, Handler: s.Handler()}

	go func() {
		<-ctx.Done()
		_ = srv.Shutdown(context.Background())
	}()

	log.Info().Str("addr", s.cfg.Addr).Msg("http server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", s.cfg.AllowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type sessionConfigPayload struct {
	Provider      string   `json:"provider"`
	Model         string   `json:"model"`
	Temperature   float32  `json:"temperature"`
	MaxTokens     int      `json:"max_tokens"`
	Toolkits      []string `json:"toolkits"`
	MemoryEnabled *bool    `json:"memory_enabled"`
	UserID        string   `json:"user_id"`
}

type chatPayload struct {
	ThreadID string                `json:"thread_id"`
	Prompt   string                `json:"prompt"`
	APIKey   string                `json:"api_key"`
	Config   *sessionConfigPayload `json:"config"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var payload chatPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.validateChat(payload); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	emit := func(chunk string) {
		writeSSEChunk(w, flusher, chunk)
	}

	req := sessionx.ChatRequest{
		ThreadID:   payload.ThreadID,
		Prompt:     payload.Prompt,
		Credential: payload.APIKey,
		Config:     s.toSessionConfig(payload.ThreadID, payload.Config),
	}

	// Client disconnects cancel the in-flight turn via the request ctx.
	if err := s.registry.Chat(r.Context(), req, emit); err != nil {
		log.Error().Err(err).Str("thread_id", payload.ThreadID).Msg("chat turn failed")
		writeSSEChunk(w, flusher, fmt.Sprintf("%s %v", contractx.ErrorMarker, err))
	}
}

func (s *Server) validateChat(payload chatPayload) error {
	threadID := strings.TrimSpace(payload.ThreadID)
	if threadID == "" {
		return errors.New("thread_id is required")
	}
	if len(threadID) > s.cfg.MaxThreadIDLength {
		return fmt.Errorf("thread_id exceeds %d characters", s.cfg.MaxThreadIDLength)
	}
	prompt := strings.TrimSpace(payload.Prompt)
	if prompt == "" {
		return errors.New("prompt is required")
	}
	if len(prompt) > s.cfg.MaxPromptLength {
		return fmt.Errorf("prompt exceeds %d characters", s.cfg.MaxPromptLength)
	}
	return nil
}

func (s *Server) toSessionConfig(threadID string, payload *sessionConfigPayload) *contractx.SessionConfig {
	if payload == nil {
		return nil
	}
	cfg := &contractx.SessionConfig{
		ThreadID:    threadID,
		UserID:      payload.UserID,
		Provider:    payload.Provider,
		Model:       payload.Model,
		Temperature: payload.Temperature,
		MaxTokens:   payload.MaxTokens,
		Toolkits:    payload.Toolkits,
	}
	if payload.MemoryEnabled != nil {
		cfg.MemoryEnabled = *payload.MemoryEnabled
	}
	return cfg
}

type configurePayload struct {
	ThreadID string `json:"thread_id"`
	APIKey   string `json:"api_key"`
	sessionConfigPayload
}

func (s *Server) handleConfigure(w http.ResponseWriter, r *http.Request) {
	var payload configurePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	threadID := strings.TrimSpace(payload.ThreadID)
	if threadID == "" || len(threadID) > s.cfg.MaxThreadIDLength {
		writeError(w, http.StatusBadRequest, "invalid thread_id")
		return
	}

	if s.registry.Exists(threadID) {
		changes, err := s.registry.Reconfigure(r.Context(), threadID, payload.Toolkits, payload.APIKey)
		if err != nil {
			writeError(w, configureStatus(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"message": fmt.Sprintf("session %s reconfigured", threadID),
			"changes": changes,
		})
		return
	}

	cfg := s.toSessionConfig(threadID, &payload.sessionConfigPayload)
	if _, err := s.registry.CreateOrReplace(r.Context(), *cfg, payload.APIKey); err != nil {
		writeError(w, configureStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": fmt.Sprintf("session %s configured", threadID),
	})
}

func configureStatus(err error) int {
	switch {
	case errors.Is(err, contractx.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, contractx.ErrCredentialMissing), errors.Is(err, contractx.ErrValidation):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleSessionStatus(w http.ResponseWriter, r *http.Request) {
	threadID := chi.URLParam(r, "threadID")
	sess, ok := s.registry.Get(threadID)
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"configured": true,
		"config":     sess.Config(),
	})
}

func (s *Server) handleSessionDelete(w http.ResponseWriter, r *http.Request) {
	threadID := chi.URLParam(r, "threadID")
	if !s.registry.Delete(r.Context(), threadID) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "deleted"})
}

func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	if s.ollama == nil {
		writeError(w, http.StatusServiceUnavailable, "local model daemon is not configured")
		return
	}
	models, err := s.ollama.ListModels(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, models)
}

type validateKeyPayload struct {
	APIKey string `json:"api_key"`
}

func (s *Server) handleValidateKey(w http.ResponseWriter, r *http.Request) {
	var payload validateKeyPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := llmx.ValidateKey(r.Context(), s.cfg.OpenAIBaseURL, payload.APIKey); err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"valid": true})
}

func writeSSEChunk(w http.ResponseWriter, flusher http.Flusher, chunk string) {
	if chunk == "" {
		return
	}
	// JSON-encode so chunks containing newlines survive SSE framing.
	encoded, err := json.Marshal(chunk)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", encoded)
	flusher.Flush()
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
