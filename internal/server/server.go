// Package server exposes the agent over HTTP so several users can chat at once.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"scrtgate/agent/internal/agent"
	"scrtgate/agent/internal/store"
	"scrtgate/agent/internal/types"
)

type Agent interface {
	HandleMessage(ctx context.Context, userID, message string) (string, error)
	History(ctx context.Context, userID string) ([]store.Turn, error)
	TradingEnabled(ctx context.Context, userID string) (bool, error)
}

type Server struct {
	agent  Agent
	router *mux.Router
	log    *zap.Logger
}

func New(a Agent, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{agent: a, router: mux.NewRouter(), log: log}
	s.router.Use(LoggingMiddleware(log))
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.HandleFunc("/v1/users/{user}/messages", s.postMessage).Methods(http.MethodPost)
	s.router.HandleFunc("/v1/users/{user}/history", s.getHistory).Methods(http.MethodGet)
	s.router.HandleFunc("/v1/users/{user}/trading", s.getTrading).Methods(http.MethodGet)
	s.router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	}).Methods(http.MethodGet)
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", zap.String("addr", ln.Addr().String()))
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.log.Info("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type messageRequest struct {
	Message string `json:"message"`
}

type messageResponse struct {
	Reply string `json:"reply"`
}

type turnResponse struct {
	Message   string    `json:"message"`
	Response  string    `json:"response"`
	CreatedAt time.Time `json:"created_at"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) postMessage(w http.ResponseWriter, r *http.Request) {
	user := mux.Vars(r)["user"]
	var req messageRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "body must be JSON like {\"message\": \"...\"}"})
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "message is required"})
		return
	}
	reply, err := s.agent.HandleMessage(r.Context(), user, req.Message)
	if err != nil {
		s.fail(w, user, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Reply: reply})
}

func (s *Server) getHistory(w http.ResponseWriter, r *http.Request) {
	user := mux.Vars(r)["user"]
	turns, err := s.agent.History(r.Context(), user)
	if err != nil {
		s.fail(w, user, err)
		return
	}
	out := make([]turnResponse, 0, len(turns))
	for _, t := range turns {
		out = append(out, turnResponse{Message: t.Message, Response: t.Response, CreatedAt: t.CreatedAt})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getTrading(w http.ResponseWriter, r *http.Request) {
	user := mux.Vars(r)["user"]
	enabled, err := s.agent.TradingEnabled(r.Context(), user)
	if err != nil {
		s.fail(w, user, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": user, "trading_enabled": enabled})
}

func (s *Server) fail(w http.ResponseWriter, user string, err error) {
	status := statusFor(err)
	if status >= 500 {
		s.log.Error("request failed", zap.String("user", user), zap.Error(err))
	}
	writeJSON(w, status, errorResponse{Error: agent.Describe(err)})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, types.ErrInvalidUser):
		return http.StatusBadRequest
	case errors.Is(err, types.ErrTradeInFlight):
		return http.StatusConflict
	case errors.Is(err, types.ErrGeneration), errors.Is(err, types.ErrChainQuery):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
