// Package server exposes the diary and the diary chat over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/felixgeelhaar/diario/internal/chat"
	"github.com/felixgeelhaar/diario/internal/diary"
	"github.com/felixgeelhaar/diario/internal/fault"
	"github.com/felixgeelhaar/diario/internal/indexer"
	"github.com/felixgeelhaar/diario/internal/observe"
	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const maxRequestBodySize = 1 << 20

// Entries is the read side of the diary.
type Entries interface {
	Get(date string) (diary.Entry, error)
	Dates() ([]string, error)
}

// Writer saves entries and rebuilds the index.
type Writer interface {
	SaveEntry(ctx context.Context, date, text string) (indexer.Report, error)
	Reindex(ctx context.Context) (indexer.Report, error)
}

// Chat answers questions per session.
type Chat interface {
	Ask(ctx context.Context, sessionID, question string) (chat.Answer, error)
	Drop(ctx context.Context, sessionID string) error
}

type Options struct {
	AllowedOrigins []string
	RatePerSecond  float64
	Burst          int
}

type Server struct {
	entries Entries
	writer  Writer
	chat    Chat
	opts    Options
	limiter *rateLimiter
	obs     *observe.Observer
	handler http.Handler
}

func New(entries Entries, writer Writer, c Chat, opts Options, obs *observe.Observer) *Server {
	s := &Server{
		entries: entries,
		writer:  writer,
		chat:    c,
		opts:    opts,
		limiter: newRateLimiter(opts.RatePerSecond, opts.Burst),
		obs:     observe.OrNop(obs),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/diary/save", s.handleSave)
	mux.HandleFunc("GET /api/diary/list", s.handleList)
	mux.HandleFunc("GET /api/diary/{date}", s.handleGet)
	mux.HandleFunc("POST /api/chat", s.handleChat)
	mux.HandleFunc("DELETE /api/chat/{session}", s.handleDropSession)
	mux.HandleFunc("POST /api/index/rebuild", s.handleRebuild)
	mux.HandleFunc("GET /healthz", s.handleHealth)

	s.handler = otelhttp.NewHandler(s.cors(s.rateLimit(mux)), "diario")
	return s
}

// Handler returns the full middleware chain.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ListenAndServe serves on addr until ctx is canceled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go s.limiter.cleanupLoop(ctx)

	errCh := make(chan error, 1)
	go func() {
		s.obs.Log().Info().Str("addr", addr).Msg("listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.obs.Log().Info().Msg("shutting down")
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && slices.Contains(s.opts.AllowedOrigins, origin) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type, X-Session-ID")
			h.Set("Access-Control-Expose-Headers", "X-Session-ID")
			h.Add("Vary", "Origin")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/healthz" && !s.limiter.allow(clientIP(r)) {
			s.obs.Log().Warn().Str("client", clientIP(r)).Msg("rate limited")
			w.Header().Set("Retry-After", "1")
			writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "too many requests"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps err to a status by its fault kind. Only input errors
// carry their message to the client; everything else gets a generic text.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, diary.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "not found"})
		return
	}
	kind := fault.KindOf(err)
	status := fault.HTTPStatus(kind)
	msg := fault.PublicMessage(kind)
	if kind == fault.Input {
		msg = err.Error()
	}

	if status >= 500 {
		s.obs.Log().Error().Str("path", r.URL.Path).Str("kind", kind.String()).Err(err).Msg("request failed")
	} else {
		s.obs.Log().Warn().Str("path", r.URL.Path).Str("kind", kind.String()).Err(err).Msg("request failed")
	}
	writeJSON(w, status, errorBody{Error: msg})
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return fmt.Errorf("request body larger than %d bytes: %w", maxRequestBodySize, fault.ErrInput)
		}
		return fmt.Errorf("invalid JSON body: %w", fault.ErrInput)
	}
	return nil
}

type saveRequest struct {
	Date string `json:"date"`
	Text string `json:"text"`
}

type reportResponse struct {
	Status string         `json:"status"`
	Date   string         `json:"date,omitempty"`
	Report indexer.Report `json:"report"`
}

func status(rep indexer.Report, ok string) string {
	if rep.Partial() {
		return "partial"
	}
	return ok
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	var req saveRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.Date) == "" {
		req.Date = diary.Today()
	}
	date, err := diary.ParseDate(req.Date)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	rep, err := s.writer.SaveEntry(r.Context(), date, req.Text)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reportResponse{Status: status(rep, "saved"), Date: date, Report: rep})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	dates, err := s.entries.Dates()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if dates == nil {
		dates = []string{}
	}
	writeJSON(w, http.StatusOK, dates)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	e, err := s.entries.Get(r.PathValue("date"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

type chatRequest struct {
	Question  string `json:"question"`
	SessionID string `json:"session_id"`
}

type source struct {
	Date    string  `json:"date"`
	ChunkID string  `json:"chunk_id"`
	Score   float32 `json:"score"`
}

type chatResponse struct {
	Answer    string   `json:"answer"`
	SessionID string   `json:"session_id"`
	Sources   []source `json:"sources"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	sid := req.SessionID
	if sid == "" {
		sid = r.Header.Get("X-Session-ID")
	}
	if sid == "" {
		sid = uuid.NewString()
	}
	w.Header().Set("X-Session-ID", sid)

	ans, err := s.chat.Ask(r.Context(), sid, req.Question)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	resp := chatResponse{Answer: ans.Text, SessionID: sid, Sources: make([]source, len(ans.Sources))}
	for i, p := range ans.Sources {
		resp.Sources[i] = source{Date: p.Date, ChunkID: p.ChunkID, Score: p.Score}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDropSession(w http.ResponseWriter, r *http.Request) {
	if err := s.chat.Drop(r.Context(), r.PathValue("session")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRebuild(w http.ResponseWriter, r *http.Request) {
	rep, err := s.writer.Reindex(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reportResponse{Status: status(rep, "rebuilt"), Report: rep})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
