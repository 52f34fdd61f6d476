// Package server exposes a read-only HTTP view of the batch queue, pending
// split submissions and the batch ledger.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/route-tagger/internal/batch"
	"github.com/sells-group/route-tagger/internal/queue"
	"github.com/sells-group/route-tagger/internal/store"
)

// PendingLister lists split submissions awaiting continuation.
type PendingLister interface {
	ListPending() []*batch.Pending
}

// Server serves queue state and ledger events.
type Server struct {
	files   queue.Files
	pending PendingLister
	ledger  store.Ledger
}

// New creates a Server. A nil ledger serves no events.
func New(files queue.Files, pending PendingLister, ledger store.Ledger) *Server {
	if ledger == nil {
		ledger = store.Nop{}
	}
	return &Server{files: files, pending: pending, ledger: ledger}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))
	r.Use(requestLogger)

	r.Get("/health", s.health)
	r.Route("/queue", func(r chi.Router) {
		r.Get("/", s.queue)
		r.Get("/pending", s.listPending)
		r.Get("/items/{index}", s.item)
	})
	r.Get("/events", s.events)
	return r
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		zap.L().Info("server: shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	zap.L().Info("server: starting", zap.Int("port", port))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return eris.Wrap(err, "server: listen")
	}
	return nil
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type queueResponse struct {
	*queue.Snapshot
	Counts map[queue.ItemStatus]int `json:"counts"`
}

func (s *Server) queue(w http.ResponseWriter, _ *http.Request) {
	snap, err := s.files.Snapshot()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, queueResponse{Snapshot: snap, Counts: snap.Counts()})
}

func (s *Server) item(w http.ResponseWriter, r *http.Request) {
	idx, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil || idx < 1 {
		writeError(w, http.StatusBadRequest, eris.New("index must be a positive integer"))
		return
	}
	items, err := s.files.LoadQueue()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if idx > len(items) {
		writeError(w, http.StatusNotFound, eris.Errorf("queue has %d items", len(items)))
		return
	}
	writeJSON(w, http.StatusOK, items[idx-1])
}

type pendingView struct {
	FirstBatchID  string      `json:"first_batch_id"`
	SecondBatchID string      `json:"second_batch_id,omitempty"`
	InputFile     string      `json:"input_file,omitempty"`
	Stage         batch.Stage `json:"stage"`
	Remaining     int         `json:"remaining_requests"`
	Timestamp     string      `json:"timestamp"`
	Error         string      `json:"error,omitempty"`
}

func (s *Server) listPending(w http.ResponseWriter, _ *http.Request) {
	out := []pendingView{}
	if s.pending != nil {
		for _, p := range s.pending.ListPending() {
			out = append(out, pendingView{
				FirstBatchID:  p.FirstBatchID,
				SecondBatchID: p.SecondBatchID,
				InputFile:     p.InputFile,
				Stage:         p.Stage,
				Remaining:     p.Remaining(),
				Timestamp:     p.Timestamp,
				Error:         p.Error,
			})
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) events(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := store.EventFilter{
		BatchID:   q.Get("batch_id"),
		InputFile: q.Get("input_file"),
		Kind:      store.EventKind(q.Get("kind")),
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, eris.New("limit must be a non-negative integer"))
			return
		}
		f.Limit = n
	}

	events, err := s.ledger.ListEvents(r.Context(), f)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if events == nil {
		events = []store.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("server: encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	if status >= http.StatusInternalServerError {
		zap.L().Error("server: request failed", zap.Error(err))
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		zap.L().Debug("server: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
