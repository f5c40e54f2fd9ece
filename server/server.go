// Package server exposes the crawler's HTTP control surface.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"oddsharvest/cache"
	"oddsharvest/models"
	"oddsharvest/storage"
)

// Sweeper is the part of the orchestrator the server drives
type Sweeper interface {
	RunOnce(ctx context.Context) (*models.SweepRun, error)
	Pause()
	Resume()
	IsPaused() bool
	MarshalStatus() ([]byte, error)
}

type OddsReader interface {
	GetOdds(ctx context.Context, fixtureID string) (*cache.FixtureOdds, bool, error)
}

// Triggerable allows workers to be triggered manually
type Triggerable interface {
	Trigger()
}

type Server struct {
	store     storage.Store
	sweeper   Sweeper
	odds      OddsReader
	retention Triggerable
	gatherer  prometheus.Gatherer
	log       *zap.Logger
}

func New(store storage.Store, sweeper Sweeper, log *zap.Logger) *Server {
	return &Server{
		store:    store,
		sweeper:  sweeper,
		gatherer: prometheus.DefaultGatherer,
		log:      log,
	}
}

// SetOdds enables reading odds from the cache before falling back to the store
func (s *Server) SetOdds(odds OddsReader) { s.odds = odds }

func (s *Server) SetRetention(w Triggerable) { s.retention = w }

func (s *Server) SetGatherer(g prometheus.Gatherer) { s.gatherer = g }

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", s.health)
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	r.Get("/status", s.status)
	r.Get("/runs", s.runs)

	r.Post("/sweep", s.sweep)
	r.Post("/pause", s.pause)
	r.Post("/resume", s.resume)
	r.Post("/retention", s.triggerRetention)

	r.Route("/fixtures/{id}", func(r chi.Router) {
		r.Get("/", s.fixture)
		r.Get("/odds", s.fixtureOdds)
	})
	return r
}

// NewHTTPServer wraps the routes with the daemon's timeouts
func (s *Server) NewHTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      s.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.store.Ping(ctx); err != nil {
		s.respondError(w, http.StatusServiceUnavailable, "store unhealthy", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"paused":    s.sweeper.IsPaused(),
	})
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	b, err := s.sweeper.MarshalStatus()
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "status unavailable", err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(b)
}

// sweep starts a sweep in the background; the in-flight set keeps it from colliding with a scheduled one
func (s *Server) sweep(w http.ResponseWriter, r *http.Request) {
	if s.sweeper.IsPaused() {
		respondJSON(w, http.StatusConflict, map[string]string{"status": "paused"})
		return
	}
	ctx := context.WithoutCancel(r.Context())
	go func() {
		if _, err := s.sweeper.RunOnce(ctx); err != nil {
			s.log.Error("manual sweep failed", zap.Error(err))
		}
	}()
	respondJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

func (s *Server) pause(w http.ResponseWriter, r *http.Request) {
	s.sweeper.Pause()
	respondJSON(w, http.StatusOK, map[string]bool{"paused": true})
}

func (s *Server) resume(w http.ResponseWriter, r *http.Request) {
	s.sweeper.Resume()
	respondJSON(w, http.StatusOK, map[string]bool{"paused": false})
}

func (s *Server) triggerRetention(w http.ResponseWriter, r *http.Request) {
	if s.retention == nil {
		s.respondError(w, http.StatusNotFound, "retention disabled", nil)
		return
	}
	s.retention.Trigger()
	respondJSON(w, http.StatusAccepted, map[string]string{"status": "triggered"})
}

func (s *Server) runs(w http.ResponseWriter, r *http.Request) {
	limit := parseIntParam(r, "limit", 20)
	if limit > 200 {
		limit = 200
	}
	runs, err := s.store.RecentRuns(r.Context(), limit)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "failed to load runs", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"runs":  runs,
		"count": len(runs),
	})
}

func (s *Server) fixture(w http.ResponseWriter, r *http.Request) {
	fx, err := s.findFixture(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, storage.ErrNotFound) {
		s.respondError(w, http.StatusNotFound, "fixture not found", nil)
		return
	}
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "failed to load fixture", err)
		return
	}
	respondJSON(w, http.StatusOK, fx)
}

func (s *Server) fixtureOdds(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if s.odds != nil {
		odds, ok, err := s.odds.GetOdds(r.Context(), id)
		if err != nil {
			s.log.Warn("odds cache read failed", zap.String("fixture", id), zap.Error(err))
		} else if ok {
			w.Header().Set("X-Cache", "hit")
			respondJSON(w, http.StatusOK, odds)
			return
		}
	}

	fx, err := s.findFixture(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		s.respondError(w, http.StatusNotFound, "fixture not found", nil)
		return
	}
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "failed to load fixture", err)
		return
	}
	w.Header().Set("X-Cache", "miss")
	respondJSON(w, http.StatusOK, cache.FromFixture(fx, time.Now().UTC()))
}

// findFixture looks in the active collection first, then in the completed one
func (s *Server) findFixture(ctx context.Context, id string) (*models.Fixture, error) {
	fx, err := storage.FindDoc[models.Fixture](ctx, s.store.Collection(storage.CollectionFixtures), id)
	if errors.Is(err, storage.ErrNotFound) {
		return storage.FindDoc[models.Fixture](ctx, s.store.Collection(storage.CollectionCompleted), id)
	}
	return fx, err
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", chimiddleware.GetReqID(r.Context())),
		)
	})
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string, err error) {
	if err != nil {
		s.log.Warn(message, zap.Int("status", status), zap.Error(err))
	}
	respondJSON(w, status, errorResponse{
		Error:   http.StatusText(status),
		Message: message,
		Code:    status,
	})
}

func parseIntParam(r *http.Request, name string, defaultVal int) int {
	if v := r.URL.Query().Get(name); v != "" {
		if i, err := strconv.Atoi(v); err == nil && i > 0 {
			return i
		}
	}
	return defaultVal
}
