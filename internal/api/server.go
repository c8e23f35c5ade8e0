package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"riskgraph/internal/logger"
	"riskgraph/internal/pipeline"
	"riskgraph/internal/store"
	"riskgraph/pkg/models"
)

// Server exposes the ingest and query boundary.
type Server struct {
	pipe  *pipeline.Pipeline
	store *store.Memory
	http  *http.Server
}

// NewServer creates the HTTP server.
func NewServer(addr string, pipe *pipeline.Pipeline, incidents *store.Memory) *Server {
	s := &Server{pipe: pipe, store: incidents}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/ingest", s.handleIngest)
		r.Post("/analyze", s.handleAnalyze)
		r.Get("/incidents", s.handleListIncidents)
		r.Get("/incidents/{incidentID}", s.handleGetIncident)
	})

	s.http = &http.Server{Addr: addr, Handler: r}
	return s
}

// ListenAndServe runs the server until Shutdown.
func (s *Server) ListenAndServe() error {
	logger.Infof("http server listening on %s", s.http.Addr)
	return s.http.ListenAndServe()
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

type ingestResponse struct {
	Accepted int                `json:"accepted"`
	Rejected []models.Rejection `json:"rejected,omitempty"`
}

type analyzeResponse struct {
	Incidents []*models.Incident `json:"incidents"`
	Rejected  []models.Rejection `json:"rejected,omitempty"`
}

// handleIngest queues a batch of records for asynchronous scoring.
// Invalid records are reported per index; valid records in the same
// batch are still accepted.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	records, ok := decodeRecords(w, r)
	if !ok {
		return
	}

	rejections := s.pipe.Submit(records)
	writeJSON(w, http.StatusAccepted, ingestResponse{
		Accepted: len(records) - len(rejections),
		Rejected: rejections,
	})
}

// handleAnalyze runs a batch through the full flow synchronously and
// returns the finalized incidents.
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	records, ok := decodeRecords(w, r)
	if !ok {
		return
	}

	incidents, rejections := s.pipe.ProcessSync(r.Context(), records)
	writeJSON(w, http.StatusOK, analyzeResponse{
		Incidents: incidents,
		Rejected:  rejections,
	})
}

func (s *Server) handleListIncidents(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	entity := r.URL.Query().Get("entity")

	writeJSON(w, http.StatusOK, s.store.List(entity, limit))
}

func (s *Server) handleGetIncident(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "incidentID")
	in, ok := s.store.Get(id)
	if !ok {
		http.Error(w, "incident not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, in)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func decodeRecords(w http.ResponseWriter, r *http.Request) ([]models.Record, bool) {
	var records []models.Record
	if err := json.NewDecoder(r.Body).Decode(&records); err != nil {
		http.Error(w, "request body must be a JSON array of events", http.StatusBadRequest)
		return nil, false
	}
	if len(records) == 0 {
		http.Error(w, "empty event batch", http.StatusBadRequest)
		return nil, false
	}
	return records, true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Errorf("failed to encode response: %v", err)
	}
}
