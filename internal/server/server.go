package server

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"asterism/internal/detect"
	"asterism/internal/match"
	"asterism/internal/params"
	"asterism/internal/pipeline"
	"asterism/internal/storage"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/encoding/json"
)

type pipelineClient interface {
	Submit(job pipeline.Job) error
	Subscribe() (<-chan pipeline.Result, func())
}

// Server exposes the job pipeline over HTTP, SSE and websockets.
type Server struct {
	addr     string
	store    *storage.Store
	pipeline pipelineClient
	log      *slog.Logger
	server   *http.Server
	hub      *hub
}

// NewServer creates a server bound to addr.
func NewServer(addr string, store *storage.Store, pipe pipelineClient, log *slog.Logger) *Server {
	return &Server{
		addr:     addr,
		store:    store,
		pipeline: pipe,
		log:      log,
		hub:      newHub(log),
	}
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	s.setupRoutes(r)
	return r
}

// Start serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.startBackground(ctx)

	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	go func() {
		<-ctx.Done()
		s.log.Info("shutting down http server")

		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.server.Shutdown(ctxShutdown)
	}()

	s.log.Info("http server starting", "addr", s.addr)
	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// startBackground runs the websocket hub and feeds it pipeline results.
func (s *Server) startBackground(ctx context.Context) {
	go s.hub.run(ctx)

	resCh, unsubscribe := s.pipeline.Subscribe()
	go func() {
		defer unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case res, ok := <-resCh:
				if !ok {
					return
				}
				payload, err := json.Marshal(newEvent(res))
				if err != nil {
					continue
				}
				select {
				case s.hub.broadcast <- payload:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
}

func (s *Server) setupRoutes(r *mux.Router) {
	r.HandleFunc("/healthz", s.handleHealth).Methods("GET")
	r.HandleFunc("/jobs", s.handleJobs).Methods("GET")
	r.HandleFunc("/jobs/{id}", s.handleJob).Methods("GET")
	r.HandleFunc("/detect", s.handleDetect).Methods("POST")
	r.HandleFunc("/match", s.handleMatch).Methods("POST")
	r.HandleFunc("/stream", s.handleJobStream).Methods("GET")
	r.HandleFunc("/ws", s.handleWebSocket).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")
}

// event is the wire form of a pipeline result.
type event struct {
	ID     string         `json:"id"`
	Type   string         `json:"type"`
	Status string         `json:"status"`
	Error  string         `json:"error,omitempty"`
	Meta   map[string]any `json:"meta,omitempty"`
}

func newEvent(res pipeline.Result) event {
	ev := event{
		ID:     res.Job.ID,
		Type:   string(res.Job.Type),
		Status: res.Status(),
		Meta:   res.Meta,
	}
	if res.Error != nil {
		ev.Error = res.Error.Error()
	}
	return ev
}

type detectRequest struct {
	Path      string `json:"path"`
	Threshold *int   `json:"threshold,omitempty"`
	MaxStars  *int   `json:"max_stars,omitempty"`
}

type matchRequest struct {
	Reference string   `json:"reference"`
	Target    string   `json:"target"`
	Threshold *int     `json:"threshold,omitempty"`
	Grid      *int     `json:"grid,omitempty"`
	Tolerance *float64 `json:"tolerance,omitempty"`
	Policy    string   `json:"policy,omitempty"`
	Workers   *int     `json:"workers,omitempty"`
	MaxStars  *int     `json:"max_stars,omitempty"`
	Overlay   string   `json:"overlay,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}
	recs, err := s.store.RecentJobs(limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	rec, err := s.store.Job(id)
	if errors.Is(err, sql.ErrNoRows) {
		http.Error(w, "job not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	body := map[string]any{"job": rec}
	if meta, err := s.store.JobMeta(id); err == nil {
		body["meta"] = meta
	}
	if corrs, err := s.store.Correspondences(id); err == nil && len(corrs) > 0 {
		body["correspondences"] = corrs
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleDetect(w http.ResponseWriter, r *http.Request) {
	var req detectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if req.Path == "" {
		http.Error(w, "path is required", http.StatusBadRequest)
		return
	}

	opts := map[string]any{}
	if req.Threshold != nil {
		if err := params.ValidateThreshold(*req.Threshold); err != nil {
			writeError(w, err)
			return
		}
		opts["threshold"] = *req.Threshold
	}
	if req.MaxStars != nil {
		opts["maxStars"] = *req.MaxStars
	}

	s.submit(w, pipeline.Job{
		ID:        pipeline.NewID("detect"),
		Type:      pipeline.JobDetect,
		InputPath: req.Path,
		Options:   opts,
	})
}

func (s *Server) handleMatch(w http.ResponseWriter, r *http.Request) {
	var req matchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if req.Reference == "" || req.Target == "" {
		http.Error(w, "reference and target are required", http.StatusBadRequest)
		return
	}

	opts := map[string]any{"target": req.Target}
	if req.Threshold != nil {
		if err := params.ValidateThreshold(*req.Threshold); err != nil {
			writeError(w, err)
			return
		}
		opts["threshold"] = *req.Threshold
	}
	if req.Grid != nil {
		if err := params.ValidateGridCells(*req.Grid); err != nil {
			writeError(w, err)
			return
		}
		opts["grid"] = *req.Grid
	}
	if req.Tolerance != nil {
		if err := params.ValidateTolerance(*req.Tolerance); err != nil {
			writeError(w, err)
			return
		}
		opts["tolerance"] = *req.Tolerance
	}
	if req.Policy != "" {
		if _, err := match.ParsePolicy(req.Policy); err != nil {
			writeError(w, err)
			return
		}
		opts["policy"] = req.Policy
	}
	if req.Workers != nil {
		opts["workers"] = *req.Workers
	}
	if req.MaxStars != nil {
		opts["maxStars"] = *req.MaxStars
	}

	s.submit(w, pipeline.Job{
		ID:        pipeline.NewID("match"),
		Type:      pipeline.JobMatch,
		InputPath: req.Reference,
		Output:    req.Overlay,
		Options:   opts,
	})
}

func (s *Server) submit(w http.ResponseWriter, job pipeline.Job) {
	if err := s.pipeline.Submit(job); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"id": job.ID, "status": pipeline.StatusQueued})
}

func (s *Server) handleJobStream(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	resCh, unsubscribe := s.pipeline.Subscribe()
	defer unsubscribe()
	flusher.Flush()
	for {
		select {
		case <-r.Context().Done():
			return
		case res, ok := <-resCh:
			if !ok {
				return
			}
			payload, _ := json.Marshal(newEvent(res))
			_, _ = w.Write([]byte("data: " + string(payload) + "\n\n"))
			flusher.Flush()
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps domain errors onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, params.ErrInvalidParameter), errors.Is(err, detect.ErrInsufficientSignal):
		status = http.StatusBadRequest
	case errors.Is(err, pipeline.ErrQueueFull):
		status = http.StatusServiceUnavailable
	}
	http.Error(w, err.Error(), status)
}
