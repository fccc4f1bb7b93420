package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"astrored/internal/metrics"
	"astrored/internal/mpc80"
	"astrored/internal/orbit"
	"astrored/internal/pipeline"
	"astrored/internal/storage"
)

const maxBodyBytes = 8 << 20

// Server exposes the solve pipeline and job history over HTTP.
type Server struct {
	addr     string
	store    *storage.Store
	pipeline *pipeline.Pipeline
	metrics  *metrics.Recorder
	decoder  mpc80.Decoder
	log      *slog.Logger
	hub      *Hub
	server   *http.Server
}

// NewServer wires the HTTP API. store and rec may be nil.
func NewServer(addr string, store *storage.Store, pipe *pipeline.Pipeline, rec *metrics.Recorder, decoder mpc80.Decoder, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		addr:     addr,
		store:    store,
		pipeline: pipe,
		metrics:  rec,
		decoder:  decoder,
		log:      log,
		hub:      newHub(log),
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealth).Methods("GET")
	r.HandleFunc("/jobs", s.handleJobs).Methods("GET")
	r.HandleFunc("/jobs/{id}", s.handleJob).Methods("GET")
	r.HandleFunc("/orbits/{target}", s.handleOrbit).Methods("GET")
	r.HandleFunc("/solve", s.handleSolve).Methods("POST")
	r.HandleFunc("/import/{target}", s.handleImport).Methods("POST")
	r.HandleFunc("/anomaly", s.handleAnomaly).Methods("POST")
	r.HandleFunc("/stream", s.handleJobStream).Methods("GET")
	r.HandleFunc("/ws", s.hub.handleWebSocket).Methods("GET")
	r.Handle("/metrics", s.metrics.Handler()).Methods("GET")
	return r
}

// Start serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.hub.attach(ctx, s.pipeline)

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

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

var errNoStore = errors.New("job history is not configured")

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, errNoStore)
		return
	}
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", v))
			return
		}
		limit = n
	}
	recs, err := s.store.RecentJobs(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if recs == nil {
		recs = []storage.JobRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

type jobDetail struct {
	storage.JobRecord
	Meta     map[string]any          `json:"meta,omitempty"`
	Attempts []storage.AttemptRecord `json:"attempts,omitempty"`
}

func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, errNoStore)
		return
	}
	id := mux.Vars(r)["id"]
	rec, err := s.store.Job(id)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	detail := jobDetail{JobRecord: rec}
	if meta, err := s.store.JobMeta(id); err == nil {
		detail.Meta = meta
	}
	if attempts, err := s.store.Attempts(id); err == nil {
		detail.Attempts = attempts
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *Server) handleOrbit(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, errNoStore)
		return
	}
	target := mux.Vars(r)["target"]
	est, jobID, err := s.store.LatestOrbit(target)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"target": target, "job_id": jobID, "estimate": est})
}

// handleSolve accepts 80 column records as a text body and blocks until
// the pipeline has a result.
func (s *Server) handleSolve(w http.ResponseWriter, r *http.Request) {
	lines, err := mpc80.ReadLines(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	obs, err := s.decoder.Decode(lines)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if len(obs) == 0 {
		writeError(w, http.StatusBadRequest, errors.New("no valid observations in request body"))
		return
	}
	s.runJob(w, r, pipeline.Job{
		Type:         pipeline.JobSolve,
		Target:       r.URL.Query().Get("target"),
		Source:       "http",
		Observations: obs,
	})
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	s.runJob(w, r, pipeline.Job{
		Type:   pipeline.JobImport,
		Target: mux.Vars(r)["target"],
		Source: "http",
	})
}

func (s *Server) runJob(w http.ResponseWriter, r *http.Request, job pipeline.Job) {
	res, err := s.pipeline.Run(r.Context(), job)
	if errors.Is(err, pipeline.ErrQueueFull) {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	status := http.StatusOK
	if res.Error != nil {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, res.Event())
}

type anomalyRequest struct {
	MeanAnomaly  float64 `json:"mean_anomaly"`
	Sigma        float64 `json:"sigma"`
	Eccentricity float64 `json:"eccentricity"`
}

type anomalyResponse struct {
	Eccentric orbit.Element `json:"eccentric"`
	True      orbit.Element `json:"true"`
}

func (s *Server) handleAnomaly(w http.ResponseWriter, r *http.Request) {
	var req anomalyRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<16))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	ecc, nu, err := orbit.MeanToTrue(orbit.Element{Value: req.MeanAnomaly, Sigma: req.Sigma}, req.Eccentricity)
	if errors.Is(err, orbit.ErrEccentricity) {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	writeJSON(w, http.StatusOK, anomalyResponse{Eccentric: ecc, True: nu})
}

func (s *Server) handleJobStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	resCh, unsubscribe := s.pipeline.Subscribe()
	defer unsubscribe()

	// an initial comment lets clients see the stream is open
	_, _ = w.Write([]byte(": connected\n\n"))
	flusher.Flush()
	for {
		select {
		case <-r.Context().Done():
			return
		case res, ok := <-resCh:
			if !ok {
				return
			}
			payload, err := json.Marshal(res.Event())
			if err != nil {
				continue
			}
			_, _ = w.Write([]byte("event: " + strings.ToLower(res.Status()) + "\ndata: " + string(payload) + "\n\n"))
			flusher.Flush()
		}
	}
}
