// Package api exposes the source registry, storage backends and the run
// catalog over HTTP, and streams painting progress over a websocket.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/particlekit/particlekit/internal/catalog"
	"github.com/particlekit/particlekit/internal/cosmology"
	"github.com/particlekit/particlekit/internal/paint"
	"github.com/particlekit/particlekit/internal/plugin"
	"github.com/particlekit/particlekit/internal/run"
	"github.com/particlekit/particlekit/internal/stats"
	"github.com/particlekit/particlekit/internal/storage"
)

// Config wires a Server
type Config struct {
	Runner    *run.Runner
	Catalog   *catalog.Catalog
	Hub       *ProgressHub
	Logger    *zap.Logger
	OutputDir string
	Procs     int
	// MaxProcs caps the ranks one request may start
	MaxProcs  int
	// MaxCells caps the mesh cells one request may allocate
	MaxCells  int
	Cosmology *cosmology.Cosmology
}

const (
	// DefaultMaxProcs is used when Config.MaxProcs is zero
	DefaultMaxProcs = 8
	// DefaultMaxCells is used when Config.MaxCells is zero (256^3)
	DefaultMaxCells = 1 << 24
)

// Server handles API requests
type Server struct {
	cfg    Config
	logger *zap.Logger
	mux    chi.Router
}

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// SourceInfo describes one registered source type
type SourceInfo struct {
	Tag    string      `json:"tag"`
	Help   string      `json:"help"`
	Usage  string      `json:"usage"`
	Fields []FieldInfo `json:"fields,omitempty"`
}

// FieldInfo describes one argument of a source type
type FieldInfo struct {
	Name     string   `json:"name"`
	Kind     string   `json:"kind"`
	Help     string   `json:"help,omitempty"`
	Flag     bool     `json:"flag"`
	Required bool     `json:"required"`
	Default  any      `json:"default,omitempty"`
	Choices  []string `json:"choices,omitempty"`
}

// RunRequest is the body of POST /api/runs
type RunRequest struct {
	Descriptor string     `json:"descriptor"`
	Nmesh      [3]int     `json:"nmesh"`
	BoxSize    [3]float64 `json:"box_size"`
	Dim        string     `json:"dim"`
	Axis       string     `json:"axis"`
	Procs      int        `json:"procs"`
}

// RunResponse is returned for a completed run
type RunResponse struct {
	Total  float64         `json:"total"`
	Output string          `json:"output"`
	Record *catalog.Record `json:"record,omitempty"`
}

// NewServer builds the router
func NewServer(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Runner == nil {
		cfg.Runner = run.NewRunner(cfg.Logger)
	}
	if cfg.MaxProcs <= 0 {
		cfg.MaxProcs = DefaultMaxProcs
	}
	if cfg.MaxCells <= 0 {
		cfg.MaxCells = DefaultMaxCells
	}
	s := &Server{cfg: cfg, logger: cfg.Logger.Named("api")}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/healthz", s.health)
	r.Route("/api", func(r chi.Router) {
		r.Get("/sources", s.listSources)
		r.Get("/sources/{tag}", s.getSource)
		r.Post("/descriptors/parse", s.parseDescriptor)
		r.Get("/storage", s.listStorage)
		r.Get("/runs", s.listRuns)
		r.Post("/runs", s.createRun)
		r.Get("/runs/{id}", s.getRun)
	})
	if cfg.Hub != nil {
		r.Get("/ws/progress", cfg.Hub.HandleWebSocket)
	}
	s.mux = r
	return s
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if s.cfg.Hub != nil {
		s.cfg.Hub.Close()
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	return nil
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) listSources(w http.ResponseWriter, r *http.Request) {
	entries := s.cfg.Runner.Sources.Entries()
	out := make([]SourceInfo, 0, len(entries))
	for _, e := range entries {
		out = append(out, SourceInfo{Tag: e.Tag, Help: e.Help, Usage: e.Schema.Usage(e.Tag)})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getSource(w http.ResponseWriter, r *http.Request) {
	tag := chi.URLParam(r, "tag")
	e, ok := s.cfg.Runner.Sources.Lookup(tag)
	if !ok {
		writeError(w, http.StatusNotFound, &plugin.UnknownTypeError{
			Point: s.cfg.Runner.Sources.Name(), Tag: tag, Descriptor: tag, Known: s.cfg.Runner.Sources.Tags(),
		})
		return
	}
	info := SourceInfo{Tag: e.Tag, Help: e.Help, Usage: e.Schema.Usage(e.Tag)}
	for _, f := range e.Schema.Fields {
		info.Fields = append(info.Fields, FieldInfo{
			Name:     f.Name,
			Kind:     f.Kind.String(),
			Help:     f.Help,
			Flag:     f.Flag,
			Required: !f.Optional(),
			Default:  f.Default,
			Choices:  f.Choices,
		})
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) parseDescriptor(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Descriptor string `json:"descriptor"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	d, err := s.cfg.Runner.Sources.Parse(body.Descriptor)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"descriptor": d.String(),
		"tag":        d.Tag,
		"args":       d.Args,
	})
}

func (s *Server) listStorage(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.storage().Dims())
}

func (s *Server) storage() *storage.Registry {
	if s.cfg.Runner.Storage != nil {
		return s.cfg.Runner.Storage
	}
	return storage.DefaultRegistry()
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Catalog == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("no run catalog configured"))
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", v))
			return
		}
		limit = n
	}
	records, err := s.cfg.Catalog.List(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if records == nil {
		records = []*catalog.Record{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Catalog == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("no run catalog configured"))
		return
	}
	rec, err := s.cfg.Catalog.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) createRun(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	opts, err := s.options(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	runner := *s.cfg.Runner
	runner.Catalog = s.cfg.Catalog
	if s.cfg.Hub != nil {
		runner.Observers = append(append([]paint.Observer{}, runner.Observers...), s.cfg.Hub)
	}

	res, err := runner.Run(r.Context(), opts)
	if s.cfg.Hub != nil {
		id := ""
		if res != nil && res.Record != nil {
			id = res.Record.ID
		}
		s.cfg.Hub.RunFinished(id, err)
	}
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, RunResponse{Total: res.Total, Output: opts.Output, Record: res.Record})
}

// options turns a request into run options. Output always lands in the
// configured directory.
func (s *Server) options(req RunRequest) (run.Options, error) {
	if req.Descriptor == "" {
		return run.Options{}, errors.New("descriptor is required")
	}
	dim := storage.ParseDim(req.Dim)
	if dim == "" {
		dim = storage.Dim1D
	}
	axis := 0
	if req.Axis != "" {
		a, err := stats.ParseAxis(req.Axis)
		if err != nil {
			return run.Options{}, err
		}
		axis = a
	}
	if err := s.checkMesh(req.Nmesh); err != nil {
		return run.Options{}, err
	}
	if req.BoxSize != ([3]float64{}) {
		for _, l := range req.BoxSize {
			if l <= 0 {
				return run.Options{}, fmt.Errorf("box_size must be positive on every axis or omitted, got %v", req.BoxSize)
			}
		}
	}
	procs := req.Procs
	if procs < 0 {
		return run.Options{}, fmt.Errorf("procs must be positive, got %d", procs)
	}
	if procs == 0 {
		procs = max(s.cfg.Procs, 1)
	}
	if procs > s.cfg.MaxProcs {
		return run.Options{}, fmt.Errorf("procs %d exceeds the server limit of %d", procs, s.cfg.MaxProcs)
	}
	dir := s.cfg.OutputDir
	if dir == "" {
		dir = "."
	}
	return run.Options{
		Descriptor: req.Descriptor,
		Nmesh:      req.Nmesh,
		BoxSize:    req.BoxSize,
		Dim:        dim,
		Axis:       axis,
		Output:     filepath.Join(dir, fmt.Sprintf("%s-%s.txt", uuid.NewString(), dim)),
		Procs:      procs,
		Cosmology:  s.cfg.Cosmology,
	}, nil
}

func (s *Server) checkMesh(nmesh [3]int) error {
	cells := 1
	for _, n := range nmesh {
		if n <= 0 {
			return fmt.Errorf("nmesh must be positive on every axis, got %v", nmesh)
		}
		if n > s.cfg.MaxCells/cells {
			return fmt.Errorf("nmesh %v exceeds the server limit of %d cells", nmesh, s.cfg.MaxCells)
		}
		cells *= n
	}
	return nil
}

// statusFor maps domain errors onto HTTP status codes
func statusFor(err error) int {
	var unknownDim *storage.UnknownDimError
	switch {
	case errors.Is(err, catalog.ErrNotFound):
		return http.StatusNotFound
	case plugin.IsUnknownType(err), plugin.IsArgumentError(err), errors.As(err, &unknownDim):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, ErrorResponse{
		Error:   http.StatusText(status),
		Message: err.Error(),
	})
}
