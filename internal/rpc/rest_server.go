package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ainvaltin/httpsrv"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/fbas-tools/analyzer/internal/fbas"
	"github.com/fbas-tools/analyzer/internal/grouping"
	"github.com/fbas-tools/analyzer/internal/logger"
	"github.com/fbas-tools/analyzer/internal/metrics"
	"github.com/fbas-tools/analyzer/internal/pipeline"
)

const (
	DefaultMaxBodySize int64 = 4 << 20 // 4MB
	shutdownTimeout          = 5 * time.Second
)

var log = logger.CreateForPackage()

type (
	RestServer struct {
		addr        string
		handler     http.Handler
		analyzer    *pipeline.Analyzer
		rw          *ResponseWriter
		maxBodySize int64
	}

	Options struct {
		maxBodySize int64
		metrics     bool
	}

	Option func(*Options)

	// AnalysisRequest is the body of POST /api/v1/analysis. Fbas and
	// Organizations are stellarbeat.io JSON documents, FaultyNodes a JSON array
	// of public keys.
	AnalysisRequest struct {
		Fbas          json.RawMessage `json:"fbas"`
		Organizations json.RawMessage `json:"organizations,omitempty"`
		FaultyNodes   json.RawMessage `json:"faultyNodes,omitempty"`
		MergeBy       string          `json:"mergeBy,omitempty"`
	}
)

// WithMaxBodySize limits request bodies, 0 disables the limit.
func WithMaxBodySize(n int64) Option {
	return func(o *Options) {
		o.maxBodySize = n
	}
}

// WithMetrics serves the metrics registry on /metrics.
func WithMetrics() Option {
	return func(o *Options) {
		o.metrics = true
	}
}

func NewRESTServer(analyzer *pipeline.Analyzer, addr string, opts ...Option) (*RestServer, error) {
	if analyzer == nil {
		return nil, fmt.Errorf("analyzer is nil")
	}
	o := &Options{maxBodySize: DefaultMaxBodySize}
	for _, opt := range opts {
		opt(o)
	}
	s := &RestServer{
		addr:        addr,
		analyzer:    analyzer,
		rw:          &ResponseWriter{Log: log},
		maxBodySize: o.maxBodySize,
	}
	s.handler = s.router(o.metrics)
	return s, nil
}

func (s *RestServer) Handler() http.Handler {
	return s.handler
}

// Run serves requests until ctx is cancelled, then shuts the server down
// gracefully. The returned error wraps the cause of ctx cancellation.
func (s *RestServer) Run(ctx context.Context) error {
	log.Info("REST server listening on %s", s.addr)
	defer log.Info("REST server stopped")
	return httpsrv.Run(ctx, http.Server{
		Addr:              s.addr,
		Handler:           s.handler,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: time.Second,
		IdleTimeout:       30 * time.Second,
	}, httpsrv.ShutdownTimeout(shutdownTimeout))
}

func (s *RestServer) router(withMetrics bool) *mux.Router {
	router := mux.NewRouter().StrictSlash(true)
	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.rw.Status(w, r, http.StatusNotFound, fmt.Errorf("%s not found", r.URL.Path))
	})

	apiRouter := router.PathPrefix("/api").Subrouter()
	// content-type needs to be explicitly allowed, OPTIONS must be listed for
	// every handler for the CORS preflight to reach the middleware
	apiRouter.Use(handlers.CORS(
		handlers.AllowedHeaders([]string{ContentType, Accept}),
	))
	apiV1 := apiRouter.PathPrefix("/v1").Subrouter()
	apiV1.HandleFunc("/analysis", s.maxBytesHandler(s.analyze)).Methods(http.MethodPost, http.MethodOptions)
	apiV1.HandleFunc("/cache", s.cacheStats).Methods(http.MethodGet, http.MethodOptions)

	if withMetrics {
		router.Handle("/metrics", metrics.PrometheusHandler()).Methods(http.MethodGet)
	}
	return router
}

func (s *RestServer) analyze(w http.ResponseWriter, r *http.Request) {
	body := &AnalysisRequest{}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(body); err != nil {
		s.rw.Fail(w, r, fmt.Errorf("%w: request body: %w", pipeline.ErrParse, err))
		return
	}
	f, err := fbas.FromJSON(body.Fbas)
	if err != nil {
		s.rw.InvalidParam(w, r, "fbas", err)
		return
	}
	mergeBy, err := grouping.ParseMergeBy(body.MergeBy)
	if err != nil {
		s.rw.InvalidParam(w, r, "mergeBy", err)
		return
	}
	faulty, err := pipeline.ParseInactiveNodes(body.FaultyNodes)
	if err != nil {
		s.rw.InvalidParam(w, r, "faultyNodes", err)
		return
	}

	out, err := s.analyzer.Analyze(r.Context(), &pipeline.Request{
		Fbas:             f,
		MergeBy:          mergeBy,
		Organizations:    body.Organizations,
		NodesDescription: body.Fbas,
		InactiveNodes:    faulty,
	})
	if err != nil {
		s.rw.Fail(w, r, err)
		return
	}
	s.rw.Write(w, r, out)
}

func (s *RestServer) cacheStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.analyzer.Cache().Stats()
	if err != nil {
		s.rw.Fail(w, r, fmt.Errorf("reading cache statistics: %w", err))
		return
	}
	s.rw.Write(w, r, st)
}

func (s *RestServer) maxBytesHandler(f http.HandlerFunc) http.HandlerFunc {
	if s.maxBodySize <= 0 {
		return f
	}
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxBodySize)
		f(w, r)
	}
}
