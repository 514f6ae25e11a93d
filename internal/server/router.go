package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/remoto/internal/history"
	"github.com/loykin/remoto/internal/metrics"
	"github.com/loykin/remoto/internal/orchestrator"
)

// Controller is the part of the orchestrator the control API exposes.
type Controller interface {
	Status() orchestrator.Status
	URLs() map[string]string
	Stop(ctx context.Context) error
}

// Router provides embeddable HTTP handlers for observing and stopping the
// running session.
// Endpoints:
//
//	GET  {basePath}/healthz
//	GET  {basePath}/status       query: name=... (single service, optional)
//	GET  {basePath}/urls
//	GET  {basePath}/history      query: limit=N (only with a history reader)
//	GET  {basePath}/metrics      (only with a gatherer)
//	POST {basePath}/stop
//
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	ctl      Controller
	basePath string
	history  history.Reader
	gatherer prometheus.Gatherer
	// StopTimeout bounds a POST /stop.
	StopTimeout time.Duration
}

// Option customizes a Router.
type Option func(*Router)

// WithHistory serves GET /history from r.
func WithHistory(r history.Reader) Option { return func(rt *Router) { rt.history = r } }

// WithMetrics serves GET /metrics from g.
func WithMetrics(g prometheus.Gatherer) Option { return func(rt *Router) { rt.gatherer = g } }

// NewRouter constructs a new Router with configurable basePath.
// Example basePath: "/api" results in /api/status, /api/stop, ...
func NewRouter(ctl Controller, basePath string, opts ...Option) *Router {
	r := &Router{ctl: ctl, basePath: sanitizeBase(basePath), StopTimeout: time.Minute}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/healthz", r.handleHealth)
	group.GET("/status", r.handleStatus)
	group.GET("/urls", r.handleURLs)
	group.POST("/stop", r.handleStop)
	if r.history != nil {
		group.GET("/history", r.handleHistory)
	}
	if r.gatherer != nil {
		h := metrics.HandlerFor(r.gatherer)
		group.GET("/metrics", gin.WrapH(h))
	}
	return g
}

// NewServer listens on addr and serves this router in the background.
// Bind errors are returned; the caller shuts the server down.
func NewServer(addr, basePath string, ctl Controller, opts ...Option) (*http.Server, error) {
	r := NewRouter(ctl, basePath, opts...)
	server := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      r.StopTimeout + 15*time.Second,
		IdleTimeout:       60 * time.Second,
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	go func() { _ = server.Serve(ln) }()
	return server, nil
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

func (r *Router) handleHealth(c *gin.Context) {
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleStatus(c *gin.Context) {
	st := r.ctl.Status()
	name := c.Query("name")
	if name == "" {
		writeJSON(c, http.StatusOK, st)
		return
	}
	if !isSafeName(name) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid name: allowed [A-Za-z0-9._-] and no '..'"})
		return
	}
	for _, s := range st.Services {
		if s.Name == name {
			writeJSON(c, http.StatusOK, s)
			return
		}
	}
	writeJSON(c, http.StatusNotFound, errorResp{Error: "unknown service: " + name})
}

func (r *Router) handleURLs(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.ctl.URLs())
}

func (r *Router) handleStop(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), r.StopTimeout)
	defer cancel()
	if err := r.ctl.Stop(ctx); err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, context.DeadlineExceeded) {
			code = http.StatusGatewayTimeout
		}
		writeJSON(c, code, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleHistory(c *gin.Context) {
	limit := history.DefaultLimit
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 || n > 1000 {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: "limit must be between 1 and 1000"})
			return
		}
		limit = n
	}
	events, err := r.history.Recent(c.Request.Context(), limit)
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	if events == nil {
		events = []history.Event{}
	}
	writeJSON(c, http.StatusOK, events)
}
