package server

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/keepalive/internal/control"
	"github.com/loykin/keepalive/internal/errdefs"
	"github.com/loykin/keepalive/internal/metrics"
)

// IdentityHeader carries the caller identity checked against the admin set.
const IdentityHeader = "X-Keepalive-Identity"

// Router exposes the control surface over HTTP.
// Endpoints (all relative to basePath):
//
//	POST   /join               register the caller as admin
//	POST   /resources          body: {"search": "..."}
//	DELETE /resources/:id
//	GET    /resources/remote   provider listing
//	GET    /status
//	GET    /stats
//	PUT    /interval           body: {"minutes": 30}
//	POST   /engine/start
//	POST   /engine/stop
//	POST   /sweep
//
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	surface  *control.Surface
	basePath string
	logger   *slog.Logger
}

// NewRouter constructs a new Router with configurable basePath.
func NewRouter(s *control.Surface, basePath string, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{surface: s, basePath: sanitizeBase(basePath), logger: logger.With("component", "http")}
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery(), r.accessLog)
	g.GET("/healthz", func(c *gin.Context) { writeJSON(c, http.StatusOK, okResp{OK: true}) })
	g.GET("/metrics", gin.WrapH(metrics.Handler()))

	group := g.Group(r.basePath)
	group.POST("/join", r.handleJoin)
	group.POST("/resources", r.handleAdd)
	group.DELETE("/resources/:id", r.handleRemove)
	group.GET("/resources/remote", r.handleList)
	group.GET("/status", r.handleStatus)
	group.GET("/stats", r.handleStats)
	group.PUT("/interval", r.handleSetInterval)
	group.POST("/engine/start", r.handleEngineStart)
	group.POST("/engine/stop", r.handleEngineStop)
	group.POST("/sweep", r.handleSweep)
	return g
}

// NewServer builds an http.Server for addr using this router. The write
// timeout is generous because /sweep runs a whole sweep before answering.
func NewServer(addr string, r *Router) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}
}

func (r *Router) accessLog(c *gin.Context) {
	start := time.Now()
	c.Next()
	r.logger.Debug("HTTP request",
		"method", c.Request.Method,
		"path", c.FullPath(),
		"status", c.Writer.Status(),
		"duration", time.Since(start).String(),
	)
}

// --- Wire types ---

type errorResp struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

type okResp struct {
	OK bool `json:"ok"`
}

type JoinResponse struct {
	Identity string `json:"identity"`
	Added    bool   `json:"added"`
}

type AddRequest struct {
	Search string `json:"search"`
}

type RemoveResponse struct {
	ID      string `json:"id"`
	Removed bool   `json:"removed"`
}

type IntervalRequest struct {
	Minutes int `json:"minutes"`
}

// EngineResponse reports the engine state; Changed is false when start found
// the engine already running.
type EngineResponse struct {
	Running bool `json:"running"`
	Changed bool `json:"changed,omitempty"`
}

// --- Handlers ---

func identity(c *gin.Context) string {
	return strings.TrimSpace(c.GetHeader(IdentityHeader))
}

func (r *Router) handleJoin(c *gin.Context) {
	id := identity(c)
	added, err := r.surface.Join(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, JoinResponse{Identity: id, Added: added})
}

func (r *Router) handleAdd(c *gin.Context) {
	var req AddRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, errdefs.Invalid("invalid JSON: %v", err))
		return
	}
	rec, err := r.surface.Add(c.Request.Context(), identity(c), req.Search)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, rec)
}

func (r *Router) handleRemove(c *gin.Context) {
	id := c.Param("id")
	removed, err := r.surface.Remove(c.Request.Context(), identity(c), id)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, RemoveResponse{ID: id, Removed: removed})
}

func (r *Router) handleList(c *gin.Context) {
	out, err := r.surface.List(c.Request.Context(), identity(c))
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, out)
}

func (r *Router) handleStatus(c *gin.Context) {
	out, err := r.surface.Status(c.Request.Context(), identity(c))
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, out)
}

func (r *Router) handleStats(c *gin.Context) {
	out, err := r.surface.Stats(c.Request.Context(), identity(c))
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, out)
}

func (r *Router) handleSetInterval(c *gin.Context) {
	var req IntervalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, errdefs.Invalid("invalid JSON: %v", err))
		return
	}
	if err := r.surface.SetInterval(c.Request.Context(), identity(c), req.Minutes); err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, req)
}

func (r *Router) handleEngineStart(c *gin.Context) {
	changed, err := r.surface.StartEngine(c.Request.Context(), identity(c))
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, EngineResponse{Running: true, Changed: changed})
}

func (r *Router) handleEngineStop(c *gin.Context) {
	if err := r.surface.StopEngine(c.Request.Context(), identity(c)); err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, EngineResponse{Running: false})
}

func (r *Router) handleSweep(c *gin.Context) {
	res, err := r.surface.SweepNow(c.Request.Context(), identity(c))
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, res)
}
