package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/loykin/gridharness/internal/harness"
	"github.com/loykin/gridharness/internal/history"
	"github.com/loykin/gridharness/internal/metrics"
	"github.com/loykin/gridharness/internal/process"
)

// maxLogWait caps the timeout accepted by the logs endpoint.
const maxLogWait = 30 * time.Second

// Fleet is the set of live servers the API reports on.
// *harness.Lifecycle implements it.
type Fleet interface {
	Servers() []*harness.Server
	Lookup(id string) (*harness.Server, bool)
	Stop(srv *harness.Server) error
}

// Router exposes a read-mostly HTTP view of a running harness.
// Endpoints:
//
//	GET  {basePath}/servers                 list live servers
//	GET  {basePath}/servers/:id             one server
//	GET  {basePath}/servers/:id/logs        captured lines; ?tail=N limits
//	GET  {basePath}/servers/:id/logs/wait   ?contains=...&timeout=3s
//	GET  {basePath}/servers/:id/history     lifecycle events (when recorded in memory)
//	POST {basePath}/servers/:id/stop        tear the server down
//	GET  /metrics                           Prometheus metrics
//
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	fleet    Fleet
	events   *history.Memory
	basePath string
}

// NewRouter constructs a Router. events may be nil.
func NewRouter(fleet Fleet, events *history.Memory, basePath string) *Router {
	return &Router{fleet: fleet, events: events, basePath: sanitizeBase(basePath)}
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	g.GET("/metrics", gin.WrapH(metrics.Handler()))
	group := g.Group(r.basePath)
	group.GET("/servers", r.handleList)
	group.GET("/servers/:id", r.withServer(r.handleGet))
	group.GET("/servers/:id/logs", r.withServer(r.handleLogs))
	group.GET("/servers/:id/logs/wait", r.withServer(r.handleLogWait))
	group.GET("/servers/:id/history", r.handleHistory)
	group.POST("/servers/:id/stop", r.withServer(r.handleStop))
	return g
}

// NewServer starts a standalone HTTP server on addr serving the router.
func NewServer(addr, basePath string, fleet Fleet, events *history.Memory) (*http.Server, error) {
	r := NewRouter(fleet, events, basePath)
	server := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      maxLogWait + 15*time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() { _ = server.ListenAndServe() }()
	return server, nil
}

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

type serverView struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Addr         string         `json:"addr"`
	WebSocketURL string         `json:"ws_url"`
	LogLines     int            `json:"log_lines"`
	Status       process.Status `json:"status"`
}

type logsResp struct {
	Lines []string `json:"lines"`
	Total int      `json:"total"`
}

type waitResp struct {
	Found  bool   `json:"found"`
	Waited string `json:"waited"`
}

func view(s *harness.Server) serverView {
	return serverView{
		ID:           s.ID,
		Name:         s.Name,
		Addr:         s.Addr(),
		WebSocketURL: s.WebSocketURL(),
		LogLines:     s.Logs.Len(),
		Status:       s.Status(),
	}
}

func (r *Router) withServer(h func(*gin.Context, *harness.Server)) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		if _, err := uuid.Parse(id); err != nil {
			writeError(c, http.StatusBadRequest, "invalid server id")
			return
		}
		srv, ok := r.fleet.Lookup(id)
		if !ok {
			writeError(c, http.StatusNotFound, "server not found: "+id)
			return
		}
		h(c, srv)
	}
}

func (r *Router) handleList(c *gin.Context) {
	servers := r.fleet.Servers()
	out := make([]serverView, 0, len(servers))
	for _, s := range servers {
		out = append(out, view(s))
	}
	writeJSON(c, http.StatusOK, out)
}

func (r *Router) handleGet(c *gin.Context, srv *harness.Server) {
	writeJSON(c, http.StatusOK, view(srv))
}

func (r *Router) handleLogs(c *gin.Context, srv *harness.Server) {
	lines := srv.Logs.Lines()
	total := len(lines)
	if s := c.Query("tail"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			writeError(c, http.StatusBadRequest, "tail must be a non-negative integer")
			return
		}
		if n < len(lines) {
			lines = lines[len(lines)-n:]
		}
	}
	writeJSON(c, http.StatusOK, logsResp{Lines: lines, Total: total})
}

func (r *Router) handleLogWait(c *gin.Context, srv *harness.Server) {
	substr := c.Query("contains")
	if substr == "" {
		writeError(c, http.StatusBadRequest, "contains query param required")
		return
	}
	timeout, err := queryDuration(c, "timeout", maxLogWait)
	if err != nil {
		writeError(c, http.StatusBadRequest, err.Error())
		return
	}
	start := time.Now()
	found := srv.Logs.Contains(substr, timeout)
	writeJSON(c, http.StatusOK, waitResp{Found: found, Waited: time.Since(start).Round(time.Millisecond).String()})
}

func (r *Router) handleHistory(c *gin.Context) {
	if r.events == nil {
		writeError(c, http.StatusNotFound, "history not recorded in memory")
		return
	}
	writeJSON(c, http.StatusOK, r.events.Events(c.Param("id")))
}

func (r *Router) handleStop(c *gin.Context, srv *harness.Server) {
	if err := r.fleet.Stop(srv); err != nil {
		writeError(c, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}
