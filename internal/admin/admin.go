// Package admin is a supplemental, read-only operator surface over the
// running loop: nanoapp listing, a stats snapshot, a live stats stream,
// a debug dump trigger, and Prometheus scraping. None of this is part of
// the nanoapp wire protocol; it mirrors the kind of out-of-band
// introspection the real CHRE test client gets over its own channel.
package admin

import (
	"context"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ctxhub/chre-runtime/internal/chre/host"
	"github.com/ctxhub/chre-runtime/internal/chre/nanoapp"
	"github.com/ctxhub/chre-runtime/internal/infrastructure/monitoring"
	"github.com/ctxhub/chre-runtime/internal/logging"
)

// NanoappLister is the read-only view of the event loop this surface
// needs; implemented by *loop.EventLoop. Declared locally so this package
// never imports loop, avoiding the cycle loop would otherwise form with
// anything admin pulls in.
type NanoappLister interface {
	ForEachNanoapp(fn func(*nanoapp.Nanoapp))
}

// MetricsSource is the cheap-to-read gauge snapshot this surface polls,
// implemented by *monitoring.Metrics.
type MetricsSource interface {
	Snapshot() monitoring.Snapshot
}

// Config controls the admin HTTP listener.
type Config struct {
	Addr        string
	CORSOrigins []string
}

// Server is the admin HTTP/WS surface.
type Server struct {
	log     *logging.Logger
	loop    NanoappLister
	metrics MetricsSource
	dumps   *host.DebugDumpCoordinator

	engine *gin.Engine
	http   *http.Server
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// New builds the admin surface and registers every route. loop or metrics
// may be nil; endpoints depending on a nil collaborator report 503 rather
// than panicking.
func New(cfg Config, loop NanoappLister, metrics MetricsSource, dumps *host.DebugDumpCoordinator, log *logging.Logger) *Server {
	if log == nil {
		log = logging.NewDefault()
	}
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.CORSOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	s := &Server{
		log:     log,
		loop:    loop,
		metrics: metrics,
		dumps:   dumps,
		engine:  engine,
		http:    &http.Server{Addr: cfg.Addr, Handler: engine},
	}

	engine.GET("/health", s.handleHealth)
	engine.GET("/nanoapps", s.handleListNanoapps)
	engine.GET("/stats", s.handleStats)
	engine.GET("/stream", s.handleStream)
	engine.POST("/debugdump", s.handleDebugDump)
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return s
}

// Run starts serving until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) renderJSON(c *gin.Context, status int, v any) {
	body, err := sonic.Marshal(v)
	if err != nil {
		c.Status(http.StatusInternalServerError)
		return
	}
	c.Data(status, "application/json; charset=utf-8", body)
}

func (s *Server) handleHealth(c *gin.Context) {
	s.renderJSON(c, http.StatusOK, gin.H{"status": "ok"})
}

type nanoappView struct {
	AppID      uint64 `json:"app_id"`
	InstanceID uint32 `json:"instance_id"`
	IsSystem   bool   `json:"is_system"`
	Stopping   bool   `json:"stopping"`
}

func (s *Server) handleListNanoapps(c *gin.Context) {
	if s.loop == nil {
		c.Status(http.StatusServiceUnavailable)
		return
	}
	var views []nanoappView
	s.loop.ForEachNanoapp(func(n *nanoapp.Nanoapp) {
		views = append(views, nanoappView{
			AppID:      uint64(n.AppID),
			InstanceID: uint32(n.InstanceID),
			IsSystem:   n.IsSystem,
			Stopping:   n.Stopping(),
		})
	})
	s.renderJSON(c, http.StatusOK, gin.H{"nanoapps": views})
}

func (s *Server) handleStats(c *gin.Context) {
	if s.metrics == nil {
		c.Status(http.StatusServiceUnavailable)
		return
	}
	s.renderJSON(c, http.StatusOK, s.metrics.Snapshot())
}

// handleStream upgrades to a websocket and pushes a stats snapshot once a
// second until the client disconnects, grounded on the teacher's
// internal/ws connection-handling shape (welcome message, then a send
// loop, with the connection torn down on the first write error).
func (s *Server) handleStream(c *gin.Context) {
	if s.metrics == nil {
		c.Status(http.StatusServiceUnavailable)
		return
	}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn("admin: websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	if err := conn.WriteJSON(gin.H{"type": "connected"}); err != nil {
		return
	}
	for range ticker.C {
		snap := s.metrics.Snapshot()
		if err := conn.WriteJSON(gin.H{"type": "stats", "stats": snap}); err != nil {
			return
		}
	}
}

// handleDebugDump opens, immediately closes, and reports a single debug
// dump session, since this surface has no nanoapp to feed it
// DebugDumpData chunks in-band; it exists to exercise and expose the
// at-most-one-in-flight coordinator to operators.
func (s *Server) handleDebugDump(c *gin.Context) {
	if s.dumps == nil {
		c.Status(http.StatusServiceUnavailable)
		return
	}
	session, err := s.dumps.StartDebugDump()
	if err != nil {
		s.renderJSON(c, http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	success, dataCount := s.dumps.Finish(session)
	s.renderJSON(c, http.StatusOK, gin.H{
		"session_id": session.ID.String(),
		"success":    success,
		"data_count": dataCount,
	})
}
