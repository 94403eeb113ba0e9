package httpserver

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rzbill/pcs/internal/server/http/controllers"
	logpkg "github.com/rzbill/pcs/pkg/log"
)

// Server is the worker's HTTP API.
type Server struct {
	engine *gin.Engine
	srv    *http.Server
	lis    net.Listener
	logger logpkg.Logger
}

// New builds the router over deps.
func New(deps controllers.Deps, logger logpkg.Logger) *Server {
	if logger == nil {
		logger = logpkg.NewLogger(logpkg.WithOutput(logpkg.NullOutput{}))
	}
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	s := &Server{engine: engine, logger: logger.With(logpkg.Component("http"))}
	engine.Use(gin.Recovery(), cors(), s.accessLog())
	controllers.NewControllerRegistry(deps).RegisterAllRoutes(engine)
	s.srv = &http.Server{Handler: engine, ReadHeaderTimeout: 10 * time.Second}
	return s
}

// Handler returns the router (tests).
func (s *Server) Handler() http.Handler { return s.engine }

// ListenAndServe binds to addr and serves until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.lis = l
	s.logger.Info("http listening", logpkg.Str("addr", l.Addr().String()))
	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.Serve(l) }()
	select {
	case <-ctx.Done():
		cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(cctx)
		return nil
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

// Close closes the listener.
func (s *Server) Close() {
	if s.lis != nil {
		_ = s.lis.Close()
	}
}

func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("request",
			logpkg.Str("method", c.Request.Method),
			logpkg.Str("path", c.FullPath()),
			logpkg.Int("status", c.Writer.Status()),
			logpkg.Duration("elapsed", time.Since(start)))
	}
}
