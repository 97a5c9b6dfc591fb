// Package api serves the order and saga HTTP API. Order routes require a
// bearer token; catalog writes and saga administration require the admin
// role.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/cloudretail/saga/internal/auth"
	"github.com/cloudretail/saga/internal/orders"
)

const (
	HeaderIdempotencyKey = "X-Idempotency-Key"
	HeaderReplayed       = "Idempotent-Replayed"
)

// HealthFunc reports whether the service's dependencies are reachable.
type HealthFunc func(ctx context.Context) error

// Server is the HTTP front of the order service.
type Server struct {
	svc    *orders.Service
	users  *auth.Service
	health HealthFunc
	logger *zap.Logger
	router *gin.Engine
}

// NewServer builds the router. Metrics are served from gatherer.
func NewServer(svc *orders.Service, users *auth.Service, health HealthFunc, gatherer prometheus.Gatherer, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(logger))

	s := &Server{
		svc:    svc,
		users:  users,
		health: health,
		logger: logger,
		router: router,
	}

	router.GET("/health", s.handleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	router.GET("/graph", s.handleGraph)

	router.POST("/auth/register", s.handleRegister)
	router.POST("/auth/login", s.handleLogin)

	router.GET("/products", s.handleListProducts)
	router.GET("/products/:id", s.handleGetProduct)

	authed := router.Group("/", s.authenticate)
	authed.POST("/orders", s.handlePlaceOrder)
	authed.GET("/orders", s.handleListOwnOrders)
	authed.GET("/orders/:id", s.handleGetOrder)
	authed.POST("/orders/:id/cancel", s.handleCancelOrder)
	authed.GET("/users/:id/orders", s.handleListUserOrders)

	admin := authed.Group("/", requireAdmin)
	admin.POST("/products", s.handleCreateProduct)
	admin.GET("/sagas", s.handleListSagas)
	admin.GET("/sagas/:id", s.handleGetSaga)
	admin.POST("/sagas/:id/rollback", s.handleRollbackSaga)

	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", zap.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}

		switch {
		case c.Writer.Status() >= http.StatusInternalServerError:
			logger.Error("request", fields...)
		case c.FullPath() == "/health" || c.FullPath() == "/metrics":
			logger.Debug("request", fields...)
		default:
			logger.Info("request", fields...)
		}
	}
}
