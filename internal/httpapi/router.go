package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"git.mci.dev/mse/sre/phoenix/golang/dialer/internal/config"
	"git.mci.dev/mse/sre/phoenix/golang/dialer/internal/logging"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const shutdownTimeout = 5 * time.Second

func NewRouter(handler *Handler) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	router.GET("/healthz", handler.Healthz)

	api := router.Group("/api/calls")
	api.POST("", handler.SubmitCall)
	api.POST("/bulk", handler.SubmitBulk)
	api.POST("/cleanup", handler.Cleanup)
	api.GET("", handler.ListCalls)
	api.GET("/:id", handler.GetCall)
	api.POST("/:id/terminate", handler.TerminateCall)

	router.POST("/webhooks/provider/status", handler.ProviderStatus)

	return router
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		logging.Logger.Debug("[HTTP] Request served",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}

// Run serves router on HTTP_PORT until ctx is canceled. It returns once the
// server has shut down.
func Run(ctx context.Context, router http.Handler) error {
	timeout := time.Duration(config.Conf.HTTPTimeout) * time.Second

	server := &http.Server{
		Addr:              ":" + config.Conf.HTTPPort,
		Handler:           router,
		ReadTimeout:       timeout,
		ReadHeaderTimeout: timeout,
		WriteTimeout:      timeout,
		IdleTimeout:       timeout,
	}

	serveErr := make(chan error, 1)

	go func() {
		serveErr <- server.ListenAndServe()
	}()

	logging.Logger.Info("[Run] Starting HTTP API", zap.String("port", config.Conf.HTTPPort))

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Logger.Error("[Run] HTTP API stopped", zap.String("error", err.Error()))

			return err
		}

		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	err := server.Shutdown(shutdownCtx)
	if err != nil {
		logging.Logger.Error("[Run] HTTP API shutdown failed", zap.String("error", err.Error()))
	}

	<-serveErr

	logging.Logger.Info("[Run] HTTP API stopped")

	return nil
}
