package prometheus

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"git.mci.dev/mse/sre/phoenix/golang/dialer/internal/call"
	"git.mci.dev/mse/sre/phoenix/golang/dialer/internal/config"
	"git.mci.dev/mse/sre/phoenix/golang/dialer/internal/logging"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const shutdownTimeout = 5 * time.Second

// TransitionObserver counts every persisted status change.
func TransitionObserver(_ context.Context, event call.Event) {
	CallTransitions.WithLabelValues(string(event.To)).Inc()
}

func newServer() *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	timeout := time.Duration(config.Conf.PrometheusTimeout) * time.Second

	return &http.Server{
		Addr:              net.JoinHostPort("", config.Conf.PrometheusPort),
		Handler:           mux,
		ReadHeaderTimeout: timeout,
		WriteTimeout:      timeout,
		IdleTimeout:       timeout,
	}
}

// Run serves /metrics on PROMETHEUS_PORT and returns once ctx is canceled and
// the server has stopped.
func Run(ctx context.Context) {
	server := newServer()
	served := make(chan error, 1)

	go func() {
		served <- server.ListenAndServe()
	}()

	logging.Logger.Info("[Run] Serving metrics", zap.String("addr", server.Addr))

	select {
	case err := <-served:
		if !errors.Is(err, http.ErrServerClosed) {
			logging.Logger.Error("[Run] Metrics server stopped", zap.String("error", err.Error()))
		}

		return
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	err := server.Shutdown(shutdownCtx)
	if err != nil {
		logging.Logger.Warn("[Run] Metrics server shutdown incomplete", zap.String("error", err.Error()))
	}
}
