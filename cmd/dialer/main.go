package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"git.mci.dev/mse/sre/phoenix/golang/dialer/internal/circuitbreak"
	"git.mci.dev/mse/sre/phoenix/golang/dialer/internal/config"
	"git.mci.dev/mse/sre/phoenix/golang/dialer/internal/dialer"
	"git.mci.dev/mse/sre/phoenix/golang/dialer/internal/logging"
	"git.mci.dev/mse/sre/phoenix/golang/dialer/internal/prometheus"
	"go.uber.org/zap"
)

func main() {
	err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	err = logging.Setup(config.Conf.LogLevel, config.Conf.LogFilePath)
	if err != nil {
		log.Fatalf("failed to set up logging: %v", err)
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go prometheus.Run(rootCtx)

	for rootCtx.Err() == nil {
		circuitbreak.Init()

		ctx, cancel := context.WithCancel(rootCtx)

		app, err := dialer.NewApp(cancel)
		if err != nil {
			logging.Logger.Fatal("failed to create dialer app", zap.String("error", err.Error()))
		}

		err = app.Run(ctx)
		if err != nil {
			cancel()
			logging.Logger.Fatal("dialer app failed", zap.String("error", err.Error()))
		}

		<-ctx.Done()

		app.HealthCheckerService.Check(rootCtx)

		cancel()
	}

	logging.Logger.Info("dialer stopped")
	_ = logging.Logger.Sync()
}
