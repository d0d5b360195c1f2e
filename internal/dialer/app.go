package dialer

import (
	"context"
	"time"

	"git.mci.dev/mse/sre/phoenix/golang/dialer/internal/archive"
	"git.mci.dev/mse/sre/phoenix/golang/dialer/internal/call"
	"git.mci.dev/mse/sre/phoenix/golang/dialer/internal/config"
	"git.mci.dev/mse/sre/phoenix/golang/dialer/internal/deadletter"
	"git.mci.dev/mse/sre/phoenix/golang/dialer/internal/dispatch"
	"git.mci.dev/mse/sre/phoenix/golang/dialer/internal/events"
	"git.mci.dev/mse/sre/phoenix/golang/dialer/internal/gateway"
	"git.mci.dev/mse/sre/phoenix/golang/dialer/internal/healthchecker"
	"git.mci.dev/mse/sre/phoenix/golang/dialer/internal/httpapi"
	"git.mci.dev/mse/sre/phoenix/golang/dialer/internal/kafka"
	"git.mci.dev/mse/sre/phoenix/golang/dialer/internal/logging"
	"git.mci.dev/mse/sre/phoenix/golang/dialer/internal/minio"
	prometheusDialer "git.mci.dev/mse/sre/phoenix/golang/dialer/internal/prometheus"
	"git.mci.dev/mse/sre/phoenix/golang/dialer/internal/retry"
	"git.mci.dev/mse/sre/phoenix/golang/dialer/internal/scheduler"
	"git.mci.dev/mse/sre/phoenix/golang/dialer/internal/synthflow"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const (
	deadLetterPoolSize         = 4
	deadLetterMaxBackoffFactor = 32
)

type Dialer struct {
	Backends             *Backends
	Gateway              gateway.Gateway
	CallService          *call.CallService
	Dispatcher           *dispatch.Dispatcher
	Scheduler            *scheduler.Scheduler
	Router               *gin.Engine
	KafkaProducer        *kafka.Producer
	KafkaConsumer        *kafka.Consumer
	StatusConsumer       *events.StatusConsumer
	EventPublisher       *events.Publisher
	DeadLetterWorker     *deadletter.DeadLetterWorker
	Archiver             *archive.Archiver
	HealthCheckerService *healthchecker.Healthchecker
}

func NewApp(ctxCancelFunc context.CancelFunc) (*Dialer, error) {
	logging.Logger.Info("[NewApp] Initializing dialer application...")

	app := &Dialer{
		HealthCheckerService: healthchecker.NewService(
			ctxCancelFunc,
			time.Duration(config.Conf.HealthCheckerMonitorInterval)*time.Second,
		),
	}

	backends, err := OpenBackends()
	if err != nil {
		return nil, err
	}

	app.Backends = backends
	app.Gateway = synthflow.NewClient()
	app.CallService = call.NewService(backends.Store, backends.Locker, config.Conf.RetryMaxRetries)
	app.CallService.AddObserver(call.ObserverFunc(prometheusDialer.TransitionObserver))

	err = app.initializeEvents()
	if err != nil {
		app.shutdown()

		return nil, err
	}

	err = app.initializeArchive()
	if err != nil {
		app.shutdown()

		return nil, err
	}

	err = app.initializeScheduling()
	if err != nil {
		app.shutdown()

		return nil, err
	}

	app.Router = httpapi.NewRouter(httpapi.NewHandler(app.CallService, app.Scheduler))

	logging.Logger.Info("[NewApp] Dialer application ready",
		zap.String("store_backend", config.Conf.StoreBackend),
		zap.String("lock_backend", config.Conf.LockBackend),
		zap.Bool("kafka_enabled", config.Conf.KafkaEnabled),
		zap.Bool("archive_enabled", config.Conf.ArchiveEnabled),
	)

	return app, nil
}

func (app *Dialer) initializeEvents() error {
	if !config.Conf.KafkaEnabled {
		logging.Logger.Info("[NewApp] Kafka disabled, call events are not published")

		return nil
	}

	kafkaProducer, err := kafka.NewProducer()
	if err != nil {
		logging.Logger.Error("[NewApp] Failed to create Kafka producer", zap.String("error", err.Error()))

		return err
	}

	app.KafkaProducer = kafkaProducer

	var marker events.DeadLetterMarker

	if app.Backends.DBConn != nil {
		interval := time.Duration(config.Conf.DeadLetterInterval) * time.Second
		backoff := retry.NewController(interval, deadLetterMaxBackoffFactor*interval, config.Conf.RetryJitter)

		dlService := deadletter.NewService(deadletter.NewRepository(app.Backends.DBConn), kafkaProducer, backoff)
		marker = dlService

		app.DeadLetterWorker, err = deadletter.NewWorker(
			dlService,
			deadLetterPoolSize,
			interval,
			config.Conf.DeadLetterLimit,
			config.Conf.DeadLetterMaxRetries,
		)
		if err != nil {
			logging.Logger.Error("[NewApp] Failed to create dead letter worker", zap.String("error", err.Error()))

			return err
		}
	}

	app.EventPublisher = events.NewPublisher(kafkaProducer, config.Conf.KafkaEventsTopic, marker, 0)
	app.CallService.AddObserver(app.EventPublisher)

	kafkaConsumer, err := kafka.NewConsumer(config.Conf.KafkaStatusGroupID)
	if err != nil {
		logging.Logger.Error("[NewApp] Failed to create Kafka consumer", zap.String("error", err.Error()))

		return err
	}

	app.KafkaConsumer = kafkaConsumer
	app.StatusConsumer = events.NewStatusConsumer(app.CallService)

	logging.Logger.Info("[NewApp] Kafka producer and consumer created")

	return nil
}

func (app *Dialer) initializeArchive() error {
	if !config.Conf.ArchiveEnabled {
		return nil
	}

	minioClient, err := minio.NewMinioClient(minio.OptionsFromConfig())
	if err != nil {
		return err
	}

	app.Archiver, err = archive.NewArchiver(minioClient, config.Conf.DispatchConcurrency)
	if err != nil {
		logging.Logger.Error("[NewApp] Failed to create archive pool", zap.String("error", err.Error()))

		return err
	}

	app.CallService.AddObserver(app.Archiver)

	logging.Logger.Info("[NewApp] Call archive enabled", zap.String("bucket", config.Conf.MinioBucketName))

	return nil
}

func (app *Dialer) initializeScheduling() error {
	retryController := retry.NewController(
		time.Duration(config.Conf.RetryBaseDelay)*time.Second,
		time.Duration(config.Conf.RetryMaxDelay)*time.Second,
		config.Conf.RetryJitter,
	)

	dispatcher, err := dispatch.NewDispatcher(
		app.CallService,
		app.Gateway,
		retryController,
		config.Conf.DispatchConcurrency,
		time.Duration(config.Conf.SubmitTimeout)*time.Second,
	)
	if err != nil {
		logging.Logger.Error("[NewApp] Failed to create dispatcher", zap.String("error", err.Error()))

		return err
	}

	if config.Conf.SynthflowRatePerSec > 0 {
		dispatcher.Limiter = rate.NewLimiter(rate.Limit(config.Conf.SynthflowRatePerSec), 1)
	}

	app.Dispatcher = dispatcher

	app.Scheduler, err = scheduler.NewScheduler(app.CallService, dispatcher, app.Gateway, SchedulerSettings())
	if err != nil {
		logging.Logger.Error("[NewApp] Failed to create scheduler", zap.String("error", err.Error()))

		return err
	}

	return nil
}

// SchedulerSettings reads the scheduling settings of config.Conf.
func SchedulerSettings() scheduler.Settings {
	return scheduler.Settings{
		Interval:          time.Duration(config.Conf.SchedulerInterval) * time.Second,
		ErrorInterval:     time.Duration(config.Conf.SchedulerErrorInterval) * time.Second,
		PollTimeout:       time.Duration(config.Conf.PollTimeout) * time.Second,
		PollConcurrency:   config.Conf.PollConcurrency,
		DialingTimeout:    time.Duration(config.Conf.DialingTimeout) * time.Second,
		InitiatingTimeout: time.Duration(config.Conf.InitiatingTimeout) * time.Second,
		MaxCallDuration:   time.Duration(config.Conf.MaxCallDuration) * time.Second,
		SweepSpec:         config.Conf.SweepCron,
	}
}

// Run blocks until ctx is canceled and every component has stopped, then
// releases the app's resources.
func (app *Dialer) Run(ctx context.Context) error {
	logging.Logger.Info("[Run] Starting app goroutines...")

	defer app.shutdown()

	group, groupCtx := errgroup.WithContext(ctx)

	_, err := app.Scheduler.StartSweeper(groupCtx)
	if err != nil {
		return err
	}

	group.Go(func() error {
		app.HealthCheckerService.Monitor(groupCtx)

		return nil
	})

	group.Go(func() error {
		app.Scheduler.Run(groupCtx)

		return nil
	})

	group.Go(func() error {
		return httpapi.Run(groupCtx, app.Router)
	})

	if app.KafkaConsumer != nil {
		group.Go(func() error {
			logging.Logger.Info("[Run] Starting status consumer", zap.String("topic", config.Conf.KafkaStatusTopic))
			app.KafkaConsumer.Consume(groupCtx, config.Conf.KafkaStatusTopic, app.StatusConsumer.HandleMessage)

			return nil
		})
	}

	if app.DeadLetterWorker != nil {
		group.Go(func() error {
			app.DeadLetterWorker.Run(groupCtx)

			return nil
		})
	}

	return group.Wait()
}

func (app *Dialer) shutdown() {
	logging.Logger.Info("[shutdown] Releasing dialer resources...")

	if app.Scheduler != nil {
		app.Scheduler.Release()
	}

	if app.Dispatcher != nil {
		app.Dispatcher.Release()
	}

	if app.Archiver != nil {
		app.Archiver.Close()
	}

	if app.EventPublisher != nil {
		app.EventPublisher.Close()
	}

	if app.KafkaConsumer != nil {
		_ = app.KafkaConsumer.Close()
	}

	if app.KafkaProducer != nil {
		err := app.KafkaProducer.Close()
		if err != nil {
			logging.Logger.Error("[shutdown] Failed to close producer", zap.String("error", err.Error()))
		}
	}

	if app.Backends != nil {
		app.Backends.Close()
	}

	logging.Logger.Info("[shutdown] ===== App shutdown complete =====")
}
