package minio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"time"

	"git.mci.dev/mse/sre/phoenix/golang/dialer/internal/circuitbreak"
	"git.mci.dev/mse/sre/phoenix/golang/dialer/internal/config"
	"git.mci.dev/mse/sre/phoenix/golang/dialer/internal/logging"
	prometheusDialer "git.mci.dev/mse/sre/phoenix/golang/dialer/internal/prometheus"
	"github.com/avast/retry-go"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

var (
	ErrConvertToStringURL = errors.New("failed to convert result url to string")
	ErrConvertToBuffer    = errors.New("failed to convert result to pointer to bytes.Buffer")
)

type Options struct {
	Endpoint   string
	AccessKey  string
	SecretKey  string
	BucketName string
	PathPrefix string
	Secure     bool

	Timeout         time.Duration
	RetryAttempts   uint
	RetryBackoffMin time.Duration
	RetryBackoffMax time.Duration
}

// OptionsFromConfig reads the MINIO_* settings of config.Conf.
func OptionsFromConfig() Options {
	return Options{
		Endpoint:        config.Conf.MinioEndpointURL,
		AccessKey:       config.Conf.MinioAccessKey,
		SecretKey:       config.Conf.MinioSecretKey,
		BucketName:      config.Conf.MinioBucketName,
		PathPrefix:      config.Conf.MinioPathPrefix,
		Secure:          config.Conf.MinioSecure,
		Timeout:         time.Duration(config.Conf.MinioTimeout) * time.Second,
		RetryAttempts:   config.Conf.MinioMaxRetryAttempts,
		RetryBackoffMin: time.Duration(config.Conf.MinioRetryBackoffMinSeconds) * time.Second,
		RetryBackoffMax: time.Duration(config.Conf.MinioRetryBackoffMaxSeconds) * time.Second,
	}
}

type MinioClient struct {
	Client         *minio.Client
	CircuitBreaker *gobreaker.CircuitBreaker[any]
	Options        Options
}

func NewMinioClient(options Options) (*MinioClient, error) {
	client, err := minio.New(options.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(options.AccessKey, options.SecretKey, ""),
		Secure: options.Secure,
	})
	if err != nil {
		logging.Logger.Error("[NewMinioClient] Failed to initialize MinIO client", zap.String("error", err.Error()))

		return nil, err
	}

	logging.Logger.Info("[NewMinioClient] MinIO client ready",
		zap.String("endpoint", options.Endpoint),
		zap.String("bucket", options.BucketName),
	)

	settings := circuitbreak.Settings(
		circuitbreak.MinioService,
		time.Duration(config.Conf.MinioIntervalCB)*time.Second,
		max(config.Conf.MinioConsecutiveFailuresCB, 1),
	)

	return &MinioClient{
		Client:         client,
		CircuitBreaker: gobreaker.NewCircuitBreaker[any](settings),
		Options:        options,
	}, nil
}

// Upload stores data under objectKey below the path prefix and returns its URL.
func (m *MinioClient) Upload(ctx context.Context, data []byte, objectKey, contentType string) (string, error) {
	logging.Logger.Debug("[Upload] Starting MinIO upload",
		zap.String("object_key", objectKey),
		zap.Int("size", len(data)),
	)

	url, err := m.CircuitBreaker.Execute(func() (any, error) {
		return m.doUpload(ctx, data, objectKey, contentType)
	})
	if err != nil {
		return "", err
	}

	urlStr, ok := url.(string)
	if !ok {
		return "", ErrConvertToStringURL
	}

	return urlStr, nil
}

func (m *MinioClient) Download(ctx context.Context, objectKey string) (*bytes.Buffer, error) {
	result, err := m.CircuitBreaker.Execute(func() (any, error) {
		return m.doDownload(ctx, objectKey)
	})
	if err != nil {
		return nil, err
	}

	buf, ok := result.(*bytes.Buffer)
	if !ok {
		return nil, ErrConvertToBuffer
	}

	return buf, nil
}

func (m *MinioClient) retryOptions(ctx context.Context) []retry.Option {
	return []retry.Option{
		retry.Context(ctx),
		retry.LastErrorOnly(true),
		retry.Attempts(max(m.Options.RetryAttempts, 1)),
		retry.DelayType(retry.BackOffDelay),
		retry.Delay(m.Options.RetryBackoffMin),
		retry.MaxDelay(m.Options.RetryBackoffMax),
	}
}

func (m *MinioClient) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.Options.Timeout <= 0 {
		return context.WithCancel(ctx)
	}

	return context.WithTimeout(ctx, m.Options.Timeout)
}

func (m *MinioClient) doUpload(ctx context.Context, data []byte, objectKey, contentType string) (string, error) {
	timer := prometheus.NewTimer(prometheusDialer.MinioOperationDuration.WithLabelValues("upload"))
	defer timer.ObserveDuration()

	ctxWithTimeout, cancel := m.withTimeout(ctx)
	defer cancel()

	err := retry.Do(
		func() error {
			_, err := m.Client.PutObject(
				ctxWithTimeout,
				m.Options.BucketName,
				m.ObjectName(objectKey),
				bytes.NewReader(data),
				int64(len(data)),
				minio.PutObjectOptions{ContentType: contentType},
			)
			if err != nil {
				logging.Logger.Warn("[Upload] MinIO upload attempt failed",
					zap.String("object_key", objectKey),
					zap.String("error", err.Error()),
				)
			}

			return err
		},
		m.retryOptions(ctxWithTimeout)...,
	)
	if err != nil {
		logging.Logger.Error("[Upload] MinIO upload failed after all retry attempts",
			zap.String("object_key", objectKey),
			zap.String("error", err.Error()),
		)

		return "", err
	}

	return m.URL(objectKey), nil
}

func (m *MinioClient) doDownload(ctx context.Context, objectKey string) (*bytes.Buffer, error) {
	timer := prometheus.NewTimer(prometheusDialer.MinioOperationDuration.WithLabelValues("download"))
	defer timer.ObserveDuration()

	var buf *bytes.Buffer

	ctxWithTimeout, cancel := m.withTimeout(ctx)
	defer cancel()

	err := retry.Do(
		func() error {
			object, err := m.Client.GetObject(
				ctxWithTimeout,
				m.Options.BucketName,
				m.ObjectName(objectKey),
				minio.GetObjectOptions{},
			)
			if err != nil {
				return err
			}

			defer func() {
				cerr := object.Close()
				if cerr != nil {
					logging.Logger.Error("[Download] Failed to close MinIO object reader",
						zap.String("object_key", objectKey),
						zap.String("error", cerr.Error()),
					)
				}
			}()

			data, err := io.ReadAll(object)
			if err != nil {
				return err
			}

			buf = bytes.NewBuffer(data)

			return nil
		},
		m.retryOptions(ctxWithTimeout)...,
	)
	if err != nil {
		logging.Logger.Error("[Download] MinIO download failed after all retry attempts",
			zap.String("object_key", objectKey),
			zap.String("error", err.Error()),
		)

		return nil, err
	}

	return buf, nil
}

// RoundTrip writes and reads back a small object. The health checker uses it.
func (m *MinioClient) RoundTrip(ctx context.Context) error {
	const healthKey = "healthcheck/roundtrip.json"

	_, err := m.Upload(ctx, []byte(`{"ok":true}`), healthKey, "application/json")
	if err != nil {
		return err
	}

	_, err = m.Download(ctx, healthKey)

	return err
}

func (m *MinioClient) URL(objectKey string) string {
	return fmt.Sprintf("%s/%s/%s", m.Options.Endpoint, m.Options.BucketName, m.ObjectName(objectKey))
}

func (m *MinioClient) ObjectName(objectKey string) string {
	return path.Join(m.Options.PathPrefix, objectKey)
}
