package healthchecker

import (
	"context"

	"git.mci.dev/mse/sre/phoenix/golang/dialer/internal/logging"
	"git.mci.dev/mse/sre/phoenix/golang/dialer/internal/minio"
	"go.uber.org/zap"
)

func CheckMinio(ctx context.Context) error {
	minioClient, err := minio.NewMinioClient(minio.OptionsFromConfig())
	if err != nil {
		logging.Logger.Error("[CheckMinio] Failed to create MinIO client", zap.String("error", err.Error()))

		return err
	}

	return minioClient.RoundTrip(ctx)
}
