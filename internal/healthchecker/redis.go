package healthchecker

import (
	"context"

	"git.mci.dev/mse/sre/phoenix/golang/dialer/internal/lock"
)

func CheckRedis(ctx context.Context) error {
	client := lock.NewRedisClient()

	defer func() {
		_ = client.Close()
	}()

	return client.Ping(ctx).Err()
}
