package healthchecker

import (
	"context"

	"git.mci.dev/mse/sre/phoenix/golang/dialer/internal/database"
)

func CheckDB(ctx context.Context) error {
	dbConn, err := database.NewDatabase()
	if err != nil {
		return err
	}

	sqlDatabase, err := dbConn.DB()
	if err != nil {
		return err
	}

	defer func() {
		_ = sqlDatabase.Close()
	}()

	return sqlDatabase.PingContext(ctx)
}
