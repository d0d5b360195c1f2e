package dialer

import (
	"fmt"
	"time"

	"git.mci.dev/mse/sre/phoenix/golang/dialer/internal/call"
	"git.mci.dev/mse/sre/phoenix/golang/dialer/internal/config"
	"git.mci.dev/mse/sre/phoenix/golang/dialer/internal/database"
	"git.mci.dev/mse/sre/phoenix/golang/dialer/internal/lock"
	"git.mci.dev/mse/sre/phoenix/golang/dialer/internal/logging"
	"git.mci.dev/mse/sre/phoenix/golang/dialer/internal/store/badger"
	"git.mci.dev/mse/sre/phoenix/golang/dialer/internal/store/memory"
	"git.mci.dev/mse/sre/phoenix/golang/dialer/internal/store/postgres"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Backends holds the store and lock picked by STORE_BACKEND and LOCK_BACKEND.
type Backends struct {
	Store  call.Store
	Locker call.Locker

	DBConn      *gorm.DB
	BadgerStore *badger.Store
	RedisClient *redis.Client
}

func OpenBackends() (*Backends, error) {
	backends := &Backends{}

	err := backends.openStore()
	if err != nil {
		backends.Close()

		return nil, err
	}

	backends.openLocker()

	return backends, nil
}

func (backends *Backends) openStore() error {
	switch config.Conf.StoreBackend {
	case config.BackendPostgres:
		dbConn, err := database.NewDatabase()
		if err != nil {
			logging.Logger.Error("[OpenBackends] Failed to initialize database", zap.String("error", err.Error()))

			return err
		}

		backends.DBConn = dbConn
		backends.Store = postgres.NewStore(dbConn)
	case config.BackendBadger:
		badgerStore, err := badger.Open(config.Conf.BadgerPath)
		if err != nil {
			return err
		}

		backends.BadgerStore = badgerStore
		backends.Store = badgerStore
	case config.BackendMemory, "":
		backends.Store = memory.New()
	default:
		return fmt.Errorf("unknown store backend %q", config.Conf.StoreBackend)
	}

	logging.Logger.Info("[OpenBackends] Call store ready", zap.String("backend", config.Conf.StoreBackend))

	return nil
}

func (backends *Backends) openLocker() {
	if config.Conf.LockBackend != config.BackendRedis {
		backends.Locker = lock.NewKeyedMutex()

		return
	}

	backends.RedisClient = lock.NewRedisClient()
	backends.Locker = lock.NewRedisLocker(backends.RedisClient, time.Duration(config.Conf.LockTTL)*time.Second)

	logging.Logger.Info("[OpenBackends] Redis record locks enabled", zap.String("addr", config.Conf.RedisAddr))
}

func (backends *Backends) Close() {
	if backends.BadgerStore != nil {
		err := backends.BadgerStore.Close()
		if err != nil {
			logging.Logger.Error("[Close] Failed to close badger", zap.String("error", err.Error()))
		}
	}

	if backends.DBConn != nil {
		sqlDB, err := backends.DBConn.DB()
		if err == nil {
			_ = sqlDB.Close()
		}
	}

	if backends.RedisClient != nil {
		_ = backends.RedisClient.Close()
	}
}
