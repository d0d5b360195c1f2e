package database

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"time"

	"git.mci.dev/mse/sre/phoenix/golang/dialer/internal/circuitbreak"
	"git.mci.dev/mse/sre/phoenix/golang/dialer/internal/config"
	"git.mci.dev/mse/sre/phoenix/golang/dialer/internal/logging"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

const (
	defaultSSLMode = "disable"
	pingTimeout    = 5 * time.Second
)

type Options struct {
	Host     string
	Port     string
	Username string
	Password string
	Database string
	SSLMode  string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// OptionsFromConfig reads the POSTGRES_* settings of config.Conf.
func OptionsFromConfig() Options {
	return Options{
		Host:            config.Conf.PostgresHost,
		Port:            config.Conf.PostgresPort,
		Username:        config.Conf.PostgresUsername,
		Password:        config.Conf.PostgresPassword,
		Database:        config.Conf.PostgresDatabase,
		SSLMode:         config.Conf.PostgresSSLMode,
		MaxOpenConns:    config.Conf.PostgresMaxOpenConns,
		MaxIdleConns:    config.Conf.PostgresMaxIdleConns,
		ConnMaxLifetime: time.Duration(config.Conf.PostgresConnMaxLifetime) * time.Second,
	}
}

func (options Options) sslMode() string {
	if options.SSLMode == "" {
		return defaultSSLMode
	}

	return options.SSLMode
}

// DSN is the keyword/value form the pgx driver expects.
func (options Options) DSN() string {
	return fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%s sslmode=%s",
		options.Host,
		options.Username,
		options.Password,
		options.Database,
		options.Port,
		options.sslMode(),
	)
}

// URL is the postgres:// form golang-migrate expects.
func (options Options) URL() string {
	dbURL := &url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(options.Username, options.Password),
		Host:     net.JoinHostPort(options.Host, options.Port),
		Path:     options.Database,
		RawQuery: url.Values{"sslmode": []string{options.sslMode()}}.Encode(),
	}

	return dbURL.String()
}

func NewDatabase() (*gorm.DB, error) {
	options := OptionsFromConfig()

	dbConn, err := Open(options.DSN())
	if err != nil {
		return nil, err
	}

	err = configurePool(dbConn, options)
	if err != nil {
		return nil, err
	}

	logging.Logger.Info("[NewDatabase] Connected to Postgres",
		zap.String("host", options.Host),
		zap.String("database", options.Database),
		zap.Int("max_open_conns", options.MaxOpenConns),
	)

	return dbConn, nil
}

// Open connects to dsn and fails unless the server answers a ping.
func Open(dsn string) (*gorm.DB, error) {
	dbConn, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogger.Silent),
	})
	if err != nil {
		logging.Logger.Error("[Open] Failed to open Postgres connection", zap.String("error", err.Error()))

		return nil, err
	}

	sqlDB, err := dbConn.DB()
	if err != nil {
		logging.Logger.Error("[Open] Failed to get sql.DB from GORM", zap.String("error", err.Error()))

		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()

	err = sqlDB.PingContext(ctx)
	if err != nil {
		logging.Logger.Error("[Open] Postgres did not answer ping", zap.String("error", err.Error()))

		return nil, err
	}

	return dbConn, nil
}

func configurePool(dbConn *gorm.DB, options Options) error {
	sqlDB, err := dbConn.DB()
	if err != nil {
		logging.Logger.Error("[configurePool] Failed to get sql.DB from GORM", zap.String("error", err.Error()))

		return err
	}

	if options.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(options.MaxOpenConns)
	}

	if options.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(options.MaxIdleConns)
	}

	if options.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(options.ConnMaxLifetime)
	}

	return nil
}

func GetURL() string {
	return OptionsFromConfig().URL()
}

// GetCircuitBreakerSettings is shared by every postgres-backed repository.
func GetCircuitBreakerSettings() gobreaker.Settings {
	return circuitbreak.Settings(
		circuitbreak.DBService,
		time.Duration(config.Conf.DBIntervalCB)*time.Second,
		max(config.Conf.DBConsecutiveFailuresCB, 1),
	)
}
