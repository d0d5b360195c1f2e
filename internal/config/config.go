package config

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

const (
	BackendMemory   = "memory"
	BackendBadger   = "badger"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

type Config struct {
	StoreBackend string `mapstructure:"store_backend" validate:"required,oneof=memory badger postgres"`
	BadgerPath   string `mapstructure:"badger_path"   validate:"required_if=StoreBackend badger"`

	PostgresHost            string `mapstructure:"postgres_host"              validate:"required_if=StoreBackend postgres"`
	PostgresUsername        string `mapstructure:"postgres_username"          validate:"required_if=StoreBackend postgres"`
	PostgresPassword        string `mapstructure:"postgres_password"          validate:"required_if=StoreBackend postgres"`
	PostgresPort            string `mapstructure:"postgres_port"              validate:"required_if=StoreBackend postgres"`
	PostgresDatabase        string `mapstructure:"postgres_database"          validate:"required_if=StoreBackend postgres"`
	PostgresSSLMode         string `mapstructure:"postgres_ssl_mode"          validate:"omitempty,oneof=disable require verify-ca verify-full"`
	PostgresMaxOpenConns    int    `mapstructure:"postgres_max_open_conns"    validate:"gte=0"`
	PostgresMaxIdleConns    int    `mapstructure:"postgres_max_idle_conns"    validate:"gte=0"`
	PostgresConnMaxLifetime int    `mapstructure:"postgres_conn_max_lifetime" validate:"gte=0"`
	DBIntervalCB            uint32 `mapstructure:"db_interval_cb"`
	DBConsecutiveFailuresCB uint32 `mapstructure:"db_consecutive_failures_cb"`

	LockBackend                string `mapstructure:"lock_backend"                  validate:"required,oneof=memory redis"`
	RedisAddr                  string `mapstructure:"redis_addr"                    validate:"required_if=LockBackend redis"`
	RedisPassword              string `mapstructure:"redis_password"`
	RedisDB                    int    `mapstructure:"redis_db"`
	RedisIntervalCB            uint32 `mapstructure:"redis_interval_cb"`
	RedisConsecutiveFailuresCB uint32 `mapstructure:"redis_consecutive_failures_cb"`
	LockTTL                    int    `mapstructure:"lock_ttl"`

	SynthflowBaseURL               string  `mapstructure:"synthflow_base_url"                validate:"required,url"`
	SynthflowAPIKey                string  `mapstructure:"synthflow_api_key"                 validate:"required"`
	SynthflowModelID               string  `mapstructure:"synthflow_model_id"                validate:"required"`
	SynthflowTimeout               int     `mapstructure:"synthflow_timeout"`
	SynthflowRatePerSec            float64 `mapstructure:"synthflow_rate_per_sec"`
	SynthflowPollRetryMaxAttempts  uint    `mapstructure:"synthflow_poll_retry_max_attempts"`
	SynthflowPollRetryBackoffMin   int     `mapstructure:"synthflow_poll_retry_backoff_min"`
	SynthflowPollRetryBackoffMax   int     `mapstructure:"synthflow_poll_retry_backoff_max"`
	SynthflowIntervalCB            uint32  `mapstructure:"synthflow_interval_cb"`
	SynthflowConsecutiveFailuresCB uint32  `mapstructure:"synthflow_consecutive_failures_cb"`
	SynthflowHealthCallID          string  `mapstructure:"synthflow_health_call_id"`

	DispatchConcurrency int `mapstructure:"dispatch_concurrency" validate:"min=1"`
	PollConcurrency     int `mapstructure:"poll_concurrency"     validate:"min=1"`
	SubmitTimeout       int `mapstructure:"submit_timeout"       validate:"min=1"`
	PollTimeout         int `mapstructure:"poll_timeout"         validate:"min=1"`

	RetryMaxRetries int     `mapstructure:"retry_max_retries" validate:"min=0"`
	RetryBaseDelay  int     `mapstructure:"retry_base_delay"  validate:"min=1"`
	RetryMaxDelay   int     `mapstructure:"retry_max_delay"   validate:"min=1"`
	RetryJitter     float64 `mapstructure:"retry_jitter"      validate:"min=0,max=1"`

	SchedulerInterval      int    `mapstructure:"scheduler_interval"       validate:"min=1"`
	SchedulerErrorInterval int    `mapstructure:"scheduler_error_interval" validate:"min=1"`
	DialingTimeout         int    `mapstructure:"dialing_timeout"          validate:"min=1"`
	InitiatingTimeout      int    `mapstructure:"initiating_timeout"       validate:"min=1"`
	MaxCallDuration        int    `mapstructure:"max_call_duration"        validate:"min=1"`
	SweepCron              string `mapstructure:"sweep_cron"               validate:"required"`

	KafkaEnabled               bool   `mapstructure:"kafka_enabled"`
	KafkaBootstrapServer       string `mapstructure:"kafka_bootstrap_server"        validate:"required_if=KafkaEnabled true"`
	KafkaUsername              string `mapstructure:"kafka_username"`
	KafkaPassword              string `mapstructure:"kafka_password"                validate:"required_with=KafkaUsername"`
	KafkaSASLMechanism         string `mapstructure:"kafka_sasl_mechanism"          validate:"omitempty,oneof=SCRAM-SHA-512 SCRAM-SHA-256"`
	KafkaEventsTopic           string `mapstructure:"kafka_events_topic"            validate:"required_if=KafkaEnabled true"`
	KafkaStatusTopic           string `mapstructure:"kafka_status_topic"            validate:"required_if=KafkaEnabled true"`
	KafkaStatusGroupID         string `mapstructure:"kafka_status_group_id"         validate:"required_if=KafkaEnabled true"`
	KafkaIntervalCB            uint32 `mapstructure:"kafka_interval_cb"`
	KafkaConsecutiveFailuresCB uint32 `mapstructure:"kafka_consecutive_failures_cb"`

	DeadLetterInterval   int `mapstructure:"deadletter_interval"`
	DeadLetterLimit      int `mapstructure:"deadletter_limit"`
	DeadLetterMaxRetries int `mapstructure:"deadletter_max_retries"`

	ArchiveEnabled              bool   `mapstructure:"archive_enabled"`
	MinioEndpointURL            string `mapstructure:"minio_endpoint_url"              validate:"required_if=ArchiveEnabled true"`
	MinioAccessKey              string `mapstructure:"minio_access_key"                validate:"required_if=ArchiveEnabled true"`
	MinioSecretKey              string `mapstructure:"minio_secret_key"                validate:"required_if=ArchiveEnabled true"`
	MinioBucketName             string `mapstructure:"minio_bucket_name"               validate:"required_if=ArchiveEnabled true"`
	MinioSecure                 bool   `mapstructure:"minio_secure"`
	MinioPathPrefix             string `mapstructure:"minio_path_prefix"`
	MinioMaxRetryAttempts       uint   `mapstructure:"minio_max_retry_attempts"`
	MinioRetryBackoffMinSeconds int    `mapstructure:"minio_retry_backoff_min_seconds"`
	MinioRetryBackoffMaxSeconds int    `mapstructure:"minio_retry_backoff_max_seconds"`
	MinioTimeout                int    `mapstructure:"minio_timeout"`
	MinioIntervalCB             uint32 `mapstructure:"minio_interval_cb"`
	MinioConsecutiveFailuresCB  uint32 `mapstructure:"minio_consecutive_failures_cb"`

	HTTPPort    string `mapstructure:"http_port"`
	HTTPTimeout int    `mapstructure:"http_timeout"`

	LogLevel    string `mapstructure:"log_level"`
	LogFilePath string `mapstructure:"log_file_path"`

	HealthCheckerMonitorInterval int `mapstructure:"health_checker_monitor_interval"`

	PrometheusPort    string `mapstructure:"prometheus_port"`
	PrometheusTimeout int    `mapstructure:"prometheus_timeout"`
}

var Conf Config

// Load reads the environment (and an optional .env file) into Conf.
func Load() error {
	return loadEnvConfig(&Conf)
}

func loadEnvConfig(cfg *Config) error {
	viper.AutomaticEnv()
	viper.AllowEmptyEnv(true)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setupDefaults()

	viper.SetConfigName(".env")
	viper.SetConfigType("env")
	viper.AddConfigPath(".")

	err := viper.ReadInConfig()
	if err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError

		ok := errors.As(err, &configFileNotFoundError)
		if !ok {
			return err
		}
	}

	err = viper.Unmarshal(cfg)
	if err != nil {
		return err
	}

	err = validator.New().Struct(cfg)
	if err != nil {
		return err
	}

	return nil
}

func setupDefaults() {
	confType := reflect.TypeOf(Conf)
	for i := range confType.NumField() {
		field := confType.Field(i)
		viper.SetDefault(field.Tag.Get("mapstructure"), "")
	}

	viper.SetDefault("STORE_BACKEND", BackendMemory)
	viper.SetDefault("BADGER_PATH", "./data/badger")
	viper.SetDefault("POSTGRES_SSL_MODE", "disable")
	viper.SetDefault("POSTGRES_MAX_OPEN_CONNS", "10")
	viper.SetDefault("POSTGRES_MAX_IDLE_CONNS", "5")
	viper.SetDefault("POSTGRES_CONN_MAX_LIFETIME", "300")
	viper.SetDefault("DB_INTERVAL_CB", "30")
	viper.SetDefault("DB_CONSECUTIVE_FAILURES_CB", "3")
	viper.SetDefault("LOCK_BACKEND", BackendMemory)
	viper.SetDefault("REDIS_DB", "0")
	viper.SetDefault("REDIS_INTERVAL_CB", "30")
	viper.SetDefault("REDIS_CONSECUTIVE_FAILURES_CB", "3")
	viper.SetDefault("LOCK_TTL", "60")
	viper.SetDefault("SYNTHFLOW_BASE_URL", "https://api.synthflow.ai/v2")
	viper.SetDefault("SYNTHFLOW_TIMEOUT", "30")
	viper.SetDefault("SYNTHFLOW_RATE_PER_SEC", "5")
	viper.SetDefault("SYNTHFLOW_POLL_RETRY_MAX_ATTEMPTS", "3")
	viper.SetDefault("SYNTHFLOW_POLL_RETRY_BACKOFF_MIN", "1")
	viper.SetDefault("SYNTHFLOW_POLL_RETRY_BACKOFF_MAX", "5")
	viper.SetDefault("SYNTHFLOW_INTERVAL_CB", "30")
	viper.SetDefault("SYNTHFLOW_CONSECUTIVE_FAILURES_CB", "5")
	viper.SetDefault("DISPATCH_CONCURRENCY", "3")
	viper.SetDefault("POLL_CONCURRENCY", "20")
	viper.SetDefault("SUBMIT_TIMEOUT", "30")
	viper.SetDefault("POLL_TIMEOUT", "15")
	viper.SetDefault("RETRY_MAX_RETRIES", "3")
	viper.SetDefault("RETRY_BASE_DELAY", "30")
	viper.SetDefault("RETRY_MAX_DELAY", "900")
	viper.SetDefault("RETRY_JITTER", "0.2")
	viper.SetDefault("SCHEDULER_INTERVAL", "30")
	viper.SetDefault("SCHEDULER_ERROR_INTERVAL", "120")
	viper.SetDefault("DIALING_TIMEOUT", "120")
	viper.SetDefault("INITIATING_TIMEOUT", "600")
	viper.SetDefault("MAX_CALL_DURATION", "1800")
	viper.SetDefault("SWEEP_CRON", "@every 5m")
	viper.SetDefault("KAFKA_ENABLED", "false")
	viper.SetDefault("KAFKA_SASL_MECHANISM", "SCRAM-SHA-512")
	viper.SetDefault("KAFKA_INTERVAL_CB", "30")
	viper.SetDefault("KAFKA_CONSECUTIVE_FAILURES_CB", "5")
	viper.SetDefault("DEADLETTER_INTERVAL", "60")
	viper.SetDefault("DEADLETTER_LIMIT", "100")
	viper.SetDefault("DEADLETTER_MAX_RETRIES", "10")
	viper.SetDefault("ARCHIVE_ENABLED", "false")
	viper.SetDefault("MINIO_SECURE", "true")
	viper.SetDefault("MINIO_PATH_PREFIX", "calls")
	viper.SetDefault("MINIO_MAX_RETRY_ATTEMPTS", "3")
	viper.SetDefault("MINIO_RETRY_BACKOFF_MIN_SECONDS", "1")
	viper.SetDefault("MINIO_RETRY_BACKOFF_MAX_SECONDS", "10")
	viper.SetDefault("MINIO_TIMEOUT", "60")
	viper.SetDefault("MINIO_INTERVAL_CB", "300")
	viper.SetDefault("MINIO_CONSECUTIVE_FAILURES_CB", "3")
	viper.SetDefault("HTTP_PORT", "8080")
	viper.SetDefault("HTTP_TIMEOUT", "30")
	viper.SetDefault("LOG_LEVEL", "INFO")
	viper.SetDefault("LOG_FILE_PATH", "./access.log")
	viper.SetDefault("HEALTH_CHECKER_MONITOR_INTERVAL", "60")
	viper.SetDefault("PROMETHEUS_PORT", "2112")
	viper.SetDefault("PROMETHEUS_TIMEOUT", "60")
}
