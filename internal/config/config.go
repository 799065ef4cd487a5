package config

import (
	"time"

	"github.com/Netflix/go-env"
	"github.com/joho/godotenv"
	"github.com/nimasrn/transaction-guard/pkg/logger"
	"github.com/pkg/errors"
)

var config *Config

// Config holds every configuration value of the api, processor and cli
// binaries. Only this struct must be used to read configuration, no direct
// access to env or any other config source should be made.
type Config struct {
	AppEnv  string `env:"APP_ENV,default=dev"`
	AppName string `env:"APP_NAME,default=transaction_guard"`

	HttpListenAddr string `env:"HTTP_LISTEN_ADDR,default=:8080"`

	PostgresReadHost     string `env:"POSTGRES_READ_HOST"`
	PostgresReadPort     string `env:"POSTGRES_READ_PORT,default=5432"`
	PostgresReadUser     string `env:"POSTGRES_READ_USER"`
	PostgresReadPassword string `env:"POSTGRES_READ_PASSWORD"`
	PostgresReadDatabase string `env:"POSTGRES_READ_DBNAME"`

	PostgresWriteHost     string        `env:"POSTGRES_WRITE_HOST"`
	PostgresWritePort     string        `env:"POSTGRES_WRITE_PORT,default=5432"`
	PostgresWriteUser     string        `env:"POSTGRES_WRITE_USER"`
	PostgresWritePassword string        `env:"POSTGRES_WRITE_PASSWORD"`
	PostgresWriteDatabase string        `env:"POSTGRES_WRITE_DBNAME"`
	PostgresSSLMode       string        `env:"POSTGRES_SSLMODE,default=disable"`
	PostgresMaxOpenConns  int           `env:"POSTGRES_MAX_OPEN_CONNS,default=20"`
	PostgresConnLifetime  time.Duration `env:"POSTGRES_CONN_MAX_LIFETIME,default=30m"`

	RedisAddr               string `env:"REDIS_ADDR,default=localhost:6379"`
	RedisUsername           string `env:"REDIS_USER"`
	RedisPassword           string `env:"REDIS_PASS"`
	RedisDatabase           int    `env:"REDIS_DATABASE"`
	RedisUniversalKeyPrefix string `env:"REDIS_UNIVERSAL_KEY_PREFIX"`

	PromNamespace  string `env:"PROM_NAMESPACE,default=transaction_guard"`
	PromListenAddr string `env:"PROM_LISTEN_ADDR,default=:9100"`

	QueueName              string        `env:"QUEUE_NAME,default=ingest:files"`
	QueueConsumerGroup     string        `env:"QUEUE_CONSUMER_GROUP,default=ingest-workers"`
	QueueConsumerName      string        `env:"QUEUE_CONSUMER_NAME"`
	QueueMaxAttempts       int           `env:"QUEUE_MAX_ATTEMPTS,default=3"`
	QueueBackoffBase       time.Duration `env:"QUEUE_BACKOFF_BASE,default=5s"`
	QueueVisibilityTimeout time.Duration `env:"QUEUE_VISIBILITY_TIMEOUT,default=2m"`
	QueuePollInterval      time.Duration `env:"QUEUE_POLL_INTERVAL,default=1s"`
	QueueBatchSize         int64         `env:"QUEUE_BATCH_SIZE,default=10"`
	QueueMaxLen            int64         `env:"QUEUE_MAX_LEN"`
	QueueEnableDLQ         bool          `env:"QUEUE_ENABLE_DLQ"`

	ProcessorConsumers  int           `env:"PROCESSOR_CONSUMERS,default=4"`
	ProcessorWorkers    int           `env:"PROCESSOR_WORKERS,default=16"`
	ProcessorJobTimeout time.Duration `env:"PROCESSOR_JOB_TIMEOUT,default=90s"`

	GcsBucket          string `env:"GCS_BUCKET"`
	GcsEndpoint        string `env:"GCS_ENDPOINT"`
	GcsCredentialsFile string `env:"GCS_CREDENTIALS_FILE"`

	UploadMaxBytes     int    `env:"UPLOAD_MAX_BYTES,default=2000000"`
	NotifyDefaultEmail string `env:"NOTIFY_DEFAULT_EMAIL"`

	MailFrom         string        `env:"MAIL_FROM,default=no-reply@transaction-guard.local"`
	MailPrimaryUrl   string        `env:"MAIL_PRIMARY_URL"`
	MailSecondaryUrl string        `env:"MAIL_SECONDARY_URL"`
	MailTimeout      time.Duration `env:"MAIL_TIMEOUT,default=5s"`

	FraudHighAmount         string        `env:"FRAUD_HIGH_AMOUNT,default=10000"`
	FraudDailyCount         int           `env:"FRAUD_DAILY_COUNT,default=10"`
	FraudSimultaneousWindow time.Duration `env:"FRAUD_SIMULTANEOUS_WINDOW,default=60s"`
	FraudTimezone           string        `env:"FRAUD_TIMEZONE,default=UTC"`
}

func Load(path string) error {
	logger.Info("loading configs..", "path", path)
	c := &Config{}
	var err error
	if path != "" {
		logger.Info("trying to load env from file", "path", path)
		err = godotenv.Load(path)
		if err != nil {
			return errors.Wrapf(err, "failed to load configuration file %s", path)
		}
	}

	_, err = env.UnmarshalFromEnviron(c)
	if err != nil {
		return errors.Wrap(err, "failed to map env variables to Config")
	}

	config = c
	return nil
}

// Set replaces the loaded configuration, used by tests and embedded setups.
func Set(c *Config) {
	config = c
}

func Get() *Config {
	if config == nil {
		logger.Panic("Config is not initialized")
	}
	return config
}
