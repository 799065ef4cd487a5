package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/nimasrn/transaction-guard/internal/fraud"
	"github.com/nimasrn/transaction-guard/internal/notifier"
	"github.com/nimasrn/transaction-guard/internal/queue"
	"github.com/nimasrn/transaction-guard/pkg/gcs"
	"github.com/nimasrn/transaction-guard/pkg/pg"
	"github.com/nimasrn/transaction-guard/pkg/redis"
	"github.com/shopspring/decimal"
)

func (c *Config) PostgresRead() pg.Config {
	return pg.Config{
		User:     c.PostgresReadUser,
		Host:     c.PostgresReadHost,
		Port:     c.PostgresReadPort,
		Password: c.PostgresReadPassword,
		Database: c.PostgresReadDatabase,
		SSLMode:  c.PostgresSSLMode,

		MaxOpenConns:    c.PostgresMaxOpenConns,
		ConnMaxLifetime: c.PostgresConnLifetime,
	}
}

func (c *Config) PostgresWrite() pg.Config {
	return pg.Config{
		User:     c.PostgresWriteUser,
		Host:     c.PostgresWriteHost,
		Port:     c.PostgresWritePort,
		Password: c.PostgresWritePassword,
		Database: c.PostgresWriteDatabase,
		SSLMode:  c.PostgresSSLMode,

		MaxOpenConns:    c.PostgresMaxOpenConns,
		ConnMaxLifetime: c.PostgresConnLifetime,
	}
}

func (c *Config) RedisOptions(clientName string) *redis.Options {
	return &redis.Options{
		Addrs:      []string{c.RedisAddr},
		ClientName: clientName,
		DB:         c.RedisDatabase,
		Username:   c.RedisUsername,
		Password:   c.RedisPassword,
	}
}

// Queue is the ingestion queue configuration shared by producers and consumers.
func (c *Config) Queue() queue.QueueConfig {
	name := c.QueueConsumerName
	if name == "" {
		host, err := os.Hostname()
		if err != nil {
			host = "unknown"
		}
		name = host
	}
	return queue.QueueConfig{
		Name:              c.QueueName,
		ConsumerGroup:     c.QueueConsumerGroup,
		ConsumerName:      name,
		MaxAttempts:       c.QueueMaxAttempts,
		BackoffBase:       c.QueueBackoffBase,
		VisibilityTimeout: c.QueueVisibilityTimeout,
		PollInterval:      c.QueuePollInterval,
		BatchSize:         c.QueueBatchSize,
		MaxLen:            c.QueueMaxLen,
		EnableDLQ:         c.QueueEnableDLQ,
	}
}

func (c *Config) Gcs() gcs.Config {
	return gcs.Config{
		Bucket:          c.GcsBucket,
		Endpoint:        c.GcsEndpoint,
		CredentialsFile: c.GcsCredentialsFile,
	}
}

// Notifier returns the mail relay configuration and false when no relay
// is configured.
func (c *Config) Notifier() (notifier.Config, bool) {
	cfg := notifier.DefaultConfig()
	cfg.Timeout = c.MailTimeout
	cfg.Providers = []notifier.ProviderConfig{
		{Name: "primary", URL: c.MailPrimaryUrl, Priority: 1},
		{Name: "secondary", URL: c.MailSecondaryUrl, Priority: 2},
	}
	return cfg, c.MailPrimaryUrl != "" || c.MailSecondaryUrl != ""
}

func (c *Config) Fraud() (fraud.Config, error) {
	amount, err := decimal.NewFromString(strings.TrimSpace(c.FraudHighAmount))
	if err != nil {
		return fraud.Config{}, fmt.Errorf("FRAUD_HIGH_AMOUNT: %w", err)
	}
	loc, err := time.LoadLocation(c.FraudTimezone)
	if err != nil {
		return fraud.Config{}, fmt.Errorf("FRAUD_TIMEZONE: %w", err)
	}
	return fraud.Config{
		HighAmount: amount,
		DailyCount: c.FraudDailyCount,
		Window:     c.FraudSimultaneousWindow,
		Location:   loc,
	}, nil
}

// EnvPathFromArgs returns the value of a --env=path argument if the file
// exists, or an empty string.
func EnvPathFromArgs(args []string) string {
	for _, v := range args {
		path, ok := strings.CutPrefix(v, "--env=")
		if !ok {
			continue
		}
		if _, err := os.Stat(path); err != nil {
			return ""
		}
		return path
	}
	return ""
}
