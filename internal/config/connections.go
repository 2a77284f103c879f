package config

import (
	"os"

	"github.com/nimasrn/sms-forwarder/internal/queue"
	"github.com/nimasrn/sms-forwarder/pkg/pg"
	"github.com/nimasrn/sms-forwarder/pkg/redis"
)

func (c *Config) PostgresWrite() pg.Config {
	return pg.Config{
		DSN:          c.DatabaseURL,
		Debug:        c.DatabaseDebug,
		MaxOpenConns: c.DatabaseMaxConn,
		MaxIdleConns: c.DatabaseMaxConn / 2,
	}
}

// PostgresRead falls back to the write database when no replica is set.
func (c *Config) PostgresRead() pg.Config {
	rc := c.PostgresWrite()
	if c.DatabaseReadURL != "" {
		rc.DSN = c.DatabaseReadURL
	}
	return rc
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

// ForwardQueue maps the QUEUE_* keys. The consumer name defaults to the
// hostname so replicas of the forwarder join the group separately.
func (c *Config) ForwardQueue() queue.QueueConfig {
	name := c.QueueConsumerName
	if name == "" {
		if h, err := os.Hostname(); err == nil {
			name = h
		} else {
			name = "forwarder"
		}
	}
	return queue.QueueConfig{
		Name:              c.QueueName,
		ConsumerGroup:     c.QueueConsumerGroup,
		ConsumerName:      name,
		MaxRetries:        c.QueueMaxRetries,
		VisibilityTimeout: c.QueueVisibilityTimeout,
		PollInterval:      c.QueuePollInterval,
		BatchSize:         c.QueueBatchSize,
		MaxLen:            c.QueueMaxLen,
		EnableDLQ:         c.QueueEnableDLQ,
	}
}
