package config

import (
	"strings"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

// Config holds every tunable of the api, forwarder and cli binaries. Values come
// from the process environment, optionally seeded from a .env file. Nothing
// else in the module reads the environment.
type Config struct {
	AppEnv  string `env:"APP_ENV,default=development"`
	AppName string `env:"APP_NAME,default=sms_forwarder"`

	HttpListenAddr     string        `env:"HTTP_LISTEN_ADDR,default=:3000"`
	HttpRequestTimeout time.Duration `env:"HTTP_REQUEST_TIMEOUT,default=5s"`
	CorsOrigin         string        `env:"CORS_ORIGIN,default=http://localhost:8000"`

	DatabaseURL     string `env:"DATABASE_URL,required=true"`
	DatabaseReadURL string `env:"DATABASE_READ_URL"`
	DatabaseDebug   bool   `env:"DATABASE_DEBUG,default=false"`
	DatabaseMaxConn int    `env:"DATABASE_MAX_CONNS,default=20"`

	JwtSecret     string        `env:"JWT_SECRET"`
	JwtExpiration time.Duration `env:"JWT_EXPIRATION,default=24h"`

	DefaultAdminNumber   string `env:"DEFAULT_ADMIN_NUMBER,default=+1234567890"`
	DefaultAdminPasscode string `env:"DEFAULT_ADMIN_PASSCODE,default=admin123"`
	BcryptSaltRounds     int    `env:"BCRYPT_SALT_ROUNDS,default=10"`

	ApiRateLimit       int64         `env:"API_RATE_LIMIT,default=100"`
	ApiRateLimitWindow time.Duration `env:"API_RATE_LIMIT_WINDOW,default=15m"`

	LogLevel string `env:"LOG_LEVEL,default=debug"`

	RedisAddr               string `env:"REDIS_ADDR,default=localhost:6379"`
	RedisUsername           string `env:"REDIS_USER"`
	RedisPassword           string `env:"REDIS_PASS"`
	RedisDatabase           int    `env:"REDIS_DATABASE,default=0"`
	RedisUniversalKeyPrefix string `env:"REDIS_KEY_PREFIX,default=smsfwd:"`

	PromNamespace string `env:"PROM_NAMESPACE,default=sms_forwarder"`
	MetricsAddr   string `env:"METRICS_ADDR"`

	QueueName              string        `env:"QUEUE_NAME,default=sms:forward"`
	QueueConsumerGroup     string        `env:"QUEUE_CONSUMER_GROUP,default=forwarders"`
	QueueConsumerName      string        `env:"QUEUE_CONSUMER_NAME"`
	QueueConsumers         int           `env:"QUEUE_CONSUMERS,default=2"`
	QueueMaxRetries        int           `env:"QUEUE_MAX_RETRIES,default=5"`
	QueueVisibilityTimeout time.Duration `env:"QUEUE_VISIBILITY_TIMEOUT,default=30s"`
	QueuePollInterval      time.Duration `env:"QUEUE_POLL_INTERVAL,default=500ms"`
	QueueBatchSize         int64         `env:"QUEUE_BATCH_SIZE,default=20"`
	QueueMaxLen            int64         `env:"QUEUE_MAX_LEN,default=100000"`
	QueueEnableDLQ         bool          `env:"QUEUE_ENABLE_DLQ,default=true"`

	ForwardEnabled    bool          `env:"FORWARD_ENABLED,default=false"`
	ForwardWorkers    int           `env:"FORWARD_WORKERS,default=16"`
	RelayPrimaryUrl   string        `env:"RELAY_PRIMARY_URL"`
	RelaySecondaryUrl string        `env:"RELAY_SECONDARY_URL"`
	RelayAuthToken    string        `env:"RELAY_AUTH_TOKEN"`
	RelayTimeout      time.Duration `env:"RELAY_TIMEOUT,default=5s"`

	SweepInactiveAfter time.Duration `env:"SWEEP_INACTIVE_AFTER,default=24h"`
}

// IsDevelopment reports whether internal error detail may be exposed.
func (c *Config) IsDevelopment() bool {
	switch strings.ToLower(c.AppEnv) {
	case "development", "dev":
		return true
	}
	return false
}

func (c *Config) RelayURLs() []string {
	var urls []string
	for _, u := range []string{c.RelayPrimaryUrl, c.RelaySecondaryUrl} {
		if u != "" {
			urls = append(urls, u)
		}
	}
	return urls
}

func (c *Config) Validate() error {
	if c.JwtSecret == "" {
		if !c.IsDevelopment() {
			return errors.New("JWT_SECRET is required outside development")
		}
		c.JwtSecret = "development-secret"
	}
	if c.JwtExpiration <= 0 {
		return errors.New("JWT_EXPIRATION must be positive")
	}
	if c.BcryptSaltRounds < 4 || c.BcryptSaltRounds > 31 {
		return errors.Errorf("BCRYPT_SALT_ROUNDS must be between 4 and 31, got %d", c.BcryptSaltRounds)
	}
	if c.ApiRateLimit <= 0 || c.ApiRateLimitWindow <= 0 {
		return errors.New("API_RATE_LIMIT and API_RATE_LIMIT_WINDOW must be positive")
	}
	if c.ForwardEnabled && len(c.RelayURLs()) == 0 {
		return errors.New("FORWARD_ENABLED requires RELAY_PRIMARY_URL")
	}
	return nil
}

// Load reads path (when not empty) into the environment and maps the
// environment onto a validated Config.
func Load(path string) (*Config, error) {
	if path != "" {
		if err := godotenv.Load(path); err != nil {
			return nil, errors.Wrapf(err, "failed to load configuration file %s", path)
		}
	}

	c := &Config{}
	if _, err := env.UnmarshalFromEnviron(c); err != nil {
		return nil, errors.Wrap(err, "failed to map env variables to Config")
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// EnvPathFromArgs returns the value of a --env=path argument, if any.
func EnvPathFromArgs(args []string) string {
	return FlagValue(args, "env")
}

// FlagValue finds --name=value in args.
func FlagValue(args []string, name string) string {
	prefix := "--" + name + "="
	for _, v := range args {
		if strings.HasPrefix(v, prefix) {
			return strings.TrimPrefix(v, prefix)
		}
	}
	return ""
}
