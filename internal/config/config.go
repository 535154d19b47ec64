package config

import (
	"time"

	"github.com/Netflix/go-env"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"

	"github.com/sahelsms/orange-gateway/pkg/logger"
)

var config *Config

// Config holds every env-driven setting of the gateway. Only this struct is
// consulted at runtime; no component reads the environment directly.
type Config struct {
	AppEnv   string `env:"APP_ENV" default:"dev"`
	AppName  string `env:"APP_NAME" default:"orange_gateway"`
	AppDebug bool   `env:"APP_DEBUG" default:"1"`

	HttpListenAddr string `env:"HTTP_LISTEN_ADDR" default:":8080"`

	// Orange API endpoints and credentials.
	OrangeOAuthURL     string `env:"ORANGE_OAUTH_URL" default:"https://api.orange.com/oauth/v3"`
	OrangeMTURL        string `env:"ORANGE_SMSMT_URL" default:"https://api.orange.com/smsmessaging/v1"`
	OrangeAdminURL     string `env:"ORANGE_SMSADMIN_URL" default:"https://api.orange.com/sms/admin/v1"`
	OrangeClientID     string `env:"ORANGE_CLIENT_ID"`
	OrangeClientSecret string `env:"ORANGE_CLIENT_SECRET"`

	// Seed token, written back on refresh.
	OrangeToken       string `env:"ORANGE_TOKEN"`
	OrangeTokenExpiry string `env:"ORANGE_TOKEN_EXPIRY"` // RFC3339

	SenderAddress     string `env:"SENDER_ADDRESS"`
	DefaultSenderName string `env:"DEFAULT_SENDER_NAME"`

	Country       string `env:"COUNTRY"`
	CountryPrefix string `env:"COUNTRY_PREFIX"`
	FixMSISDN     bool   `env:"FIX_MSISDN" default:"1"`

	// Timeout for every carrier HTTP call (token, submit, balance).
	CarrierTimeout time.Duration `env:"CARRIER_TIMEOUT" default:"15s"`

	// inline: submit during the request. enqueued: hand off to the processor.
	DispatchMode string `env:"DISPATCH_MODE" default:"inline"`

	// Whether messages persist in postgres; off means an in-memory ledger.
	UseDB bool `env:"USE_DB" default:"1"`

	PostgresReadHost     string `env:"POSTGRES_READ_HOST"`
	PostgresReadPort     string `env:"POSTGRES_READ_PORT"`
	PostgresReadUser     string `env:"POSTGRES_READ_USER"`
	PostgresReadPassword string `env:"POSTGRES_READ_PASSWORD"`
	PostgresReadDatabase string `env:"POSTGRES_READ_DBNAME"`

	PostgresWriteHost     string `env:"POSTGRES_WRITE_HOST"`
	PostgresWritePort     string `env:"POSTGRES_WRITE_PORT"`
	PostgresWriteUser     string `env:"POSTGRES_WRITE_USER"`
	PostgresWritePassword string `env:"POSTGRES_WRITE_PASSWORD"`
	PostgresWriteDatabase string `env:"POSTGRES_WRITE_DBNAME"`

	RedisAddr               string `env:"REDIS_ADDR"`
	RedisUsername           string `env:"REDIS_USER"`
	RedisPassword           string `env:"REDIS_PASS"`
	RedisDatabase           int    `env:"REDIS_DATABASE"`
	RedisUniversalKeyPrefix string `env:"REDIS_UNIVERSAL_KEY_PREFIX"`

	QueueName              string        `env:"QUEUE_NAME" default:"sms:outgoing"`
	QueueConsumerGroup     string        `env:"QUEUE_CONSUMER_GROUP" default:"gateway"`
	QueueConsumerName      string        `env:"QUEUE_CONSUMER_NAME" default:"gateway-consumer"`
	QueueMaxRetries        int           `env:"QUEUE_MAX_RETRIES" default:"3"`
	QueueVisibilityTimeout time.Duration `env:"QUEUE_VISIBILITY_TIMEOUT" default:"30s"`
	QueuePollInterval      time.Duration `env:"QUEUE_POLL_INTERVAL" default:"1s"`
	QueueBatchSize         int64         `env:"QUEUE_BATCH_SIZE" default:"10"`
	QueueMaxLen            int64         `env:"QUEUE_MAX_LEN"`
	QueueEnableDLQ         bool          `env:"QUEUE_ENABLE_DLQ" default:"1"`

	PromNamespace   string `env:"PROM_NAMESPACE" default:"orange_gateway"`
	PromListenAddr  string `env:"PROM_LISTEN_ADDR"`
	PromMetricsPath string `env:"PROM_METRICS_PATH" default:"/metrics"`
}

// TokenExpiryTime parses the seed token expiry; zero time when unset.
func (c *Config) TokenExpiryTime() time.Time {
	if c.OrangeTokenExpiry == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, c.OrangeTokenExpiry)
	if err != nil {
		logger.Warn("unparseable ORANGE_TOKEN_EXPIRY, treating seed token as expired", "value", c.OrangeTokenExpiry)
		return time.Time{}
	}
	return t
}

func Load(path string) error {
	logger.Info("loading configs..", "path", path)
	c := &Config{}
	if path != "" {
		if err := godotenv.Load(path); err != nil {
			return errors.Wrap(err, "failed to load configuration file "+path)
		}
	}

	if _, err := env.UnmarshalFromEnviron(c); err != nil {
		return errors.Wrap(err, "failed to map env variables to Configuration object")
	}

	config = c
	return nil
}

func Get() *Config {
	if config == nil {
		logger.Panic("Config is not initialized")
	}
	return config
}
