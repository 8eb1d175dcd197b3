package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	EnvPrefix = ""

	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

type Config struct {
	App          AppConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	EventLog     EventLogConfig
	Broadcast    BroadcastConfig
	Media        MediaConfig
	GCP          GCPConfig
	FeatureFlags FeatureFlagsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"ANTIQUEFEED_APP_ENV" required:"true"`
	Port         string `envconfig:"ANTIQUEFEED_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"ANTIQUEFEED_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"ANTIQUEFEED_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN    string `envconfig:"ANTIQUEFEED_DB_DSN"`
	Driver string `envconfig:"ANTIQUEFEED_DB_DRIVER" default:"postgres"`

	Host     string `envconfig:"ANTIQUEFEED_DB_HOST"`
	Port     int    `envconfig:"ANTIQUEFEED_DB_PORT" default:"5432"`
	User     string `envconfig:"ANTIQUEFEED_DB_USER"`
	Password string `envconfig:"ANTIQUEFEED_DB_PASSWORD"`
	Name     string `envconfig:"ANTIQUEFEED_DB_NAME"`
	SSLMode  string `envconfig:"ANTIQUEFEED_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"ANTIQUEFEED_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"ANTIQUEFEED_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"ANTIQUEFEED_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"ANTIQUEFEED_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"ANTIQUEFEED_REDIS_URL"`
	Address      string        `envconfig:"ANTIQUEFEED_REDIS_ADDR"`
	Password     string        `envconfig:"ANTIQUEFEED_REDIS_PASSWORD"`
	DB           int           `envconfig:"ANTIQUEFEED_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"ANTIQUEFEED_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"ANTIQUEFEED_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"ANTIQUEFEED_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"ANTIQUEFEED_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"ANTIQUEFEED_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// Enabled reports whether any Redis endpoint is configured. The broadcaster
// falls back to single-instance fan-out without one.
func (r RedisConfig) Enabled() bool {
	return r.URL != "" || r.Address != ""
}

type JWTConfig struct {
	Secret            string `envconfig:"ANTIQUEFEED_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"ANTIQUEFEED_JWT_ISSUER" default:"antiquefeed"`
	ExpirationMinutes int    `envconfig:"ANTIQUEFEED_JWT_EXPIRATION_MINUTES" default:"60"`
}

type EventLogConfig struct {
	AppendLockWait time.Duration `envconfig:"ANTIQUEFEED_EVENTLOG_APPEND_LOCK_WAIT" default:"3s"`
	MaxAttempts    int           `envconfig:"ANTIQUEFEED_EVENTLOG_MAX_ATTEMPTS" default:"3"`
	RetryBackoff   time.Duration `envconfig:"ANTIQUEFEED_EVENTLOG_RETRY_BACKOFF" default:"50ms"`
}

type BroadcastConfig struct {
	SubscriberBuffer int           `envconfig:"ANTIQUEFEED_BROADCAST_SUBSCRIBER_BUFFER" default:"64"`
	SendTimeout      time.Duration `envconfig:"ANTIQUEFEED_BROADCAST_SEND_TIMEOUT" default:"2s"`
	ChannelPrefix    string        `envconfig:"ANTIQUEFEED_BROADCAST_CHANNEL_PREFIX" default:"af:session_events"`
}

type MediaConfig struct {
	BucketName  string        `envconfig:"ANTIQUEFEED_MEDIA_BUCKET" default:"product_images"`
	MaxUploadMB int           `envconfig:"ANTIQUEFEED_MAX_UPLOAD_MB" default:"10"`
	HTTPTimeout time.Duration `envconfig:"ANTIQUEFEED_MEDIA_HTTP_TIMEOUT" default:"15s"`
}

type GCPConfig struct {
	CredentialsJSON        string `envconfig:"ANTIQUEFEED_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"GOOGLE_APPLICATION_CREDENTIALS"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"ANTIQUEFEED_AUTO_MIGRATE" default:"false"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	required := map[string]string{
		"ANTIQUEFEED_DB_HOST": db.Host,
		"ANTIQUEFEED_DB_USER": db.User,
		"ANTIQUEFEED_DB_NAME": db.Name,
	}
	for _, env := range []string{"ANTIQUEFEED_DB_HOST", "ANTIQUEFEED_DB_USER", "ANTIQUEFEED_DB_NAME"} {
		if required[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either ANTIQUEFEED_DB_DSN or %s are required", strings.Join(missing, ", "))
	}

	userInfo := url.User(db.User)
	if db.Password != "" {
		userInfo = url.UserPassword(db.User, db.Password)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.Host, db.Port),
		Path:   db.Name,
	}

	if db.SSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.SSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
