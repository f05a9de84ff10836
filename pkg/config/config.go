package config

import (
	"errors"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"

	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	CORS     CORSConfig
	Log      LogConfig
	Remote   RemoteConfig
	Cache    CacheConfig
	Reader   ReaderConfig
	Device   DeviceConfig
	Session  SessionConfig
	Events   EventsConfig
	Reports  ReportsConfig
}

type DatabaseConfig struct {
	Driver       string
	Path         string
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret     string
	Expiration time.Duration
	Issuer     string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// RemoteConfig points the agent at the remote batch service.
type RemoteConfig struct {
	BaseURL           string
	APIToken          string
	Timeout           time.Duration
	RetryMax          int
	SyncVerifications bool
	EnquiryFallback   bool
}

// CacheConfig tunes the in-process batch cache.
type CacheConfig struct {
	BatchTTL time.Duration
}

// ReaderConfig bounds hardware tag reads.
type ReaderConfig struct {
	Timeout time.Duration
}

// DeviceConfig identifies the scanning device the agent runs for.
type DeviceConfig struct {
	ID       string
	Location string
}

// SessionConfig controls scanning session checkpoints.
type SessionConfig struct {
	CheckpointTTL time.Duration
}

// ReportsConfig controls the report archive and its download links.
type ReportsConfig struct {
	Dir        string
	LinkSecret string
	LinkTTL    time.Duration
	Retention  time.Duration
}

// EventsConfig wires the verification event outbox.
type EventsConfig struct {
	NATSEnabled bool
	NATSURL     string
	NATSToken   string
	Subject     string
	Workers     int
	MaxRetries  int
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !isMissingFile(err) {
			return nil, err
		}
	}

	return fromViper(v), nil
}

func fromViper(v *viper.Viper) *Config {
	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	driver := strings.ToLower(strings.TrimSpace(v.GetString("DB_DRIVER")))
	if driver != DriverPostgres {
		driver = DriverSQLite
	}
	path := v.GetString("DB_PATH")
	if path == "" {
		path = defaultSQLitePath()
	}
	cfg.Database = DatabaseConfig{
		Driver:       driver,
		Path:         path,
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Enabled:  v.GetBool("REDIS_ENABLED"),
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:     v.GetString("JWT_SECRET"),
		Expiration: parseDuration(v.GetString("JWT_EXPIRATION"), 12*time.Hour),
		Issuer:     v.GetString("JWT_ISSUER"),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	retryMax := v.GetInt("REMOTE_RETRY_MAX")
	if retryMax < 0 {
		retryMax = 0
	}
	cfg.Remote = RemoteConfig{
		BaseURL:           strings.TrimRight(v.GetString("REMOTE_BASE_URL"), "/"),
		APIToken:          v.GetString("REMOTE_API_TOKEN"),
		Timeout:           parseDuration(v.GetString("REMOTE_TIMEOUT"), 15*time.Second),
		RetryMax:          retryMax,
		SyncVerifications: v.GetBool("REMOTE_SYNC_VERIFICATIONS"),
		EnquiryFallback:   v.GetBool("REMOTE_ENQUIRY_FALLBACK"),
	}

	cfg.Cache = CacheConfig{
		BatchTTL: parseDuration(v.GetString("BATCH_CACHE_TTL"), 5*time.Minute),
	}

	cfg.Reader = ReaderConfig{
		Timeout: parseDuration(v.GetString("READER_TIMEOUT"), 2500*time.Millisecond),
	}

	cfg.Device = DeviceConfig{
		ID:       v.GetString("DEVICE_ID"),
		Location: v.GetString("DEVICE_LOCATION"),
	}

	cfg.Session = SessionConfig{
		CheckpointTTL: parseDuration(v.GetString("SESSION_CHECKPOINT_TTL"), 12*time.Hour),
	}

	workers := v.GetInt("EVENTS_WORKERS")
	if workers <= 0 {
		workers = 1
	}
	cfg.Events = EventsConfig{
		NATSEnabled: v.GetBool("NATS_ENABLED"),
		NATSURL:     v.GetString("NATS_URL"),
		NATSToken:   v.GetString("NATS_TOKEN"),
		Subject:     v.GetString("NATS_SUBJECT"),
		Workers:     workers,
		MaxRetries:  v.GetInt("EVENTS_MAX_RETRIES"),
	}

	reportsDir := v.GetString("REPORTS_DIR")
	if reportsDir == "" {
		reportsDir = defaultDataPath("reports")
	}
	linkSecret := v.GetString("REPORT_LINK_SECRET")
	if linkSecret == "" {
		linkSecret = cfg.JWT.Secret
	}
	cfg.Reports = ReportsConfig{
		Dir:        reportsDir,
		LinkSecret: linkSecret,
		LinkTTL:    parseDuration(v.GetString("REPORT_LINK_TTL"), time.Hour),
		Retention:  parseDuration(v.GetString("REPORT_RETENTION"), 7*24*time.Hour),
	}

	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8088)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_DRIVER", DriverSQLite)
	v.SetDefault("DB_PATH", "")
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "card_audit")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_ENABLED", false)
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_EXPIRATION", "12h")
	v.SetDefault("JWT_ISSUER", "card-audit-agent")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("REMOTE_BASE_URL", "http://localhost:9000/api")
	v.SetDefault("REMOTE_API_TOKEN", "")
	v.SetDefault("REMOTE_TIMEOUT", "15s")
	v.SetDefault("REMOTE_RETRY_MAX", 2)
	v.SetDefault("REMOTE_SYNC_VERIFICATIONS", false)
	v.SetDefault("REMOTE_ENQUIRY_FALLBACK", true)

	v.SetDefault("BATCH_CACHE_TTL", "5m")
	v.SetDefault("READER_TIMEOUT", "2500ms")
	v.SetDefault("DEVICE_ID", "")
	v.SetDefault("DEVICE_LOCATION", "")
	v.SetDefault("SESSION_CHECKPOINT_TTL", "12h")

	v.SetDefault("NATS_ENABLED", false)
	v.SetDefault("NATS_URL", "nats://localhost:4222")
	v.SetDefault("NATS_TOKEN", "")
	v.SetDefault("NATS_SUBJECT", "cards.verified")
	v.SetDefault("EVENTS_WORKERS", 1)
	v.SetDefault("EVENTS_MAX_RETRIES", 3)

	v.SetDefault("REPORTS_DIR", "")
	v.SetDefault("REPORT_LINK_SECRET", "")
	v.SetDefault("REPORT_LINK_TTL", "1h")
	v.SetDefault("REPORT_RETENTION", "168h")
}

func defaultSQLitePath() string {
	return defaultDataPath("cardaudit.db")
}

// defaultDataPath places name under ~/.cardaudit, or the working directory when the
// home directory cannot be resolved.
func defaultDataPath(name string) string {
	home, err := homedir.Dir()
	if err != nil || home == "" {
		return name
	}
	return filepath.Join(home, ".cardaudit", name)
}

func isMissingFile(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
