package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	App         AppConfig         `mapstructure:"app"`
	Server      ServerConfig      `mapstructure:"server"`
	API         APIConfig         `mapstructure:"api"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Redis       RedisConfig       `mapstructure:"redis"`
	NATS        NATSConfig        `mapstructure:"nats"`
	CORS        CORSConfig        `mapstructure:"cors"`
	RateLimit   RateLimitConfig   `mapstructure:"ratelimit"`
	Logger      LoggerConfig      `mapstructure:"logger"`
	Enrichment  EnrichmentConfig  `mapstructure:"enrichment"`
	Providers   ProvidersConfig   `mapstructure:"providers"`
	Feeds       FeedsConfig       `mapstructure:"feeds"`
	Correlation CorrelationConfig `mapstructure:"correlation"`
	Correlator  CorrelatorConfig  `mapstructure:"correlator"`
}

type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
	Version     string `mapstructure:"version"`
	Debug       bool   `mapstructure:"debug"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	HTTPPort        int           `mapstructure:"http_port"`
	GRPCPort        int           `mapstructure:"grpc_port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// APIConfig holds API access configuration
type APIConfig struct {
	Key string `mapstructure:"key"`
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	Schema          string        `mapstructure:"schema"`
}

func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s&search_path=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode, c.Schema,
	)
}

type RedisConfig struct {
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
	TLS       bool   `mapstructure:"tls"`
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type NATSConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	URL        string `mapstructure:"url"`
	StreamName string `mapstructure:"stream_name"`
}

type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowedMethods   []string `mapstructure:"allowed_methods"`
	AllowedHeaders   []string `mapstructure:"allowed_headers"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
	MaxAge           int      `mapstructure:"max_age"`
}

type RateLimitConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	RequestsPerMinute int  `mapstructure:"requests_per_minute"`
}

type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	TimeFormat string `mapstructure:"time_format"`
}

// EnrichmentConfig controls the IP enrichment cache
type EnrichmentConfig struct {
	CacheTTL    time.Duration `mapstructure:"cache_ttl"`
	HomeCountry string        `mapstructure:"home_country"`
}

type ProvidersConfig struct {
	GeoIP     ProviderConfig `mapstructure:"geoip"`
	AbuseIPDB ProviderConfig `mapstructure:"abuseipdb"`
	Shodan    ProviderConfig `mapstructure:"shodan"`
}

type ProviderConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	APIURL  string        `mapstructure:"api_url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type FeedsConfig struct {
	FeodoTracker FeedConfig `mapstructure:"feodotracker"`
}

type FeedConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	FeedURL        string        `mapstructure:"feed_url"`
	UpdateInterval time.Duration `mapstructure:"update_interval"`
}

// CorrelationConfig controls the correlation pass input windows
type CorrelationConfig struct {
	CyberWindow     time.Duration `mapstructure:"cyber_window"`
	PhysicalWindow  time.Duration `mapstructure:"physical_window"`
	ReportWindow    time.Duration `mapstructure:"report_window"`
	HomeCountryOnly bool          `mapstructure:"home_country_only"`
}

// CorrelatorConfig controls the batch worker
type CorrelatorConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Interval       time.Duration `mapstructure:"interval"`
	InitialDelay   time.Duration `mapstructure:"initial_delay"`
	LockTTL        time.Duration `mapstructure:"lock_ttl"`
	MaxRetries     int           `mapstructure:"max_retries"`
	WorkerPoolSize int           `mapstructure:"worker_pool_size"`
}

// Load reads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/sentinel-lab")
	}

	// Environment variables
	v.SetEnvPrefix("SENTINEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Bind nested env vars explicitly (viper doesn't auto-bind nested struct fields)
	v.BindEnv("api.key", "SENTINEL_API_KEY")
	v.BindEnv("redis.tls", "SENTINEL_REDIS_TLS")
	v.BindEnv("redis.host", "SENTINEL_REDIS_HOST")
	v.BindEnv("redis.port", "SENTINEL_REDIS_PORT")
	v.BindEnv("redis.password", "SENTINEL_REDIS_PASSWORD")
	v.BindEnv("database.host", "SENTINEL_DATABASE_HOST")
	v.BindEnv("database.port", "SENTINEL_DATABASE_PORT")
	v.BindEnv("database.user", "SENTINEL_DATABASE_USER")
	v.BindEnv("database.password", "SENTINEL_DATABASE_PASSWORD")
	v.BindEnv("database.dbname", "SENTINEL_DATABASE_DBNAME")
	v.BindEnv("database.sslmode", "SENTINEL_DATABASE_SSLMODE")
	v.BindEnv("nats.enabled", "SENTINEL_NATS_ENABLED")
	v.BindEnv("nats.url", "SENTINEL_NATS_URL")
	v.BindEnv("providers.abuseipdb.api_key", "SENTINEL_PROVIDERS_ABUSEIPDB_API_KEY")
	v.BindEnv("providers.shodan.api_key", "SENTINEL_PROVIDERS_SHODAN_API_KEY")
	v.BindEnv("enrichment.home_country", "SENTINEL_ENRICHMENT_HOME_COUNTRY")
	v.BindEnv("app.environment", "SENTINEL_APP_ENVIRONMENT")

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Unmarshal config
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// LoadDefault loads configuration with default path
func LoadDefault() (*Config, error) {
	return Load("")
}
