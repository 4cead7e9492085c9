package utils

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const DefaultSystemPrompt = "You are a helpful assistant taking part in a shared public chat room. " +
	"Several visitors may be talking to you in the same conversation. Answer clearly and concisely."

type Config struct {
	ServerPort string
	SessionID  string
	Logging    LoggingConfig
	Completion CompletionConfig
	Store      StoreConfig
	Chat       ChatConfig
	Client     ClientConfig
}

type LoggingConfig struct {
	Level        string
	Encoding     string
	Development  bool
	EnableCaller bool
	ServiceName  string
}

// CompletionConfig holds the fixed upstream parameters. The credential is
// deliberately absent: it is read from CredentialEnv on every call.
type CompletionConfig struct {
	BaseURL       string
	Model         string
	Temperature   float64
	MaxTokens     int
	Timeout       time.Duration
	CredentialEnv string
}

func (c CompletionConfig) Endpoint() string {
	return strings.TrimRight(c.BaseURL, "/") + "/chat/completions"
}

type StoreConfig struct {
	Backend  string
	Postgres PostgresConfig
	Mongo    MongoConfig
	Pebble   PebbleConfig
	Redis    RedisConfig
}

type PostgresConfig struct {
	DSN               string
	Host              string
	Port              int
	User              string
	Password          string
	Database          string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
	ConnectTimeout    time.Duration
}

type MongoConfig struct {
	URI            string
	Database       string
	Collection     string
	ConnectTimeout time.Duration
}

type PebbleConfig struct {
	Path string
}

type RedisConfig struct {
	Addr        string
	Password    string
	DB          int
	DialTimeout time.Duration
}

type ChatConfig struct {
	SystemPrompt  string
	HistoryWindow int
}

// ClientConfig is used by the terminal viewer to reach a running server.
type ClientConfig struct {
	BaseURL string
	Timeout time.Duration
}

const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendMongo    = "mongo"
	BackendPebble   = "pebble"
	BackendRedis    = "redis"
)

func LoadConfig() (*Config, error) {
	pgPort, _ := strconv.Atoi(envOrDefault("POSTGRES_PORT", "5432"))

	cfg := &Config{
		ServerPort: envOrDefault("PORT", "8080"),
		SessionID:  envOrDefault("CHAT_SESSION_ID", "global-chat"),
		Logging: LoggingConfig{
			Level:        strings.ToLower(envOrDefault("LOG_LEVEL", "info")),
			Encoding:     strings.ToLower(envOrDefault("LOG_ENCODING", "console")),
			Development:  parseBool(envOrDefault("LOG_DEVELOPMENT", "false"), false),
			EnableCaller: parseBool(envOrDefault("LOG_CALLER", "false"), false),
			ServiceName:  envOrDefault("SERVICE_NAME", "roomchat"),
		},
		Completion: CompletionConfig{
			BaseURL:       envOrDefault("NVIDIA_API_BASE", "https://integrate.api.nvidia.com/v1"),
			Model:         envOrDefault("NVIDIA_MODEL", "meta/llama-3.1-70b-instruct"),
			Temperature:   parseFloat(envOrDefault("NVIDIA_TEMPERATURE", "0.5"), 0.5),
			MaxTokens:     parseInt(envOrDefault("NVIDIA_MAX_TOKENS", "1024"), 1024),
			Timeout:       parseDuration(envOrDefault("NVIDIA_TIMEOUT", "60s"), 60*time.Second),
			CredentialEnv: envOrDefault("NVIDIA_CREDENTIAL_ENV", "NVIDIA_API_KEY"),
		},
		Store: StoreConfig{
			Backend: strings.ToLower(envOrDefault("STORE_BACKEND", BackendMemory)),
			Postgres: PostgresConfig{
				DSN:               os.Getenv("POSTGRES_DSN"),
				Host:              envOrDefault("POSTGRES_HOST", "localhost"),
				Port:              pgPort,
				User:              envOrDefault("POSTGRES_USER", "postgres"),
				Password:          envOrDefault("POSTGRES_PASSWORD", "postgres"),
				Database:          envOrDefault("POSTGRES_DB", "postgres"),
				MaxConns:          parseInt32(envOrDefault("POSTGRES_MAX_CONNS", "8"), 8),
				MinConns:          parseInt32(envOrDefault("POSTGRES_MIN_CONNS", "1"), 1),
				MaxConnLifetime:   parseDuration(envOrDefault("POSTGRES_MAX_CONN_LIFETIME", "1h"), time.Hour),
				MaxConnIdleTime:   parseDuration(envOrDefault("POSTGRES_MAX_CONN_IDLE", "30m"), 30*time.Minute),
				HealthCheckPeriod: parseDuration(envOrDefault("POSTGRES_HEALTH_CHECK_PERIOD", "1m"), time.Minute),
				ConnectTimeout:    parseDuration(envOrDefault("POSTGRES_CONNECT_TIMEOUT", "5s"), 5*time.Second),
			},
			Mongo: MongoConfig{
				URI:            envOrDefault("MONGO_URI", "mongodb://localhost:27017"),
				Database:       envOrDefault("MONGO_DATABASE", "roomchat"),
				Collection:     envOrDefault("MONGO_COLLECTION", "chat_turns"),
				ConnectTimeout: parseDuration(envOrDefault("MONGO_CONNECT_TIMEOUT", "5s"), 5*time.Second),
			},
			Pebble: PebbleConfig{
				Path: envOrDefault("PEBBLE_PATH", "data/turns"),
			},
			Redis: RedisConfig{
				Addr:        envOrDefault("REDIS_ADDR", "localhost:6379"),
				Password:    os.Getenv("REDIS_PASSWORD"),
				DB:          parseInt(envOrDefault("REDIS_DB", "0"), 0),
				DialTimeout: parseDuration(envOrDefault("REDIS_DIAL_TIMEOUT", "2s"), 2*time.Second),
			},
		},
		Chat: ChatConfig{
			SystemPrompt:  envOrDefault("CHAT_SYSTEM_PROMPT", DefaultSystemPrompt),
			HistoryWindow: parseInt(envOrDefault("HISTORY_WINDOW", "0"), 0),
		},
		Client: ClientConfig{
			BaseURL: strings.TrimRight(envOrDefault("CHAT_SERVER_URL", "http://localhost:8080"), "/"),
			Timeout: parseDuration(envOrDefault("CHAT_CLIENT_TIMEOUT", "90s"), 90*time.Second),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Store.Backend {
	case BackendMemory, BackendPostgres, BackendMongo, BackendPebble, BackendRedis:
	default:
		return fmt.Errorf("config: unknown STORE_BACKEND %q", c.Store.Backend)
	}

	if strings.TrimSpace(c.SessionID) == "" {
		return fmt.Errorf("config: CHAT_SESSION_ID must not be blank")
	}

	if c.Chat.HistoryWindow < 0 {
		return fmt.Errorf("config: HISTORY_WINDOW must not be negative")
	}

	return nil
}

func (c PostgresConfig) BuildDSN() string {
	if c.DSN != "" {
		return c.DSN
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s", c.User, c.Password, c.Host, c.Port, c.Database)
}

func envOrDefault(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func parseDuration(value string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}

func parseInt(value string, fallback int) int {
	i, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return i
}

func parseInt32(value string, fallback int32) int32 {
	i, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return int32(i)
}

func parseFloat(value string, fallback float64) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

func parseBool(value string, fallback bool) bool {
	v, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return v
}
