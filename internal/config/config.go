// Package config loads service settings from the environment, an optional .env file
// and an optional config file.
package config

import (
	"errors"
	"io/fs"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	apperrors "github.com/ZanzyTHEbar/contrib-rounds/internal/errors"
)

// Ledger backends
const (
	LedgerRPC    = "rpc"
	LedgerMemory = "memory"
)

// LedgerConfig selects and tunes the ledger client
type LedgerConfig struct {
	Mode         string
	RPCURL       string
	BytecodePath string
	Timeout      time.Duration
}

// RedisConfig points at the optional coordination store
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// Config holds every runtime setting
type Config struct {
	Port              string
	DataDir           string
	GitHubAPIURL      string
	GitHubRatePerSec  float64
	GitHubMaxPages    int
	IssueSLA          time.Duration
	Ledger            LedgerConfig
	Redis             RedisConfig
	LogLevel          string
	CacheTTL          time.Duration
	VoteRateLimit     int
	IPRateLimit       int
	LockTTL           time.Duration
	RequestTimeout    time.Duration
	AllowedOrigins    []string
	PersistTimeout    time.Duration
	ShutdownTimeout   time.Duration
	SwaggerEnabled    bool
	CompressResponses bool
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("PORT", "8080")
	v.SetDefault("DATA_DIR", "./data")
	v.SetDefault("GITHUB_API_URL", "https://api.github.com")
	v.SetDefault("GITHUB_RATE_PER_SEC", 10.0)
	v.SetDefault("GITHUB_MAX_PAGES", 50)
	v.SetDefault("ISSUE_SLA", "168h")
	v.SetDefault("LEDGER_MODE", LedgerRPC)
	v.SetDefault("LEDGER_RPC_URL", "")
	v.SetDefault("LEDGER_BYTECODE_PATH", "")
	v.SetDefault("LEDGER_TIMEOUT", "60s")
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("CACHE_TTL", "5m")
	v.SetDefault("VOTE_RATE_LIMIT", 10)
	v.SetDefault("IP_RATE_LIMIT", 120)
	v.SetDefault("LOCK_TTL", "10m")
	v.SetDefault("REQUEST_TIMEOUT", "5m")
	v.SetDefault("PERSIST_TIMEOUT", "30s")
	v.SetDefault("SHUTDOWN_TIMEOUT", "30s")
	v.SetDefault("CORS_ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:5173")
	v.SetDefault("SWAGGER_ENABLED", true)
	v.SetDefault("COMPRESS_RESPONSES", true)
}

// Load reads .env (when present), then the environment, then configFile when given.
// Environment variables win over the config file.
func Load(configFile string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("Failed to load .env file", "error", err)
	}

	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, apperrors.NewConfigurationError("failed to read config file "+configFile, err)
		}
	}

	cfg := &Config{
		Port:             v.GetString("PORT"),
		DataDir:          v.GetString("DATA_DIR"),
		GitHubAPIURL:     v.GetString("GITHUB_API_URL"),
		GitHubRatePerSec: v.GetFloat64("GITHUB_RATE_PER_SEC"),
		GitHubMaxPages:   v.GetInt("GITHUB_MAX_PAGES"),
		IssueSLA:         v.GetDuration("ISSUE_SLA"),
		Ledger: LedgerConfig{
			Mode:         strings.ToLower(strings.TrimSpace(v.GetString("LEDGER_MODE"))),
			RPCURL:       v.GetString("LEDGER_RPC_URL"),
			BytecodePath: v.GetString("LEDGER_BYTECODE_PATH"),
			Timeout:      v.GetDuration("LEDGER_TIMEOUT"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("REDIS_ADDR"),
			Password: v.GetString("REDIS_PASSWORD"),
			DB:       v.GetInt("REDIS_DB"),
		},
		LogLevel:          v.GetString("LOG_LEVEL"),
		CacheTTL:          v.GetDuration("CACHE_TTL"),
		VoteRateLimit:     v.GetInt("VOTE_RATE_LIMIT"),
		IPRateLimit:       v.GetInt("IP_RATE_LIMIT"),
		LockTTL:           v.GetDuration("LOCK_TTL"),
		RequestTimeout:    v.GetDuration("REQUEST_TIMEOUT"),
		PersistTimeout:    v.GetDuration("PERSIST_TIMEOUT"),
		ShutdownTimeout:   v.GetDuration("SHUTDOWN_TIMEOUT"),
		AllowedOrigins:    splitList(v.GetString("CORS_ALLOWED_ORIGINS")),
		SwaggerEnabled:    v.GetBool("SWAGGER_ENABLED"),
		CompressResponses: v.GetBool("COMPRESS_RESPONSES"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks settings that would otherwise fail late.
// LOCK_TTL is raised to REQUEST_TIMEOUT when shorter, so a start lock outlives the request holding it.
func (c *Config) Validate() error {
	problems := map[string]string{}

	if c.RequestTimeout <= 0 {
		problems["REQUEST_TIMEOUT"] = "must be a positive duration"
	} else if c.LockTTL < c.RequestTimeout {
		slog.Warn("LOCK_TTL shorter than REQUEST_TIMEOUT, raising it", "lock_ttl", c.LockTTL, "request_timeout", c.RequestTimeout)
		c.LockTTL = c.RequestTimeout
	}
	if c.GitHubMaxPages <= 0 {
		problems["GITHUB_MAX_PAGES"] = "must be positive"
	}

	switch c.Ledger.Mode {
	case LedgerMemory:
	case LedgerRPC:
		if strings.TrimSpace(c.Ledger.RPCURL) == "" {
			problems["LEDGER_RPC_URL"] = "required when LEDGER_MODE=rpc"
		}
	default:
		problems["LEDGER_MODE"] = "must be rpc or memory"
	}
	if c.Ledger.Timeout <= 0 {
		problems["LEDGER_TIMEOUT"] = "must be a positive duration"
	}
	if c.IssueSLA <= 0 {
		problems["ISSUE_SLA"] = "must be a positive duration"
	}
	if c.CacheTTL <= 0 {
		problems["CACHE_TTL"] = "must be a positive duration"
	}
	if c.VoteRateLimit < 0 {
		problems["VOTE_RATE_LIMIT"] = "must not be negative"
	}
	if c.IPRateLimit < 0 {
		problems["IP_RATE_LIMIT"] = "must not be negative"
	}
	if strings.TrimSpace(c.DataDir) == "" {
		problems["DATA_DIR"] = "is required"
	}

	if len(problems) == 0 {
		return nil
	}
	keys := make([]string, 0, len(problems))
	for k := range problems {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	msg := make([]string, len(keys))
	for i, k := range keys {
		msg[i] = k + " " + problems[k]
	}
	return apperrors.NewConfigurationError("invalid configuration: "+strings.Join(msg, "; "), nil)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
