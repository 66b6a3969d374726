package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultPaymentToken is the wrapped-AR process id that prices listings.
const DefaultPaymentToken = "xU9zFkq3X2ZQ6olwNVvr1vUWIjc3kXTWr7xKQD6dh10"

// DefaultBlacklistedAddresses are known spam writers on the orderbook.
var DefaultBlacklistedAddresses = []string{
	"gmvdHUB-w8G8xTCNyyU_PNsmxyZIavkL_Um5s5GyJtE",
}

// DefaultSpamBigrams are literal two-emoji sequences posted by the known
// spam campaign. Extending this list is a product policy decision.
var DefaultSpamBigrams = []string{
	"\U0001F381\U0001F525", // gift, fire
	"\U0001F4B0\U0001F680", // money bag, rocket
}

type Config struct {
	Ledger   LedgerConfig
	Retry    RetryConfig
	Breaker  BreakerConfig
	Lookup   LookupConfig
	Redis    RedisConfig
	Pipeline PipelineConfig
	Policy   PolicyConfig
	Server   ServerConfig
	Alert    AlertConfig
	Log      LogConfig
	Tracing  TracingConfig
}

type LedgerConfig struct {
	GraphQLURL     string
	ProtocolTag    string
	RecordType     string
	QueryFirst     int
	MaxPages       int
	QueryTimeout   time.Duration
	RateLimitRPS   float64
	RateLimitBurst int
}

type RetryConfig struct {
	MaxAttempts    int
	BackoffInitial time.Duration
	BackoffMax     time.Duration
}

type BreakerConfig struct {
	FailureThreshold int
	SuccessThreshold int
	OpenTimeout      time.Duration
}

type LookupConfig struct {
	ProfileURL     string
	AssetURL       string
	Timeout        time.Duration
	CacheSize      int
	CacheTTL       time.Duration
	RateLimitRPS   float64 // per service
	RateLimitBurst int
}

type RedisConfig struct {
	URL string // empty disables the shared summary cache
	TTL time.Duration
}

type PipelineConfig struct {
	FetchWorkers int
	GroupCount   int
}

// PolicyConfig carries the data-driven parts of classification and spam
// filtering. POLICY_FILE (YAML) overrides the defaults; env lists override
// the file.
type PolicyConfig struct {
	File                 string
	PaymentTokens        []string
	BlacklistedAddresses []string
	SpamBigrams          []string
}

type ServerConfig struct {
	HTTPPort    int
	SessionTTL  time.Duration
	MaxSessions int
}

// AlertConfig enables health alerts; no URL means no alerting.
type AlertConfig struct {
	SlackWebhookURL string
	WebhookURL      string
	Cooldown        time.Duration
}

type LogConfig struct {
	Level string
}

type TracingConfig struct {
	Enabled     bool
	Endpoint    string
	Insecure    bool
	SampleRatio float64
}

// policyFile is the on-disk YAML layout of POLICY_FILE.
type policyFile struct {
	PaymentTokens        []string `yaml:"payment_tokens"`
	BlacklistedAddresses []string `yaml:"blacklisted_addresses"`
	SpamBigrams          []string `yaml:"spam_bigrams"`
}

func Load() (*Config, error) {
	if err := loadEnvFile(); err != nil {
		return nil, err
	}

	cfg := &Config{
		Ledger: LedgerConfig{
			GraphQLURL:     getEnv("LEDGER_GRAPHQL_URL", "https://arweave-search.goldsky.com/graphql"),
			ProtocolTag:    getEnv("LEDGER_PROTOCOL_TAG", "ao"),
			RecordType:     getEnv("LEDGER_RECORD_TYPE", "Message"),
			QueryFirst:     getEnvInt("QUERY_FIRST", 100),
			MaxPages:       getEnvInt("QUERY_MAX_PAGES", 5),
			QueryTimeout:   time.Duration(getEnvInt("QUERY_TIMEOUT_MS", 30000)) * time.Millisecond,
			RateLimitRPS:   getEnvFloat("RATE_LIMIT_RPS", 10),
			RateLimitBurst: getEnvInt("RATE_LIMIT_BURST", 5),
		},
		Retry: RetryConfig{
			MaxAttempts:    getEnvInt("RETRY_MAX_ATTEMPTS", 3),
			BackoffInitial: time.Duration(getEnvInt("RETRY_BACKOFF_INITIAL_MS", 200)) * time.Millisecond,
			BackoffMax:     time.Duration(getEnvInt("RETRY_BACKOFF_MAX_MS", 3000)) * time.Millisecond,
		},
		Breaker: BreakerConfig{
			FailureThreshold: getEnvInt("BREAKER_FAILURE_THRESHOLD", 5),
			SuccessThreshold: getEnvInt("BREAKER_SUCCESS_THRESHOLD", 2),
			OpenTimeout:      time.Duration(getEnvInt("BREAKER_OPEN_TIMEOUT_SEC", 30)) * time.Second,
		},
		Lookup: LookupConfig{
			ProfileURL: getEnv("PROFILE_LOOKUP_URL", "http://localhost:4000/profiles"),
			AssetURL:   getEnv("ASSET_LOOKUP_URL", "http://localhost:4000/assets"),
			Timeout:    time.Duration(getEnvInt("LOOKUP_TIMEOUT_MS", 10000)) * time.Millisecond,
			CacheSize:  getEnvInt("LOOKUP_CACHE_SIZE", 10000),
			CacheTTL:   time.Duration(getEnvInt("LOOKUP_CACHE_TTL_SEC", 300)) * time.Second,

			RateLimitRPS:   getEnvFloat("LOOKUP_RATE_LIMIT_RPS", 20),
			RateLimitBurst: getEnvInt("LOOKUP_RATE_LIMIT_BURST", 10),
		},
		Redis: RedisConfig{
			URL: getEnv("REDIS_URL", ""),
			TTL: time.Duration(getEnvInt("REDIS_SUMMARY_TTL_SEC", 900)) * time.Second,
		},
		Pipeline: PipelineConfig{
			FetchWorkers: getEnvInt("FETCH_WORKERS", 6),
			GroupCount:   getEnvInt("GROUP_COUNT", 50),
		},
		Policy: PolicyConfig{
			File:                 getEnv("POLICY_FILE", ""),
			PaymentTokens:        []string{DefaultPaymentToken},
			BlacklistedAddresses: append([]string(nil), DefaultBlacklistedAddresses...),
			SpamBigrams:          append([]string(nil), DefaultSpamBigrams...),
		},
		Server: ServerConfig{
			HTTPPort:    getEnvInt("HTTP_PORT", 8080),
			SessionTTL:  time.Duration(getEnvInt("SESSION_TTL_SEC", 1800)) * time.Second,
			MaxSessions: getEnvInt("MAX_SESSIONS", 1000),
		},
		Alert: AlertConfig{
			SlackWebhookURL: getEnv("ALERT_SLACK_WEBHOOK_URL", ""),
			WebhookURL:      getEnv("ALERT_WEBHOOK_URL", ""),
			Cooldown:        time.Duration(getEnvInt("ALERT_COOLDOWN_SEC", 1800)) * time.Second,
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Tracing: TracingConfig{
			Enabled:     getEnvBool("TRACING_ENABLED", false),
			Endpoint:    getEnv("TRACING_ENDPOINT", "localhost:4317"),
			Insecure:    getEnvBool("TRACING_INSECURE", true),
			SampleRatio: getEnvFloat("TRACING_SAMPLE_RATIO", 0.1),
		},
	}

	if cfg.Policy.File != "" {
		if err := cfg.Policy.loadFile(cfg.Policy.File); err != nil {
			return nil, err
		}
	}
	if v := getEnvList("PAYMENT_TOKENS"); len(v) > 0 {
		cfg.Policy.PaymentTokens = v
	}
	if v := getEnvList("BLACKLISTED_ADDRESSES"); len(v) > 0 {
		cfg.Policy.BlacklistedAddresses = v
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadEnvFile merges ENV_FILE (default .env) into the environment. Variables
// already set win. A missing default file is not an error.
func loadEnvFile() error {
	path := os.Getenv("ENV_FILE")
	explicit := path != ""
	if !explicit {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

func (p *PolicyConfig) loadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read POLICY_FILE %s: %w", path, err)
	}
	var doc policyFile
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("parse POLICY_FILE %s: %w", path, err)
	}
	if tokens := trimAll(doc.PaymentTokens); len(tokens) > 0 {
		p.PaymentTokens = tokens
	}
	if addrs := trimAll(doc.BlacklistedAddresses); len(addrs) > 0 {
		p.BlacklistedAddresses = addrs
	}
	if doc.SpamBigrams != nil {
		p.SpamBigrams = trimAll(doc.SpamBigrams)
	}
	return nil
}

func (c *Config) validate() error {
	if c.Ledger.GraphQLURL == "" {
		return fmt.Errorf("LEDGER_GRAPHQL_URL is required")
	}
	if c.Lookup.ProfileURL == "" {
		return fmt.Errorf("PROFILE_LOOKUP_URL is required")
	}
	if c.Lookup.AssetURL == "" {
		return fmt.Errorf("ASSET_LOOKUP_URL is required")
	}
	if c.Ledger.QueryFirst <= 0 {
		return fmt.Errorf("QUERY_FIRST must be > 0, got %d", c.Ledger.QueryFirst)
	}
	if c.Ledger.MaxPages <= 0 {
		return fmt.Errorf("QUERY_MAX_PAGES must be > 0, got %d", c.Ledger.MaxPages)
	}
	if c.Pipeline.GroupCount <= 0 {
		return fmt.Errorf("GROUP_COUNT must be > 0, got %d", c.Pipeline.GroupCount)
	}
	if c.Pipeline.FetchWorkers <= 0 {
		return fmt.Errorf("FETCH_WORKERS must be > 0, got %d", c.Pipeline.FetchWorkers)
	}
	if len(c.Policy.PaymentTokens) == 0 {
		return fmt.Errorf("at least one payment token is required")
	}
	for _, bigram := range c.Policy.SpamBigrams {
		if n := len([]rune(bigram)); n != 2 {
			return fmt.Errorf("spam bigram %q must be exactly two runes, got %d", bigram, n)
		}
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	return trimAll(strings.Split(v, ","))
}

func trimAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
