package model

import "time"

// Config is the complete evalagent configuration
type Config struct {
	Store         StoreConfig         `yaml:"store" mapstructure:"store"`
	LLM           LLMConfig           `yaml:"llm" mapstructure:"llm"`
	Rules         RulesConfig         `yaml:"rules" mapstructure:"rules"`
	Judge         JudgeConfig         `yaml:"judge" mapstructure:"judge"`
	Run           RunConfig           `yaml:"run" mapstructure:"run"`
	Fetch         FetchConfig         `yaml:"fetch" mapstructure:"fetch"`
	API           APIConfig           `yaml:"api" mapstructure:"api"`
	Kafka         KafkaConfig         `yaml:"kafka" mapstructure:"kafka"`
	Elasticsearch ElasticsearchConfig `yaml:"elasticsearch" mapstructure:"elasticsearch"`
	Log           LogConfig           `yaml:"log" mapstructure:"log"`
}

// StoreConfig selects the storage backend
type StoreConfig struct {
	Driver string `yaml:"driver" mapstructure:"driver"` // sqlite, postgres, memory
	DSN    string `yaml:"dsn" mapstructure:"dsn"`
}

// LLMConfig configures the reasoning capability
type LLMConfig struct {
	Provider          string        `yaml:"provider" mapstructure:"provider"` // openai, anthropic, ollama
	Model             string        `yaml:"model" mapstructure:"model"`
	APIKey            string        `yaml:"api_key,omitempty" mapstructure:"api_key"`
	BaseURL           string        `yaml:"base_url,omitempty" mapstructure:"base_url"`
	Timeout           int           `yaml:"timeout" mapstructure:"timeout"` // seconds
	MaxTokens         int           `yaml:"max_tokens" mapstructure:"max_tokens"`
	RequestsPerSecond float64       `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	CacheTTL          time.Duration `yaml:"cache_ttl" mapstructure:"cache_ttl"`
	CacheDir          string        `yaml:"cache_dir,omitempty" mapstructure:"cache_dir"`
	HTTPProxy         string        `yaml:"http_proxy,omitempty" mapstructure:"http_proxy"`
	HTTPSProxy        string        `yaml:"https_proxy,omitempty" mapstructure:"https_proxy"`
}

// RulesConfig tunes the rules checker
type RulesConfig struct {
	StalenessDays int `yaml:"staleness_days" mapstructure:"staleness_days"`
	MaxSources    int `yaml:"max_sources" mapstructure:"max_sources"`
}

// JudgeConfig tunes batched verification
type JudgeConfig struct {
	Concurrency int           `yaml:"concurrency" mapstructure:"concurrency"`
	Pacing      time.Duration `yaml:"pacing" mapstructure:"pacing"`
	MaxClaims   int           `yaml:"max_claims" mapstructure:"max_claims"`
	Prioritize  bool          `yaml:"prioritize" mapstructure:"prioritize"`
}

// RunConfig tunes run strategies
type RunConfig struct {
	MaxDocuments int `yaml:"max_documents" mapstructure:"max_documents"`
}

// FetchConfig controls fetching source pages for judge context
type FetchConfig struct {
	Enabled      bool          `yaml:"enabled" mapstructure:"enabled"`
	UserAgent    string        `yaml:"user_agent" mapstructure:"user_agent"`
	Timeout      time.Duration `yaml:"timeout" mapstructure:"timeout"`
	MaxBodyBytes int64         `yaml:"max_body_bytes" mapstructure:"max_body_bytes"`
	MaxExcerpt   int           `yaml:"max_excerpt" mapstructure:"max_excerpt"`
	CacheDir     string        `yaml:"cache_dir" mapstructure:"cache_dir"`
	CacheTTL     time.Duration `yaml:"cache_ttl" mapstructure:"cache_ttl"`
}

// APIConfig configures the HTTP surface
type APIConfig struct {
	BindAddr     string `yaml:"bind_addr" mapstructure:"bind_addr"`
	Token        string `yaml:"token,omitempty" mapstructure:"token"` // Empty disables the bearer guard
	DefaultLimit int    `yaml:"default_limit" mapstructure:"default_limit"`
	MaxLimit     int    `yaml:"max_limit" mapstructure:"max_limit"`
}

// KafkaConfig enables lifecycle events when brokers are set
type KafkaConfig struct {
	Brokers []string `yaml:"brokers" mapstructure:"brokers"`
	Topic   string   `yaml:"topic" mapstructure:"topic"`
}

// ElasticsearchConfig enables the document search projection when Addr is set
type ElasticsearchConfig struct {
	Addr  string `yaml:"addr" mapstructure:"addr"`
	Index string `yaml:"index" mapstructure:"index"`
}

// LogConfig configures the logger
type LogConfig struct {
	Level string `yaml:"level" mapstructure:"level"`
}

// DefaultConfig returns sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Store: StoreConfig{
			Driver: "sqlite",
			DSN:    "evalagent.db",
		},
		LLM: LLMConfig{
			Provider:          "", // Disabled by default
			Timeout:           30,
			MaxTokens:         1200,
			RequestsPerSecond: 2,
			CacheTTL:          24 * time.Hour,
		},
		Rules: RulesConfig{
			StalenessDays: 365,
			MaxSources:    5,
		},
		Judge: JudgeConfig{
			Concurrency: 3,
			Pacing:      time.Second,
			MaxClaims:   25,
			Prioritize:  true,
		},
		Run: RunConfig{
			MaxDocuments: 20,
		},
		Fetch: FetchConfig{
			Enabled:      false,
			UserAgent:    "evalagent/0.1 (+https://github.com/ppiankov/evalagent)",
			Timeout:      15 * time.Second,
			MaxBodyBytes: 2_000_000,
			MaxExcerpt:   4000,
			CacheDir:     ".evalagent-cache",
			CacheTTL:     7 * 24 * time.Hour,
		},
		API: APIConfig{
			BindAddr:     "0.0.0.0:8080",
			DefaultLimit: 50,
			MaxLimit:     500,
		},
		Kafka: KafkaConfig{
			Topic: "evalagent_events",
		},
		Elasticsearch: ElasticsearchConfig{
			Index: "documents",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}
