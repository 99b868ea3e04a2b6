package config

import "time"

// Config is the umbrella configuration object for the whole process.
// It is built by Initialize() from defaults, an optional YAML file, and
// environment flags, in that order of precedence (later wins).
type Config struct {
	Log      LogConfig      `yaml:"log"`
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Session  SessionConfig  `yaml:"session"`
	Raid     RaidConfig     `yaml:"raid"`
	Ingress  IngressConfig  `yaml:"ingress"`
	Bus      BusConfig      `yaml:"bus"`
	Memory   MemoryConfig   `yaml:"memory"`
	Engine   EngineConfig   `yaml:"engine"`
	Embedder EmbedderConfig `yaml:"embedder"`
	Prompt   PromptConfig   `yaml:"prompt"`
	Notify   NotifyConfig   `yaml:"notify"`
	Auth     AuthConfig     `yaml:"auth"`
	Redis    RedisConfig    `yaml:"redis"`
}

// LogConfig controls the process logger.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"`

	// AgentID is the identity this process answers as. Sessions created
	// by ingress are attached to it.
	AgentID string `yaml:"agent_id"`

	// ShutdownGrace is the window a signal-triggered shutdown has to drain
	// loops, subscribers, and pools before the process gives up (exit 3).
	ShutdownGrace time.Duration `yaml:"shutdown_grace"`
}

// DatabaseConfig holds the dual-pool router settings.
type DatabaseConfig struct {
	URL string `yaml:"url"`

	// PoolTxSize bounds the transaction pool (short-lived statements).
	PoolTxSize int `yaml:"pool_tx_size"`

	// PoolSessSize bounds the session pool (long/joining/vector queries).
	PoolSessSize int `yaml:"pool_sess_size"`

	// WaitQueue bounds how many callers may wait per pool before the
	// router rejects with backpressure.
	WaitQueue int `yaml:"wait_queue"`

	// SimpleTimeout / ComplexTimeout are the hard wall-clock checkout
	// budgets per pool.
	SimpleTimeout  time.Duration `yaml:"simple_timeout"`
	ComplexTimeout time.Duration `yaml:"complex_timeout"`

	HealthInterval time.Duration `yaml:"health_interval"`

	// ReadRetries is the retry budget for idempotent reads on connection
	// errors. Writes are never auto-retried.
	ReadRetries int `yaml:"read_retries"`
}

// SessionConfig holds session lifecycle settings.
type SessionConfig struct {
	// DefaultTimeout applies when a create request carries no timeout_ms.
	DefaultTimeout time.Duration `yaml:"default_timeout"`

	SweepInterval time.Duration `yaml:"sweep_interval"`

	// Retention is how long terminal sessions are kept before the sweep
	// removes them.
	Retention time.Duration `yaml:"retention"`
}

// RaidConfig holds raid coordination settings.
type RaidConfig struct {
	// VerifierURL is the base URL of the external action verification
	// service. When empty, actions verify locally without an upstream
	// check, which is only suitable for development.
	VerifierURL string `yaml:"verifier_url"`

	PollInterval time.Duration `yaml:"poll_interval"`

	// VerifyLatencyMin is how old an unverified action must be before the
	// monitor schedules (re)verification for it.
	VerifyLatencyMin time.Duration `yaml:"verify_latency_min"`

	VerifyTimeout time.Duration `yaml:"verify_timeout"`
	VerifyRetries int           `yaml:"verify_retries"`

	// VerifyConcurrency caps in-flight verification calls per raid.
	VerifyConcurrency int `yaml:"verify_concurrency"`

	// AutoStart transitions a pending raid to active on first join.
	AutoStart bool `yaml:"auto_start"`

	DefaultMaxParticipants int           `yaml:"default_max_participants"`
	DefaultDuration        time.Duration `yaml:"default_duration"`
}

// IngressConfig holds stage-1 pipeline settings.
type IngressConfig struct {
	RateLimitPerMin int `yaml:"rate_limit_per_min"`

	// RateViolationLimit rate-limit rejections within RateViolationWindow
	// promote the source IP to the blocklist.
	RateViolationLimit  int           `yaml:"rate_violation_limit"`
	RateViolationWindow time.Duration `yaml:"rate_violation_window"`

	DedupTTL  time.Duration `yaml:"dedup_ttl"`
	DedupSize int           `yaml:"dedup_size"`

	// Blocklist is the static set of IPs / user keys rejected outright.
	Blocklist []string `yaml:"blocklist"`

	// Adapter secrets. Empty string disables signature checking for that
	// adapter (local development only).
	TelegramSecret    string `yaml:"telegram_secret"`
	DiscordPublicKey  string `yaml:"discord_public_key"`
	WebhookHMACSecret string `yaml:"webhook_hmac_secret"`
}

// BusConfig holds event fan-out settings.
type BusConfig struct {
	// QueueSize bounds each subscription's delivery queue.
	QueueSize int `yaml:"queue_size"`

	// WriteTimeout bounds one delivery to a subscriber sink; an overrun
	// counts as a drop for that subscription.
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// MemoryConfig holds memory store settings.
type MemoryConfig struct {
	// EmbeddingDim is the process-wide vector dimension, fixed at startup.
	EmbeddingDim int `yaml:"embedding_dim"`

	// EmbedKinds is the embed-on-write allow-list of item kinds.
	EmbedKinds []string `yaml:"embed_kinds"`

	// MaxRecent caps the limit accepted by recency reads.
	MaxRecent int `yaml:"max_recent"`
}

// EngineConfig holds model-engine dispatch settings.
type EngineConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`

	// Workers is the number of dispatch goroutines draining the normal
	// and priority lanes.
	Workers int `yaml:"workers"`

	// TypoRate and ContradictionRate are humanization probabilities in [0,1].
	TypoRate          float64 `yaml:"typo_rate"`
	ContradictionRate float64 `yaml:"contradiction_rate"`

	// HumanizeSeed seeds the humanizer RNG; 0 means seed from time.
	HumanizeSeed int64 `yaml:"humanize_seed"`
}

// EmbedderConfig holds embedding sidecar settings.
type EmbedderConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// PromptConfig holds prompt composition settings.
type PromptConfig struct {
	// PersonalitiesFile is an optional YAML file of personality documents.
	PersonalitiesFile string `yaml:"personalities_file"`

	DefaultPersonality string `yaml:"default_personality"`
}

// NotifyConfig holds ops notification settings. An empty webhook URL
// disables notifications.
type NotifyConfig struct {
	SlackWebhookURL string `yaml:"slack_webhook_url"`
	Channel         string `yaml:"channel"`
}

// AuthConfig maps bearer tokens to internal identity ids for the events
// WebSocket. Connections must authenticate before subscribing.
type AuthConfig struct {
	Tokens map[string]string `yaml:"tokens"`
}

// RedisConfig enables the shared dedup backend when Addr is set.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}
