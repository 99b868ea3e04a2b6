package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// applyEnv overlays recognized environment flags onto cfg. Environment
// values win over both defaults and the YAML file. Unparseable numeric
// values are ignored rather than fatal; validation catches out-of-range
// results afterwards.
func applyEnv(cfg *Config) {
	setString(&cfg.Database.URL, "DATABASE_URL")
	setString(&cfg.Server.ListenAddr, "LISTEN_ADDR")
	setString(&cfg.Server.AgentID, "AGENT_ID")
	setString(&cfg.Log.Level, "LOG_LEVEL")
	setString(&cfg.Engine.URL, "ENGINE_URL")
	setString(&cfg.Embedder.URL, "EMBEDDER_URL")
	setString(&cfg.Redis.Addr, "REDIS_ADDR")
	setString(&cfg.Notify.SlackWebhookURL, "SLACK_WEBHOOK_URL")
	setString(&cfg.Raid.VerifierURL, "RAID_VERIFIER_URL")

	setMillis(&cfg.Session.DefaultTimeout, "TIMEOUT_MS_DEFAULT")
	setMillis(&cfg.Session.SweepInterval, "SWEEP_INTERVAL_MS")
	setMillis(&cfg.Ingress.DedupTTL, "DEDUP_TTL_MS")
	setMillis(&cfg.Raid.PollInterval, "VERIFY_POLL_INTERVAL_MS")
	setMillis(&cfg.Server.ShutdownGrace, "SHUTDOWN_GRACE_MS")

	setInt(&cfg.Database.PoolTxSize, "POOL_TX_SIZE")
	setInt(&cfg.Database.PoolSessSize, "POOL_SESS_SIZE")
	setInt(&cfg.Memory.EmbeddingDim, "EMBEDDING_DIM")
	setInt(&cfg.Ingress.RateLimitPerMin, "RATE_LIMIT_PER_MIN")

	if raw := os.Getenv("AUTH_TOKENS"); raw != "" {
		cfg.Auth.Tokens = parseAuthTokens(raw)
	}
}

// parseAuthTokens parses "token:internal_id,token2:internal_id2" pairs.
// Malformed entries are skipped.
func parseAuthTokens(raw string) map[string]string {
	out := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		token, id, ok := strings.Cut(pair, ":")
		if !ok || token == "" || id == "" {
			continue
		}
		out[token] = id
	}
	return out
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setMillis(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = time.Duration(ms) * time.Millisecond
		}
	}
}
