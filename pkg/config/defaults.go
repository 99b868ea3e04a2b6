package config

import "time"

// Default returns the built-in configuration. Initialize() merges the YAML
// file and environment flags on top of it.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level: "info",
		},
		Server: ServerConfig{
			ListenAddr:    ":8080",
			AgentID:       "rally",
			ShutdownGrace: 15 * time.Second,
		},
		Database: DatabaseConfig{
			PoolTxSize:     20,
			PoolSessSize:   5,
			WaitQueue:      100,
			SimpleTimeout:  5 * time.Second,
			ComplexTimeout: 30 * time.Second,
			HealthInterval: 30 * time.Second,
			ReadRetries:    2,
		},
		Session: SessionConfig{
			DefaultTimeout: 30 * time.Minute,
			SweepInterval:  60 * time.Second,
			Retention:      24 * time.Hour,
		},
		Raid: RaidConfig{
			PollInterval:           30 * time.Second,
			VerifyLatencyMin:       3 * time.Second,
			VerifyTimeout:          10 * time.Second,
			VerifyRetries:          2,
			VerifyConcurrency:      4,
			AutoStart:              true,
			DefaultMaxParticipants: 100,
			DefaultDuration:        time.Hour,
		},
		Ingress: IngressConfig{
			RateLimitPerMin:     100,
			RateViolationLimit:  5,
			RateViolationWindow: time.Hour,
			DedupTTL:            5 * time.Minute,
			DedupSize:           100_000,
		},
		Bus: BusConfig{
			QueueSize:    256,
			WriteTimeout: 2 * time.Second,
		},
		Memory: MemoryConfig{
			EmbeddingDim: 768,
			EmbedKinds:   []string{"message", "fact"},
			MaxRecent:    1000,
		},
		Engine: EngineConfig{
			Timeout:           30 * time.Second,
			Workers:           4,
			TypoRate:          0.02,
			ContradictionRate: 0.005,
		},
		Embedder: EmbedderConfig{
			Timeout: 10 * time.Second,
		},
		Prompt: PromptConfig{
			DefaultPersonality: "default",
		},
	}
}
