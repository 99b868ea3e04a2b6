package config

import "errors"

// Validate checks the merged configuration for values the process cannot
// start with. It returns every problem found, joined, so operators fix the
// file in one pass.
func (c *Config) Validate() error {
	var errs []error

	if c.Database.URL == "" {
		errs = append(errs, invalid("database", "url", "DATABASE_URL or database.url is required"))
	}
	if c.Database.PoolTxSize <= 0 {
		errs = append(errs, invalid("database", "pool_tx_size", "must be positive"))
	}
	if c.Database.PoolSessSize <= 0 {
		errs = append(errs, invalid("database", "pool_sess_size", "must be positive"))
	}
	if c.Database.WaitQueue < 0 {
		errs = append(errs, invalid("database", "wait_queue", "must be non-negative"))
	}
	if c.Database.SimpleTimeout <= 0 || c.Database.ComplexTimeout <= 0 {
		errs = append(errs, invalid("database", "timeouts", "must be positive"))
	}

	if c.Session.DefaultTimeout <= 0 {
		errs = append(errs, invalid("session", "default_timeout", "must be positive"))
	}
	if c.Session.SweepInterval <= 0 {
		errs = append(errs, invalid("session", "sweep_interval", "must be positive"))
	}

	if c.Raid.PollInterval <= 0 {
		errs = append(errs, invalid("raid", "poll_interval", "must be positive"))
	}
	if c.Raid.VerifyConcurrency <= 0 {
		errs = append(errs, invalid("raid", "verify_concurrency", "must be positive"))
	}

	if c.Ingress.RateLimitPerMin <= 0 {
		errs = append(errs, invalid("ingress", "rate_limit_per_min", "must be positive"))
	}
	if c.Ingress.DedupTTL <= 0 {
		errs = append(errs, invalid("ingress", "dedup_ttl", "must be positive"))
	}
	if c.Ingress.DedupSize <= 0 {
		errs = append(errs, invalid("ingress", "dedup_size", "must be positive"))
	}

	if c.Bus.QueueSize <= 0 {
		errs = append(errs, invalid("bus", "queue_size", "must be positive"))
	}
	if c.Bus.WriteTimeout <= 0 {
		errs = append(errs, invalid("bus", "write_timeout", "must be positive"))
	}

	if c.Memory.EmbeddingDim <= 0 {
		errs = append(errs, invalid("memory", "embedding_dim", "must be positive"))
	}

	if c.Engine.TypoRate < 0 || c.Engine.TypoRate > 1 {
		errs = append(errs, invalid("engine", "typo_rate", "must be in [0,1]"))
	}
	if c.Engine.ContradictionRate < 0 || c.Engine.ContradictionRate > 1 {
		errs = append(errs, invalid("engine", "contradiction_rate", "must be in [0,1]"))
	}
	if c.Engine.Workers <= 0 {
		errs = append(errs, invalid("engine", "workers", "must be positive"))
	}

	if c.Server.ShutdownGrace <= 0 {
		errs = append(errs, invalid("server", "shutdown_grace", "must be positive"))
	}

	return errors.Join(errs...)
}
