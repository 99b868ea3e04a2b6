package config

import (
	"fmt"
	"log/slog"
	"os"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// Initialize loads, merges, and validates configuration.
//
// Steps performed:
//  1. Start from built-in defaults
//  2. Merge the optional YAML file (path argument, or $RALLY_CONFIG)
//  3. Apply environment flag overrides
//  4. Validate the result
//
// A missing YAML file is an error only when the path was given explicitly;
// an unset $RALLY_CONFIG simply skips step 2.
func Initialize(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = os.Getenv("RALLY_CONFIG")
	}
	if path != "" {
		if err := mergeFile(cfg, path); err != nil {
			if !explicit && os.IsNotExist(err) {
				slog.Warn("Config file from RALLY_CONFIG not found, using defaults", "path", path)
			} else {
				return nil, NewLoadError(path, err)
			}
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidationFailed, err)
	}

	slog.Info("Configuration initialized",
		"listen_addr", cfg.Server.ListenAddr,
		"pool_tx", cfg.Database.PoolTxSize,
		"pool_sess", cfg.Database.PoolSessSize,
		"embedding_dim", cfg.Memory.EmbeddingDim,
		"redis_dedup", cfg.Redis.Addr != "")

	return cfg, nil
}

// mergeFile reads a YAML file, expands {{.ENV_VAR}} references, and merges
// the parsed result over cfg (file values override defaults).
func mergeFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	data = ExpandEnv(data)

	var fileCfg Config
	if err := yaml.Unmarshal(data, &fileCfg); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidYAML, err)
	}

	if err := mergo.Merge(cfg, &fileCfg, mergo.WithOverride); err != nil {
		return fmt.Errorf("merging config file: %w", err)
	}
	return nil
}
