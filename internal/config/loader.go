package config

import (
	"errors"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Load builds a Config by layering, lowest to highest precedence:
//  1. defaults (New)
//  2. YAML file named by FITSYNC_CONFIG, if set
//  3. environment variables with prefix FITSYNC_
func Load() (*Config, error) {
	base := New()

	k := koanf.New(".")

	if path := os.Getenv("FITSYNC_CONFIG"); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, err
		}
	}

	// FITSYNC_BACKOFF_BASE -> backoff_base; nested reward fields use double
	// underscores: FITSYNC_REWARD__TRUST_DEFAULT -> reward.trust_default.
	envProvider := env.Provider("FITSYNC_", ".", func(s string) string {
		s = strings.ToLower(strings.TrimPrefix(s, "FITSYNC_"))
		return strings.ReplaceAll(s, "__", ".")
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, err
	}

	cfg := *base
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	var errs []error
	if c.DatabasePath == "" {
		errs = append(errs, errors.New("database_path must not be empty"))
	}
	if c.BackoffBase <= 0 || c.BackoffCap < c.BackoffBase {
		errs = append(errs, errors.New("backoff_cap must be >= backoff_base > 0"))
	}
	r := c.Reward
	if r.DifficultyMin <= 0 || r.DifficultyMax < r.DifficultyMin {
		errs = append(errs, errors.New("difficulty band must satisfy 0 < min <= max"))
	}
	if r.TrustFloor <= 0 || r.TrustFloor > r.TrustDefault || r.TrustDefault > 1.0 {
		errs = append(errs, errors.New("trust values must satisfy 0 < floor <= default <= 1.0"))
	}
	if r.TrustStep <= 0 || r.TrustStep >= 1 {
		errs = append(errs, errors.New("trust_step must be in (0, 1)"))
	}
	if r.RepetitionPenaltyPct < 0 || r.RepetitionPenaltyPct >= 1 {
		errs = append(errs, errors.New("repetition_penalty_pct must be in [0, 1)"))
	}
	return errors.Join(errs...)
}
