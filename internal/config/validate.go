package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks required settings. A missing JWT secret aborts boot.
func (c *Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.Security.JWTSecret) == "" {
		errs = append(errs, errors.New("JWT_SECRET environment variable is required"))
	}
	if c.Security.TokenTTL <= 0 {
		errs = append(errs, fmt.Errorf("security.token_ttl must be positive, got %s", c.Security.TokenTTL))
	}
	if c.Security.BcryptCost < 4 || c.Security.BcryptCost > 31 {
		errs = append(errs, fmt.Errorf("security.bcrypt_cost must be within 4..31, got %d", c.Security.BcryptCost))
	}

	switch c.Database.Driver {
	case "postgres", "memory":
	default:
		errs = append(errs, fmt.Errorf("database.driver must be postgres or memory, got %q", c.Database.Driver))
	}

	switch c.Ledger.Mode {
	case "simulated", "chain":
	default:
		errs = append(errs, fmt.Errorf("ledger.mode must be simulated or chain, got %q", c.Ledger.Mode))
	}

	if c.Pipeline.Workers < 1 {
		errs = append(errs, fmt.Errorf("pipeline.workers must be at least 1, got %d", c.Pipeline.Workers))
	}
	if c.Pipeline.VerificationDelay < 0 {
		errs = append(errs, errors.New("pipeline.verification_delay must not be negative"))
	}
	if c.Redis.Enabled && (c.Pipeline.Stream == "" || c.Pipeline.Group == "") {
		errs = append(errs, errors.New("pipeline.stream and pipeline.group are required when redis is enabled"))
	}

	if c.Analysis.MaxTags < 1 {
		errs = append(errs, fmt.Errorf("analysis.max_tags must be at least 1, got %d", c.Analysis.MaxTags))
	}
	if c.LLM.Phi3Model == "" || c.LLM.Gemma3Model == "" {
		errs = append(errs, errors.New("llm.phi3_model and llm.gemma3_model must be set"))
	}
	if c.API.EventsPollInterval <= 0 {
		errs = append(errs, errors.New("api.events_poll_interval must be positive"))
	}

	return errors.Join(errs...)
}
