// File: config/validation.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package config

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validate checks struct tags first, then rules that span several fields.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}
	return validateCustomRules(cfg)
}

func validateCustomRules(cfg *Config) error {
	if cfg.Connection.IdleTimeout > 0 && cfg.Connection.SweepInterval > cfg.Connection.IdleTimeout {
		return fmt.Errorf("connection: sweep_interval %s exceeds idle_timeout %s",
			cfg.Connection.SweepInterval, cfg.Connection.IdleTimeout)
	}
	if cfg.Metrics.Enabled && cfg.Metrics.Listen == "" {
		return fmt.Errorf("metrics: listen is required when enabled")
	}
	if cfg.Listener.AcceptBurst > 0 && cfg.Listener.AcceptRate == 0 {
		return fmt.Errorf("listener: accept_burst set without accept_rate")
	}
	return nil
}

// formatValidationError reports the first failing field.
func formatValidationError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		e := verrs[0]
		return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)", e.Namespace(), e.Tag(), e.Value())
	}
	return err
}
