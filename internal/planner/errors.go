package planner

import (
	"errors"
	"fmt"
)

// ConfigError reports a deployment problem, such as a missing prompt
// template, that no amount of retrying will fix.
type ConfigError struct {
	Section    Section
	TemplateID string
	Err        error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration error: prompt template %q for section %s is missing; run `diet-planner seed-prompts`", e.TemplateID, e.Section)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// IsConfigError reports whether err is or wraps a ConfigError.
func IsConfigError(err error) bool {
	var cfgErr *ConfigError
	return errors.As(err, &cfgErr)
}
