package normalize

import (
	"errors"
	"fmt"
)

// ConfigError reports that the identity resolver failed. It is the only
// error normalization returns: the resolver is injected configuration, so a
// failure is a programming error and is not retried.
type ConfigError struct {
	// Path locates the offending node, e.g. "$.posts[2].author".
	Path string

	// Err is the resolver's error, or a description of its panic.
	Err error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("normalize: identity resolver failed at %s: %v", e.Path, e.Err)
}

// Unwrap returns the resolver's error.
func (e *ConfigError) Unwrap() error {
	return e.Err
}

// IsConfigError reports whether err wraps a *ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}
