package config

import (
	"fmt"
	"strings"

	"github.com/roach88/normcache/internal/normalize"
)

// Validation error codes (E200-E209)
const (
	ErrTypeFieldEmpty  = "E200" // identity.type_field is required
	ErrIDFieldEmpty    = "E201" // identity.id_field is required
	ErrFieldsCollide   = "E202" // type_field and id_field must differ
	ErrTypeNameEmpty   = "E203" // identity.types entries must be non-empty
	ErrTypeNameRepeats = "E204" // identity.types entries must be unique
)

// Config is the cache configuration.
type Config struct {
	// DevLogging enables debug logs for degraded references, cycles and
	// no-op merges. It never changes results.
	DevLogging bool `yaml:"dev_logging" json:"dev_logging"`

	// StructuralSharing enables the per-query memo. It never changes
	// results, only the identity of unchanged subtrees.
	StructuralSharing bool `yaml:"structural_sharing" json:"structural_sharing"`

	Identity Identity `yaml:"identity" json:"identity"`
}

// Identity configures the stock field-based identity resolver.
type Identity struct {
	TypeField string   `yaml:"type_field" json:"type_field"`
	IDField   string   `yaml:"id_field" json:"id_field"`
	Types     []string `yaml:"types,omitempty" json:"types,omitempty"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		StructuralSharing: true,
		Identity: Identity{
			TypeField: normalize.DefaultTypeField,
			IDField:   normalize.DefaultIDField,
		},
	}
}

// Resolver builds the identity resolver described by c.Identity.
func (c Config) Resolver() normalize.Resolver {
	return normalize.FieldResolver{
		TypeField: c.Identity.TypeField,
		IDField:   c.Identity.IDField,
		Types:     c.Identity.Types,
	}
}

// ValidationError describes one invalid setting.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// Validate returns every problem found in c. It does not fail fast.
func (c Config) Validate() []ValidationError {
	var errs []ValidationError

	typeField := strings.TrimSpace(c.Identity.TypeField)
	idField := strings.TrimSpace(c.Identity.IDField)

	if typeField == "" {
		errs = append(errs, ValidationError{
			Field:   "identity.type_field",
			Message: "must be non-empty",
			Code:    ErrTypeFieldEmpty,
		})
	}
	if idField == "" {
		errs = append(errs, ValidationError{
			Field:   "identity.id_field",
			Message: "must be non-empty",
			Code:    ErrIDFieldEmpty,
		})
	}
	if typeField != "" && typeField == idField {
		errs = append(errs, ValidationError{
			Field:   "identity.id_field",
			Message: fmt.Sprintf("must differ from type_field %q", typeField),
			Code:    ErrFieldsCollide,
		})
	}

	seen := make(map[string]bool, len(c.Identity.Types))
	for i, name := range c.Identity.Types {
		field := fmt.Sprintf("identity.types[%d]", i)
		switch {
		case strings.TrimSpace(name) == "":
			errs = append(errs, ValidationError{Field: field, Message: "must be non-empty", Code: ErrTypeNameEmpty})
		case seen[name]:
			errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf("%q listed twice", name), Code: ErrTypeNameRepeats})
		}
		seen[name] = true
	}

	return errs
}

// Err folds the result of Validate into a single error, or nil.
func (c Config) Err() error {
	errs := c.Validate()
	if len(errs) == 0 {
		return nil
	}
	msgs := make([]string, len(errs))
	for i, e := range errs {
		msgs[i] = e.Error()
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}
