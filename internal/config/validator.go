package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// RegisterCustomValidators registers complyflow-specific validation rules.
// Must be called before validating Config.
func RegisterCustomValidators(v *validator.Validate) error {
	if err := v.RegisterValidation("duration", validateDuration); err != nil {
		return fmt.Errorf("failed to register duration validator: %w", err)
	}
	if err := v.RegisterValidation("key_hash", validateKeyHash); err != nil {
		return fmt.Errorf("failed to register key_hash validator: %w", err)
	}
	return nil
}

// validateDuration accepts anything time.ParseDuration accepts, as long as
// it is not negative.
func validateDuration(fl validator.FieldLevel) bool {
	d, err := time.ParseDuration(fl.Field().String())
	return err == nil && d >= 0
}

// validateKeyHash accepts "$argon2id$..." PHC strings and "sha256:<64 hex>".
func validateKeyHash(fl validator.FieldLevel) bool {
	hash := fl.Field().String()
	if strings.HasPrefix(hash, "$argon2id$") {
		return strings.Count(hash, "$") == 5
	}
	hex, ok := strings.CutPrefix(hash, "sha256:")
	if !ok || len(hex) != 64 {
		return false
	}
	for _, c := range hex {
		if !strings.ContainsRune("0123456789abcdefABCDEF", c) {
			return false
		}
	}
	return true
}

// Validate validates the Config using struct tags and custom cross-field rules.
// Returns an error if validation fails, with actionable error messages.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())

	if err := RegisterCustomValidators(v); err != nil {
		return err
	}

	if err := v.Struct(c); err != nil {
		return formatValidationErrors(err)
	}

	if err := c.validateStore(); err != nil {
		return err
	}
	if err := c.validateTLS(); err != nil {
		return err
	}
	if err := c.validateIngest(); err != nil {
		return err
	}
	if err := c.validateUniqueKeyNames(); err != nil {
		return err
	}

	return nil
}

// validateStore requires a database path for the sqlite driver.
func (c *Config) validateStore() error {
	if c.Store.Driver == "sqlite" && c.Store.Path == "" {
		return errors.New("store: path is required for the sqlite driver")
	}
	return nil
}

// validateTLS ensures certificate and key are set together.
func (c *Config) validateTLS() error {
	if (c.Server.TLSCertFile == "") != (c.Server.TLSKeyFile == "") {
		return errors.New("server: tls_cert_file and tls_key_file must be set together")
	}
	return nil
}

// validateIngest checks enabled sources have what they need to connect.
func (c *Config) validateIngest() error {
	if n := c.Ingest.NATS; n.Enabled && (n.URL == "" || n.Subject == "") {
		return errors.New("ingest.nats: url and subject are required when enabled")
	}
	if k := c.Ingest.Kafka; k.Enabled {
		if len(k.Brokers) == 0 {
			return errors.New("ingest.kafka: at least one broker is required when enabled")
		}
		if k.Topic == "" || k.GroupID == "" {
			return errors.New("ingest.kafka: topic and group_id are required when enabled")
		}
	}
	return nil
}

// validateUniqueKeyNames ensures every API key has a distinct name.
func (c *Config) validateUniqueKeyNames() error {
	seen := make(map[string]struct{}, len(c.Auth.Keys))
	for i, k := range c.Auth.Keys {
		if _, dup := seen[k.Name]; dup {
			return fmt.Errorf("auth.keys[%d]: duplicate name: %s", i, k.Name)
		}
		seen[k.Name] = struct{}{}
	}
	return nil
}

// formatValidationErrors converts validator.ValidationErrors to user-friendly messages.
func formatValidationErrors(err error) error {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		var messages []string
		for _, e := range validationErrors {
			messages = append(messages, formatSingleValidationError(e))
		}
		return errors.New(strings.Join(messages, "; "))
	}
	return err
}

// formatSingleValidationError creates a user-friendly message for a single validation error.
func formatSingleValidationError(e validator.FieldError) string {
	field := e.Namespace()
	tag := e.Tag()

	switch tag {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, e.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "url":
		return fmt.Sprintf("%s must be a valid URL", field)
	case "hostname_port":
		return fmt.Sprintf("%s must be a valid host:port", field)
	case "duration":
		return fmt.Sprintf("%s must be a duration like \"500ms\" or \"30s\"", field)
	case "key_hash":
		return fmt.Sprintf("%s must be an argon2id hash or \"sha256:<hex>\"", field)
	case "datetime":
		return fmt.Sprintf("%s must be an RFC 3339 timestamp", field)
	case "gt", "lte":
		return fmt.Sprintf("%s must be in (0, 1]", field)
	default:
		return fmt.Sprintf("%s failed validation: %s", field, tag)
	}
}
