package config

import (
	"encoding/json"
	"log/slog"
)

// Censored is printed in place of secret values.
const Censored = "***REMOVED***"

// Secret holds a sensitive string. Every printable form is redacted; only
// Expose returns the raw value.
type Secret struct {
	value   string
	display string
}

// NewSecret wraps value and prints it as Censored.
func NewSecret(value string) Secret {
	return Secret{value: value}
}

// NewSecretWithDisplay wraps value and prints it as display, e.g. a
// connection string with its password removed.
func NewSecretWithDisplay(value, display string) Secret {
	return Secret{value: value, display: display}
}

// Expose returns the raw secret value.
func (s Secret) Expose() string { return s.value }

// IsZero reports whether the secret is empty.
func (s Secret) IsZero() bool { return s.value == "" }

func (s Secret) String() string {
	if s.display != "" {
		return s.display
	}
	return Censored
}

func (s Secret) GoString() string { return s.String() }

func (s Secret) LogValue() slog.Value { return slog.StringValue(s.String()) }

func (s Secret) MarshalJSON() ([]byte, error) { return json.Marshal(s.String()) }
