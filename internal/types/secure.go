package types

const redactedPlaceholder = "***REDACTED***"

// SecretString holds credentials (API keys, database URLs) that must never
// reach logs or JSON output. fmt and encoding/json both see the placeholder.
type SecretString string

func (s SecretString) String() string {
	return redactedPlaceholder
}

func (s SecretString) MarshalJSON() ([]byte, error) {
	return []byte(`"` + redactedPlaceholder + `"`), nil
}

// Unmask returns the raw value. Call it only at the point where the secret is
// handed to a client library.
func (s SecretString) Unmask() string {
	return string(s)
}

// IsSet reports whether a non-empty secret was configured.
func (s SecretString) IsSet() bool {
	return s != ""
}
