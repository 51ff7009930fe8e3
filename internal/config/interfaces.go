package config

import "context"

// SecretProvider resolves secret values by key. SSMProvider serves deployed
// environments; EnvVarProvider serves local runs and tests.
type SecretProvider interface {
	// GetParametersBatch returns the values for every key it could resolve.
	// Keys that do not exist are omitted from the result.
	GetParametersBatch(ctx context.Context, keys []string) (map[string]string, error)
}
