package common

import (
	"context"
	"fmt"
	"regexp"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/pactum/internal/interfaces"
)

// keyRefPattern matches {key-name} references in strings
var keyRefPattern = regexp.MustCompile(`\{([a-zA-Z0-9_-]+)\}`)

// ReplaceKeyReferences replaces all {key-name} references in the input with values from kvMap.
// Missing keys are left unchanged and logged.
func ReplaceKeyReferences(input string, kvMap map[string]string, logger arbor.ILogger) string {
	if input == "" {
		return input
	}

	return keyRefPattern.ReplaceAllStringFunc(input, func(match string) string {
		keyName := match[1 : len(match)-1]
		if value, exists := kvMap[keyName]; exists {
			return value
		}
		if logger != nil {
			logger.Warn().
				Str("reference", match).
				Str("key", keyName).
				Msg("Unresolved key reference - key not found in KV store")
		}
		return match
	})
}

// HasUnresolvedReference reports whether s still contains a {key-name} reference
func HasUnresolvedReference(s string) bool {
	return keyRefPattern.MatchString(s)
}

// ResolveSecrets replaces {key-name} references in the secret-bearing config fields using the KV store.
// Environment overrides applied during loading always win because they replace the reference outright.
func ResolveSecrets(ctx context.Context, config *Config, kvStorage interfaces.KeyValueStorage, logger arbor.ILogger) error {
	if kvStorage == nil {
		return nil
	}

	kvMap, err := kvStorage.GetAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch KV map for secret resolution: %w", err)
	}

	for _, field := range []*string{
		&config.Gemini.APIKey,
		&config.Claude.APIKey,
		&config.Bridge.URL,
		&config.Bridge.Token,
	} {
		*field = ReplaceKeyReferences(*field, kvMap, logger)
	}

	logger.Debug().Int("keys", len(kvMap)).Msg("Applied key/value replacements to config secrets")
	return nil
}
