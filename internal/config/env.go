package config

import (
	"strings"

	"github.com/knadh/koanf/providers/env"
)

// envProvider maps RELAY_* variables onto config keys. A double underscore
// separates nesting levels, so RELAY_BATCH__MAX_ENTRIES sets
// batch.max_entries while RELAY_API_KEY stays the flat api_key.
func envProvider() *env.Env {
	return env.Provider("RELAY_", ".", func(s string) string {
		s = strings.ToLower(strings.TrimPrefix(s, "RELAY_"))
		return strings.ReplaceAll(s, "__", ".")
	})
}
