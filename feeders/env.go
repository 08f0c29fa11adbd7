package feeders

import (
	"os"
	"strings"
)

// EnvFeeder reads prefixed environment variables into the settings bag.
// APP_SERVER__PORT=8080 with prefix "APP_" becomes server.port; a double
// underscore separates nesting levels, keys are lowercased.
type EnvFeeder struct {
	Prefix string
}

// NewEnvFeeder creates a feeder for variables starting with prefix.
func NewEnvFeeder(prefix string) EnvFeeder {
	return EnvFeeder{Prefix: prefix}
}

// Feed merges matching environment variables into the bag.
func (f EnvFeeder) Feed(into map[string]any) error {
	for _, kv := range os.Environ() {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, f.Prefix) {
			continue
		}
		key = strings.ToLower(strings.TrimPrefix(key, f.Prefix))
		if key == "" {
			continue
		}
		setPath(into, strings.Split(key, "__"), value)
	}
	return nil
}
