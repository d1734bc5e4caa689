// Package instance names the running process for logs and lock ownership.
package instance

import (
	"os"
	"strings"
)

var idEnvKeys = []string{"MERCATO_INSTANCE_ID", "DYNO"}

// ID returns the first configured instance name, falling back to the host name.
func ID() string {
	for _, key := range idEnvKeys {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			return v
		}
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "local"
}
