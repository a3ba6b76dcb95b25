// Package config loads nexus settings from flags, environment, .env files and
// an optional YAML file.
package config

import (
	"os"
	"path/filepath"
	"strings"
)

// ExpandPath resolves a leading ~ to the home directory and then substitutes
// $VAR references. A home lookup failure leaves the tilde in place.
func ExpandPath(path string) string {
	rest, tilde := strings.CutPrefix(path, "~")
	if tilde && (rest == "" || rest[0] == '/') {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, rest)
		}
	}
	return os.ExpandEnv(path)
}
