// Package env holds the few raw environment reads the sync binaries need
// outside the envconfig-managed ODOOSYNC_ namespace (PORT, deploy overrides).
package env

import "os"

// Get returns the value of the given environment variable or a fallback.
func Get(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}
