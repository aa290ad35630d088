package util

import (
	"os"
	"strings"
)

// GetEnv returns the trimmed value of key, or defaultValue when unset.
func GetEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}
