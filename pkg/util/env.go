package util

import "os"

// GetEnv returns the value of the environment variable or the fallback
// when it is unset or empty.
func GetEnv(name, fallback string) string {
	if value := os.Getenv(name); value != "" {
		return value
	}
	return fallback
}
