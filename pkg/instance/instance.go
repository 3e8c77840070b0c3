package instance

import "os"

// GetID identifies the running process in logs and cron lock ownership.
// DYNO wins over HOSTNAME; local runs fall back to "local".
func GetID() string {
	for _, key := range []string{"DYNO", "HOSTNAME"} {
		if id := os.Getenv(key); id != "" {
			return id
		}
	}
	return "local"
}
