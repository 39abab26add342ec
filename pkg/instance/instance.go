// Package instance names the running process for logs and lock owners.
package instance

import "os"

const defaultID = "local"

// GetID returns WORKER_ID, then the platform DYNO name, then "local".
func GetID() string {
	for _, key := range []string{"WORKER_ID", "DYNO"} {
		if id := os.Getenv(key); id != "" {
			return id
		}
	}
	return defaultID
}
