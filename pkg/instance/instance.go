package instance

import (
	"os"
	"strings"
)

const EnvWorkerID = "INVENTORY_WORKER_ID"

// GetID identifies this process in logs: INVENTORY_WORKER_ID, then the
// platform-provided DYNO or HOSTNAME, then the host name, then a fixed default.
func GetID() string {
	for _, key := range []string{EnvWorkerID, "DYNO", "HOSTNAME"} {
		if id := strings.TrimSpace(os.Getenv(key)); id != "" {
			return id
		}
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "inventory-0"
}
