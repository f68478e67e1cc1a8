package cache

import (
	"fmt"
)

func JobStatusKey(jobID string) string {
	return fmt.Sprintf("jobledger:job:%s:status", jobID)
}

func RateLimitKey(clientKey string) string {
	return fmt.Sprintf("jobledger:ratelimit:%s", clientKey)
}
