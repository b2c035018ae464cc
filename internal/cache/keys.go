package cache

import (
	"fmt"

	"github.com/google/uuid"
)

func JobStatusKey(jobID uuid.UUID) string {
	return fmt.Sprintf("job:%s", jobID)
}

func RateLimitKey(keyPrefix string) string {
	return fmt.Sprintf("ratelimit:%s", keyPrefix)
}

func DiscoveryKey(filterHash string) string {
	return fmt.Sprintf("discover:%s", filterHash)
}

// JobEventsChannel is the pub/sub channel carrying job status-change events.
const JobEventsChannel = "jobs:events"
