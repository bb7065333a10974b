package oxy

import (
	"time"

	"github.com/google/uuid"
)

// NewID generates a globally unique, time-sortable UUIDv7 (RFC 9562).
// Used for request, trace, node, message, and parallel-branch ids.
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// NowUnix returns current time as Unix seconds. Store records keep
// timestamps in this form.
func NowUnix() int64 {
	return time.Now().Unix()
}
