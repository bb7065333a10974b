package oxy

import (
	"context"
	"time"
)

// Metrics receives runtime measurements from the dispatch pipeline,
// the message bus, and the transports. The observer package provides
// an OTel-backed implementation via NewMetrics(). When no Metrics is
// configured, recording is skipped entirely.
type Metrics interface {
	// Dispatch records one completed pipeline run.
	Dispatch(ctx context.Context, callee string, category Category, state State, took time.Duration)
	// Message records one message emitted to the bus or store.
	Message(ctx context.Context, msgType string)
	// AdmissionWait records time spent waiting for a component permit.
	// timedOut marks waits that exceeded their limit and failed.
	AdmissionWait(ctx context.Context, component string, waited time.Duration, timedOut bool)
	// TransportRetry records one retried transport attempt.
	TransportRetry(ctx context.Context, component string)
}
