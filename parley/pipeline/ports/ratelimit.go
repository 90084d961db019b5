package pipelineports

import "context"

// RateLimiter coordinates throughput per caller key.
type RateLimiter interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}
