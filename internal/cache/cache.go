// Package cache holds rendered requirement lists between edits.
package cache

import (
	"context"
	"time"
)

// Cache is a byte cache keyed by string. Misses and backend failures both
// report found=false; callers rebuild the value from the store.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
	Close() error
}

const keyPrefix = "attest:v1:"

// RequirementsListKey names the cached requirements-list payload of a
// compliance assessment.
func RequirementsListKey(complianceAssessmentID string) string {
	return keyPrefix + "requirements-list:" + complianceAssessmentID
}
