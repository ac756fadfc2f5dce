package integration

import (
	"fmt"
	"strings"
)

// CategoryPolicy decides what happens to a category name with no remote match.
type CategoryPolicy string

const (
	// CategoryPolicyDrop leaves unmatched categories off the payload
	CategoryPolicyDrop CategoryPolicy = "drop"
	// CategoryPolicyCreate creates unmatched categories on the platform
	CategoryPolicyCreate CategoryPolicy = "create"
)

// ParseCategoryPolicy parses a configured policy; empty means drop.
func ParseCategoryPolicy(s string) (CategoryPolicy, error) {
	switch CategoryPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", CategoryPolicyDrop:
		return CategoryPolicyDrop, nil
	case CategoryPolicyCreate:
		return CategoryPolicyCreate, nil
	default:
		return "", fmt.Errorf("unknown category policy %q (expected drop or create)", s)
	}
}

const (
	// DefaultMaxParallelStreams bounds how many streams are processed at once
	DefaultMaxParallelStreams = 10
	// DefaultErrorSampleSize caps the error messages kept per stream
	DefaultErrorSampleSize = 10
)

// SyncPolicy holds the engine's behavioural switches.
type SyncPolicy struct {
	CategoryPolicy     CategoryPolicy
	ClampNegativeStock bool
	MaxParallelStreams int
	ErrorSampleSize    int
}

// DefaultSyncPolicy returns the policy used when nothing is configured
func DefaultSyncPolicy() SyncPolicy {
	return SyncPolicy{
		CategoryPolicy:     CategoryPolicyDrop,
		MaxParallelStreams: DefaultMaxParallelStreams,
		ErrorSampleSize:    DefaultErrorSampleSize,
	}
}

func (p SyncPolicy) withDefaults() SyncPolicy {
	if p.CategoryPolicy == "" {
		p.CategoryPolicy = CategoryPolicyDrop
	}
	if p.MaxParallelStreams <= 0 {
		p.MaxParallelStreams = DefaultMaxParallelStreams
	}
	if p.ErrorSampleSize <= 0 {
		p.ErrorSampleSize = DefaultErrorSampleSize
	}
	return p
}
