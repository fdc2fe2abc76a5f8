package client

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/kjstillabower/risk-signal-service/internal/circuitbreaker"
)

// TestCategorizeError verifies that CategorizeError maps errors to the correct ErrorCategory
// for metrics labeling, including sentinel errors, wrapped errors, and message-based heuristics.
func TestCategorizeError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCategory
	}{
		{"nil", nil, ""},
		{"timeout context", context.DeadlineExceeded, ErrorCategoryTimeout},
		{"canceled context", context.Canceled, ErrorCategoryTimeout},
		{"invalid API key", ErrInvalidAPIKey, ErrorCategoryInvalidAPIKey},
		{"wrapped invalid API key", fmt.Errorf("weatherapi: %w", ErrInvalidAPIKey), ErrorCategoryInvalidAPIKey},
		{"not found", ErrNotFound, ErrorCategoryNotFound},
		{"rate limited", ErrRateLimited, ErrorCategoryRateLimited},
		{"upstream failure", fmt.Errorf("%w: HTTP 503", ErrUpstreamFailure), ErrorCategoryUpstream},
		{"malformed", malformed("moonage", "result.age missing"), ErrorCategoryParsing},
		{"circuit open", fmt.Errorf("moonage: %w", circuitbreaker.ErrOpen), ErrorCategoryCircuitOpen},
		{"network in message", errors.New("dial tcp: connection refused"), ErrorCategoryNetwork},
		{"timeout in message", errors.New("i/o timeout"), ErrorCategoryTimeout},
		{"unknown", errors.New("something else"), ErrorCategoryUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CategorizeError(tt.err); got != tt.want {
				t.Errorf("CategorizeError() = %q, want %q", got, tt.want)
			}
		})
	}
}
