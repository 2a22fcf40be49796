package recommend

import (
	"context"
	"errors"
	"fmt"

	"github.com/raphalvezz/loocac/internal/features"
	"github.com/raphalvezz/loocac/internal/pkg/circuit"
	"github.com/raphalvezz/loocac/internal/policy"
	"github.com/raphalvezz/loocac/internal/registry"
)

var (
	// ErrPolicyTimeout means the policy call missed its deadline. Retryable.
	ErrPolicyTimeout = errors.New("policy query timed out")
	// ErrPolicyUnavailable means the breaker for the regime is open. Retryable.
	ErrPolicyUnavailable = errors.New("policy unavailable")
)

// PolicyQueryError wraps a failed or malformed policy call.
type PolicyQueryError struct {
	Call      string
	Err       error
	Retryable bool
}

func (e *PolicyQueryError) Error() string {
	return fmt.Sprintf("policy %s: %v", e.Call, e.Err)
}

func (e *PolicyQueryError) Unwrap() error { return e.Err }

// Failure codes carried in error responses and the audit log.
const (
	CodeOK                = "OK"
	CodeNotConfigured     = "NOT_CONFIGURED"
	CodeEncoding          = "ENCODING_ERROR"
	CodeSchemaMismatch    = "SCHEMA_MISMATCH"
	CodePolicyError       = "POLICY_ERROR"
	CodePolicyTimeout     = "POLICY_TIMEOUT"
	CodePolicyUnavailable = "POLICY_UNAVAILABLE"
	CodeCanceled          = "CANCELED"
	CodeInternal          = "INTERNAL"
)

// Code maps an error from Recommend to its failure code.
func Code(err error) string {
	var pq *PolicyQueryError
	switch {
	case err == nil:
		return CodeOK
	case errors.Is(err, registry.ErrModelNotLoaded):
		return CodeNotConfigured
	case features.IsEncodingError(err):
		return CodeEncoding
	case errors.Is(err, features.ErrSchemaMismatch), errors.Is(err, features.ErrNotFitted), errors.Is(err, policy.ErrWidth):
		return CodeSchemaMismatch
	case errors.Is(err, ErrPolicyTimeout):
		return CodePolicyTimeout
	case errors.Is(err, ErrPolicyUnavailable), errors.Is(err, circuit.ErrOpen):
		return CodePolicyUnavailable
	case errors.As(err, &pq):
		return CodePolicyError
	case errors.Is(err, context.Canceled):
		return CodeCanceled
	}
	return CodeInternal
}

// Retryable reports whether the caller may retry the same request.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrPolicyTimeout) || errors.Is(err, ErrPolicyUnavailable) {
		return true
	}
	var pq *PolicyQueryError
	if errors.As(err, &pq) {
		return pq.Retryable
	}
	return false
}
