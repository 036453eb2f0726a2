package dispatcher

import (
	"errors"
	"fmt"
	"strings"

	"failover-dispatcher/internal/endpoint"
)

var (
	// ErrNoEndpointAvailable is returned when the policy's Next yields
	// nothing mid-request, e.g. every endpoint is marked unhealthy. It ends
	// the request immediately; further retries would be meaningless.
	ErrNoEndpointAvailable = errors.New("no endpoint available from policy")

	// ErrNilOperation is returned when Execute is called without an
	// operation.
	ErrNilOperation = errors.New("operation must not be nil")
)

// ConfigError reports an invalid dispatcher configuration. It is always
// raised synchronously at construction, never at request time.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return "invalid dispatcher configuration: " + e.Reason
}

func configErrorf(format string, args ...any) *ConfigError {
	return &ConfigError{Reason: fmt.Sprintf(format, args...)}
}

// NoResultError is the aggregate exhaustion failure: the attempt loop ran
// out of retry budget or endpoints without a single success. It carries
// the configured endpoint list and the de-duplicated failure type names
// observed, in first-seen order, for diagnostics.
type NoResultError struct {
	Endpoints    []endpoint.Endpoint
	FailureTypes []string
}

func (e *NoResultError) Error() string {
	types := "none"
	if len(e.FailureTypes) > 0 {
		types = strings.Join(e.FailureTypes, ", ")
	}
	return fmt.Sprintf("no result: all attempts against %d endpoint(s) failed (failure types: %s)",
		len(e.Endpoints), types)
}

// failureRecord accumulates the retryable failures of one request. It is
// created fresh per Execute call and discarded at its end.
type failureRecord struct {
	failures []error
	types    []string
	seen     map[string]struct{}
}

func (r *failureRecord) add(err error) {
	r.failures = append(r.failures, err)

	name := fmt.Sprintf("%T", err)
	if r.seen == nil {
		r.seen = make(map[string]struct{})
	}
	if _, dup := r.seen[name]; dup {
		return
	}
	r.seen[name] = struct{}{}
	r.types = append(r.types, name)
}
