// Package transport delivers snapshot batches to the Speculare server over HTTP.
package transport

import (
	"fmt"
	"net/http"
)

// StatusClass is the classification of a delivery attempt.
type StatusClass string

const (
	// Unknown is returned alongside an error when no response was received.
	Unknown StatusClass = "unknown"

	// Accepted means the server stored the batch; the cache may be cleared.
	Accepted StatusClass = "accepted"

	// RetryableServerState means the server is temporarily unable to accept the batch.
	RetryableServerState StatusClass = "retryable"

	// Rejected means the server refused the batch.
	Rejected StatusClass = "rejected"

	// PreconditionFailed means the host is unknown to the server and must register again.
	PreconditionFailed StatusClass = "precondition_failed"
)

// Classify maps an HTTP status code to a StatusClass.
func Classify(code int) StatusClass {
	switch {
	case code == http.StatusOK:
		return Accepted
	case code == http.StatusPreconditionFailed:
		return PreconditionFailed
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests, code >= 500:
		return RetryableServerState
	default:
		return Rejected
	}
}

// BuildError reports a failure to build a request. It cannot be fixed by
// retrying and is fatal for the agent.
type BuildError struct {
	Op  string
	Err error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("building %s request: %v", e.Op, e.Err)
}

func (e *BuildError) Unwrap() error {
	return e.Err
}

// StatusError reports a non-success HTTP response.
type StatusError struct {
	StatusCode int
	Class      StatusClass
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("server returned %d (%s): %s", e.StatusCode, e.Class, e.Body)
	}
	return fmt.Sprintf("server returned %d (%s)", e.StatusCode, e.Class)
}
