package fetch

import (
	"errors"
	"fmt"
)

// ErrEndpointRemoved means the endpoint left the registry while its fetch was in flight.
// No state was touched.
var ErrEndpointRemoved = errors.New("endpoint removed")

// TransportError is a network failure or a non-200 response.
type TransportError struct {
	URL        string
	StatusCode int // 0 when no response arrived
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: HTTP %d: %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// status is the operator-facing form recorded on the endpoint.
func (e *TransportError) status() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("HTTP %d: %v", e.StatusCode, e.Err)
	}
	return e.Err.Error()
}

// SchemaError means a response arrived but its document cannot be applied.
type SchemaError struct {
	URL    string
	Reason string
	Err    error
}

func (e *SchemaError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("schema %s: %s: %v", e.URL, e.Reason, e.Err)
	}
	return fmt.Sprintf("schema %s: %s", e.URL, e.Reason)
}

func (e *SchemaError) Unwrap() error { return e.Err }
