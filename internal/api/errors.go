package api

import "fmt"

// TransportError wraps a network-level failure: the request never produced a
// usable backend response. Callers surface it and leave local state alone.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string { return fmt.Sprintf("%s: transport: %v", e.Op, e.Err) }
func (e *TransportError) Unwrap() error { return e.Err }

// APIError is a well-formed backend refusal: an HTTP error status or an
// envelope with success=false.
type APIError struct {
	Op         string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return fmt.Sprintf("%s: backend returned status %d", e.Op, e.StatusCode)
}
