package api

import "fmt"

// StatusError is returned when the backend answers with a non-2xx status
// and no structured rejection could be decoded from the body.
type StatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("api: %s returned status %d: %s", e.URL, e.StatusCode, e.Body)
}

// RemoteRejection is an application-level refusal the backend expressed in
// its response payload, such as an invalid passcode or an unknown account.
// The reason is suitable for showing to the user verbatim.
type RemoteRejection struct {
	Reason string
}

func (e *RemoteRejection) Error() string { return e.Reason }

// TransportError wraps a failure that happened before any response arrived:
// dial errors, timeouts, malformed response bodies.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("api: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
