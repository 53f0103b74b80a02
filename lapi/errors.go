package lapi

import "fmt"

// ConfigError is returned by NewClient before any network activity.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// TransportError covers connection, DNS, timeout and body read failures.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return "lapi transport: " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// HTTPStatusError is returned when LAPI answers with a non 2xx status.
type HTTPStatusError struct {
	Code int
	// start of the response body, LAPI puts its error message there
	Body string
}

func (e *HTTPStatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("lapi answered with status %d", e.Code)
	}
	return fmt.Sprintf("lapi answered with status %d: %s", e.Code, e.Body)
}

// DecodeError is returned when the body is not a valid decisions stream response.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return "failed to decode decisions stream response: " + e.Err.Error()
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}
