package model

import (
	"fmt"
	"net/http"
)

// FormatError reports a descriptor with too few segments
type FormatError struct {
	Raw string
	Len int
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("invalid package descriptor %q: got %d segments", e.Raw, e.Len)
}

// URLError reports a base URL that cannot be parsed or joined
type URLError struct {
	Base string
	Ref  string
	Err  error
}

func (e *URLError) Error() string {
	if e.Ref != "" {
		return fmt.Sprintf("failed to join %q onto %q: %v", e.Ref, e.Base, e.Err)
	}
	return fmt.Sprintf("invalid base url %q: %v", e.Base, e.Err)
}

func (e *URLError) Unwrap() error {
	return e.Err
}

// NetworkError carries a response whose status is not 2xx.
// The body is left open for the caller to read and close.
type NetworkError struct {
	Response *http.Response
}

func (e *NetworkError) Error() string {
	if e.Response == nil {
		return "unexpected response"
	}
	if e.Response.Request != nil && e.Response.Request.URL != nil {
		return fmt.Sprintf("unexpected status %s from %s", e.Response.Status, e.Response.Request.URL)
	}
	return fmt.Sprintf("unexpected status %s", e.Response.Status)
}
