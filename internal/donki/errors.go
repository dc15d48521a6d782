package donki

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is returned when the server response lacks a requested item.
var ErrNotFound = errors.New("not found")

// NetworkErrorKind classifies a failed fetch.
type NetworkErrorKind int

const (
	// InvalidAPIKey is HTTP 403.
	InvalidAPIKey NetworkErrorKind = iota + 1
	// TooManyRequests is HTTP 429.
	TooManyRequests
	// HTTPError is any other non-success status.
	HTTPError
	// TransportError is a failure below HTTP: DNS, TLS, resets, timeouts,
	// undecodable bodies.
	TransportError
)

func (k NetworkErrorKind) String() string {
	switch k {
	case InvalidAPIKey:
		return "invalid API key"
	case TooManyRequests:
		return "too many requests"
	case HTTPError:
		return "http error"
	case TransportError:
		return "network error"
	}
	return "unknown"
}

// NetworkError is the error family returned by the network layer.
type NetworkError struct {
	Kind NetworkErrorKind
	// Context names the failed request, e.g. "get CME events for 2022-01-17".
	Context string
	// Status is "<code> <reason>" for HTTP errors.
	Status     string
	StatusCode int
	Err        error
}

func (e *NetworkError) Error() string {
	switch e.Kind {
	case HTTPError:
		return fmt.Sprintf("%s: %s", e.Context, e.Status)
	case TransportError:
		if e.Err != nil {
			return fmt.Sprintf("%s: %v", e.Context, e.Err)
		}
	}
	return fmt.Sprintf("%s: %s", e.Context, e.Kind)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// NewHTTPError classifies a non-success HTTP status.
func NewHTTPError(context string, code int, reason string) *NetworkError {
	e := &NetworkError{Context: context, StatusCode: code}
	switch code {
	case 403:
		e.Kind = InvalidAPIKey
	case 429:
		e.Kind = TooManyRequests
	default:
		e.Kind = HTTPError
	}
	if reason == "" {
		e.Status = fmt.Sprint(code)
	} else {
		e.Status = fmt.Sprintf("%d %s", code, reason)
	}
	return e
}

// NewTransportError wraps a transport-level failure.
func NewTransportError(context string, err error) *NetworkError {
	return &NetworkError{Kind: TransportError, Context: context, Err: err}
}

// CacheError wraps any persistence failure with the failed operation.
type CacheError struct {
	Op  string
	Err error
}

func (e *CacheError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *CacheError) Unwrap() error { return e.Err }

// WrapCacheError wraps err as a CacheError unless it is nil or a
// cancellation.
func WrapCacheError(op string, err error) error {
	if err == nil || IsCancellation(err) {
		return err
	}
	var ce *CacheError
	if errors.As(err, &ce) {
		return err
	}
	return &CacheError{Op: op, Err: err}
}

// IsCancellation reports whether err is a caller cancellation rather than
// a failure. Cancellations are never classified as network or cache errors.
func IsCancellation(err error) bool {
	if err == nil {
		return false
	}
	var ne *NetworkError
	if errors.As(err, &ne) {
		return false
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
