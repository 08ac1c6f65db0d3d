package resilience

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
)

// TransientError wraps an error that is safe to retry (429, 5xx, timeout,
// connection reset).
type TransientError struct {
	Err        error
	StatusCode int
}

func (e *TransientError) Error() string {
	return e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// NewTransientError wraps an error as transient with an optional HTTP status code.
func NewTransientError(err error, statusCode int) *TransientError {
	return &TransientError{Err: err, StatusCode: statusCode}
}

// PolicyDeniedError marks a URL disallowed by robots.txt. Terminal for that
// URL; never retried.
type PolicyDeniedError struct {
	URL  string
	Rule string
}

func (e *PolicyDeniedError) Error() string {
	if e.Rule != "" {
		return fmt.Sprintf("robots policy denies %s (rule %q)", e.URL, e.Rule)
	}
	return fmt.Sprintf("robots policy denies %s", e.URL)
}

// IsPolicyDenied reports whether err carries a PolicyDeniedError.
func IsPolicyDenied(err error) bool {
	var pd *PolicyDeniedError
	return errors.As(err, &pd)
}

// DomainBlockedError marks a domain tripped by the rate limiter for the
// rest of the run. Recovery requires operator action on the next run.
type DomainBlockedError struct {
	Domain string
	Reason string
}

func (e *DomainBlockedError) Error() string {
	return fmt.Sprintf("domain %s blocked: %s", e.Domain, e.Reason)
}

// IsDomainBlocked reports whether err carries a DomainBlockedError.
func IsDomainBlocked(err error) bool {
	var db *DomainBlockedError
	return errors.As(err, &db)
}

// MissingFieldError marks a detail extraction that could not produce the
// fields required to form a record at all. Selector misses on optional
// fields degrade to partial records instead and never raise this.
type MissingFieldError struct {
	URL    string
	Fields []string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("extraction of %s missing required fields: %s", e.URL, strings.Join(e.Fields, ", "))
}

// IsTransient returns true if the error (or any error in its chain) is a
// TransientError, or matches common transient network patterns.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var te *TransientError
	if errors.As(err, &te) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	// String heuristics for errors wrapped by HTTP clients.
	msg := strings.ToLower(err.Error())
	for _, p := range []string{
		"connection reset by peer",
		"broken pipe",
		"temporary failure in name resolution",
		"no such host",
		"tls handshake timeout",
		"i/o timeout",
		"server closed idle connection",
	} {
		if strings.Contains(msg, p) {
			return true
		}
	}

	return false
}

// IsTransientHTTPStatus returns true if the status code indicates a
// server-side condition that is safe to retry.
func IsTransientHTTPStatus(statusCode int) bool {
	switch statusCode {
	case 408, 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}
