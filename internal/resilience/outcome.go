package resilience

// OutcomeKind classifies a single fetch attempt. Retry policy is a pure
// function of (attempt count, outcome kind), not of thrown errors.
type OutcomeKind int

const (
	// Success means the attempt produced a usable response.
	Success OutcomeKind = iota
	// NotModified means a conditional GET returned 304; the cached
	// extraction should be reused.
	NotModified
	// Retryable means a transient failure (timeout, 5xx, 429).
	Retryable
	// Fatal means the attempt failed permanently for this URL
	// (4xx other than 408/429, policy denial, malformed URL).
	Fatal
)

// String returns the outcome kind name.
func (k OutcomeKind) String() string {
	switch k {
	case Success:
		return "success"
	case NotModified:
		return "not_modified"
	case Retryable:
		return "retryable"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Outcome is the result of one fetch attempt.
type Outcome struct {
	Kind       OutcomeKind
	StatusCode int
	Body       []byte
	ETag       string
	LastMod    string
	Err        error
}

// ShouldRetry reports whether another attempt is warranted given the
// outcome and how many attempts have already been made.
func (o Outcome) ShouldRetry(attempt, maxAttempts int) bool {
	return o.Kind == Retryable && attempt < maxAttempts-1
}

// RateLimited reports whether the attempt was rejected with 429 or 403,
// which feeds the adaptive limiter's error window.
func (o Outcome) RateLimited() bool {
	return o.StatusCode == 429 || o.StatusCode == 403
}
