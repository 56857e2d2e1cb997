package scheduler

// ErrorClass is the caller-supplied classification of a failed provider
// call. The scheduler never inspects raw provider errors; the transport
// layer resolves them into one of these classes before reporting.
type ErrorClass string

const (
	ErrorRateLimitExceeded      ErrorClass = "RATE_LIMIT_EXCEEDED"
	ErrorQuotaExhausted         ErrorClass = "QUOTA_EXHAUSTED"
	ErrorModelCapacityExhausted ErrorClass = "MODEL_CAPACITY_EXHAUSTED"
	ErrorServerError            ErrorClass = "SERVER_ERROR"
	ErrorUnknown                ErrorClass = "UNKNOWN"
)

// ParseErrorClass converts a string into an ErrorClass. Unrecognized
// values degrade to ErrorUnknown and use its default backoff.
func ParseErrorClass(s string) ErrorClass {
	switch ErrorClass(s) {
	case ErrorRateLimitExceeded, ErrorQuotaExhausted, ErrorModelCapacityExhausted, ErrorServerError:
		return ErrorClass(s)
	default:
		return ErrorUnknown
	}
}

// IsRateLimit reports whether the class represents some form of limit
// being hit (transient rate limit, quota exhaustion or capacity
// exhaustion) rather than an outright failure. The health scorer applies
// the milder rate-limit penalty for these.
func (c ErrorClass) IsRateLimit() bool {
	switch c {
	case ErrorRateLimitExceeded, ErrorQuotaExhausted, ErrorModelCapacityExhausted:
		return true
	default:
		return false
	}
}
