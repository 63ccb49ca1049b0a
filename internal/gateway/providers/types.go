package providers

import "fmt"

// FailureKind classifies why a completion produced no text.
// Every kind leads to the same fallback; the distinction is for logs.
type FailureKind int

const (
	// FailureTransport covers network errors and non-2xx responses
	FailureTransport FailureKind = iota + 1
	// FailureProtocol covers 2xx responses without the expected fields
	FailureProtocol
	// FailureTimeout covers calls that exceeded their deadline
	FailureTimeout
)

// String returns the label used in logs
func (k FailureKind) String() string {
	switch k {
	case FailureTransport:
		return "upstream_transport"
	case FailureProtocol:
		return "upstream_protocol"
	case FailureTimeout:
		return "upstream_timeout"
	default:
		return "unknown"
	}
}

// Failure describes an unsuccessful completion
type Failure struct {
	Kind       FailureKind
	StatusCode int // Upstream HTTP status; zero when no response arrived
	Reason     string
}

func (f *Failure) Error() string {
	if f.StatusCode != 0 {
		return fmt.Sprintf("%s (status %d): %s", f.Kind, f.StatusCode, f.Reason)
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Reason)
}

// Outcome is either a successful completion text or a Failure, never both
type Outcome struct {
	text    string
	failure *Failure
}

// Success builds a successful outcome
func Success(text string) Outcome {
	return Outcome{text: text}
}

// Fail builds a failed outcome
func Fail(kind FailureKind, statusCode int, reason string) Outcome {
	return Outcome{failure: &Failure{Kind: kind, StatusCode: statusCode, Reason: reason}}
}

// OK reports whether the completion succeeded
func (o Outcome) OK() bool {
	return o.failure == nil
}

// Text returns the completion text; empty for failures
func (o Outcome) Text() string {
	return o.text
}

// Failure returns the failure details, or nil on success
func (o Outcome) Failure() *Failure {
	return o.failure
}
