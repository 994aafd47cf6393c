package upstream

import (
	"errors"
	"fmt"
)

// Kind classifies why a single candidate request failed.
type Kind string

const (
	KindTransport Kind = "transport" // dial, TLS, timeout, cancelled
	KindStatus    Kind = "status"    // non-2xx HTTP status
	KindEnvelope  Kind = "envelope"  // {code, message} with a non-success code
	KindDecode    Kind = "decode"    // malformed or unexpected JSON
	KindBreaker   Kind = "breaker"   // candidate circuit is open
	KindRateLimit Kind = "ratelimit" // outbound pacing would exceed the timeout
)

// FetchError is the failure of one candidate. It is recovered locally by the
// caller falling through to the next candidate.
type FetchError struct {
	Candidate string
	Kind      Kind
	Status    int    // HTTP status, KindStatus only
	Code      string // envelope code, KindEnvelope only
	Message   string // envelope message, KindEnvelope only
	Err       error
}

func (e *FetchError) Error() string {
	switch e.Kind {
	case KindStatus:
		return fmt.Sprintf("%s: http status %d", e.Candidate, e.Status)
	case KindEnvelope:
		return fmt.Sprintf("%s: upstream code %s: %s", e.Candidate, e.Code, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Candidate, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Candidate, e.Kind)
}

func (e *FetchError) Unwrap() error { return e.Err }

// KindOf returns the Kind of err, or KindTransport for foreign errors.
func KindOf(err error) Kind {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindTransport
}

// healthyFailure reports whether err says nothing about upstream health:
// the service answered, just not with usable data for this uid.
func healthyFailure(err error) bool {
	if err == nil {
		return true
	}
	switch KindOf(err) {
	case KindEnvelope, KindDecode:
		return true
	}
	return false
}
