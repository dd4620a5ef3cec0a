package domain

import (
	"fmt"
	"time"
)

// Status is the prober's classification of a service.
// Any status may follow any other on the next sweep.
type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
	StatusProblem Status = "problem"
)

// IsValid reports whether s is one of the three observable states.
func (s Status) IsValid() bool {
	switch s {
	case StatusOnline, StatusOffline, StatusProblem:
		return true
	}
	return false
}

// ParseStatus converts a stored value back into a Status.
func ParseStatus(v string) (Status, error) {
	s := Status(v)
	if !s.IsValid() {
		return "", fmt.Errorf("unknown status %q", v)
	}
	return s, nil
}

// Outcome is the raw result of one outbound check.
type Outcome int

const (
	OutcomeResponded Outcome = iota // the server answered with a status code
	OutcomeTimeout                  // no answer within the probe timeout
	OutcomeError                    // DNS, refused connection, TLS and friends
)

// CheckResult is what the prober writes back to the registry.
type CheckResult struct {
	Status    Status
	CheckedAt time.Time

	// ResponseTimeMs is nil when no response time should be shown.
	ResponseTimeMs *float64

	// Record is true when a response-time sample accompanies the result.
	Record bool
}

// Classify maps one check onto a CheckResult.
//
// Responded below 400 is online, unless slow > 0 and elapsed exceeds it.
// Responded at 400 or above is problem. A timeout is problem and records
// the timeout itself as the response time. Any other error is offline with
// the response time cleared.
func Classify(outcome Outcome, statusCode int, elapsed, timeout, slow time.Duration, at time.Time) CheckResult {
	switch outcome {
	case OutcomeResponded:
		if elapsed > timeout && timeout > 0 {
			elapsed = timeout
		}
		ms := millis(elapsed)
		st := StatusOnline
		if statusCode >= 400 || (slow > 0 && elapsed > slow) {
			st = StatusProblem
		}
		return CheckResult{Status: st, CheckedAt: at, ResponseTimeMs: &ms, Record: true}
	case OutcomeTimeout:
		ms := millis(timeout)
		return CheckResult{Status: StatusProblem, CheckedAt: at, ResponseTimeMs: &ms, Record: true}
	default:
		return CheckResult{Status: StatusOffline, CheckedAt: at}
	}
}

func millis(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000.0
}
