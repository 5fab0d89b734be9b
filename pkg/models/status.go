package models

import (
	"errors"
	"fmt"
)

// Status is the terminal outcome of a single test case.
type Status string

// Constants for Result Status
const (
	StatusPassed  Status = "passed"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
	StatusError   Status = "error"   // Error outside the test body (setup/teardown)
	StatusXFailed Status = "xfailed" // Expected failure that did fail
	StatusXPassed Status = "xpassed" // Expected failure that passed
)

// ErrUnknownStatus is returned for a status outside the closed set above.
var ErrUnknownStatus = errors.New("unknown result status")

// ParseStatus validates s against the closed status set.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownStatus, s)
	}
	return st, nil
}

// Valid reports whether st is one of the six terminal statuses.
func (st Status) Valid() bool {
	switch st {
	case StatusPassed, StatusFailed, StatusSkipped, StatusError, StatusXFailed, StatusXPassed:
		return true
	default:
		return false
	}
}

// Summary holds the per-run counters. Counters only ever grow.
type Summary struct {
	Tests     int `json:"tests"`
	Collected int `json:"collected"`
	Failures  int `json:"failures"`
	Errors    int `json:"errors"`
	Skips     int `json:"skips"`
	XFailures int `json:"xfailures"`
	XPasses   int `json:"xpasses"`
	NotRun    int `json:"not_run"`
	Passed    int `json:"-"` // Implied by tests minus the other outcomes; kept for checks
}

// record increments tests, collected and exactly one status counter.
func (s *Summary) record(st Status) error {
	switch st {
	case StatusPassed:
		s.Passed++
	case StatusFailed:
		s.Failures++
	case StatusSkipped:
		s.Skips++
	case StatusError:
		s.Errors++
	case StatusXFailed:
		s.XFailures++
	case StatusXPassed:
		s.XPasses++
	default:
		return fmt.Errorf("%w: %q", ErrUnknownStatus, string(st))
	}
	s.Tests++
	s.Collected++
	return nil
}

// Consistent reports whether tests equals the sum of the status counters.
func (s Summary) Consistent() bool {
	return s.Tests == s.Passed+s.Failures+s.Errors+s.Skips+s.XFailures+s.XPasses
}
