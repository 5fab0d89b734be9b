package models

import (
	"errors"
	"fmt"
)

var (
	// ErrRunNotFinalized is returned when the run timer was never stopped.
	ErrRunNotFinalized = errors.New("run is not finalized: timer still running")
	// ErrResultNotFinalized is returned when a result timer was never stopped.
	ErrResultNotFinalized = errors.New("result is not finalized: timer still running")
)

// CheckFinalized returns an error unless run and every result have stopped
// their timers. Archives and uploads only ever see finalized records.
func CheckFinalized(run *Run, results []*Result) error {
	if run == nil {
		return errors.New("run is nil")
	}
	if !run.Timed() {
		return fmt.Errorf("%w: %s", ErrRunNotFinalized, run.ID())
	}
	for _, res := range results {
		if res == nil {
			return errors.New("result is nil")
		}
		if !res.Timed() {
			return fmt.Errorf("%w: %s (%s)", ErrResultNotFinalized, res.ID(), res.TestID)
		}
	}
	return nil
}
