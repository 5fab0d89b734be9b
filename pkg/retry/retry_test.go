package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httperrors "github.com/husmancristian/ta-collector/errors"
)

// recordingPolicy returns the default policy with delays captured instead of waited.
func recordingPolicy(delays *[]time.Duration) Policy {
	p := Default(nil)
	p.NewTimer = Immediate(func(d time.Duration) { *delays = append(*delays, d) })
	return p
}

// cancelTimer cancels the context when a delay starts and never fires.
type cancelTimer struct {
	cancel context.CancelFunc
	c      chan time.Time
}

func (t *cancelTimer) Start(time.Duration) { t.cancel() }
func (t *cancelTimer) Stop()               {}
func (t *cancelTimer) C() <-chan time.Time { return t.c }

func connReset() error {
	return &net.OpError{Op: "read", Net: "tcp", Err: os.NewSyscallError("read", syscall.ECONNRESET)}
}

func TestDoSucceedsOnThirdAttempt(t *testing.T) {
	var delays []time.Duration
	calls := 0
	err := recordingPolicy(&delays).Do(context.Background(), "create-run", func(context.Context) error {
		calls++
		if calls < 3 {
			return connReset()
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, delays)
}

func TestDoExhaustsRetries(t *testing.T) {
	var delays []time.Duration
	calls := 0
	err := recordingPolicy(&delays).Do(context.Background(), "create-run", func(context.Context) error {
		calls++
		return connReset()
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, syscall.ECONNRESET))
	assert.Equal(t, 3, calls)
	assert.Len(t, delays, 2)
}

func TestDoDoesNotRetryPermanentErrors(t *testing.T) {
	var delays []time.Duration
	calls := 0
	err := recordingPolicy(&delays).Do(context.Background(), "create-result", func(context.Context) error {
		calls++
		return &httperrors.APIError{Status: 400, Message: "malformed request"}
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Empty(t, delays)
}

func TestDoStopsWhenContextEnds(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p := Default(nil)
	p.NewTimer = func() backoff.Timer { return &cancelTimer{cancel: cancel, c: make(chan time.Time)} }
	calls := 0
	err := p.Do(ctx, "op", func(context.Context) error {
		calls++
		return connReset()
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestDoWithLargerBudget(t *testing.T) {
	var delays []time.Duration
	p := recordingPolicy(&delays)
	p.MaxAttempts = 5
	calls := 0
	err := p.Do(context.Background(), "upload-artifact", func(context.Context) error {
		calls++
		return connReset()
	})
	require.Error(t, err)
	assert.Equal(t, 5, calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second}, delays)
}

func TestDoReturnsUnwrappedPermanentError(t *testing.T) {
	apiErr := &httperrors.APIError{Status: 409, Message: "conflict"}
	err := Default(nil).Do(context.Background(), "create-run", func(context.Context) error {
		return apiErr
	})
	assert.Same(t, apiErr, err)
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "connection reset", err: connReset(), want: true},
		{name: "connection refused", err: &net.OpError{Op: "dial", Err: os.NewSyscallError("connect", syscall.ECONNREFUSED)}, want: true},
		{name: "network unreachable", err: fmt.Errorf("post: %w", syscall.ENETUNREACH), want: true},
		{name: "dns", err: &net.DNSError{Err: "no such host", Name: "collector.invalid"}, want: true},
		{name: "timeout", err: fmt.Errorf("wrapped: %w", timeoutErr{}), want: true},
		{name: "deadline", err: context.DeadlineExceeded, want: true},
		{name: "canceled", err: context.Canceled, want: false},
		{name: "api error", err: &httperrors.APIError{Status: 503}, want: false},
		{name: "plain error", err: errors.New("bad json"), want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}
