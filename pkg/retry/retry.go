// Package retry runs remote calls with bounded exponential backoff on
// transient, network-class failures.
package retry

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"

	httperrors "github.com/husmancristian/ta-collector/errors"
)

const (
	// DefaultMaxAttempts is one initial attempt plus two retries.
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = time.Second
	DefaultFactor      = 2.0
)

// Classifier reports whether err is worth retrying.
type Classifier func(err error) bool

// Policy is a retry policy shared by every remote operation.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Factor      float64
	Classify    Classifier
	// NewTimer builds the timer that waits out each delay. Nil uses a real timer.
	NewTimer func() backoff.Timer
	Logger   *slog.Logger
}

// Default returns the policy used for the collection server: three attempts
// with delays of 1s and 2s between them.
func Default(logger *slog.Logger) Policy {
	return Policy{
		MaxAttempts: DefaultMaxAttempts,
		BaseDelay:   DefaultBaseDelay,
		Factor:      DefaultFactor,
		Classify:    IsTransient,
		Logger:      logger,
	}
}

// schedule returns the backoff for one Do call. Delays are exact:
// BaseDelay, BaseDelay*Factor, and so on, with no jitter and no elapsed-time cap.
func (p Policy) schedule(ctx context.Context) backoff.BackOff {
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.BaseDelay
	exp.Multiplier = p.Factor
	exp.RandomizationFactor = 0
	exp.MaxInterval = time.Hour
	exp.MaxElapsedTime = 0
	exp.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(maxAttempts-1)), ctx)
}

// Do calls fn until it succeeds, returns a non-transient error, or the
// attempts are used up. The last error is returned.
func (p Policy) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	classify := p.Classify
	if classify == nil {
		classify = IsTransient
	}
	var timer backoff.Timer
	if p.NewTimer != nil {
		timer = p.NewTimer()
	}

	attempt := 0
	operation := func() error {
		attempt++
		err := fn(ctx)
		if err != nil && !classify(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, next time.Duration) {
		if p.Logger == nil {
			return
		}
		p.Logger.Warn("Transient failure, retrying",
			slog.String("operation", op),
			slog.Int("attempt", attempt),
			slog.Duration("backoff", next),
			slog.String("error", err.Error()),
		)
	}
	return backoff.RetryNotifyWithTimer(operation, p.schedule(ctx), notify, timer)
}

// immediateTimer fires as soon as it is started.
type immediateTimer struct {
	c      chan time.Time
	record func(time.Duration)
}

func (t *immediateTimer) Start(d time.Duration) {
	if t.record != nil {
		t.record(d)
	}
	t.c <- time.Now()
}

func (t *immediateTimer) Stop() {}

func (t *immediateTimer) C() <-chan time.Time { return t.c }

// Immediate returns a timer constructor that skips every delay and passes
// each requested delay to record, which may be nil.
func Immediate(record func(time.Duration)) func() backoff.Timer {
	return func() backoff.Timer {
		return &immediateTimer{c: make(chan time.Time, 1), record: record}
	}
}

// IsTransient reports whether err is a network-class failure: connection
// reset, refused or aborted, a timeout, a DNS failure, an unreachable
// network or host, or a connection dropped mid-response. Errors returned by
// the server itself are never transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *httperrors.APIError
	if errors.As(err, &apiErr) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case syscall.ECONNRESET, syscall.ECONNREFUSED, syscall.ECONNABORTED,
			syscall.ETIMEDOUT, syscall.ENETUNREACH, syscall.EHOSTUNREACH, syscall.EPIPE:
			return true
		}
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return true
	}
	return errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF)
}
