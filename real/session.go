package real

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/walletchat/address"
	"github.com/opd-ai/walletchat/interfaces"
)

// Sleeper provides an abstraction over time.Sleep for deterministic testing.
type Sleeper interface {
	// Sleep pauses execution for the specified duration.
	Sleep(d time.Duration)
}

// DefaultSleeper implements Sleeper using time.Sleep.
type DefaultSleeper struct{}

// Sleep pauses execution for the specified duration using time.Sleep.
func (DefaultSleeper) Sleep(d time.Duration) {
	time.Sleep(d)
}

// RetryBackoffStep is the linear backoff unit between send attempts.
const RetryBackoffStep = 500 * time.Millisecond

// RetryingSession decorates a network session with per-attempt timeouts and
// retries.
type RetryingSession struct {
	inner   interfaces.Session
	config  interfaces.SessionConfig
	mu      sync.RWMutex
	sleeper Sleeper
}

var (
	_ interfaces.Session        = (*RetryingSession)(nil)
	_ interfaces.ContactWatcher = (*RetryingSession)(nil)
)

// NewRetryingSession wraps inner. The configuration is copied.
func NewRetryingSession(inner interfaces.Session, config *interfaces.SessionConfig) *RetryingSession {
	logrus.WithFields(logrus.Fields{
		"function": "NewRetryingSession",
		"timeout":  config.NetworkTimeout,
		"retries":  config.RetryAttempts,
	}).Info("Creating retrying network session")

	return &RetryingSession{
		inner:   inner,
		config:  *config,
		sleeper: DefaultSleeper{},
	}
}

// SetSleeper sets a custom Sleeper implementation (primarily for testing).
func (r *RetryingSession) SetSleeper(s Sleeper) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sleeper = s
}

// Start starts the wrapped session.
func (r *RetryingSession) Start(ctx context.Context, cfg *interfaces.TransportConfig) error {
	return r.inner.Start(ctx, cfg)
}

// Send hands payload to the wrapped session, retrying failed attempts.
func (r *RetryingSession) Send(ctx context.Context, to address.Address, payload []byte) error {
	attempts := r.config.RetryAttempts + 1

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		err := r.sendOnce(ctx, to, payload)
		if err == nil {
			logDeliverySuccess(to, len(payload), attempt+1)
			return nil
		}
		lastErr = err

		if ctx.Err() != nil || errors.Is(err, interfaces.ErrSessionClosed) {
			break
		}
		if attempt < attempts-1 {
			logDeliveryRetry(to, attempt+1, err)
			if err := r.waitBeforeRetry(ctx, attempt); err != nil {
				return r.handleDeliveryFailure(to, attempt+1, err)
			}
		}
	}

	return r.handleDeliveryFailure(to, attempts, lastErr)
}

func (r *RetryingSession) sendOnce(ctx context.Context, to address.Address, payload []byte) error {
	if timeout := r.config.Timeout(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return r.inner.Send(ctx, to, payload)
}

func logDeliverySuccess(to address.Address, payloadSize, attempt int) {
	logrus.WithFields(logrus.Fields{
		"function":     "RetryingSession.Send",
		"address":      to.Short(),
		"payload_size": payloadSize,
		"attempt":      attempt,
	}).Debug("Payload handed to network")
}

func logDeliveryRetry(to address.Address, attempt int, err error) {
	logrus.WithFields(logrus.Fields{
		"function": "RetryingSession.Send",
		"address":  to.Short(),
		"attempt":  attempt,
		"error":    err.Error(),
	}).Warn("Send attempt failed, retrying")
}

// waitBeforeRetry implements linear backoff between retries. It returns
// ctx's error if ctx ends first.
func (r *RetryingSession) waitBeforeRetry(ctx context.Context, attempt int) error {
	r.mu.RLock()
	sleeper := r.sleeper
	r.mu.RUnlock()

	done := make(chan struct{})
	go func() {
		sleeper.Sleep(time.Duration(attempt+1) * RetryBackoffStep)
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *RetryingSession) handleDeliveryFailure(to address.Address, attempts int, lastErr error) error {
	logrus.WithFields(logrus.Fields{
		"function": "RetryingSession.Send",
		"address":  to.Short(),
		"attempts": attempts,
		"error":    lastErr.Error(),
	}).Error("All send attempts failed")

	return errors.Wrapf(lastErr, "send to %s failed", to.Short())
}

// Events returns the wrapped session's event stream.
func (r *RetryingSession) Events() <-chan interfaces.InboundEvent { return r.inner.Events() }

// LocalAddress returns the wrapped session's address.
func (r *RetryingSession) LocalAddress() address.Address { return r.inner.LocalAddress() }

// Watch forwards to the wrapped session when it watches contacts.
func (r *RetryingSession) Watch(addr address.Address) error {
	if w, ok := r.inner.(interfaces.ContactWatcher); ok {
		return w.Watch(addr)
	}
	return nil
}

// Unwatch forwards to the wrapped session when it watches contacts.
func (r *RetryingSession) Unwatch(addr address.Address) error {
	if w, ok := r.inner.(interfaces.ContactWatcher); ok {
		return w.Unwatch(addr)
	}
	return nil
}

// Close closes the wrapped session.
func (r *RetryingSession) Close() error {
	logrus.WithFields(logrus.Fields{
		"function": "RetryingSession.Close",
	}).Info("Closing network session")
	return r.inner.Close()
}
