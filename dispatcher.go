package walletchat

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

// dispatcher runs notifications one at a time in the order they were
// enqueued. Notifications still queued when its context ends are dropped.
type dispatcher struct {
	mu     sync.Mutex
	queue  []func()
	signal chan struct{}
}

func newDispatcher() *dispatcher {
	return &dispatcher{signal: make(chan struct{}, 1)}
}

func (d *dispatcher) enqueue(fn func()) {
	d.mu.Lock()
	d.queue = append(d.queue, fn)
	d.mu.Unlock()

	select {
	case d.signal <- struct{}{}:
	default:
	}
}

func (d *dispatcher) run(ctx context.Context) error {
	for {
		d.mu.Lock()
		queue := d.queue
		d.queue = nil
		d.mu.Unlock()

		for _, fn := range queue {
			if ctx.Err() != nil {
				return nil
			}
			d.invoke(fn)
		}

		select {
		case <-d.signal:
		case <-ctx.Done():
			return nil
		}
	}
}

func (d *dispatcher) invoke(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logrus.WithFields(logrus.Fields{
				"function": "dispatcher.invoke",
				"panic":    r,
			}).Error("Callback panicked")
		}
	}()
	fn()
}
