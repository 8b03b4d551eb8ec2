package walletchat

import (
	"context"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/walletchat/address"
	"github.com/opd-ai/walletchat/interfaces"
	"github.com/opd-ai/walletchat/liveness"
)

// AddContact starts tracking addr with status NeverSeen and asks the session
// to probe it. Adding a known contact is a no-op.
func (c *Client) AddContact(ctx context.Context, addr address.Address) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	if addr.IsZero() {
		return errors.Wrap(ErrInvalidAddressFormat, "zero address")
	}

	c.statusMu.Lock()
	d, created := c.tracker.Add(addr)
	if created {
		if err := c.store.SaveContact(ctx, d); err != nil {
			c.tracker.Remove(addr)
			c.statusMu.Unlock()
			return err
		}
	}
	c.statusMu.Unlock()

	if !created {
		return nil
	}
	if watcher, ok := c.session.(interfaces.ContactWatcher); ok {
		if err := watcher.Watch(addr); err != nil {
			logWatchFailure("AddContact", addr, err)
		}
	}

	logrus.WithFields(logrus.Fields{
		"function": "AddContact",
		"address":  addr.Short(),
	}).Info("Contact added")
	return nil
}

// RemoveContact forgets addr's liveness record. Its conversation history is
// kept.
func (c *Client) RemoveContact(ctx context.Context, addr address.Address) error {
	if err := c.checkOpen(); err != nil {
		return err
	}

	c.statusMu.Lock()
	if err := c.store.RemoveContact(ctx, addr); err != nil {
		c.statusMu.Unlock()
		return err
	}
	removed := c.tracker.Remove(addr)
	c.statusMu.Unlock()

	if !removed {
		return nil
	}
	if watcher, ok := c.session.(interfaces.ContactWatcher); ok {
		if err := watcher.Unwatch(addr); err != nil {
			logWatchFailure("RemoveContact", addr, err)
		}
	}

	logrus.WithFields(logrus.Fields{
		"function": "RemoveContact",
		"address":  addr.Short(),
	}).Info("Contact removed")
	return nil
}

// BanContact marks addr Banned. Messages from a banned contact are dropped
// until UnbanContact.
func (c *Client) BanContact(ctx context.Context, addr address.Address) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	if addr.IsZero() {
		return errors.Wrap(ErrInvalidAddressFormat, "zero address")
	}
	return c.applyPolicy(ctx, addr, c.tracker.Ban)
}

// UnbanContact lifts a ban. The contact returns to Offline or NeverSeen.
func (c *Client) UnbanContact(ctx context.Context, addr address.Address) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	return c.applyPolicy(ctx, addr, c.tracker.Unban)
}

func (c *Client) applyPolicy(ctx context.Context, addr address.Address, apply func(address.Address) (liveness.Change, bool)) error {
	c.statusMu.Lock()
	defer c.statusMu.Unlock()

	change, ok := apply(addr)
	if !ok {
		return nil
	}
	err := c.store.SaveContact(ctx, change.Data)
	c.notifyStatusChange(change)
	return err
}

// CheckOnlineStatus returns addr's cached status without touching the
// network. Unknown addresses are NeverSeen.
func (c *Client) CheckOnlineStatus(addr address.Address) (liveness.Status, error) {
	if err := c.checkOpen(); err != nil {
		return liveness.StatusNeverSeen, err
	}
	return c.tracker.Status(addr), nil
}

// Contacts returns every liveness record ordered by address.
func (c *Client) Contacts() ([]liveness.Data, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	return c.tracker.All(), nil
}
