// Package liveness tracks which contacts are currently reachable.
//
// The network layer reports probe results (a contact pinged us, answered our
// ping, or failed to answer in time) and the tracker folds them into one of
// four statuses per contact. Banned is a policy status set only by Ban.
//
// Example:
//
//	tr := liveness.NewTracker(nil)
//	tr.Add(addr)
//	if change, ok := tr.Observe(addr, liveness.ProbePong); ok {
//	    fmt.Println(change.Old, "->", change.New)
//	}
package liveness

import (
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/walletchat/address"
	"github.com/opd-ai/walletchat/crypto"
)

// Status is a contact's reachability.
type Status uint8

const (
	// StatusNeverSeen means no probe has ever succeeded.
	StatusNeverSeen Status = iota
	// StatusOnline means the last probe succeeded.
	StatusOnline
	// StatusOffline means the contact was seen before but the last probe
	// timed out.
	StatusOffline
	// StatusBanned is set by policy and cleared only by Unban.
	StatusBanned
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusNeverSeen:
		return "never_seen"
	case StatusOnline:
		return "online"
	case StatusOffline:
		return "offline"
	case StatusBanned:
		return "banned"
	default:
		return "unknown"
	}
}

// Probe is the outcome of one liveness check.
type Probe uint8

const (
	// ProbePing means the contact pinged us.
	ProbePing Probe = iota + 1
	// ProbePong means the contact answered our ping.
	ProbePong
	// ProbeTimeout means the contact did not answer in time.
	ProbeTimeout
)

// String returns the probe name.
func (p Probe) String() string {
	switch p {
	case ProbePing:
		return "ping"
	case ProbePong:
		return "pong"
	case ProbeTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Data is a snapshot of one contact's liveness record.
type Data struct {
	Address   address.Address
	Status    Status
	LastSeen  time.Time
	CreatedAt time.Time
}

// Seen reports whether a probe ever succeeded for the contact.
func (d Data) Seen() bool { return !d.LastSeen.IsZero() }

// LastActive is the later of LastSeen and CreatedAt.
func (d Data) LastActive() time.Time {
	if d.LastSeen.After(d.CreatedAt) {
		return d.LastSeen
	}
	return d.CreatedAt
}

// Change describes one status transition.
type Change struct {
	Old  Status
	New  Status
	Data Data
}

// Tracker holds the liveness record of every known contact. It is safe for
// concurrent use.
type Tracker struct {
	mu           sync.RWMutex
	contacts     map[address.Address]*Data
	timeProvider crypto.TimeProvider
}

// NewTracker creates an empty tracker. A nil time provider uses the system
// clock.
func NewTracker(tp crypto.TimeProvider) *Tracker {
	return &Tracker{
		contacts:     make(map[address.Address]*Data),
		timeProvider: crypto.OrDefault(tp),
	}
}

func (t *Tracker) now() time.Time {
	return crypto.Millis(t.timeProvider.Now())
}

// Add creates a NeverSeen record for addr. It returns the record and whether
// it was created; adding a known contact leaves its record untouched.
func (t *Tracker) Add(addr address.Address) (Data, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if d, ok := t.contacts[addr]; ok {
		return *d, false
	}
	d := &Data{Address: addr, Status: StatusNeverSeen, CreatedAt: t.now()}
	t.contacts[addr] = d

	logrus.WithFields(logrus.Fields{
		"function": "Add",
		"address":  addr.Short(),
	}).Debug("Contact added to liveness tracker")

	return *d, true
}

// Remove deletes the record for addr and reports whether one existed.
func (t *Tracker) Remove(addr address.Address) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.contacts[addr]; !ok {
		return false
	}
	delete(t.contacts, addr)

	logrus.WithFields(logrus.Fields{
		"function": "Remove",
		"address":  addr.Short(),
	}).Debug("Contact removed from liveness tracker")
	return true
}

// Restore inserts a persisted record without reporting a change. An Online
// record comes back as Offline, since nothing has been probed yet.
func (t *Tracker) Restore(d Data) {
	if d.Status == StatusOnline {
		d.Status = StatusOffline
	}
	d.LastSeen = crypto.Millis(d.LastSeen)
	d.CreatedAt = crypto.Millis(d.CreatedAt)

	t.mu.Lock()
	t.contacts[d.Address] = &d
	t.mu.Unlock()
}

// Observe applies a probe result. It returns the transition and true when the
// status changed. A valid probe for an unknown address creates its record.
func (t *Tracker) Observe(addr address.Address, probe Probe) (Change, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch probe {
	case ProbePing, ProbePong, ProbeTimeout:
	default:
		logrus.WithFields(logrus.Fields{
			"function": "Observe",
			"address":  addr.Short(),
			"probe":    probe,
		}).Warn("Ignoring unknown probe result")
		return Change{}, false
	}

	now := t.now()
	d, known := t.contacts[addr]
	if !known {
		d = &Data{Address: addr, Status: StatusNeverSeen, CreatedAt: now}
		t.contacts[addr] = d
	}
	old := d.Status

	if probe == ProbeTimeout {
		switch {
		case d.Status == StatusBanned:
		case d.Seen():
			d.Status = StatusOffline
		default:
			d.Status = StatusNeverSeen
		}
	} else {
		d.LastSeen = now
		if d.Status != StatusBanned {
			d.Status = StatusOnline
		}
	}

	if d.Status == old {
		return Change{}, false
	}

	logrus.WithFields(logrus.Fields{
		"function":   "Observe",
		"address":    addr.Short(),
		"probe":      probe.String(),
		"old_status": old.String(),
		"new_status": d.Status.String(),
	}).Info("Contact status changed")

	return Change{Old: old, New: d.Status, Data: *d}, true
}

// Ban marks addr Banned, creating the record if needed.
func (t *Tracker) Ban(addr address.Address) (Change, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	d, ok := t.contacts[addr]
	if !ok {
		d = &Data{Address: addr, Status: StatusNeverSeen, CreatedAt: t.now()}
		t.contacts[addr] = d
	}
	old := d.Status
	if old == StatusBanned {
		return Change{}, false
	}
	d.Status = StatusBanned

	logrus.WithFields(logrus.Fields{
		"function":   "Ban",
		"address":    addr.Short(),
		"old_status": old.String(),
	}).Info("Contact banned")

	return Change{Old: old, New: StatusBanned, Data: *d}, true
}

// Unban lifts a ban. The contact becomes Offline if it was ever seen and
// NeverSeen otherwise; the next successful probe brings it Online.
func (t *Tracker) Unban(addr address.Address) (Change, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	d, ok := t.contacts[addr]
	if !ok || d.Status != StatusBanned {
		return Change{}, false
	}
	if d.Seen() {
		d.Status = StatusOffline
	} else {
		d.Status = StatusNeverSeen
	}

	logrus.WithFields(logrus.Fields{
		"function":   "Unban",
		"address":    addr.Short(),
		"new_status": d.Status.String(),
	}).Info("Contact unbanned")

	return Change{Old: StatusBanned, New: d.Status, Data: *d}, true
}

// Status returns the cached status, or StatusNeverSeen for unknown contacts.
func (t *Tracker) Status(addr address.Address) Status {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if d, ok := t.contacts[addr]; ok {
		return d.Status
	}
	return StatusNeverSeen
}

// Get returns the record for addr.
func (t *Tracker) Get(addr address.Address) (Data, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	d, ok := t.contacts[addr]
	if !ok {
		return Data{}, false
	}
	return *d, true
}

// All returns every record ordered by address bytes.
func (t *Tracker) All() []Data {
	t.mu.RLock()
	out := make([]Data, 0, len(t.contacts))
	for _, d := range t.contacts {
		out = append(out, *d)
	}
	t.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].Address.Compare(out[j].Address) < 0
	})
	return out
}

// Len returns the number of tracked contacts.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.contacts)
}
