package walletchat

import (
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/opd-ai/walletchat/crypto"
	"github.com/opd-ai/walletchat/interfaces"
	"github.com/opd-ai/walletchat/limits"
	"github.com/opd-ai/walletchat/store"
)

// Options contains configuration options for creating a Client.
type Options struct {
	// MetadataLimit caps the metadata entries of composed messages. Zero or
	// less selects limits.DefaultMaxMetadataEntries.
	MetadataLimit int

	// SendRateLimit bounds outbound messages and read confirmations per
	// second. Zero or rate.Inf disables throttling.
	SendRateLimit rate.Limit
	SendBurst     int

	// TimeProvider is the clock used for stored and confirmation times.
	TimeProvider crypto.TimeProvider

	// Registerer receives the client's counters. Nil leaves them
	// unregistered.
	Registerer prometheus.Registerer

	// Backend persists history and contacts. When nil and DataDir is set, a
	// SQLite database is opened in DataDir. With neither, history lives in
	// memory only. The client closes the backend on Close.
	Backend store.Backend
	DataDir string

	// Transport is passed to Session.Start unchanged.
	Transport *interfaces.TransportConfig
}

// NewOptions creates a new default Options.
func NewOptions() *Options {
	return &Options{
		MetadataLimit: limits.DefaultMaxMetadataEntries,
		SendRateLimit: rate.Inf,
		SendBurst:     1,
		TimeProvider:  crypto.DefaultTimeProvider{},
		Transport:     &interfaces.TransportConfig{},
	}
}

// normalized returns a copy with every unset field given its default.
func (o *Options) normalized() Options {
	out := *NewOptions()
	if o == nil {
		return out
	}

	if o.MetadataLimit > 0 && o.MetadataLimit <= limits.MaxMetadataEntries {
		out.MetadataLimit = o.MetadataLimit
	}
	if o.SendRateLimit > 0 {
		out.SendRateLimit = o.SendRateLimit
	}
	if o.SendBurst > 0 {
		out.SendBurst = o.SendBurst
	}
	out.TimeProvider = crypto.OrDefault(o.TimeProvider)
	out.Registerer = o.Registerer
	out.Backend = o.Backend
	out.DataDir = o.DataDir
	if o.Transport != nil {
		out.Transport = o.Transport
	}
	return out
}
