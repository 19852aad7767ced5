package conversation

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/feedme-go/feedclient/feed"
	"github.com/feedme-go/feedclient/wire"
)

// Option configures a Conversation at construction time, following the
// teacher's functional-options pattern.
type Option func(*Conversation)

// WithConnectTimeout overrides the CONNECT/HANDSHAKE timer duration.
// Defaults to 10s; zero or negative disables both timers.
func WithConnectTimeout(d time.Duration) Option {
	return func(c *Conversation) { c.connectTimeout = d }
}

// WithResponseTimeout overrides the ACTION/FEED response timer duration.
// Defaults to 10s; zero or negative disables both timers.
func WithResponseTimeout(d time.Duration) Option {
	return func(c *Conversation) { c.responseTimeout = d }
}

// WithDisconnectTimeout overrides the underlying Harness's disconnect
// watchdog. Unset, the Harness default applies.
func WithDisconnectTimeout(d time.Duration) Option {
	return func(c *Conversation) {
		c.disconnectTimeoutSet = true
		c.disconnectTimeout = d
	}
}

// WithValidator overrides the server-message schema validator. Defaults
// to wire.NewJSONSchemaValidator().
func WithValidator(v wire.SchemaValidator) Option {
	return func(c *Conversation) { c.validator = v }
}

// WithDeltaApplier overrides the delta interpreter. Defaults to
// feed.JSONPatchApplier.
func WithDeltaApplier(a feed.DeltaApplier) Option {
	return func(c *Conversation) { c.deltas = a }
}

// WithLogger overrides the default logrus logger.
func WithLogger(l *logrus.Logger) Option {
	return func(c *Conversation) { c.log = l }
}
