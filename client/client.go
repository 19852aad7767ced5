// Package client is the application-facing entry point: it wires a
// Coordinator over a Conversation over a transport.Harness around
// whatever transport.Transport the application (or one of the
// tcptransport/sctptransport reference adapters) supplies, following the
// teacher's NewClient(opts...)/Connect/Disconnect shape.
package client

import (
	"encoding/json"
	"net"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/feedme-go/feedclient/coordinator"
	"github.com/feedme-go/feedclient/feed"
	"github.com/feedme-go/feedclient/transport"
	"github.com/feedme-go/feedclient/transport/sctptransport"
	"github.com/feedme-go/feedclient/transport/tcptransport"
)

const (
	defaultConnectTimeout    = 10 * time.Second
	defaultResponseTimeout   = 10 * time.Second
	defaultDisconnectTimeout = 10 * time.Second
)

// Option configures a Client at construction time.
type Option func(*options)

type options struct {
	logger            *logrus.Logger
	connectTimeout    time.Duration
	responseTimeout   time.Duration
	disconnectTimeout time.Duration
}

func defaultOptions() options {
	return options{
		logger:            logrus.StandardLogger(),
		connectTimeout:    defaultConnectTimeout,
		responseTimeout:   defaultResponseTimeout,
		disconnectTimeout: defaultDisconnectTimeout,
	}
}

// WithLogger overrides the default logrus logger used throughout the
// Coordinator, Conversation and Harness.
func WithLogger(l *logrus.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithConnectTimeout overrides the CONNECT/HANDSHAKE timer duration.
func WithConnectTimeout(d time.Duration) Option {
	return func(o *options) { o.connectTimeout = d }
}

// WithResponseTimeout overrides the ACTION/FEED response timer duration.
func WithResponseTimeout(d time.Duration) Option {
	return func(o *options) { o.responseTimeout = d }
}

// WithDisconnectTimeout overrides the disconnect watchdog duration.
func WithDisconnectTimeout(d time.Duration) Option {
	return func(o *options) { o.disconnectTimeout = d }
}

// Client is the application's handle onto one Protocol connection.
type Client struct {
	co *coordinator.Coordinator
}

// New wraps transportImpl directly — use this to plug in an
// application-supplied transport. handler receives the connection's
// application-facing events.
func New(transportImpl transport.Transport, handler coordinator.Handler, opts ...Option) *Client {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	co := coordinator.New(transportImpl, handler,
		coordinator.WithLogger(o.logger),
		coordinator.WithConnectTimeout(o.connectTimeout),
		coordinator.WithResponseTimeout(o.responseTimeout),
		coordinator.WithDisconnectTimeout(o.disconnectTimeout),
	)
	return &Client{co: co}
}

// NewTCP builds a Client over the tcptransport reference adapter,
// dialing addr on Connect.
func NewTCP(addr string, handler coordinator.Handler, opts ...Option) *Client {
	t := tcptransport.New(tcptransport.Config{
		Addr:              addr,
		ConnectionTimeout: defaultConnectTimeout,
	})
	return New(t, handler, opts...)
}

// NewSCTP builds a Client over the sctptransport reference adapter,
// dialing ipAddrs:port on Connect.
func NewSCTP(ipAddrs []net.IPAddr, port int, handler coordinator.Handler, opts ...Option) *Client {
	t := sctptransport.New(sctptransport.Config{
		IPAddrs:           ipAddrs,
		Port:              port,
		ConnectionTimeout: defaultConnectTimeout,
	})
	return New(t, handler, opts...)
}

// Connect opens the connection: transport dial, then the Protocol
// handshake. Requires the Client to be freshly constructed or fully
// disconnected.
func (c *Client) Connect() error {
	return c.co.Connect()
}

// Disconnect tears the connection down.
func (c *Client) Disconnect() error {
	return c.co.Disconnect()
}

// Action sends an action request and returns the callback id that the
// handler's OnActionSuccess/OnActionFailure will carry.
func (c *Client) Action(name string, args json.RawMessage) (string, error) {
	return c.co.Action(name, args)
}

// FeedObjectOpen creates a new feed object for identity and returns its
// id. Many feed objects may share one identity; the underlying server
// feed is opened once and multiplexed.
func (c *Client) FeedObjectOpen(identity feed.Identity) string {
	return c.co.FeedObjectOpen(identity)
}

// FeedObjectClose closes a feed object.
func (c *Client) FeedObjectClose(objectId string) error {
	return c.co.FeedObjectClose(objectId)
}

// FeedObjectData returns the last data snapshot known for objectId.
func (c *Client) FeedObjectData(objectId string) (feed.Data, bool) {
	return c.co.FeedObjectData(objectId)
}

// State returns the connection's current outward state.
func (c *Client) State() coordinator.State {
	return c.co.State()
}

// FeedObjectState reports objectId's externally-visible state.
func (c *Client) FeedObjectState(objectId string) (coordinator.FeedObjectState, bool) {
	return c.co.FeedObjectState(objectId)
}
