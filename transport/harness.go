package transport

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// state is the Harness's own bookkeeping state, a superset of the raw
// Transport's three-value State that also tracks the teardown and error
// conditions the Harness itself detects (spec §4.1).
type state int

const (
	stateDisconnected state = iota
	stateConnecting
	stateConnected
	stateDisconnecting
	stateError
)

// HarnessHandler receives the Harness's validated, normalized event stream.
// The Conversation is the sole implementer in this module.
type HarnessHandler interface {
	OnConnecting()
	OnConnect()
	OnMessage(msg string)
	OnDisconnecting(err error)
	OnDisconnect()
	OnError(err error)
}

// HarnessOption configures a Harness at construction time, following the
// teacher's functional-options pattern (client.ClientOptionsFunc).
type HarnessOption func(*Harness)

// WithDisconnectTimeout sets the disconnect watchdog duration (spec §4.1).
// Zero disables the watchdog.
func WithDisconnectTimeout(d time.Duration) HarnessOption {
	return func(h *Harness) { h.disconnectTimeout = d }
}

// WithLogger overrides the default logrus logger.
func WithLogger(l *logrus.Logger) HarnessOption {
	return func(h *Harness) { h.log = l }
}

// Harness validates the event-ordering contract of an application-supplied
// Transport and normalizes spontaneous failures into typed ConnectionErrors.
// It is internally synchronous: every method and every Transport callback
// runs to completion without suspending (spec §5).
type Harness struct {
	mu sync.Mutex

	transport Transport
	handler   HarnessHandler
	log       *logrus.Logger

	st                 state
	connectExpected    bool
	disconnectExpected bool
	disconnectTimeout  time.Duration
	watchdog           *time.Timer
}

// NewHarness wraps transport and will deliver its validated event stream
// to handler.
func NewHarness(transport Transport, handler HarnessHandler, opts ...HarnessOption) *Harness {
	h := &Harness{
		transport: transport,
		handler:   handler,
		log:       logrus.StandardLogger(),
		st:        stateDisconnected,
	}
	for _, opt := range opts {
		opt(h)
	}
	transport.SetHandler(h)
	return h
}

// State reports the Harness's current bookkeeping state.
func (h *Harness) State() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.st.String()
}

func (s state) String() string {
	switch s {
	case stateDisconnected:
		return "disconnected"
	case stateConnecting:
		return "connecting"
	case stateConnected:
		return "connected"
	case stateDisconnecting:
		return "disconnecting"
	case stateError:
		return "error"
	default:
		return "unknown"
	}
}

// Connect is valid only in the disconnected state. It invokes
// transport.Connect(); the transport must emit `connecting` synchronously
// before Connect returns, or the Harness fails into ERROR with a
// TransportError.
func (h *Harness) Connect() error {
	h.mu.Lock()
	if h.st != stateDisconnected {
		h.mu.Unlock()
		return &TransportError{Reason: "Connect called outside DISCONNECTED"}
	}
	h.connectExpected = true
	h.mu.Unlock()

	if err := h.transport.Connect(); err != nil {
		return err
	}

	h.mu.Lock()
	stillExpected := h.connectExpected
	h.mu.Unlock()
	if stillExpected {
		h.fail(newTransportError("transport did not emit connecting synchronously from Connect", nil))
		return &TransportError{Reason: "transport did not emit connecting synchronously from Connect"}
	}
	return nil
}

// Send is valid only while CONNECTED.
func (h *Harness) Send(msg string) error {
	h.mu.Lock()
	if h.st != stateConnected {
		h.mu.Unlock()
		return &TransportError{Reason: "Send called outside CONNECTED"}
	}
	h.mu.Unlock()
	return h.transport.Send(msg)
}

// Disconnect is valid in CONNECTING or CONNECTED. The transport must emit
// `disconnecting` synchronously, with no error argument.
func (h *Harness) Disconnect() error {
	h.mu.Lock()
	if h.st != stateConnecting && h.st != stateConnected {
		h.mu.Unlock()
		return &TransportError{Reason: "Disconnect called outside CONNECTING/CONNECTED"}
	}
	h.disconnectExpected = true
	h.mu.Unlock()

	if err := h.transport.Disconnect(); err != nil {
		return err
	}

	h.mu.Lock()
	stillExpected := h.disconnectExpected
	h.mu.Unlock()
	if stillExpected {
		h.fail(newTransportError("transport did not emit disconnecting synchronously from Disconnect", nil))
		return &TransportError{Reason: "transport did not emit disconnecting synchronously from Disconnect"}
	}
	return nil
}

// OnConnecting implements Transport.Handler.
func (h *Harness) OnConnecting() {
	h.mu.Lock()
	if h.st != stateDisconnected || !h.connectExpected {
		h.mu.Unlock()
		h.fail(newTransportError("unexpected connecting event", nil))
		return
	}
	h.connectExpected = false
	h.st = stateConnecting
	h.mu.Unlock()
	h.handler.OnConnecting()
}

// OnConnect implements Transport.Handler.
func (h *Harness) OnConnect() {
	h.mu.Lock()
	if h.st != stateConnecting {
		h.mu.Unlock()
		h.fail(newTransportError("unexpected connect event", nil))
		return
	}
	h.st = stateConnected
	h.mu.Unlock()
	h.handler.OnConnect()
}

// OnMessage implements Transport.Handler.
func (h *Harness) OnMessage(msg string) {
	h.mu.Lock()
	if h.st != stateConnected {
		h.mu.Unlock()
		h.fail(newTransportError("unexpected message event", nil))
		return
	}
	h.mu.Unlock()
	h.handler.OnMessage(msg)
}

// OnDisconnecting implements Transport.Handler. err is nil for an
// application-initiated disconnect and non-nil for a spontaneous one; the
// Harness synthesizes the caller-visible ConnectionError in the latter
// case.
func (h *Harness) OnDisconnecting(err error) {
	h.mu.Lock()
	if h.st != stateConnecting && h.st != stateConnected {
		h.mu.Unlock()
		h.fail(newTransportError("unexpected disconnecting event", nil))
		return
	}
	expected := h.disconnectExpected
	if expected && err != nil {
		h.mu.Unlock()
		h.fail(newTransportError("disconnecting carried an error during an expected disconnect", nil))
		return
	}
	if !expected && err == nil {
		h.mu.Unlock()
		h.fail(newTransportError("spontaneous disconnecting carried no error", nil))
		return
	}

	wasConnecting := h.st == stateConnecting
	h.disconnectExpected = false
	h.st = stateDisconnecting
	h.armWatchdog()
	h.mu.Unlock()

	var outward error
	if !expected {
		outward = newConnectionError(wasConnecting, err)
	}
	h.handler.OnDisconnecting(outward)
}

// OnDisconnect implements Transport.Handler.
func (h *Harness) OnDisconnect() {
	h.mu.Lock()
	if h.st != stateDisconnecting {
		h.mu.Unlock()
		h.fail(newTransportError("unexpected disconnect event", nil))
		return
	}
	h.clearWatchdog()
	h.st = stateDisconnected
	h.mu.Unlock()
	h.handler.OnDisconnect()
}

// armWatchdog starts the disconnect watchdog. Must be called with h.mu held.
func (h *Harness) armWatchdog() {
	if h.disconnectTimeout <= 0 {
		return
	}
	h.watchdog = time.AfterFunc(h.disconnectTimeout, h.onWatchdogFire)
}

// clearWatchdog cancels the disconnect watchdog. Must be called with h.mu held.
func (h *Harness) clearWatchdog() {
	if h.watchdog != nil {
		h.watchdog.Stop()
		h.watchdog = nil
	}
}

func (h *Harness) onWatchdogFire() {
	h.mu.Lock()
	if h.st != stateDisconnecting {
		h.mu.Unlock()
		return
	}
	h.watchdog = nil
	h.mu.Unlock()
	h.log.Warn("disconnect watchdog fired without a transport disconnect event")
	h.fail(newTransportError("disconnect watchdog expired", nil))
}

// fail transitions the Harness to ERROR and emits a single error event.
// After this call every further transport event is ignored and every
// further Harness method fails.
func (h *Harness) fail(cause *TransportError) {
	h.mu.Lock()
	if h.st == stateError {
		h.mu.Unlock()
		return
	}
	h.clearWatchdog()
	h.st = stateError
	h.mu.Unlock()
	h.log.WithError(cause).Error("transport harness entering ERROR")
	h.handler.OnError(cause)
}
