// Package conversation drives the Protocol (spec §4.2) over a
// transport.Harness: handshake, action request/response, feed open/close/
// terminate, delta application with hash verification, per-message
// response timeouts, and server-message validation. It is internally
// synchronous (spec §5) — every public method and every Harness callback
// runs to completion without suspending.
package conversation

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/feedme-go/feedclient/feed"
	"github.com/feedme-go/feedclient/transport"
	"github.com/feedme-go/feedclient/wire"
)

// SpecVersion is the only handshake version this client offers.
const SpecVersion = wire.SpecVersion

// Handler receives the Conversation's events, in the vocabulary of spec
// §4.2's message-ingestion table. The Coordinator is the sole implementer
// in this module.
type Handler interface {
	OnConnecting()
	OnConnect()
	OnDisconnecting(err error)
	OnDisconnect()
	OnError(err error)

	OnActionSuccess(callbackId string, data feed.Data)
	OnActionFailure(callbackId string, code string, data feed.Data)

	OnFeedOpenSuccess(id feed.Identity, data feed.Data)
	OnFeedOpenFailure(id feed.Identity, code string, data feed.Data)
	OnFeedCloseSuccess(id feed.Identity)
	OnFeedAction(id feed.Identity, actionName string, actionData, newData, oldData feed.Data)
	OnFeedTermination(id feed.Identity, code string, data feed.Data)
}

type feedEntry struct {
	identity feed.Identity
	state    ServerFeedState
	data     feed.Data
}

// Conversation is the protocol state machine of spec §4.2.
type Conversation struct {
	harness *transport.Harness
	handler Handler
	log     *logrus.Logger

	validator wire.SchemaValidator
	deltas    feed.DeltaApplier

	connectTimeout  time.Duration
	responseTimeout time.Duration

	disconnectTimeoutSet bool
	disconnectTimeout    time.Duration

	timers *timerSet

	// Guards everything below. Conversation methods never suspend, so a
	// plain mutex is enough; it only ever contends with timer goroutines.
	stateMu        sync.Mutex
	st             State
	abortCause     error
	pendingActions map[string]bool
	feeds          map[string]*feedEntry
}

// New creates a Conversation layered over transportImpl.
func New(transportImpl transport.Transport, handler Handler, opts ...Option) *Conversation {
	c := &Conversation{
		handler:         handler,
		log:             logrus.StandardLogger(),
		validator:       wire.NewJSONSchemaValidator(),
		deltas:          feed.JSONPatchApplier{},
		connectTimeout:  10 * time.Second,
		responseTimeout: 10 * time.Second,
		timers:          newTimerSet(),
		pendingActions:  make(map[string]bool),
		feeds:           make(map[string]*feedEntry),
		st:              Disconnected,
	}
	for _, opt := range opts {
		opt(c)
	}
	var harnessOpts []transport.HarnessOption
	if c.disconnectTimeoutSet {
		harnessOpts = append(harnessOpts, transport.WithDisconnectTimeout(c.disconnectTimeout))
	}
	harnessOpts = append(harnessOpts, transport.WithLogger(c.log))
	c.harness = transport.NewHarness(transportImpl, c, harnessOpts...)
	return c
}

// State returns the Conversation's current outward state.
func (c *Conversation) State() State {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.st
}

func (c *Conversation) setState(s State) {
	c.stateMu.Lock()
	c.st = s
	c.stateMu.Unlock()
}

// Connect requires DISCONNECTED.
func (c *Conversation) Connect() error {
	if c.State() != Disconnected {
		return &StateError{Method: "Connect", State: c.State()}
	}
	return c.harness.Connect()
}

// Disconnect requires CONNECTING or CONNECTED. It clears every timer
// synchronously before invoking the Harness (spec §4.2); the remaining
// teardown (pending actions, feed bookkeeping, state transition) happens
// when the Harness calls back OnDisconnecting.
func (c *Conversation) Disconnect() error {
	st := c.State()
	if st != Connecting && st != Connected {
		return &StateError{Method: "Disconnect", State: st}
	}
	c.timers.ClearAll()
	return c.harness.Disconnect()
}

// Action sends an Action request. callbackId is allocated by the caller
// (the Coordinator); requires CONNECTED and that callbackId is not
// already pending.
func (c *Conversation) Action(callbackId, name string, args json.RawMessage) error {
	if c.State() != Connected {
		return &StateError{Method: "Action", State: c.State()}
	}
	c.stateMu.Lock()
	if c.pendingActions[callbackId] {
		c.stateMu.Unlock()
		return fmt.Errorf("conversation: callback id %q already pending", callbackId)
	}
	c.pendingActions[callbackId] = true
	c.stateMu.Unlock()

	msg := wire.Action{MessageType: wire.TypeAction, ActionName: name, ActionArgs: args, CallbackId: callbackId}
	encoded, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	clientMsg := string(encoded)
	if err := c.harness.Send(clientMsg); err != nil {
		return err
	}
	c.timers.Arm(actionTimerName(callbackId), c.responseTimeout, func() {
		c.onActionTimeout(callbackId, clientMsg)
	})
	return nil
}

// FeedOpen requires CONNECTED and the feed's server state to be CLOSED.
func (c *Conversation) FeedOpen(id feed.Identity) error {
	if c.State() != Connected {
		return &StateError{Method: "FeedOpen", State: c.State()}
	}
	serial := id.Serial()

	c.stateMu.Lock()
	entry := c.feeds[serial]
	if entry != nil && entry.state != FeedClosed {
		st := entry.state
		c.stateMu.Unlock()
		return fmt.Errorf("conversation: feed %q not closed (state %s)", serial, st)
	}
	c.feeds[serial] = &feedEntry{identity: id, state: FeedOpening}
	c.stateMu.Unlock()

	msg := wire.FeedOpen{MessageType: wire.TypeFeedOpen, FeedName: id.Name, FeedArgs: id.Args}
	encoded, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	clientMsg := string(encoded)
	if err := c.harness.Send(clientMsg); err != nil {
		return err
	}
	c.timers.Arm(feedTimerName(serial), c.responseTimeout, func() {
		c.onFeedTimeout(serial, clientMsg)
	})
	return nil
}

// FeedClose requires CONNECTED and the feed's server state to be OPEN.
func (c *Conversation) FeedClose(id feed.Identity) error {
	if c.State() != Connected {
		return &StateError{Method: "FeedClose", State: c.State()}
	}
	serial := id.Serial()

	c.stateMu.Lock()
	entry := c.feeds[serial]
	if entry == nil || entry.state != FeedOpen {
		c.stateMu.Unlock()
		return fmt.Errorf("conversation: feed %q not open", serial)
	}
	entry.state = FeedClosing
	entry.data = feed.Data{}
	c.stateMu.Unlock()

	msg := wire.FeedClose{MessageType: wire.TypeFeedClose, FeedName: id.Name, FeedArgs: id.Args}
	encoded, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	clientMsg := string(encoded)
	if err := c.harness.Send(clientMsg); err != nil {
		return err
	}
	c.timers.Arm(feedTimerName(serial), c.responseTimeout, func() {
		c.onFeedTimeout(serial, clientMsg)
	})
	return nil
}

// FeedState reports the feed's externally-visible state: TERMINATED is
// always reported as CLOSING (spec §3).
func (c *Conversation) FeedState(id feed.Identity) ServerFeedState {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	entry := c.feeds[id.Serial()]
	if entry == nil {
		return FeedClosed
	}
	if entry.state == FeedTerminated {
		return FeedClosing
	}
	return entry.state
}

// FeedData returns the last-acknowledged data snapshot for id, if any.
func (c *Conversation) FeedData(id feed.Identity) (feed.Data, bool) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	entry := c.feeds[id.Serial()]
	if entry == nil || entry.data.IsZero() {
		return feed.Data{}, false
	}
	return entry.data, true
}

// abort tears the Conversation down with cause as the reported reason. It
// is a no-op outside CONNECTING/CONNECTED. cause travels through to
// Handler.OnDisconnecting via abortCause, since the Harness itself only
// knows "expected" or "spontaneous", not the protocol-level reason.
func (c *Conversation) abort(cause error) {
	if c.State() != Connecting && c.State() != Connected {
		return
	}
	c.timers.ClearAll()
	c.stateMu.Lock()
	c.abortCause = cause
	c.stateMu.Unlock()
	c.log.WithError(cause).Warn("conversation aborting")
	_ = c.harness.Disconnect()
}

// --- transport.HarnessHandler ---

func (c *Conversation) OnConnecting() {
	c.setState(Connecting)
	c.timers.Arm(connectTimerName, c.connectTimeout, c.onConnectTimeout)
	c.handler.OnConnecting()
}

func (c *Conversation) OnConnect() {
	c.timers.Clear(connectTimerName)
	msg := wire.NewHandshake()
	encoded, err := json.Marshal(msg)
	if err != nil {
		c.abort(errors.Wrap(err, "conversation: encode handshake"))
		return
	}
	clientMsg := string(encoded)
	if err := c.harness.Send(clientMsg); err != nil {
		c.abort(err)
		return
	}
	c.timers.Arm(handshakeTimerName, c.connectTimeout, func() {
		c.onHandshakeTimeout(clientMsg)
	})
}

func (c *Conversation) OnMessage(raw string) {
	var envelope wire.Envelope
	if err := json.Unmarshal([]byte(raw), &envelope); err != nil {
		c.abort(&ServerMessageError{Kind: ParseError, ServerMessage: raw, Detail: err})
		return
	}
	if err := c.validator.Validate(envelope.MessageType, []byte(raw)); err != nil {
		c.abort(&ServerMessageError{Kind: SchemaViolation, ServerMessage: raw, Detail: err})
		return
	}

	switch envelope.MessageType {
	case wire.TypeViolationResponse:
		c.onViolationResponse(raw)
	case wire.TypeHandshakeResponse:
		if c.State() != Connecting {
			c.abort(&ServerMessageError{Kind: UnexpectedState, ServerMessage: raw})
			return
		}
		c.onHandshakeResponse(raw)
	case wire.TypeActionResponse:
		if c.State() != Connected {
			c.abort(&ServerMessageError{Kind: UnexpectedState, ServerMessage: raw})
			return
		}
		c.onActionResponse(raw)
	case wire.TypeFeedOpenResponse:
		if c.State() != Connected {
			c.abort(&ServerMessageError{Kind: UnexpectedState, ServerMessage: raw})
			return
		}
		c.onFeedOpenResponse(raw)
	case wire.TypeFeedCloseResponse:
		if c.State() != Connected {
			c.abort(&ServerMessageError{Kind: UnexpectedState, ServerMessage: raw})
			return
		}
		c.onFeedCloseResponse(raw)
	case wire.TypeFeedAction:
		if c.State() != Connected {
			c.abort(&ServerMessageError{Kind: UnexpectedState, ServerMessage: raw})
			return
		}
		c.onFeedAction(raw)
	case wire.TypeFeedTermination:
		if c.State() != Connected {
			c.abort(&ServerMessageError{Kind: UnexpectedState, ServerMessage: raw})
			return
		}
		c.onFeedTerminationMsg(raw)
	default:
		c.abort(&ServerMessageError{
			Kind:          SchemaViolation,
			ServerMessage: raw,
			Detail:        fmt.Errorf("unknown message type %q", envelope.MessageType),
		})
	}
}

func (c *Conversation) OnDisconnecting(err error) {
	c.timers.ClearAll()
	c.stateMu.Lock()
	if err == nil && c.abortCause != nil {
		err = c.abortCause
	}
	c.abortCause = nil
	c.pendingActions = make(map[string]bool)
	c.feeds = make(map[string]*feedEntry)
	c.st = Disconnecting
	c.stateMu.Unlock()
	c.handler.OnDisconnecting(err)
}

func (c *Conversation) OnDisconnect() {
	c.setState(Disconnected)
	c.handler.OnDisconnect()
}

func (c *Conversation) OnError(err error) {
	c.timers.ClearAll()
	c.stateMu.Lock()
	c.pendingActions = make(map[string]bool)
	c.feeds = make(map[string]*feedEntry)
	c.st = ErrorState
	c.stateMu.Unlock()
	c.handler.OnError(err)
}

// --- timeouts ---

func (c *Conversation) onConnectTimeout() {
	c.abort(&transport.ConnectionError{Message: "transport did not connect"})
}

func (c *Conversation) onHandshakeTimeout(clientMsg string) {
	c.abort(&ResponseTimeoutError{TimerName: handshakeTimerName, ClientMessage: clientMsg})
}

func (c *Conversation) onActionTimeout(callbackId, clientMsg string) {
	c.stateMu.Lock()
	delete(c.pendingActions, callbackId)
	c.stateMu.Unlock()
	c.abort(&ResponseTimeoutError{TimerName: actionTimerName(callbackId), ClientMessage: clientMsg})
}

func (c *Conversation) onFeedTimeout(serial, clientMsg string) {
	c.abort(&ResponseTimeoutError{TimerName: feedTimerName(serial), ClientMessage: clientMsg})
}

// --- message dispatch ---

func (c *Conversation) onViolationResponse(raw string) {
	var resp wire.ViolationResponse
	_ = json.Unmarshal([]byte(raw), &resp)
	c.abort(&ViolationResponseError{ServerDiagnostics: resp.Diagnostics})
}

func (c *Conversation) onHandshakeResponse(raw string) {
	var resp wire.HandshakeResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		c.abort(&ServerMessageError{Kind: ParseError, ServerMessage: raw, Detail: err})
		return
	}
	c.timers.Clear(handshakeTimerName)
	if !resp.Success {
		c.abort(&HandshakeError{OfferedVersions: []string{SpecVersion}})
		return
	}
	if resp.Version != SpecVersion {
		c.abort(&ServerMessageError{Kind: UnexpectedState, ServerMessage: raw})
		return
	}
	c.setState(Connected)
	c.handler.OnConnect()
}

func (c *Conversation) onActionResponse(raw string) {
	var resp wire.ActionResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		c.abort(&ServerMessageError{Kind: ParseError, ServerMessage: raw, Detail: err})
		return
	}

	c.stateMu.Lock()
	pending := c.pendingActions[resp.CallbackId]
	delete(c.pendingActions, resp.CallbackId)
	c.stateMu.Unlock()
	if !pending {
		c.abort(&ServerMessageError{
			Kind:          UnexpectedState,
			ServerMessage: raw,
			Detail:        fmt.Errorf("unknown callback id %q", resp.CallbackId),
		})
		return
	}
	c.timers.Clear(actionTimerName(resp.CallbackId))

	if resp.Success {
		c.handler.OnActionSuccess(resp.CallbackId, feed.NewData(resp.ActionData))
	} else {
		c.handler.OnActionFailure(resp.CallbackId, resp.ErrorCode, feed.NewData(resp.ErrorData))
	}
}

func (c *Conversation) onFeedOpenResponse(raw string) {
	var resp wire.FeedOpenResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		c.abort(&ServerMessageError{Kind: ParseError, ServerMessage: raw, Detail: err})
		return
	}
	id := feed.Identity{Name: resp.FeedName, Args: resp.FeedArgs}
	serial := id.Serial()

	c.stateMu.Lock()
	entry := c.feeds[serial]
	if entry == nil || entry.state != FeedOpening {
		c.stateMu.Unlock()
		c.abort(&ServerMessageError{Kind: UnexpectedState, ServerMessage: raw})
		return
	}
	c.timers.Clear(feedTimerName(serial))
	if resp.Success {
		entry.state = FeedOpen
		entry.data = feed.NewData(resp.FeedData)
	} else {
		entry.state = FeedClosed
		entry.data = feed.Data{}
	}
	c.stateMu.Unlock()

	if resp.Success {
		c.handler.OnFeedOpenSuccess(id, feed.NewData(resp.FeedData))
	} else {
		c.handler.OnFeedOpenFailure(id, resp.ErrorCode, feed.NewData(resp.ErrorData))
	}
}

func (c *Conversation) onFeedCloseResponse(raw string) {
	var resp wire.FeedCloseResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		c.abort(&ServerMessageError{Kind: ParseError, ServerMessage: raw, Detail: err})
		return
	}
	id := feed.Identity{Name: resp.FeedName, Args: resp.FeedArgs}
	serial := id.Serial()

	c.stateMu.Lock()
	entry := c.feeds[serial]
	if entry == nil || (entry.state != FeedClosing && entry.state != FeedTerminated) {
		c.stateMu.Unlock()
		c.abort(&ServerMessageError{Kind: UnexpectedState, ServerMessage: raw})
		return
	}
	c.timers.Clear(feedTimerName(serial))
	delete(c.feeds, serial)
	c.stateMu.Unlock()

	c.handler.OnFeedCloseSuccess(id)
}

func (c *Conversation) onFeedAction(raw string) {
	var msg wire.FeedAction
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		c.abort(&ServerMessageError{Kind: ParseError, ServerMessage: raw, Detail: err})
		return
	}
	id := feed.Identity{Name: msg.FeedName, Args: msg.FeedArgs}
	serial := id.Serial()

	c.stateMu.Lock()
	entry := c.feeds[serial]
	if entry == nil || (entry.state != FeedOpen && entry.state != FeedClosing) {
		c.stateMu.Unlock()
		c.abort(&ServerMessageError{Kind: UnexpectedState, ServerMessage: raw})
		return
	}
	// A FeedAction legitimately races a client-initiated FeedClose: the
	// server may have one more action queued before it observes the close.
	// Discard silently rather than treating it as a violation (spec §4.2).
	if entry.state == FeedClosing {
		c.stateMu.Unlock()
		return
	}
	oldData := entry.data
	c.stateMu.Unlock()

	newData, err := c.deltas.Apply(oldData, msg.FeedDeltas)
	if err != nil {
		c.abort(&ServerMessageError{Kind: DeltaViolation, ServerMessage: raw, Detail: err})
		return
	}
	if msg.FeedMd5 != "" {
		if err := feed.VerifyMD5(newData, msg.FeedMd5); err != nil {
			c.abort(&ServerMessageError{Kind: FeedDataMismatch, ServerMessage: raw, Detail: err})
			return
		}
	}

	c.stateMu.Lock()
	entry = c.feeds[serial]
	if entry == nil || entry.state != FeedOpen {
		c.stateMu.Unlock()
		return
	}
	entry.data = newData
	c.stateMu.Unlock()

	c.handler.OnFeedAction(id, msg.ActionName, feed.NewData(msg.ActionData), newData, oldData)
}

func (c *Conversation) onFeedTerminationMsg(raw string) {
	var msg wire.FeedTermination
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		c.abort(&ServerMessageError{Kind: ParseError, ServerMessage: raw, Detail: err})
		return
	}
	id := feed.Identity{Name: msg.FeedName, Args: msg.FeedArgs}
	serial := id.Serial()

	c.stateMu.Lock()
	entry := c.feeds[serial]
	if entry == nil || (entry.state != FeedOpen && entry.state != FeedClosing) {
		c.stateMu.Unlock()
		c.abort(&ServerMessageError{Kind: UnexpectedState, ServerMessage: raw})
		return
	}

	// OPEN: the termination fully closes the feed and is observable
	// immediately. CLOSING: the Protocol still requires waiting for
	// FeedCloseResponse, so the transition to TERMINATED stays internal
	// and nothing is emitted (spec §4.2, §9 "Terminated-state rationale").
	wasOpen := entry.state == FeedOpen
	if wasOpen {
		delete(c.feeds, serial)
	} else {
		entry.state = FeedTerminated
		entry.data = feed.Data{}
	}
	c.stateMu.Unlock()

	if wasOpen {
		c.handler.OnFeedTermination(id, msg.ErrorCode, feed.NewData(msg.ErrorData))
	}
}
