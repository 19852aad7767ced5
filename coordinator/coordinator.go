// Package coordinator multiplexes many application-visible feed objects
// onto a Conversation's one feed per server identity, and defers every
// application-facing callback through a 5-tier priority queue so
// callback order stays predictable across that multiplexing (spec §4.3,
// §4.4, §4.5).
package coordinator

import (
	"encoding/json"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/feedme-go/feedclient/conversation"
	"github.com/feedme-go/feedclient/feed"
	"github.com/feedme-go/feedclient/internal/idgen"
	"github.com/feedme-go/feedclient/transport"
)

// State is the Coordinator's outward connection state; it is exactly the
// underlying Conversation's, re-exported here so callers never need to
// import the conversation package themselves.
type State = conversation.State

const (
	Disconnected  = conversation.Disconnected
	Connecting    = conversation.Connecting
	Connected     = conversation.Connected
	Disconnecting = conversation.Disconnecting
	ErrorState    = conversation.ErrorState
)

// FeedObjectState is a feed object's externally-visible state (spec §3).
// A feed object reports CLOSED while its open is still pending (internal
// OPENING), and OPEN from the moment its open resolves until its own close
// event actually fires, even while its internal state is CLOSING.
type FeedObjectState int

const (
	FeedObjectOpen FeedObjectState = iota
	FeedObjectClosed
)

func (s FeedObjectState) String() string {
	if s == FeedObjectOpen {
		return "OPEN"
	}
	return "CLOSED"
}

// Handler receives the Coordinator's application-facing event stream —
// one callback per feed object rather than per wire message, and in an
// order that never reveals the multiplexing underneath it (spec §6
// "Application surface").
type Handler interface {
	OnConnecting()
	OnConnect()
	OnDisconnecting(err error)
	OnDisconnect()
	OnError(err error)

	OnActionSuccess(callbackId string, data feed.Data)
	OnActionFailure(callbackId string, err error)

	OnFeedObjectOpen(objectId string, data feed.Data)
	OnFeedObjectClose(objectId string, err error)
	OnFeedObjectAction(objectId, actionName string, actionData, newData, oldData feed.Data)
}

// Coordinator is the application-facing entry point layered over a
// Conversation (spec §4.5).
type Coordinator struct {
	conv    *conversation.Conversation
	handler Handler
	db      *DB
	queue   *TaskQueue
	log     *logrus.Logger

	objectIds   *idgen.StringGenerator
	callbackIds *idgen.StringGenerator

	conversationOpts []conversation.Option

	mu               sync.Mutex
	disconnectCalled bool
	pendingActions   map[string]bool
}

// New layers a Coordinator over transportImpl, wiring a Conversation
// underneath it.
func New(transportImpl transport.Transport, handler Handler, opts ...Option) *Coordinator {
	co := &Coordinator{
		handler:        handler,
		db:             NewDB(),
		queue:          NewTaskQueue(),
		log:            logrus.StandardLogger(),
		objectIds:      idgen.NewStringGenerator(),
		callbackIds:    idgen.NewStringGenerator(),
		pendingActions: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(co)
	}
	var convOpts []conversation.Option
	convOpts = append(convOpts, conversation.WithLogger(co.log))
	convOpts = append(convOpts, co.conversationOpts...)
	co.conv = conversation.New(transportImpl, co, convOpts...)
	return co
}

func (co *Coordinator) suppressed() bool {
	co.mu.Lock()
	defer co.mu.Unlock()
	return co.disconnectCalled
}

// State returns the connection's current outward state.
func (co *Coordinator) State() State {
	return co.conv.State()
}

// FeedObjectState reports objectId's externally-visible state.
func (co *Coordinator) FeedObjectState(objectId string) (FeedObjectState, bool) {
	st, ok := co.db.State(objectId)
	if !ok {
		return FeedObjectClosed, false
	}
	if st == ObjectOpen || st == ObjectClosing {
		return FeedObjectOpen, true
	}
	return FeedObjectClosed, true
}

// Connect requires the underlying Conversation to be DISCONNECTED.
func (co *Coordinator) Connect() error {
	return co.conv.Connect()
}

// Disconnect requests teardown. Every Conversation-sourced event that
// would otherwise reach the application is suppressed from the moment
// this is called until the Conversation's own disconnecting event
// confirms teardown has actually begun — the application already
// considers itself disconnected and should not see further feed/action
// activity in between (spec §4.5 "Suppression rule").
func (co *Coordinator) Disconnect() error {
	co.mu.Lock()
	co.disconnectCalled = true
	co.mu.Unlock()
	return co.conv.Disconnect()
}

// Action sends an action request and returns the callback id the
// eventual OnActionSuccess/OnActionFailure will carry.
func (co *Coordinator) Action(name string, args json.RawMessage) (string, error) {
	callbackId := co.callbackIds.Next()
	if err := co.conv.Action(callbackId, name, args); err != nil {
		return "", err
	}
	co.mu.Lock()
	co.pendingActions[callbackId] = true
	co.mu.Unlock()
	return callbackId, nil
}

// takePendingAction removes callbackId from the pending set and reports
// whether it was still there, so a result delivered after teardown has
// already claimed it is never double-delivered.
func (co *Coordinator) takePendingAction(callbackId string) bool {
	co.mu.Lock()
	defer co.mu.Unlock()
	if !co.pendingActions[callbackId] {
		return false
	}
	delete(co.pendingActions, callbackId)
	return true
}

// FeedObjectOpen creates a new feed object bound to identity and returns
// its id (spec §4.5 "feedObjectOpen"). If another feed object already
// has this identity's server feed open, the new object resolves at
// TierAppFeedObjectOpen without a server round trip; otherwise it waits
// for the Conversation's feedOpenSuccess/Failure event.
func (co *Coordinator) FeedObjectOpen(identity feed.Identity) string {
	objectId := co.objectIds.Next()
	mustOpen := co.db.Open(objectId, identity)
	if mustOpen {
		if err := co.conv.FeedOpen(identity); err != nil {
			co.db.SetMasterClosedAllObjects(identity.Serial())
			co.queue.Defer(TierAppFeedObjectOpen, func() {
				co.handler.OnFeedObjectClose(objectId, err)
			})
			return objectId
		}
	}
	co.queue.Defer(TierAppFeedObjectOpen, func() {
		if co.suppressed() {
			return
		}
		if data, ok := co.db.TryResolveOpen(objectId); ok {
			co.handler.OnFeedObjectOpen(objectId, data)
		}
	})
	return objectId
}

// FeedObjectClose closes a feed object (spec §4.5 "feedObjectClose"). The
// object must be externally OPEN — an object still OPENING (external
// CLOSED per spec §3) has no close to request yet and is rejected. The
// underlying server feed is only closed once every feed object sharing
// it desires it closed. A second close on an already-closing object is a
// no-op duplicate, per spec.
func (co *Coordinator) FeedObjectClose(objectId string) error {
	identity, ok := co.db.Identity(objectId)
	if !ok {
		return &UnknownObjectError{ObjectId: objectId}
	}
	if st, ok := co.db.State(objectId); !ok {
		return &UnknownObjectError{ObjectId: objectId}
	} else if st == ObjectOpening {
		return &ObjectNotOpenError{ObjectId: objectId}
	}
	_, mustClose, duplicate, ok := co.db.Close(objectId)
	if !ok {
		return &UnknownObjectError{ObjectId: objectId}
	}
	if duplicate {
		return nil
	}
	if mustClose {
		if err := co.conv.FeedClose(identity); err != nil {
			return err
		}
	}
	// TierAppFeedObjectClose pre-empts all Conversation-driven work (tier
	// 2/3/4) so the close reaches the application even across a disconnect
	// that races it (spec §4.5 rationale (c)).
	co.queue.Defer(TierAppFeedObjectClose, func() {
		co.handler.OnFeedObjectClose(objectId, nil)
		co.db.FinalizeClose(objectId)
	})
	return nil
}

// FeedObjectData returns the last data snapshot the Coordinator holds
// for the feed identity objectId is bound to — the Master Feed State
// spec §3 says the Coordinator owns, one dispatch step behind whatever
// the Conversation has most recently processed.
func (co *Coordinator) FeedObjectData(objectId string) (feed.Data, bool) {
	identity, ok := co.db.Identity(objectId)
	if !ok {
		return feed.Data{}, false
	}
	return co.db.MasterData(identity.Serial())
}

// --- conversation.Handler ---
//
// Every method below is itself one TierConvoEventPending op (spec §4.5
// "Conversation→Coordinator bridging" table): Conversation events reach
// this Coordinator strictly in arrival order already (Conversation is
// internally synchronous), so deferring each at tier 4 preserves that
// order through the queue. Where a bridging op fans out to several
// feed objects or pending actions, those per-item notifications are
// scheduled as nested TierConvoEventUnderway (tier 2) sub-invocations,
// which the still-running drain loop pops before the next tier-4 item.

func (co *Coordinator) OnConnecting() {
	co.queue.Defer(TierConvoEventPending, func() {
		co.handler.OnConnecting()
	})
}

func (co *Coordinator) OnConnect() {
	co.queue.Defer(TierConvoEventPending, func() {
		if co.suppressed() {
			return
		}
		co.handler.OnConnect()
	})
}

func (co *Coordinator) OnDisconnecting(err error) {
	co.queue.Defer(TierConvoEventPending, func() {
		co.teardown(err)
	})
}

func (co *Coordinator) OnDisconnect() {
	co.queue.Defer(TierConvoEventPending, func() {
		co.handler.OnDisconnect()
	})
}

func (co *Coordinator) OnError(err error) {
	// Harness-level contract violations land here, bypassing the normal
	// disconnecting/disconnect pair entirely: spec §4.5 gives this op no
	// draining step, only "transition ERROR, emit error" — the instance is
	// considered dead from this point and makes no further guarantees
	// about in-flight actions or feed objects.
	co.queue.Defer(TierConvoEventPending, func() {
		co.handler.OnError(err)
	})
}

// teardown is the disconnecting(err) bridging op: it fans ConnectionError
// out to every callback and feed object the Coordinator was still
// waiting on at TierConvoEventUnderway, then emits disconnecting itself
// inline (spec §4.5, §8 testable property 6, scenario S6).
func (co *Coordinator) teardown(err error) {
	co.mu.Lock()
	appInitiated := co.disconnectCalled
	co.disconnectCalled = false
	pending := co.pendingActions
	co.pendingActions = make(map[string]bool)
	co.mu.Unlock()

	objectIds := co.db.AllObjectIds()
	co.db.Reset()

	connErr := &transport.ConnectionError{Message: "connection lost", Cause: err}

	for id := range pending {
		id := id
		co.queue.Defer(TierConvoEventUnderway, func() { co.handler.OnActionFailure(id, connErr) })
	}
	for _, objectId := range objectIds {
		objectId := objectId
		co.queue.Defer(TierConvoEventUnderway, func() { co.handler.OnFeedObjectClose(objectId, connErr) })
	}

	reported := err
	if appInitiated {
		reported = nil
	}
	co.handler.OnDisconnecting(reported)
}

func (co *Coordinator) OnActionSuccess(callbackId string, data feed.Data) {
	co.queue.Defer(TierConvoEventPending, func() {
		if !co.takePendingAction(callbackId) || co.suppressed() {
			return
		}
		co.handler.OnActionSuccess(callbackId, data)
	})
}

func (co *Coordinator) OnActionFailure(callbackId string, code string, data feed.Data) {
	co.queue.Defer(TierConvoEventPending, func() {
		if !co.takePendingAction(callbackId) || co.suppressed() {
			return
		}
		err := &conversation.RejectionError{ServerErrorCode: code, ServerErrorData: data.Raw()}
		co.handler.OnActionFailure(callbackId, err)
	})
}

func (co *Coordinator) OnFeedOpenSuccess(id feed.Identity, data feed.Data) {
	co.queue.Defer(TierConvoEventPending, func() {
		mustClose := co.db.SetMasterOpen(id.Serial(), data)
		if mustClose {
			_ = co.conv.FeedClose(id)
		}
		if co.suppressed() {
			return
		}
		for _, objectId := range co.db.ObjectsOpeningForSerial(id.Serial()) {
			objectId := objectId
			co.queue.Defer(TierConvoEventUnderway, func() {
				co.db.MarkOpen(objectId)
				co.handler.OnFeedObjectOpen(objectId, data)
			})
		}
	})
}

func (co *Coordinator) OnFeedOpenFailure(id feed.Identity, code string, data feed.Data) {
	co.queue.Defer(TierConvoEventPending, func() {
		ids := co.db.SetMasterClosedAllObjects(id.Serial())
		if co.suppressed() {
			return
		}
		err := &conversation.RejectionError{ServerErrorCode: code, ServerErrorData: data.Raw()}
		for _, objectId := range ids {
			objectId := objectId
			co.queue.Defer(TierConvoEventUnderway, func() { co.handler.OnFeedObjectClose(objectId, err) })
		}
	})
}

func (co *Coordinator) OnFeedCloseSuccess(id feed.Identity) {
	co.queue.Defer(TierConvoEventPending, func() {
		identity, reopen := co.db.ServerClosed(id.Serial())
		if reopen {
			_ = co.conv.FeedOpen(identity)
		}
	})
}

func (co *Coordinator) OnFeedAction(id feed.Identity, actionName string, actionData, newData, oldData feed.Data) {
	co.queue.Defer(TierConvoEventPending, func() {
		co.db.SetMasterData(id.Serial(), newData)
		if co.suppressed() {
			return
		}
		for _, objectId := range co.db.ObjectsForSerial(id.Serial()) {
			objectId := objectId
			co.queue.Defer(TierConvoEventUnderway, func() {
				st, ok := co.db.State(objectId)
				if !ok || (st != ObjectOpen && st != ObjectClosing) {
					return
				}
				co.handler.OnFeedObjectAction(objectId, actionName, actionData, newData, oldData)
			})
		}
	})
}

func (co *Coordinator) OnFeedTermination(id feed.Identity, code string, data feed.Data) {
	co.queue.Defer(TierConvoEventPending, func() {
		ids := co.db.SetMasterClosedAllObjects(id.Serial())
		if co.suppressed() {
			return
		}
		err := &conversation.TerminationError{ServerErrorCode: code, ServerErrorData: data.Raw()}
		for _, objectId := range ids {
			objectId := objectId
			co.queue.Defer(TierConvoEventUnderway, func() { co.handler.OnFeedObjectClose(objectId, err) })
		}
	})
}
