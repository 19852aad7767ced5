package coordinator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feedme-go/feedclient/feed"
	"github.com/feedme-go/feedclient/transport"
)

// fakeTransport is a minimal transport.Transport double driven directly by
// the test to push the underlying Conversation through its lifecycle.
type fakeTransport struct {
	handler transport.Handler
	st      transport.State
	sent    []string
}

func (f *fakeTransport) SetHandler(h transport.Handler) { f.handler = h }
func (f *fakeTransport) State() transport.State         { return f.st }
func (f *fakeTransport) Connect() error {
	f.st = transport.Connecting
	f.handler.OnConnecting()
	return nil
}
func (f *fakeTransport) Send(msg string) error {
	f.sent = append(f.sent, msg)
	return nil
}
func (f *fakeTransport) Disconnect() error {
	f.handler.OnDisconnecting(nil)
	f.handler.OnDisconnect()
	return nil
}

// fakeHandler is a coordinator.Handler double recording every callback.
type fakeHandler struct {
	connects, disconnectings, disconnects, errs int
	disconnectingErrs                           []error
	opens                                       []string
	closes                                      []string
	closeErrs                                   map[string]error
	actions                                     []string
}

func (h *fakeHandler) OnConnecting() {}
func (h *fakeHandler) OnConnect()    { h.connects++ }
func (h *fakeHandler) OnDisconnecting(err error) {
	h.disconnectings++
	h.disconnectingErrs = append(h.disconnectingErrs, err)
}
func (h *fakeHandler) OnDisconnect()                                     { h.disconnects++ }
func (h *fakeHandler) OnError(err error)                                 { h.errs++ }
func (h *fakeHandler) OnActionSuccess(callbackId string, data feed.Data) {}
func (h *fakeHandler) OnActionFailure(callbackId string, err error)      {}
func (h *fakeHandler) OnFeedObjectOpen(objectId string, data feed.Data) {
	h.opens = append(h.opens, objectId)
}
func (h *fakeHandler) OnFeedObjectClose(objectId string, err error) {
	h.closes = append(h.closes, objectId)
	if h.closeErrs == nil {
		h.closeErrs = make(map[string]error)
	}
	h.closeErrs[objectId] = err
}
func (h *fakeHandler) OnFeedObjectAction(objectId, actionName string, actionData, newData, oldData feed.Data) {
	h.actions = append(h.actions, objectId+":"+actionName)
}

func connectedCoordinator(t *testing.T) (*Coordinator, *fakeTransport, *fakeHandler) {
	t.Helper()
	ft := &fakeTransport{}
	fh := &fakeHandler{}
	co := New(ft, fh)
	require.NoError(t, co.Connect())

	ft.handler.OnConnect()
	ft.handler.OnMessage(`{"MessageType":"HandshakeResponse","Success":true,"Version":"0.1"}`)
	require.Equal(t, 1, fh.connects)
	return co, ft, fh
}

func TestFeedObjectsShareOneServerFeed(t *testing.T) {
	co, ft, fh := connectedCoordinator(t)
	identity := feed.Identity{Name: "chat", Args: map[string]string{"room": "lobby"}}

	before := len(ft.sent)
	obj1 := co.FeedObjectOpen(identity)
	obj2 := co.FeedObjectOpen(identity)

	// Only one FeedOpen should have been sent to the wire, since the
	// second object joins the feed already being opened.
	require.Len(t, ft.sent, before+1)
	assert.Contains(t, ft.sent[before], "FeedOpen")

	ft.handler.OnMessage(`{"MessageType":"FeedOpenResponse","FeedName":"chat","FeedArgs":{"room":"lobby"},"Success":true,"FeedData":{"count":0}}`)

	assert.ElementsMatch(t, []string{obj1, obj2}, fh.opens)
}

func TestFeedObjectCloseOnlyClosesServerFeedWhenLastObjectLeaves(t *testing.T) {
	co, ft, fh := connectedCoordinator(t)
	identity := feed.Identity{Name: "chat", Args: map[string]string{"room": "lobby"}}

	obj1 := co.FeedObjectOpen(identity)
	obj2 := co.FeedObjectOpen(identity)
	ft.handler.OnMessage(`{"MessageType":"FeedOpenResponse","FeedName":"chat","FeedArgs":{"room":"lobby"},"Success":true,"FeedData":{}}`)
	before := len(ft.sent)

	require.NoError(t, co.FeedObjectClose(obj1))
	assert.Contains(t, fh.closes, obj1)
	assert.Len(t, ft.sent, before) // obj2 still wants the feed: no FeedClose yet

	require.NoError(t, co.FeedObjectClose(obj2))
	assert.Contains(t, fh.closes, obj2)
	require.Len(t, ft.sent, before+1)
	assert.Contains(t, ft.sent[before], "FeedClose")

	ft.handler.OnMessage(`{"MessageType":"FeedCloseResponse","FeedName":"chat","FeedArgs":{"room":"lobby"}}`)
}

func TestFeedObjectActionFansOutToEveryObjectOnSerial(t *testing.T) {
	co, ft, fh := connectedCoordinator(t)
	identity := feed.Identity{Name: "chat", Args: map[string]string{"room": "lobby"}}

	obj1 := co.FeedObjectOpen(identity)
	obj2 := co.FeedObjectOpen(identity)
	ft.handler.OnMessage(`{"MessageType":"FeedOpenResponse","FeedName":"chat","FeedArgs":{"room":"lobby"},"Success":true,"FeedData":{"count":0}}`)

	ft.handler.OnMessage(`{"MessageType":"FeedAction","FeedName":"chat","FeedArgs":{"room":"lobby"},"ActionName":"increment","ActionData":{},"FeedDeltas":[{"Operation":"replace","Path":"/count","Value":1}]}`)

	assert.ElementsMatch(t, []string{obj1 + ":increment", obj2 + ":increment"}, fh.actions)
}

func TestDisconnectSuppressesInFlightFeedEvents(t *testing.T) {
	co, _, fh := connectedCoordinator(t)
	identity := feed.Identity{Name: "chat"}
	obj := co.FeedObjectOpen(identity)

	// Simulate the window between the application calling Disconnect and
	// the Conversation's own disconnecting event confirming teardown: a
	// Conversation event arriving in that window must not reach the
	// application, which already considers itself disconnected.
	co.mu.Lock()
	co.disconnectCalled = true
	co.mu.Unlock()

	co.OnFeedOpenSuccess(identity, feed.Data{})
	assert.NotContains(t, fh.opens, obj)

	co.OnDisconnecting(nil)
	assert.Equal(t, 1, fh.disconnectings)
	require.Len(t, fh.disconnectingErrs, 1)
	assert.Nil(t, fh.disconnectingErrs[0])
}

// TestFeedObjectStateReflectsCloseInFlight exercises spec §3's external
// state rule around a close: a feed object whose open has resolved reports
// OPEN, and once FeedObjectClose returns (with the server FeedClose still
// awaiting its response) the object is already finalized and unknown.
func TestFeedObjectStateReflectsCloseInFlight(t *testing.T) {
	co, ft, _ := connectedCoordinator(t)
	identity := feed.Identity{Name: "chat"}
	obj := co.FeedObjectOpen(identity)
	ft.handler.OnMessage(`{"MessageType":"FeedOpenResponse","FeedName":"chat","FeedArgs":{},"Success":true,"FeedData":{}}`)

	st, ok := co.FeedObjectState(obj)
	require.True(t, ok)
	assert.Equal(t, FeedObjectOpen, st)

	require.NoError(t, co.FeedObjectClose(obj))
	// The close notification is dispatched synchronously through the task
	// queue: by the time FeedObjectClose returns the object has already
	// been finalized, so a second close on the same id is rejected as unknown.
	_, ok = co.FeedObjectState(obj)
	assert.False(t, ok)
	var unkErr *UnknownObjectError
	assert.ErrorAs(t, co.FeedObjectClose(obj), &unkErr)
}

// TestSecondObjectJoinsAlreadyOpenFeedWithoutServerRoundTrip exercises the
// APP_FEED_OBJECT_OPEN tier (spec §4.5 tier 3): an object opened after its
// feed is already OPEN resolves immediately from the Master Feed State,
// with no further FeedOpen sent to the wire.
func TestSecondObjectJoinsAlreadyOpenFeedWithoutServerRoundTrip(t *testing.T) {
	co, ft, fh := connectedCoordinator(t)
	identity := feed.Identity{Name: "chat"}

	obj1 := co.FeedObjectOpen(identity)
	ft.handler.OnMessage(`{"MessageType":"FeedOpenResponse","FeedName":"chat","FeedArgs":{},"Success":true,"FeedData":{"count":0}}`)
	require.Contains(t, fh.opens, obj1)

	before := len(ft.sent)
	obj2 := co.FeedObjectOpen(identity)
	assert.Len(t, ft.sent, before) // no new FeedOpen sent
	assert.Contains(t, fh.opens, obj2)
}

func TestUnknownObjectCloseReturnsError(t *testing.T) {
	co, _, _ := connectedCoordinator(t)
	err := co.FeedObjectClose("does-not-exist")
	var unkErr *UnknownObjectError
	assert.ErrorAs(t, err, &unkErr)
}

// TestCloseRejectedWhileStillOpening covers spec §4.5's "object must be
// externally OPEN" precondition on feedObjectClose: an object still
// OPENING is externally CLOSED (spec §3), so closing it before its own
// open callback has fired is rejected rather than silently accepted.
func TestCloseRejectedWhileStillOpening(t *testing.T) {
	co, _, _ := connectedCoordinator(t)
	identity := feed.Identity{Name: "chat"}

	obj := co.FeedObjectOpen(identity)
	st, ok := co.FeedObjectState(obj)
	require.True(t, ok)
	require.Equal(t, FeedObjectClosed, st)

	err := co.FeedObjectClose(obj)
	var notOpenErr *ObjectNotOpenError
	assert.ErrorAs(t, err, &notOpenErr)
}
