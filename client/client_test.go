package client

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feedme-go/feedclient/feed"
	"github.com/feedme-go/feedclient/transport"
)

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

type fakeHandler struct {
	connects int
	opens    []string
}

func (h *fakeHandler) OnConnecting()                                     {}
func (h *fakeHandler) OnConnect()                                        { h.connects++ }
func (h *fakeHandler) OnDisconnecting(err error)                         {}
func (h *fakeHandler) OnDisconnect()                                     {}
func (h *fakeHandler) OnError(err error)                                 {}
func (h *fakeHandler) OnActionSuccess(callbackId string, data feed.Data) {}
func (h *fakeHandler) OnActionFailure(callbackId string, err error)      {}
func (h *fakeHandler) OnFeedObjectOpen(objectId string, data feed.Data) {
	h.opens = append(h.opens, objectId)
}
func (h *fakeHandler) OnFeedObjectClose(objectId string, err error) {}
func (h *fakeHandler) OnFeedObjectAction(objectId, actionName string, actionData, newData, oldData feed.Data) {
}

func TestClientConnectDrivesHandshake(t *testing.T) {
	ft := &fakeTransport{}
	fh := &fakeHandler{}
	c := New(ft, fh)

	require.NoError(t, c.Connect())
	ft.handler.OnConnect()
	ft.handler.OnMessage(`{"MessageType":"HandshakeResponse","Success":true,"Version":"0.1"}`)

	assert.Equal(t, 1, fh.connects)
}

func TestClientFeedObjectOpenSendsFeedOpen(t *testing.T) {
	ft := &fakeTransport{}
	fh := &fakeHandler{}
	c := New(ft, fh)

	require.NoError(t, c.Connect())
	ft.handler.OnConnect()
	ft.handler.OnMessage(`{"MessageType":"HandshakeResponse","Success":true,"Version":"0.1"}`)

	objectId := c.FeedObjectOpen(feed.Identity{Name: "chat"})
	require.NotEmpty(t, objectId)
	require.NotEmpty(t, ft.sent)
	assert.Contains(t, ft.sent[len(ft.sent)-1], "FeedOpen")
}

func TestClientActionReturnsCallbackId(t *testing.T) {
	ft := &fakeTransport{}
	fh := &fakeHandler{}
	c := New(ft, fh)

	require.NoError(t, c.Connect())
	ft.handler.OnConnect()
	ft.handler.OnMessage(`{"MessageType":"HandshakeResponse","Success":true,"Version":"0.1"}`)

	callbackId, err := c.Action("post", nil)
	require.NoError(t, err)
	assert.NotEmpty(t, callbackId)
}
