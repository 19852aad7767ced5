package tcptransport

import (
	"bufio"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feedme-go/feedclient/transport"
)

type recordingHandler struct {
	connecting, connect, disconnect int
	disconnecting                   []error
	messages                        []string
	done                            chan struct{}
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{done: make(chan struct{}, 8)}
}

func (h *recordingHandler) OnConnecting() { h.connecting++; h.done <- struct{}{} }
func (h *recordingHandler) OnConnect()    { h.connect++; h.done <- struct{}{} }
func (h *recordingHandler) OnMessage(msg string) {
	h.messages = append(h.messages, msg)
	h.done <- struct{}{}
}
func (h *recordingHandler) OnDisconnecting(err error) {
	h.disconnecting = append(h.disconnecting, err)
	h.done <- struct{}{}
}
func (h *recordingHandler) OnDisconnect() { h.disconnect++; h.done <- struct{}{} }
func (h *recordingHandler) OnError(err error) {}

func (h *recordingHandler) wait(t *testing.T) {
	t.Helper()
	select {
	case <-h.done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for transport event")
	}
}

func TestTransportRoundTripsAMessageOverLoopback(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			accepted <- conn
		}
	}()

	h := newRecordingHandler()
	tr := New(Config{Addr: ln.Addr().String(), ConnectionTimeout: time.Second})
	tr.SetHandler(h)

	require.NoError(t, tr.Connect())
	h.wait(t) // connecting
	h.wait(t) // connect
	assert.Equal(t, transport.Connected, tr.State())

	var serverConn net.Conn
	select {
	case serverConn = <-accepted:
	case <-time.After(2 * time.Second):
		t.Fatal("server never accepted connection")
	}
	defer serverConn.Close()

	require.NoError(t, tr.Send(`{"hello":"world"}`))
	line, err := bufio.NewReader(serverConn).ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "{\"hello\":\"world\"}\n", line)

	_, err = serverConn.Write([]byte("{\"reply\":true}\n"))
	require.NoError(t, err)
	h.wait(t)
	require.Len(t, h.messages, 1)
	assert.Equal(t, `{"reply":true}`, h.messages[0])

	require.NoError(t, tr.Disconnect())
	h.wait(t) // disconnecting
	h.wait(t) // disconnect
	assert.Equal(t, transport.Disconnected, tr.State())
	require.Len(t, h.disconnecting, 1)
	assert.NoError(t, h.disconnecting[0])
}

func TestTransportConnectFailureReportsDisconnectingWithError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close() // nothing listening now

	h := newRecordingHandler()
	tr := New(Config{Addr: addr, ConnectionTimeout: 500 * time.Millisecond})
	tr.SetHandler(h)

	require.NoError(t, tr.Connect())
	h.wait(t) // connecting
	h.wait(t) // disconnecting (dial failure)
	h.wait(t) // disconnect
	require.Len(t, h.disconnecting, 1)
	assert.Error(t, h.disconnecting[0])
	assert.Equal(t, transport.Disconnected, tr.State())
}
