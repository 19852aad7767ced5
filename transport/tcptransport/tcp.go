// Package tcptransport is a reference transport.Transport implementation
// over a raw TCP socket, adapting the teacher's
// transport.DiameterConnection (net.Dialer + Read/Write/Close) from
// binary AVP framing to the Protocol's newline-delimited JSON messages.
//
// This package is additive: the core packages (transport, conversation,
// coordinator) never import it and consume any transport.Transport; only
// the client package's NewTCP constructor uses it. It exists so that an application that
// wants a ready-made socket transport has one, and so the teacher's
// TCP-dialing code has a home under the new domain.
package tcptransport

import (
	"bufio"
	"context"
	"net"
	"sync"
	"time"

	"github.com/feedme-go/feedclient/transport"
)

// Config mirrors the teacher's ClientOptions dial settings.
type Config struct {
	Addr              string
	ConnectionTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
}

// Transport frames each Protocol message as one newline-terminated line
// of UTF-8 JSON over a net.Conn, implementing transport.Transport.
type Transport struct {
	mu     sync.Mutex
	cfg    Config
	conn   net.Conn
	st     transport.State
	handler transport.Handler
	stop   chan struct{}
}

func New(cfg Config) *Transport {
	return &Transport{cfg: cfg, st: transport.Disconnected}
}

func (t *Transport) SetHandler(h transport.Handler) {
	t.mu.Lock()
	t.handler = h
	t.mu.Unlock()
}

func (t *Transport) State() transport.State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.st
}

// Connect emits `connecting` synchronously, per the Transport contract, and
// then dials the configured address. On success it emits `connect` and
// starts the read loop; on a dial failure it emits `disconnecting` with the
// dial error and then `disconnect`. Both happen before Connect returns.
func (t *Transport) Connect() error {
	t.mu.Lock()
	if t.st != transport.Disconnected {
		t.mu.Unlock()
		return errNotDisconnected
	}
	t.st = transport.Connecting
	handler := t.handler
	stop := make(chan struct{})
	t.stop = stop
	t.mu.Unlock()

	handler.OnConnecting()

	dialer := net.Dialer{Timeout: t.cfg.ConnectionTimeout}
	ctx := context.Background()
	if t.cfg.ConnectionTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.cfg.ConnectionTimeout)
		defer cancel()
	}
	conn, err := dialer.DialContext(ctx, "tcp", t.cfg.Addr)
	if err != nil {
		t.mu.Lock()
		t.st = transport.Disconnected
		t.mu.Unlock()
		handler.OnDisconnecting(err)
		handler.OnDisconnect()
		return nil
	}

	t.mu.Lock()
	t.conn = conn
	t.st = transport.Connected
	t.mu.Unlock()

	handler.OnConnect()
	go t.readLoop(conn, stop)
	return nil
}

func (t *Transport) readLoop(conn net.Conn, stop chan struct{}) {
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		select {
		case <-stop:
			return
		default:
		}
		t.mu.Lock()
		handler := t.handler
		st := t.st
		t.mu.Unlock()
		if st != transport.Connected {
			return
		}
		handler.OnMessage(scanner.Text())
	}

	t.mu.Lock()
	st := t.st
	handler := t.handler
	t.mu.Unlock()
	if st != transport.Connected {
		return
	}
	err := scanner.Err()
	if err == nil {
		err = errConnectionClosedByPeer
	}
	t.mu.Lock()
	t.st = transport.Disconnecting
	t.mu.Unlock()
	handler.OnDisconnecting(err)
	t.finishDisconnect(handler)
}

// Send writes one message as a single newline-terminated line.
func (t *Transport) Send(msg string) error {
	t.mu.Lock()
	conn := t.conn
	timeout := t.cfg.WriteTimeout
	t.mu.Unlock()
	if conn == nil {
		return errNotConnected
	}
	if timeout > 0 {
		conn.SetWriteDeadline(time.Now().Add(timeout))
	}
	_, err := conn.Write([]byte(msg + "\n"))
	return err
}

// Disconnect emits `disconnecting` (with no error) synchronously, closes
// the socket, then emits `disconnect` at once; it does not wait for the
// read loop to exit.
func (t *Transport) Disconnect() error {
	t.mu.Lock()
	if t.st != transport.Connecting && t.st != transport.Connected {
		t.mu.Unlock()
		return errNotConnected
	}
	t.st = transport.Disconnecting
	handler := t.handler
	conn := t.conn
	stop := t.stop
	t.mu.Unlock()

	if stop != nil {
		close(stop)
	}
	handler.OnDisconnecting(nil)
	if conn != nil {
		conn.Close()
	}
	t.finishDisconnect(handler)
	return nil
}

func (t *Transport) finishDisconnect(handler transport.Handler) {
	t.mu.Lock()
	t.st = transport.Disconnected
	t.conn = nil
	t.mu.Unlock()
	handler.OnDisconnect()
}
