// Package sctptransport is a reference transport.Transport implementation
// over an SCTP association, adapting the teacher's
// transport.NewDiameterConnection SCTP dial path (github.com/ishidawataru/sctp)
// from binary AVP framing to the Protocol's newline-delimited JSON
// messages. Structurally identical to tcptransport; kept as a separate
// package because the two differ in their net.Conn construction and in
// SCTP's multi-homed address list.
package sctptransport

import (
	"bufio"
	"net"
	"sync"
	"time"

	"github.com/ishidawataru/sctp"

	"github.com/feedme-go/feedclient/transport"
)

// Config mirrors the teacher's SCTP dial settings
// (transport.NewDiameterConnection with Proto_SCTP).
type Config struct {
	IPAddrs           []net.IPAddr
	Port              int
	ConnectionTimeout time.Duration
	WriteTimeout      time.Duration
}

type Transport struct {
	mu      sync.Mutex
	cfg     Config
	conn    *sctp.SCTPConn
	st      transport.State
	handler transport.Handler
	stop    chan struct{}
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

	conn, err := sctp.DialSCTP("sctp", nil, &sctp.SCTPAddr{IPAddrs: t.cfg.IPAddrs, Port: t.cfg.Port})
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

func (t *Transport) readLoop(conn *sctp.SCTPConn, stop chan struct{}) {
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
