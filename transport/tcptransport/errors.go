package tcptransport

import "errors"

var (
	errNotConnected           = errors.New("tcptransport: not connected")
	errNotDisconnected        = errors.New("tcptransport: connect called while not disconnected")
	errConnectionClosedByPeer = errors.New("tcptransport: connection closed by peer")
)
