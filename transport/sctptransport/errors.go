package sctptransport

import "errors"

var (
	errNotConnected           = errors.New("sctptransport: not connected")
	errNotDisconnected        = errors.New("sctptransport: connect called while not disconnected")
	errConnectionClosedByPeer = errors.New("sctptransport: connection closed by peer")
)
