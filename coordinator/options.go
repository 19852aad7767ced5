package coordinator

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/feedme-go/feedclient/conversation"
)

// Option configures a Coordinator at construction time.
type Option func(*Coordinator)

// WithLogger overrides the default logrus logger, shared with the
// Conversation and Harness underneath this Coordinator.
func WithLogger(l *logrus.Logger) Option {
	return func(co *Coordinator) { co.log = l }
}

// WithConnectTimeout forwards to conversation.WithConnectTimeout.
func WithConnectTimeout(d time.Duration) Option {
	return func(co *Coordinator) {
		co.conversationOpts = append(co.conversationOpts, conversation.WithConnectTimeout(d))
	}
}

// WithResponseTimeout forwards to conversation.WithResponseTimeout.
func WithResponseTimeout(d time.Duration) Option {
	return func(co *Coordinator) {
		co.conversationOpts = append(co.conversationOpts, conversation.WithResponseTimeout(d))
	}
}

// WithDisconnectTimeout forwards to conversation.WithDisconnectTimeout.
func WithDisconnectTimeout(d time.Duration) Option {
	return func(co *Coordinator) {
		co.conversationOpts = append(co.conversationOpts, conversation.WithDisconnectTimeout(d))
	}
}
