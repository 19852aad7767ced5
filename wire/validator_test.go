package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONSchemaValidatorAcceptsWellFormedMessages(t *testing.T) {
	v := NewJSONSchemaValidator()

	cases := []struct {
		mt  MessageType
		raw string
	}{
		{TypeHandshakeResponse, `{"MessageType":"HandshakeResponse","Success":true,"Version":"0.1"}`},
		{TypeActionResponse, `{"MessageType":"ActionResponse","CallbackId":"1","Success":true}`},
		{TypeFeedOpenResponse, `{"MessageType":"FeedOpenResponse","FeedName":"chat","FeedArgs":{},"Success":true}`},
		{TypeFeedCloseResponse, `{"MessageType":"FeedCloseResponse","FeedName":"chat","FeedArgs":{}}`},
		{TypeFeedAction, `{"MessageType":"FeedAction","FeedName":"chat","FeedArgs":{},"ActionName":"post","FeedDeltas":[]}`},
		{TypeFeedTermination, `{"MessageType":"FeedTermination","FeedName":"chat","FeedArgs":{},"ErrorCode":"Kicked"}`},
		{TypeViolationResponse, `{"MessageType":"ViolationResponse","Diagnostics":{}}`},
	}
	for _, c := range cases {
		err := v.Validate(c.mt, []byte(c.raw))
		require.NoErrorf(t, err, "message type %s", c.mt)
	}
}

func TestJSONSchemaValidatorRejectsMissingFields(t *testing.T) {
	v := NewJSONSchemaValidator()
	err := v.Validate(TypeActionResponse, []byte(`{"MessageType":"ActionResponse"}`))
	assert.Error(t, err)
}

func TestJSONSchemaValidatorRejectsUnknownType(t *testing.T) {
	v := NewJSONSchemaValidator()
	err := v.Validate(MessageType("Bogus"), []byte(`{}`))
	assert.Error(t, err)
}
