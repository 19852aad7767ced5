// Package wire defines the Protocol's JSON wire messages (spec §6) and the
// schema validator the Conversation uses to reject malformed server
// messages before they are ever dispatched.
package wire

import "encoding/json"

// SpecVersion is the single protocol version this client speaks.
const SpecVersion = "0.1"

// MessageType discriminates the Protocol's JSON envelope.
type MessageType string

const (
	TypeHandshake         MessageType = "Handshake"
	TypeHandshakeResponse MessageType = "HandshakeResponse"
	TypeAction            MessageType = "Action"
	TypeActionResponse    MessageType = "ActionResponse"
	TypeFeedOpen          MessageType = "FeedOpen"
	TypeFeedOpenResponse  MessageType = "FeedOpenResponse"
	TypeFeedClose         MessageType = "FeedClose"
	TypeFeedCloseResponse MessageType = "FeedCloseResponse"
	TypeFeedAction        MessageType = "FeedAction"
	TypeFeedTermination   MessageType = "FeedTermination"
	TypeViolationResponse MessageType = "ViolationResponse"
)

// Envelope is the minimal shape every message shares, used to discriminate
// before unmarshaling into a concrete type.
type Envelope struct {
	MessageType MessageType `json:"MessageType"`
}

// --- Client -> Server ---

type Handshake struct {
	MessageType MessageType `json:"MessageType"`
	Versions    []string    `json:"Versions"`
}

func NewHandshake() *Handshake {
	return &Handshake{MessageType: TypeHandshake, Versions: []string{SpecVersion}}
}

type Action struct {
	MessageType MessageType     `json:"MessageType"`
	ActionName  string          `json:"ActionName"`
	ActionArgs  json.RawMessage `json:"ActionArgs"`
	CallbackId  string          `json:"CallbackId"`
}

type FeedOpen struct {
	MessageType MessageType       `json:"MessageType"`
	FeedName    string            `json:"FeedName"`
	FeedArgs    map[string]string `json:"FeedArgs"`
}

type FeedClose struct {
	MessageType MessageType       `json:"MessageType"`
	FeedName    string            `json:"FeedName"`
	FeedArgs    map[string]string `json:"FeedArgs"`
}

// --- Server -> Client ---

type ViolationResponse struct {
	MessageType MessageType     `json:"MessageType"`
	Diagnostics json.RawMessage `json:"Diagnostics"`
}

type HandshakeResponse struct {
	MessageType MessageType `json:"MessageType"`
	Success     bool        `json:"Success"`
	Version     string      `json:"Version,omitempty"`
}

type ActionResponse struct {
	MessageType MessageType     `json:"MessageType"`
	CallbackId  string          `json:"CallbackId"`
	Success     bool            `json:"Success"`
	ActionData  json.RawMessage `json:"ActionData,omitempty"`
	ErrorCode   string          `json:"ErrorCode,omitempty"`
	ErrorData   json.RawMessage `json:"ErrorData,omitempty"`
}

type FeedOpenResponse struct {
	MessageType MessageType       `json:"MessageType"`
	FeedName    string            `json:"FeedName"`
	FeedArgs    map[string]string `json:"FeedArgs"`
	Success     bool              `json:"Success"`
	FeedData    json.RawMessage   `json:"FeedData,omitempty"`
	ErrorCode   string            `json:"ErrorCode,omitempty"`
	ErrorData   json.RawMessage   `json:"ErrorData,omitempty"`
}

type FeedCloseResponse struct {
	MessageType MessageType       `json:"MessageType"`
	FeedName    string            `json:"FeedName"`
	FeedArgs    map[string]string `json:"FeedArgs"`
}

// Delta is a single structural mutation applied to feed data. It mirrors
// the RFC 6902 JSON Patch operations that feed.JSONPatchApplier
// translates and applies.
type Delta struct {
	Op    string          `json:"Operation"`
	Path  string          `json:"Path"`
	Value json.RawMessage `json:"Value,omitempty"`
}

type FeedAction struct {
	MessageType MessageType       `json:"MessageType"`
	FeedName    string            `json:"FeedName"`
	FeedArgs    map[string]string `json:"FeedArgs"`
	ActionName  string            `json:"ActionName"`
	ActionData  json.RawMessage   `json:"ActionData"`
	FeedDeltas  []Delta           `json:"FeedDeltas"`
	FeedMd5     string            `json:"FeedMd5,omitempty"`
}

type FeedTermination struct {
	MessageType MessageType       `json:"MessageType"`
	FeedName    string            `json:"FeedName"`
	FeedArgs    map[string]string `json:"FeedArgs"`
	ErrorCode   string            `json:"ErrorCode"`
	ErrorData   json.RawMessage   `json:"ErrorData,omitempty"`
}
