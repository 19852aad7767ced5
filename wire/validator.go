package wire

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// SchemaValidator is the external collaborator spec §1/§4.2 calls "the
// outward JSON message schema validator": the Conversation calls Validate
// on every parsed server message before dispatch, and disconnects with a
// ServerMessageError{schemaViolation} on failure. An application may
// supply its own; this package ships JSONSchemaValidator, a default built
// on santhosh-tekuri/jsonschema.
type SchemaValidator interface {
	Validate(messageType MessageType, raw []byte) error
}

var baseSchemas = map[MessageType]string{
	TypeViolationResponse: `{
		"type": "object",
		"required": ["MessageType", "Diagnostics"],
		"properties": {"MessageType": {"const": "ViolationResponse"}}
	}`,
	TypeHandshakeResponse: `{
		"type": "object",
		"required": ["MessageType", "Success"],
		"properties": {
			"MessageType": {"const": "HandshakeResponse"},
			"Success": {"type": "boolean"},
			"Version": {"type": "string"}
		}
	}`,
	TypeActionResponse: `{
		"type": "object",
		"required": ["MessageType", "CallbackId", "Success"],
		"properties": {
			"MessageType": {"const": "ActionResponse"},
			"CallbackId": {"type": "string"},
			"Success": {"type": "boolean"}
		}
	}`,
	TypeFeedOpenResponse: `{
		"type": "object",
		"required": ["MessageType", "FeedName", "FeedArgs", "Success"],
		"properties": {
			"MessageType": {"const": "FeedOpenResponse"},
			"FeedName": {"type": "string"},
			"FeedArgs": {"type": "object"},
			"Success": {"type": "boolean"}
		}
	}`,
	TypeFeedCloseResponse: `{
		"type": "object",
		"required": ["MessageType", "FeedName", "FeedArgs"],
		"properties": {
			"MessageType": {"const": "FeedCloseResponse"},
			"FeedName": {"type": "string"},
			"FeedArgs": {"type": "object"}
		}
	}`,
	TypeFeedAction: `{
		"type": "object",
		"required": ["MessageType", "FeedName", "FeedArgs", "ActionName", "FeedDeltas"],
		"properties": {
			"MessageType": {"const": "FeedAction"},
			"FeedName": {"type": "string"},
			"FeedArgs": {"type": "object"},
			"ActionName": {"type": "string"},
			"FeedDeltas": {"type": "array"},
			"FeedMd5": {"type": "string"}
		}
	}`,
	TypeFeedTermination: `{
		"type": "object",
		"required": ["MessageType", "FeedName", "FeedArgs", "ErrorCode"],
		"properties": {
			"MessageType": {"const": "FeedTermination"},
			"FeedName": {"type": "string"},
			"FeedArgs": {"type": "object"},
			"ErrorCode": {"type": "string"}
		}
	}`,
}

// JSONSchemaValidator compiles and validates the Protocol's server
// messages with santhosh-tekuri/jsonschema, grounded in
// dkoosis-cowgnition's schema-validated MCP transport.
type JSONSchemaValidator struct {
	schemas map[MessageType]*jsonschema.Schema
}

// NewJSONSchemaValidator compiles the built-in server-message schemas.
// It panics on a malformed built-in schema, which would be a programming
// error in this package, not a runtime condition.
func NewJSONSchemaValidator() *JSONSchemaValidator {
	v := &JSONSchemaValidator{schemas: make(map[MessageType]*jsonschema.Schema, len(baseSchemas))}
	for mt, raw := range baseSchemas {
		resource := fmt.Sprintf("%s.json", mt)
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(resource, strings.NewReader(raw)); err != nil {
			panic(fmt.Sprintf("wire: invalid built-in schema for %s: %v", mt, err))
		}
		schema, err := compiler.Compile(resource)
		if err != nil {
			panic(fmt.Sprintf("wire: failed to compile built-in schema for %s: %v", mt, err))
		}
		v.schemas[mt] = schema
	}
	return v
}

// Validate implements SchemaValidator.
func (v *JSONSchemaValidator) Validate(messageType MessageType, raw []byte) error {
	schema, ok := v.schemas[messageType]
	if !ok {
		return fmt.Errorf("wire: unknown MessageType %q", messageType)
	}
	var doc interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return err
	}
	return schema.Validate(doc)
}
