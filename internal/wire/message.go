package wire

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType identifies which of the three payload shapes an envelope carries.
type MessageType string

const (
	TypeLifecycle MessageType = "lifecycle"
	TypeHTTP      MessageType = "http"
	TypeKV        MessageType = "kv"
)

// Envelope is the typed wrapper carried by every frame.
//
// RequestID is absent for fire-and-forget lifecycle messages and mandatory
// (and echoed identically) for http and kv request/response pairs.
type Envelope struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	RequestID string          `json:"request_id,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}

// Encode serializes env to its wire form (the frame payload, not length-prefixed).
func Encode(env Envelope) ([]byte, error) {
	b, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("wire: encode envelope: %w", err)
	}
	return b, nil
}

// Decode parses raw frame bytes into an Envelope, validating that Type is
// one of the three known values. Unknown payload fields are ignored by
// encoding/json's default unmarshal behavior; missing required fields are
// caught by the payload-specific Decode* helpers below, not here.
func Decode(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("wire: decode envelope: %w", err)
	}
	switch env.Type {
	case TypeLifecycle, TypeHTTP, TypeKV:
	default:
		return Envelope{}, ErrUnknownType
	}
	return env, nil
}

// --- Lifecycle payloads ---

// InitPayload is sent core->plugin once, immediately after spawn.
type InitPayload struct {
	InstanceID   string `json:"instance_id"`
	PluginSocket string `json:"plugin_socket"`
	LogPath      string `json:"log_path"`
}

// ShutdownPayload is sent core->plugin to request graceful exit.
type ShutdownPayload struct{}

// NewInitEnvelope builds a lifecycle/init envelope (no request_id).
func NewInitEnvelope(p InitPayload) (Envelope, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Type: TypeLifecycle, Timestamp: time.Now().UTC(), Payload: raw}, nil
}

// NewShutdownEnvelope builds a lifecycle/shutdown envelope (no request_id).
func NewShutdownEnvelope() (Envelope, error) {
	raw, err := json.Marshal(ShutdownPayload{})
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Type: TypeLifecycle, Timestamp: time.Now().UTC(), Payload: raw}, nil
}

// DecodeInit parses a lifecycle envelope's payload as an InitPayload.
func DecodeInit(env Envelope) (InitPayload, error) {
	var p InitPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return InitPayload{}, err
	}
	if p.InstanceID == "" || p.PluginSocket == "" {
		return InitPayload{}, ErrMissingField
	}
	return p, nil
}

// --- HTTP payloads ---

// HTTPRequest is the core->plugin request payload.
type HTTPRequest struct {
	Method  string            `json:"method"`
	Path    string            `json:"path"`
	Headers map[string]string `json:"headers"`
	Body    string            `json:"body,omitempty"`
}

// HTTPResponse is the plugin->core response payload.
type HTTPResponse struct {
	Status  uint16            `json:"status"`
	Headers map[string]string `json:"headers"`
	Body    string            `json:"body,omitempty"`
}

// NewHTTPRequestEnvelope builds an http/request envelope with the given request id.
func NewHTTPRequestEnvelope(requestID string, req HTTPRequest) (Envelope, error) {
	if requestID == "" {
		return Envelope{}, ErrMissingField
	}
	raw, err := json.Marshal(req)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Type: TypeHTTP, Timestamp: time.Now().UTC(), RequestID: requestID, Payload: raw}, nil
}

// NewHTTPResponseEnvelope builds an http/response envelope echoing requestID.
func NewHTTPResponseEnvelope(requestID string, resp HTTPResponse) (Envelope, error) {
	if requestID == "" {
		return Envelope{}, ErrMissingField
	}
	raw, err := json.Marshal(resp)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Type: TypeHTTP, Timestamp: time.Now().UTC(), RequestID: requestID, Payload: raw}, nil
}

// DecodeHTTPRequest parses an http envelope's payload as an HTTPRequest.
func DecodeHTTPRequest(env Envelope) (HTTPRequest, error) {
	var req HTTPRequest
	if err := json.Unmarshal(env.Payload, &req); err != nil {
		return HTTPRequest{}, err
	}
	if req.Method == "" || req.Path == "" {
		return HTTPRequest{}, ErrMissingField
	}
	return req, nil
}

// DecodeHTTPResponse parses an http envelope's payload as an HTTPResponse.
func DecodeHTTPResponse(env Envelope) (HTTPResponse, error) {
	var resp HTTPResponse
	if err := json.Unmarshal(env.Payload, &resp); err != nil {
		return HTTPResponse{}, err
	}
	if resp.Status == 0 {
		return HTTPResponse{}, ErrMissingField
	}
	return resp, nil
}

// --- KV payloads ---

// KVAction enumerates the three KV request shapes.
type KVAction string

const (
	KVGet    KVAction = "get"
	KVSet    KVAction = "set"
	KVDelete KVAction = "delete"
)

// KVRequest is the core->plugin (or plugin->core, for plugin-initiated KV
// access through its own sidecar connection) KV request payload.
type KVRequest struct {
	Action KVAction `json:"action"`
	Key    string   `json:"key"`
	Value  string   `json:"value,omitempty"`
}

// KVResponse carries the looked-up value, or nil for an absent key.
type KVResponse struct {
	Value *string `json:"value"`
}

// NewKVRequestEnvelope builds a kv/request envelope with the given request id.
func NewKVRequestEnvelope(requestID string, req KVRequest) (Envelope, error) {
	if requestID == "" {
		return Envelope{}, ErrMissingField
	}
	if req.Action != KVGet && req.Action != KVSet && req.Action != KVDelete {
		return Envelope{}, fmt.Errorf("wire: invalid kv action %q", req.Action)
	}
	raw, err := json.Marshal(req)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Type: TypeKV, Timestamp: time.Now().UTC(), RequestID: requestID, Payload: raw}, nil
}

// NewKVResponseEnvelope builds a kv/response envelope echoing requestID.
func NewKVResponseEnvelope(requestID string, resp KVResponse) (Envelope, error) {
	if requestID == "" {
		return Envelope{}, ErrMissingField
	}
	raw, err := json.Marshal(resp)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Type: TypeKV, Timestamp: time.Now().UTC(), RequestID: requestID, Payload: raw}, nil
}

// DecodeKVRequest parses a kv envelope's payload as a KVRequest.
func DecodeKVRequest(env Envelope) (KVRequest, error) {
	var req KVRequest
	if err := json.Unmarshal(env.Payload, &req); err != nil {
		return KVRequest{}, err
	}
	if req.Key == "" {
		return KVRequest{}, ErrMissingField
	}
	return req, nil
}

// DecodeKVResponse parses a kv envelope's payload as a KVResponse.
func DecodeKVResponse(env Envelope) (KVResponse, error) {
	var resp KVResponse
	if err := json.Unmarshal(env.Payload, &resp); err != nil {
		return KVResponse{}, err
	}
	return resp, nil
}
