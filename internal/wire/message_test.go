package wire

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestEnvelope_DecodeEncodeRoundTrip(t *testing.T) {
	env, err := NewInitEnvelope(InitPayload{
		InstanceID:   "inst-1",
		PluginSocket: "/tmp/hello.sock",
		LogPath:      "/tmp/hello.log",
	})
	require.NoError(t, err)

	raw, err := Encode(env)
	require.NoError(t, err)

	decoded, err := Decode(raw)
	require.NoError(t, err)
	require.Equal(t, TypeLifecycle, decoded.Type)

	p, err := DecodeInit(decoded)
	require.NoError(t, err)
	require.Equal(t, "inst-1", p.InstanceID)
	require.Equal(t, "/tmp/hello.sock", p.PluginSocket)
}

func TestDecode_UnknownType(t *testing.T) {
	_, err := Decode([]byte(`{"type":"bogus","timestamp":"2024-01-01T00:00:00Z","payload":{}}`))
	require.ErrorIs(t, err, ErrUnknownType)
}

func TestDecodeInit_MissingRequiredField(t *testing.T) {
	env := Envelope{Type: TypeLifecycle, Payload: []byte(`{"log_path":"x"}`)}
	_, err := DecodeInit(env)
	require.ErrorIs(t, err, ErrMissingField)
}

func TestHTTPRequestResponse_RequestIDCorrelation(t *testing.T) {
	id := uuid.NewString()
	reqEnv, err := NewHTTPRequestEnvelope(id, HTTPRequest{
		Method:  "GET",
		Path:    "/hello/ping",
		Headers: map[string]string{"accept": "text/plain"},
	})
	require.NoError(t, err)
	require.Equal(t, id, reqEnv.RequestID)

	respEnv, err := NewHTTPResponseEnvelope(id, HTTPResponse{
		Status:  200,
		Headers: map[string]string{"content-type": "text/plain"},
		Body:    "pong",
	})
	require.NoError(t, err)
	require.Equal(t, reqEnv.RequestID, respEnv.RequestID)

	resp, err := DecodeHTTPResponse(respEnv)
	require.NoError(t, err)
	require.Equal(t, uint16(200), resp.Status)
	require.Equal(t, "pong", resp.Body)
}

func TestHTTPRequest_MissingFieldsRejected(t *testing.T) {
	_, err := NewHTTPRequestEnvelope("", HTTPRequest{Method: "GET", Path: "/x"})
	require.ErrorIs(t, err, ErrMissingField)
}

func TestKVRequestResponse(t *testing.T) {
	id := uuid.NewString()
	env, err := NewKVRequestEnvelope(id, KVRequest{Action: KVSet, Key: "k", Value: "v"})
	require.NoError(t, err)

	req, err := DecodeKVRequest(env)
	require.NoError(t, err)
	require.Equal(t, KVSet, req.Action)
	require.Equal(t, "v", req.Value)

	val := "v"
	respEnv, err := NewKVResponseEnvelope(id, KVResponse{Value: &val})
	require.NoError(t, err)
	resp, err := DecodeKVResponse(respEnv)
	require.NoError(t, err)
	require.NotNil(t, resp.Value)
	require.Equal(t, "v", *resp.Value)
}

func TestKVRequest_InvalidAction(t *testing.T) {
	_, err := NewKVRequestEnvelope(uuid.NewString(), KVRequest{Action: "bogus", Key: "k"})
	require.Error(t, err)
}
