// Package router implements the HTTP request forwarder (C8): mapping an
// inbound path segment to a plugin id, opening a fresh socket connection
// per request, and awaiting the correlated response within a deadline
// (spec.md §4.5).
package router

import (
	"context"
	"errors"
	"net"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/toruai/steering-plugins/internal/errs"
	"github.com/toruai/steering-plugins/internal/metrics"
	"github.com/toruai/steering-plugins/internal/wire"
)

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// PluginLocator resolves a plugin id to its current socket path, or returns
// a PluginUnavailable error if the plugin is unknown, disabled, or not
// running. internal/supervisor.Supervisor satisfies this.
type PluginLocator interface {
	SocketPathFor(id string) (string, error)
	RouteFor(segment string) (string, bool)
}

// Router forwards HTTP requests to plugin processes over the wire protocol.
type Router struct {
	locator         PluginLocator
	maxFrame        uint32
	connectDeadline time.Duration
	forwardDeadline time.Duration
	metrics         *metrics.Metrics
}

// New constructs a Router against locator.
func New(locator PluginLocator, maxFrame uint32, connectDeadline, forwardDeadline time.Duration, m *metrics.Metrics) *Router {
	return &Router{
		locator:         locator,
		maxFrame:        maxFrame,
		connectDeadline: connectDeadline,
		forwardDeadline: forwardDeadline,
		metrics:         m,
	}
}

// ValidateSegment enforces spec.md §4.5's path-segment rule: MUST NOT
// contain ".." or "/". Call this before RouteFor/Forward so that a
// traversal attempt never causes any plugin connection to be opened
// (spec.md §8 scenario 6).
func ValidateSegment(segment string) bool {
	if segment == "" {
		return false
	}
	if strings.Contains(segment, "..") || strings.Contains(segment, "/") {
		return false
	}
	return true
}

// ValidateForwardPath enforces spec.md §4.5/§8 scenario 6 against the full
// forwarded path, not just the leading plugin-id segment: id must itself
// pass ValidateSegment, and path.Clean("/"+id+rest) must stay rooted under
// "/<id>/" (or equal it exactly). rest may embed its own ".." segments that
// climb back out of id once joined (e.g. id="hello", rest="/../admin"), and
// those must be rejected before any plugin connection is opened even though
// id alone looks fine.
func ValidateForwardPath(id, rest string) bool {
	if !ValidateSegment(id) {
		return false
	}
	cleaned := path.Clean("/" + id + rest)
	prefix := "/" + id
	return cleaned == prefix || strings.HasPrefix(cleaned, prefix+"/")
}

// Forward implements the forward algorithm of spec.md §4.5.
func (r *Router) Forward(ctx context.Context, id string, req wire.HTTPRequest) (wire.HTTPResponse, error) {
	start := time.Now()
	resp, err := r.forward(ctx, id, req)
	if r.metrics != nil {
		outcome := "ok"
		if err != nil {
			if e, ok := err.(*errs.Error); ok {
				outcome = string(e.Kind)
			} else {
				outcome = "error"
			}
		}
		r.metrics.ForwardsTotal.WithLabelValues(id, outcome).Inc()
		r.metrics.ForwardLatency.WithLabelValues(id, outcome).Observe(time.Since(start).Seconds())
	}
	return resp, err
}

func (r *Router) forward(ctx context.Context, id string, req wire.HTTPRequest) (wire.HTTPResponse, error) {
	sockPath, err := r.locator.SocketPathFor(id)
	if err != nil {
		return wire.HTTPResponse{}, err
	}

	requestID := uuid.NewString()

	deadline := r.forwardDeadline
	if deadline <= 0 {
		deadline = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	dialer := net.Dialer{Timeout: r.connectDeadline}
	conn, err := dialer.DialContext(ctx, "unix", sockPath)
	if err != nil {
		return wire.HTTPResponse{}, errs.Wrap(errs.ProtocolError, id, "failed to connect to plugin socket", err)
	}
	defer conn.Close()

	if dl, ok := ctx.Deadline(); ok {
		conn.SetDeadline(dl)
	}

	reqEnv, err := wire.NewHTTPRequestEnvelope(requestID, req)
	if err != nil {
		return wire.HTTPResponse{}, errs.Wrap(errs.ProtocolError, id, "failed to build request frame", err)
	}
	raw, err := wire.Encode(reqEnv)
	if err != nil {
		return wire.HTTPResponse{}, errs.Wrap(errs.ProtocolError, id, "failed to encode request frame", err)
	}

	fw := wire.NewFrameWriter(conn, r.maxFrame)
	if err := fw.WriteFrame(raw); err != nil {
		return wire.HTTPResponse{}, errs.Wrap(errs.ProtocolError, id, "failed to write request frame", err)
	}

	fr := wire.NewFrameReader(conn, r.maxFrame)
	for {
		respRaw, err := fr.ReadFrame()
		if err != nil {
			if isTimeout(err) || ctx.Err() == context.DeadlineExceeded {
				return wire.HTTPResponse{}, errs.Wrap(errs.Timeout, id, "forward deadline exceeded", err)
			}
			return wire.HTTPResponse{}, errs.Wrap(errs.ProtocolError, id, "failed to read response frame", err)
		}
		env, err := wire.Decode(respRaw)
		if err != nil {
			return wire.HTTPResponse{}, errs.Wrap(errs.ProtocolError, id, "malformed response frame", err)
		}
		// Ignore frames not matching this request; none are expected on a
		// per-request connection, but the rule is explicit (spec.md §4.5 step 5).
		if env.Type != wire.TypeHTTP || env.RequestID != requestID {
			continue
		}
		resp, err := wire.DecodeHTTPResponse(env)
		if err != nil {
			return wire.HTTPResponse{}, errs.Wrap(errs.ProtocolError, id, "malformed response payload", err)
		}
		return resp, nil
	}
}
