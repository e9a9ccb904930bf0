package httpapi

import (
	"encoding/base64"
	"io"
	"net/http"
	"path"
	"strconv"
	"unicode/utf8"

	"github.com/gin-gonic/gin"

	"github.com/toruai/steering-plugins/internal/errs"
	"github.com/toruai/steering-plugins/internal/router"
	"github.com/toruai/steering-plugins/internal/store"
	"github.com/toruai/steering-plugins/internal/wire"
)

// bodyEncodingHeader flags a non-UTF-8 body as base64-encoded across the
// wire (spec.md §4.5). Present on either the request or the response.
const bodyEncodingHeader = "x-toru-body-encoding"

func (s *Server) listPlugins(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"plugins": s.sup.List()})
}

func (s *Server) getPlugin(c *gin.Context) {
	status, ok := s.sup.Get(c.Param("id"))
	if !ok {
		e := errs.New(errs.PluginUnavailable, c.Param("id"), "no such plugin")
		c.JSON(http.StatusNotFound, gin.H{"error": apiError{Kind: string(e.Kind), Message: e.Error()}})
		return
	}
	c.JSON(http.StatusOK, status)
}

func (s *Server) enablePlugin(c *gin.Context) {
	id := c.Param("id")
	if err := s.sup.Enable(id); err != nil {
		respondError(c, err)
		return
	}
	status, _ := s.sup.Get(id)
	c.JSON(http.StatusOK, status)
}

func (s *Server) disablePlugin(c *gin.Context) {
	id := c.Param("id")
	if err := s.sup.Disable(id); err != nil {
		respondError(c, err)
		return
	}
	status, _ := s.sup.Get(id)
	c.JSON(http.StatusOK, status)
}

func (s *Server) getLogs(c *gin.Context) {
	id := c.Param("id")
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "50"))
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 50
	}
	eventType := store.EventType(c.Query("type"))

	events, err := s.sup.Events(id, page, pageSize, eventType)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

// getBundle forwards a fixed GET /bundle.js request to the plugin, serving
// its static asset bundle (spec.md §4.9's "get bundle" management op).
func (s *Server) getBundle(c *gin.Context) {
	id := c.Param("id")
	resp, err := s.router.Forward(c.Request.Context(), id, wire.HTTPRequest{Method: http.MethodGet, Path: "/bundle.js"})
	if err != nil {
		respondError(c, err)
		return
	}
	writeResponse(c, resp)
}

// forwardAny implements the catch-all forward-any management op: the first
// path segment after /plugins/ names the plugin, everything after it
// (plus the original query string) is preserved verbatim as the plugin-side
// path (spec.md §4.5).
func (s *Server) forwardAny(c *gin.Context) {
	id := c.Param("id")
	rest := c.Param("rest")
	if !router.ValidateForwardPath(id, rest) {
		c.JSON(http.StatusBadRequest, gin.H{"error": apiError{Kind: "protocol_error", Message: "invalid plugin path segment"}})
		return
	}

	// gin's wildcard "rest" includes its own leading slash (or is empty at
	// the bare segment). The delivered path reconstructs "/<segment><rest>"
	// per spec.md §4.5, i.e. the original URL with only the outer prefix
	// stripped off, cleaned so any "." / ".." components rest carried are
	// resolved the same way ValidateForwardPath already checked them.
	forwardPath := path.Clean("/" + id + rest)
	if rawQuery := c.Request.URL.RawQuery; rawQuery != "" {
		forwardPath += "?" + rawQuery
	}

	req, err := buildRequest(c, forwardPath)
	if err != nil {
		respondError(c, err)
		return
	}

	resp, err := s.router.Forward(c.Request.Context(), id, req)
	if err != nil {
		respondError(c, err)
		return
	}
	writeResponse(c, resp)
}

// buildRequest converts an inbound gin request into a wire.HTTPRequest,
// base64-encoding the body and flagging it via bodyEncodingHeader when it
// is not valid UTF-8 (spec.md §4.5).
func buildRequest(c *gin.Context, path string) (wire.HTTPRequest, error) {
	headers := map[string]string{}
	for k := range c.Request.Header {
		headers[k] = c.Request.Header.Get(k)
	}

	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return wire.HTTPRequest{}, errs.Wrap(errs.ProtocolError, "", "failed to read request body", err)
	}

	body := string(raw)
	if len(raw) > 0 && !utf8.Valid(raw) {
		body = base64.StdEncoding.EncodeToString(raw)
		headers[bodyEncodingHeader] = "base64"
	}

	return wire.HTTPRequest{
		Method:  c.Request.Method,
		Path:    path,
		Headers: headers,
		Body:    body,
	}, nil
}

// writeResponse relays a plugin's wire.HTTPResponse back to the outer HTTP
// client, decoding the body if bodyEncodingHeader marks it base64.
func writeResponse(c *gin.Context, resp wire.HTTPResponse) {
	body := []byte(resp.Body)
	if resp.Headers != nil && resp.Headers[bodyEncodingHeader] == "base64" {
		decoded, err := base64.StdEncoding.DecodeString(resp.Body)
		if err == nil {
			body = decoded
		}
	}
	contentType := "application/octet-stream"
	for k, v := range resp.Headers {
		if k == bodyEncodingHeader {
			continue
		}
		c.Header(k, v)
		if k == "content-type" || k == "Content-Type" {
			contentType = v
		}
	}
	c.Data(int(resp.Status), contentType, body)
}
