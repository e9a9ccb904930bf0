// Package pluginsdk is a small helper library for authors of plugin
// binaries: it implements the plugin side of the wire protocol (spec.md
// §4.1/§4.2/§6) so a plugin author only has to supply an HTTP handler and
// a metadata descriptor. Incoming kv frames are read and ignored; the SDK
// has no KV hooks.
package pluginsdk

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/toruai/steering-plugins/internal/wire"
)

// Metadata is re-exported so plugin authors need only import this package.
type Metadata struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Version string `json:"version"`
	Author  string `json:"author,omitempty"`
	Icon    string `json:"icon,omitempty"`
	Route   string `json:"route"`
}

// Handler answers one forwarded HTTP request.
type Handler func(req wire.HTTPRequest) wire.HTTPResponse

// Plugin is the minimal runtime a plugin binary's main() constructs.
type Plugin struct {
	Metadata Metadata
	Handler  Handler

	mu       sync.Mutex
	instance string
}

// Run is the entire body a plugin's main() needs. It recognizes
// "--metadata" (prints Metadata as JSON and exits) and otherwise serves the
// wire protocol on the socket named by TORU_PLUGIN_SOCKET until it receives
// a lifecycle/shutdown frame (spec.md §6 plugin-binary contract).
func (p *Plugin) Run(args []string) error {
	if len(args) > 0 && args[0] == "--metadata" {
		return json.NewEncoder(os.Stdout).Encode(p.Metadata)
	}

	sockPath := os.Getenv("TORU_PLUGIN_SOCKET")
	if sockPath == "" {
		return fmt.Errorf("pluginsdk: TORU_PLUGIN_SOCKET not set")
	}
	p.instance = os.Getenv("TORU_INSTANCE_ID")

	os.Remove(sockPath)
	ln, err := net.Listen("unix", sockPath)
	if err != nil {
		return fmt.Errorf("pluginsdk: listen: %w", err)
	}
	defer ln.Close()

	shutdown := make(chan struct{})
	var once sync.Once

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go p.serveConn(conn, shutdown, &once)
		}
	}()

	<-shutdown
	// give in-flight connections a moment to finish their response before exit.
	time.Sleep(100 * time.Millisecond)
	return nil
}

func (p *Plugin) serveConn(conn net.Conn, shutdown chan struct{}, once *sync.Once) {
	defer conn.Close()
	fr := wire.NewFrameReader(conn, wire.DefaultMaxFrame)
	fw := wire.NewFrameWriter(conn, wire.DefaultMaxFrame)

	for {
		raw, err := fr.ReadFrame()
		if err != nil {
			return
		}
		env, err := wire.Decode(raw)
		if err != nil {
			continue
		}

		switch env.Type {
		case wire.TypeLifecycle:
			// lifecycle/init carries instance_id and plugin_socket; the
			// shutdown payload is empty, so only that one ends the serve loop.
			if _, err := wire.DecodeInit(env); err == nil {
				continue
			}
			once.Do(func() { close(shutdown) })
			return
		case wire.TypeHTTP:
			req, err := wire.DecodeHTTPRequest(env)
			if err != nil {
				continue
			}
			var resp wire.HTTPResponse
			if p.Handler != nil {
				resp = p.Handler(req)
			} else {
				resp = wire.HTTPResponse{Status: 404}
			}
			respEnv, err := wire.NewHTTPResponseEnvelope(env.RequestID, resp)
			if err != nil {
				continue
			}
			respRaw, err := wire.Encode(respEnv)
			if err != nil {
				continue
			}
			_ = fw.WriteFrame(respRaw)
		case wire.TypeKV:
			// Plugin binaries that need their own KV access should dial back
			// through their own client; the baseline SDK does not provide a
			// server-side KV responder since KV requests flow core->plugin
			// only in spec.md's baseline protocol description for the common
			// case of a plugin being asked to read its own config, which
			// plugin authors may add using the same frame primitives.
			continue
		}
	}
}
