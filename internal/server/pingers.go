package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

// PingFunc adapts a function to the Pinger interface. *rag.QdrantStore.Ping,
// *engine.Engine.Ping and *store.SQLiteStore.Ping all fit.
type PingFunc struct {
	name string
	fn   func(ctx context.Context) error
}

// NewPingFunc returns a Pinger named name that calls fn.
func NewPingFunc(name string, fn func(ctx context.Context) error) *PingFunc {
	return &PingFunc{name: name, fn: fn}
}

// Name returns the dependency label used in readiness responses.
func (p *PingFunc) Name() string { return p.name }

// Ping calls the wrapped function.
func (p *PingFunc) Ping(ctx context.Context) error { return p.fn(ctx) }

// HTTPPinger probes an HTTP dependency (Ollama, a TEI embedding or rerank
// server) with a GET and treats any 2xx as healthy. It costs no tokens.
type HTTPPinger struct {
	name   string
	url    string
	client *http.Client
}

// NewHTTPPinger constructs an HTTPPinger for baseURL+path. A nil client uses
// http.DefaultClient; the readiness handler bounds each probe with a timeout.
func NewHTTPPinger(name, baseURL, path string, client *http.Client) *HTTPPinger {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPPinger{
		name:   name,
		url:    strings.TrimRight(baseURL, "/") + path,
		client: client,
	}
}

// Name returns the dependency label used in readiness responses.
func (p *HTTPPinger) Name() string { return p.name }

// Ping issues the GET request.
func (p *HTTPPinger) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", p.url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("GET %s: status %d", p.url, resp.StatusCode)
	}
	return nil
}
