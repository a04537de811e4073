// Package resolver turns a protocol-neutral Request into exactly one Response
// by walking a fixed precedence chain: recorded fixture, matching rule,
// schema synthesis, proxy, and finally NoMatch. The chosen response then
// passes through the optional transform hook and the latency/fault injector.
package resolver

import (
	"context"

	"github.com/getmockd/mockcore/pkg/mock"
)

// FixtureSource replays recorded responses. *fixture.Store satisfies it.
type FixtureSource interface {
	Lookup(route string, req *mock.Request) (*mock.Response, bool)
}

// Synthesizer generates a body from a schema. Output must be deterministic for
// a given (schema, seed); examples, when given, take precedence.
type Synthesizer interface {
	Generate(schema map[string]any, seed int64, examples []any) ([]byte, error)
}

// Transformer rewrites a chosen response. Implementations are untrusted: an
// error leaves the original response in place.
type Transformer interface {
	Transform(ctx context.Context, req *mock.Request, resp *mock.Response) (*mock.Response, error)
}

// TransformerFunc adapts a function to Transformer.
type TransformerFunc func(ctx context.Context, req *mock.Request, resp *mock.Response) (*mock.Response, error)

// Transform calls f.
func (f TransformerFunc) Transform(ctx context.Context, req *mock.Request, resp *mock.Response) (*mock.Response, error) {
	return f(ctx, req, resp)
}

// Forwarder sends a request to a real upstream. It returns proxy.ErrNoUpstream
// when nothing is bound. *proxy.Gateway satisfies it.
type Forwarder interface {
	Proxy(ctx context.Context, route string, req *mock.Request) (*mock.Response, error)
}
