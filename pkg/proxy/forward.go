package proxy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/getmockd/mockcore/pkg/mock"
)

// hopByHopHeaders are connection-scoped and never forwarded in either direction.
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"TE",
	"Trailers",
	"Transfer-Encoding",
	"Upgrade",
}

// ErrNoUpstream is returned by Proxy when no upstream is bound to the request.
var ErrNoUpstream = errors.New("proxy: no upstream bound")

// Proxy binds req and forwards it. It returns ErrNoUpstream when offline or
// when nothing is bound.
func (g *Gateway) Proxy(ctx context.Context, route string, req *mock.Request) (*mock.Response, error) {
	up := g.Bind(route, req.Path)
	if up == nil {
		return nil, ErrNoUpstream
	}
	return g.Forward(ctx, route, req, up)
}

// Forward sends req to up and returns the upstream's answer, whatever its
// status. Transport failures and timeouts surface as UpstreamUnavailable; there
// is no retry. The request runs to completion even if ctx is cancelled so an
// in-flight recording is not torn; the caller discards the result.
func (g *Gateway) Forward(ctx context.Context, route string, req *mock.Request, up *Upstream) (*mock.Response, error) {
	if up == nil {
		return nil, mock.NewError(mock.KindUpstreamUnavailable, "proxy.forward", "no upstream bound")
	}
	if g.Offline() {
		return nil, mock.NewError(mock.KindUpstreamUnavailable, "proxy.forward", "offline")
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), up.timeout())
	defer cancel()

	start := time.Now()
	outReq, err := g.buildRequest(ctx, req, up)
	if err != nil {
		return nil, mock.Wrap(mock.KindUpstreamUnavailable, "proxy.forward", err)
	}

	resp, err := g.client.Do(outReq)
	if err != nil {
		g.log.Warn("upstream unavailable",
			"upstream", up.label(), "route", route, "error", err)
		return nil, mock.Wrap(mock.KindUpstreamUnavailable, "proxy.forward", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, DefaultMaxBodySize))
	if err != nil {
		return nil, mock.Wrap(mock.KindUpstreamUnavailable, "proxy.forward",
			fmt.Errorf("read upstream body: %w", err))
	}

	out := &mock.Response{
		Status: resp.StatusCode,
		Header: resp.Header.Clone(),
		Body:   body,
		Source: mock.SourceProxy,
	}
	removeHopByHopHeaders(out.Header)
	out.Header.Del("Content-Length")

	g.log.Debug("forwarded",
		"upstream", up.label(),
		"route", route,
		"status", out.Status,
		"duration", time.Since(start))

	if g.shouldRecord(up, req.Path) {
		fp := g.recorder.Fingerprint(req)
		if err := g.recorder.Put(route, fp, req, out); err != nil {
			g.log.Error("failed to record upstream response",
				"route", route, "fingerprint", fp, "error", err)
		}
	}
	return out, nil
}

func (g *Gateway) buildRequest(ctx context.Context, req *mock.Request, up *Upstream) (*http.Request, error) {
	target := *up.base
	target.Path = strings.TrimSuffix(target.Path, "/") + req.Path
	target.RawPath = ""
	target.RawQuery = req.Query.Encode()

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	outReq, err := http.NewRequestWithContext(ctx, req.Method, target.String(), body)
	if err != nil {
		return nil, err
	}
	copyAllowed(outReq.Header, req.Header, up.allowHeaders())
	for name, value := range up.InjectHeaders {
		outReq.Header.Set(name, value)
	}
	removeHopByHopHeaders(outReq.Header)
	return outReq, nil
}

func copyAllowed(dst, src http.Header, allow []string) {
	for _, name := range allow {
		for _, v := range src.Values(name) {
			dst.Add(name, v)
		}
	}
}

func removeHopByHopHeaders(h http.Header) {
	for _, name := range h.Values("Connection") {
		for _, field := range strings.Split(name, ",") {
			if field = strings.TrimSpace(field); field != "" {
				h.Del(field)
			}
		}
	}
	for _, name := range hopByHopHeaders {
		h.Del(name)
	}
}
