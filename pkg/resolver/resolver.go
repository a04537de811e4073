package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/getmockd/mockcore/internal/matching"
	"github.com/getmockd/mockcore/pkg/chaos"
	"github.com/getmockd/mockcore/pkg/logging"
	"github.com/getmockd/mockcore/pkg/mock"
	"github.com/getmockd/mockcore/pkg/proxy"
	"github.com/getmockd/mockcore/pkg/registry"
	"github.com/getmockd/mockcore/pkg/template"
	"github.com/getmockd/mockcore/pkg/validation"
)

// Options are the scalar switches of a Resolver.
type Options struct {
	// Replay enables the fixture stage.
	Replay bool `json:"replay" yaml:"replay"`
	// Offline skips the proxy stage.
	Offline bool `json:"offline" yaml:"offline"`
	// NoMatchStatus is the status of NoMatch responses. Defaults to 404.
	NoMatchStatus int `json:"noMatchStatus,omitempty" yaml:"noMatchStatus,omitempty"`
	// UpstreamFaultStatus is the status served when a proxied upstream is
	// unavailable. Defaults to 502.
	UpstreamFaultStatus int `json:"upstreamFaultStatus,omitempty" yaml:"upstreamFaultStatus,omitempty"`
	// PropagateUpstreamErrors returns UpstreamUnavailable to the caller
	// instead of serving UpstreamFaultStatus.
	PropagateUpstreamErrors bool `json:"propagateUpstreamErrors,omitempty" yaml:"propagateUpstreamErrors,omitempty"`
	// DefaultSeed seeds synthesis for operations without their own seed.
	DefaultSeed int64 `json:"defaultSeed,omitempty" yaml:"defaultSeed,omitempty"`
}

func (o *Options) defaults() {
	if o.NoMatchStatus == 0 {
		o.NoMatchStatus = http.StatusNotFound
	}
	if o.UpstreamFaultStatus == 0 {
		o.UpstreamFaultStatus = http.StatusBadGateway
	}
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithRegistry sets the route registry holder.
func WithRegistry(h *registry.Holder) Option {
	return func(r *Resolver) { r.registry = h }
}

// WithRules sets the initial rule book.
func WithRules(b *matching.RuleBook) Option {
	return func(r *Resolver) { r.rules.Store(b) }
}

// WithFixtures sets the replay source.
func WithFixtures(f FixtureSource) Option {
	return func(r *Resolver) { r.fixtures = f }
}

// WithSynthesizer sets the schema generator.
func WithSynthesizer(s Synthesizer) Option {
	return func(r *Resolver) { r.synth = s }
}

// WithTransformer sets the response transform hook.
func WithTransformer(t Transformer) Option {
	return func(r *Resolver) { r.transform = t }
}

// WithForwarder sets the proxy stage.
func WithForwarder(f Forwarder) Option {
	return func(r *Resolver) { r.forwarder = f }
}

// WithInjector sets the latency and fault injector.
func WithInjector(i *chaos.Injector) Option {
	return func(r *Resolver) { r.injector.Store(i) }
}

// WithValidator sets schema validation.
func WithValidator(v *validation.Validator) Option {
	return func(r *Resolver) { r.validator = v }
}

// WithEventSink sets where events go. Defaults to a LogSink.
func WithEventSink(s EventSink) Option {
	return func(r *Resolver) {
		if s != nil {
			r.events = s
		}
	}
}

// WithLogger sets the operational logger.
func WithLogger(log *slog.Logger) Option {
	return func(r *Resolver) {
		if log != nil {
			r.log = logging.Component(log, "resolver")
		}
	}
}

// Stats counts resolutions per source.
type Stats struct {
	Requests  int64 `json:"requests"`
	Fixture   int64 `json:"fixture"`
	Rule      int64 `json:"rule"`
	Synthesis int64 `json:"synthesis"`
	Proxy     int64 `json:"proxy"`
	NoMatch   int64 `json:"noMatch"`
	Errors    int64 `json:"errors"`
	Faults    int64 `json:"faults"`
}

// Resolver runs the precedence chain. Rule books and the injector can be
// swapped at any time; a resolution in flight keeps the snapshot it started with.
type Resolver struct {
	opts Options

	registry  *registry.Holder
	rules     atomic.Pointer[matching.RuleBook]
	injector  atomic.Pointer[chaos.Injector]
	fixtures  FixtureSource
	synth     Synthesizer
	transform Transformer
	forwarder Forwarder
	validator *validation.Validator
	events    EventSink
	log       *slog.Logger

	requests, fixtureHits, ruleHits, synthHits, proxyHits, noMatch, errs, faults atomic.Int64
}

// New creates a Resolver.
func New(opts Options, options ...Option) *Resolver {
	opts.defaults()
	r := &Resolver{
		opts: opts,
		log:  logging.Nop(),
	}
	for _, o := range options {
		o(r)
	}
	if r.registry == nil {
		r.registry = registry.NewHolder(nil)
	}
	if r.events == nil {
		r.events = NewLogSink(r.log)
	}
	return r
}

// SetRules atomically replaces the rule book.
func (r *Resolver) SetRules(b *matching.RuleBook) {
	r.rules.Store(b)
}

// Rules returns the current rule book.
func (r *Resolver) Rules() *matching.RuleBook {
	return r.rules.Load()
}

// SetInjector atomically replaces the injector. nil disables injection.
func (r *Resolver) SetInjector(i *chaos.Injector) {
	r.injector.Store(i)
}

// Registry returns the registry holder.
func (r *Resolver) Registry() *registry.Holder {
	return r.registry
}

// Events returns the event sink.
func (r *Resolver) Events() EventSink {
	return r.events
}

// Options returns the resolver options.
func (r *Resolver) Options() Options {
	return r.opts
}

// Stats returns a snapshot of the counters.
func (r *Resolver) Stats() Stats {
	return Stats{
		Requests:  r.requests.Load(),
		Fixture:   r.fixtureHits.Load(),
		Rule:      r.ruleHits.Load(),
		Synthesis: r.synthHits.Load(),
		Proxy:     r.proxyHits.Load(),
		NoMatch:   r.noMatch.Load(),
		Errors:    r.errs.Load(),
		Faults:    r.faults.Load(),
	}
}

// Resolve looks req up in the registry and resolves it. Requests for
// undeclared routes still reach fixtures, global rules and the proxy, keyed
// by "METHOD path".
func (r *Resolver) Resolve(ctx context.Context, req *mock.Request) (*mock.Response, error) {
	op, params, ok := r.registry.Lookup(req.Method, req.Path)
	if ok {
		req.PathParams = params
		return r.ResolveOperation(ctx, req, op)
	}
	return r.ResolveOperation(ctx, req, nil)
}

// RouteOf returns the route id a request is keyed by.
func RouteOf(req *mock.Request, op *registry.Operation) string {
	if op != nil {
		return op.RouteID()
	}
	return req.Method + " " + req.Path
}

// ResolveOperation runs the chain for a request already bound to op (which may
// be nil for undeclared routes).
func (r *Resolver) ResolveOperation(ctx context.Context, req *mock.Request, op *registry.Operation) (*mock.Response, error) {
	start := time.Now()
	r.requests.Add(1)
	route := RouteOf(req, op)
	req.Route = route
	ev := Event{Route: route, Method: req.Method, Path: req.Path}

	if err := r.validator.ValidateRequest(op, req); err != nil {
		if blocked := r.validationFailed(ev, err); blocked {
			r.errs.Add(1)
			return nil, err
		}
	}

	resp, ruleID, err := r.chain(ctx, route, req, op)
	if err != nil {
		switch mock.KindOf(err) {
		case mock.KindNoMatch:
			r.noMatch.Add(1)
			ev.Type, ev.Error = EventNoMatch, err.Error()
			r.emit(ev, start)
			return nil, err
		case mock.KindUpstreamUnavailable:
			ev.Type, ev.Error = EventUpstreamFailed, err.Error()
			r.emit(ev, start)
			if r.opts.PropagateUpstreamErrors {
				r.errs.Add(1)
				return nil, err
			}
			resp = r.ErrorResponse(err)
		default:
			r.errs.Add(1)
			return nil, err
		}
	}
	r.count(resp.Source)
	ev.RuleID = ruleID

	if r.transform != nil && resp.Source != mock.SourceError {
		out, terr := r.transform.Transform(ctx, req, resp.Clone())
		switch {
		case terr != nil:
			r.emit(Event{Type: EventTransformFailed, Route: route, Error: terr.Error()}, start)
		case out != nil:
			resp = out
		}
	}

	if resp.Source != mock.SourceError && resp.Source != mock.SourceProxy {
		if err := r.validator.ValidateResponse(op, resp); err != nil {
			if blocked := r.validationFailed(ev, err); blocked {
				r.errs.Add(1)
				return nil, err
			}
		}
	}

	resp, err = r.inject(ctx, route, op, resp, &ev)
	if err != nil {
		return nil, err
	}

	ev.Type = EventResolved
	ev.Source = resp.Source
	ev.Status = resp.Status
	r.emit(ev, start)
	return resp, nil
}

// chain walks the precedence stages and returns the first response.
func (r *Resolver) chain(ctx context.Context, route string, req *mock.Request, op *registry.Operation) (*mock.Response, string, error) {
	if r.opts.Replay && r.fixtures != nil {
		if resp, ok := r.fixtures.Lookup(route, req); ok {
			return resp, "", nil
		}
	}

	if m := r.rules.Load().Match(route, req); m != nil {
		resp, err := r.ruleResponse(m, req, op)
		if err == nil {
			return resp, m.ID, nil
		}
		r.log.Warn("rule response failed, falling through", "rule", m.ID, "error", err)
		r.emit(Event{Type: EventSynthesisFailed, Route: route, RuleID: m.ID, Error: err.Error()}, time.Now())
	}

	if op != nil && r.synth != nil && (op.OutputSchema != nil || len(op.Examples) > 0) {
		body, err := r.synth.Generate(op.OutputSchema, r.seed(op.Seed, req), op.Examples)
		if err == nil {
			resp := mock.NewResponse(op.Status, body)
			if resp.Status == 0 {
				resp.Status = http.StatusOK
			}
			resp.Header.Set("Content-Type", "application/json")
			resp.Source = mock.SourceSynth
			return resp, "", nil
		}
		r.log.Warn("synthesis failed, falling through", "route", route, "error", err)
		r.emit(Event{Type: EventSynthesisFailed, Route: route, Error: err.Error()}, time.Now())
	}

	if !r.opts.Offline && r.forwarder != nil {
		resp, err := r.forwarder.Proxy(ctx, route, req)
		switch {
		case err == nil:
			return resp, "", nil
		case !errors.Is(err, proxy.ErrNoUpstream):
			return nil, "", err
		}
	}

	return nil, "", mock.NewError(mock.KindNoMatch, "resolve", fmt.Sprintf("nothing matched %s", route))
}

func (r *Resolver) ruleResponse(m *matching.CompiledRule, req *mock.Request, op *registry.Operation) (*mock.Response, error) {
	def := m.Rule.Response
	resp := mock.NewResponse(def.StatusCode(), nil)
	resp.Source = mock.SourceRule

	var tctx *template.Context
	if def.Template {
		tctx = template.RequestContext(req)
	}
	for name, value := range def.Headers {
		if tctx != nil {
			value = template.Render(value, tctx)
		}
		resp.Header.Set(name, value)
	}

	if def.Synthesize != nil {
		if r.synth == nil {
			return nil, errors.New("rule asks for synthesis but no synthesizer is configured")
		}
		var opSeed *int64
		if op != nil {
			opSeed = op.Seed
		}
		if def.Seed != nil {
			opSeed = def.Seed
		}
		body, err := r.synth.Generate(def.Synthesize, r.seed(opSeed, req), nil)
		if err != nil {
			return nil, err
		}
		resp.Body = body
		if resp.Header.Get("Content-Type") == "" {
			resp.Header.Set("Content-Type", "application/json")
		}
		return resp, nil
	}

	body, isJSON, err := def.BodyBytes()
	if err != nil {
		return nil, err
	}
	switch {
	case tctx != nil && isJSON:
		if body, err = json.Marshal(template.RenderValue(def.Body, tctx)); err != nil {
			return nil, fmt.Errorf("encode response body: %w", err)
		}
	case tctx != nil:
		body = template.RenderBytes(body, tctx)
	}
	resp.Body = body
	if isJSON && resp.Header.Get("Content-Type") == "" {
		resp.Header.Set("Content-Type", "application/json")
	}
	return resp, nil
}

// seed mixes the configured seed with the request path so that
// /users/1 and /users/2 differ while each stays stable.
func (r *Resolver) seed(explicit *int64, req *mock.Request) int64 {
	base := r.opts.DefaultSeed
	if explicit != nil {
		base = *explicit
	}
	return base ^ int64(xxhash.Sum64String(req.Path)>>1)
}

func (r *Resolver) inject(ctx context.Context, route string, op *registry.Operation, resp *mock.Response, ev *Event) (*mock.Response, error) {
	inj := r.injector.Load()
	if inj == nil {
		return resp, nil
	}
	var tags []string
	if op != nil {
		tags = op.Tags
	}
	plan := inj.Plan(route, tags)
	if plan.Empty() {
		return resp, nil
	}

	delay, err := inj.Delay(ctx, plan)
	ev.Latency = delay
	if err != nil {
		return nil, err
	}
	out, faulted := inj.Apply(resp, plan)
	if faulted {
		r.faults.Add(1)
		ev.Fault = plan.Fault.Name
		r.emit(Event{Type: EventFaultInjected, Route: route, Fault: plan.Fault.Name, Status: out.Status}, time.Now())
	}
	return out, nil
}

// validationFailed reports the failure and whether it blocks the exchange.
func (r *Resolver) validationFailed(ev Event, err error) bool {
	ev.Type, ev.Error = EventValidationFailed, err.Error()
	r.emit(ev, time.Now())
	return r.validator.Mode() == validation.ModeBlock
}

func (r *Resolver) count(src mock.Source) {
	switch src {
	case mock.SourceFixture, mock.SourceCassette:
		r.fixtureHits.Add(1)
	case mock.SourceRule:
		r.ruleHits.Add(1)
	case mock.SourceSynth:
		r.synthHits.Add(1)
	case mock.SourceProxy:
		r.proxyHits.Add(1)
	case mock.SourceError:
		r.errs.Add(1)
	}
}

func (r *Resolver) emit(ev Event, start time.Time) {
	ev.Time = time.Now()
	ev.Duration = ev.Time.Sub(start)
	r.events.Emit(ev)
}
