package config

import (
	"fmt"
	"log/slog"
	"reflect"
	"sync"

	"github.com/getmockd/mockcore/internal/matching"
	"github.com/getmockd/mockcore/pkg/chaos"
	"github.com/getmockd/mockcore/pkg/fixture"
	"github.com/getmockd/mockcore/pkg/logging"
	"github.com/getmockd/mockcore/pkg/proxy"
	"github.com/getmockd/mockcore/pkg/registry"
	"github.com/getmockd/mockcore/pkg/requestlog"
	"github.com/getmockd/mockcore/pkg/resolver"
	"github.com/getmockd/mockcore/pkg/synth"
	"github.com/getmockd/mockcore/pkg/validation"
	"github.com/getmockd/mockcore/pkg/websocket"
)

// Overrides are command-line switches applied on top of every document the
// Runtime builds from, including reloaded ones.
type Overrides struct {
	// Offline disables forwarding.
	Offline bool
	// Replay forces the fixture stage on.
	Replay bool
	// RecordAll records every forwarded exchange regardless of upstream mode.
	RecordAll bool
}

func (o Overrides) apply(doc *Document) {
	if o.Offline {
		doc.Proxy.Offline = true
	}
	if o.Replay {
		doc.Fixtures.Replay = true
	}
}

// Runtime is a document turned into running components.
type Runtime struct {
	Registry  *registry.Holder
	Resolver  *resolver.Resolver
	Fixtures  *fixture.Store // nil when fixtures are disabled
	Gateway   *proxy.Gateway
	Validator *validation.Validator
	WebSocket *websocket.Manager
	Requests  *requestlog.Memory // nil when the request history is disabled

	overrides Overrides
	log       *slog.Logger

	mu  sync.Mutex
	doc *Document
}

// Build validates doc and assembles a Runtime from it. events may be nil, in
// which case resolver events are logged at debug level.
func Build(doc *Document, ov Overrides, events resolver.EventSink, log *slog.Logger) (*Runtime, error) {
	log = logging.OrNop(log)
	ov.apply(doc)
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	if events == nil {
		events = resolver.NewLogSink(logging.Component(log, "events"))
	}

	reg, err := registry.Load(doc.Operations)
	if err != nil {
		return nil, err
	}
	injector, err := chaos.NewInjector(doc.Chaos, doc.Server.Seed)
	if err != nil {
		return nil, err
	}

	rt := &Runtime{
		Registry:  registry.NewHolder(reg),
		Validator: validation.New(doc.Validation.Mode, log),
		overrides: ov,
		log:       logging.Component(log, "config"),
		doc:       doc,
	}

	// recorder stays a nil interface when fixtures are disabled
	var recorder proxy.Recorder
	if doc.Fixtures.Enabled() {
		rt.Fixtures, err = fixture.NewStore(doc.Fixtures.Config, log)
		if err != nil {
			return nil, err
		}
		recorder = rt.Fixtures
	}

	rt.Gateway, err = proxy.New(doc.Proxy, recorder, log)
	if err != nil {
		return nil, err
	}
	rt.Gateway.SetRecordAll(ov.RecordAll)

	options := []resolver.Option{
		resolver.WithRegistry(rt.Registry),
		resolver.WithRules(matching.NewRuleBook(doc.Rules, log)),
		resolver.WithSynthesizer(synth.New()),
		resolver.WithForwarder(rt.Gateway),
		resolver.WithInjector(injector),
		resolver.WithValidator(rt.Validator),
		resolver.WithEventSink(events),
		resolver.WithLogger(log),
	}
	if rt.Fixtures != nil {
		options = append(options, resolver.WithFixtures(rt.Fixtures))
	}
	rt.Resolver = resolver.New(doc.ResolverOptions(), options...)

	rt.WebSocket, err = websocket.NewManager(doc.WebSocket, events, log)
	if err != nil {
		return nil, err
	}
	if doc.Server.MaxLogEntries >= 0 {
		rt.Requests = requestlog.NewMemory(doc.Server.MaxLogEntries)
	}
	return rt, nil
}

// Document returns the document currently applied.
func (rt *Runtime) Document() *Document {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.doc
}

// Apply swaps the registry, rule book, injector and WebSocket endpoints of a
// running Runtime for those of doc. On error nothing is changed. Server,
// fixture, proxy, validation and resolver settings only take effect on
// restart.
func (rt *Runtime) Apply(doc *Document) error {
	rt.overrides.apply(doc)
	if err := doc.Validate(); err != nil {
		return err
	}
	reg, err := registry.Load(doc.Operations)
	if err != nil {
		return err
	}
	injector, err := chaos.NewInjector(doc.Chaos, doc.Server.Seed)
	if err != nil {
		return err
	}
	book := matching.NewRuleBook(doc.Rules, rt.log)

	rt.mu.Lock()
	defer rt.mu.Unlock()

	if err := rt.WebSocket.Replace(doc.WebSocket); err != nil {
		return err
	}
	rt.Registry.Swap(reg)
	rt.Resolver.SetRules(book)
	rt.Resolver.SetInjector(injector)

	for _, section := range rt.restartOnly(doc) {
		rt.log.Warn("section changed, restart to apply", "section", section)
	}
	rt.doc = doc
	return nil
}

// Reload loads path and applies it.
func (rt *Runtime) Reload(path string) error {
	doc, err := Load(path)
	if err != nil {
		return fmt.Errorf("reload %s: %w", path, err)
	}
	return rt.Apply(doc)
}

// Close stops every WebSocket session.
func (rt *Runtime) Close() {
	rt.WebSocket.CloseAll()
}

func (rt *Runtime) restartOnly(doc *Document) []string {
	var changed []string
	old := rt.doc
	if !reflect.DeepEqual(old.Server, doc.Server) {
		changed = append(changed, "server")
	}
	if !reflect.DeepEqual(old.Fixtures, doc.Fixtures) {
		changed = append(changed, "fixtures")
	}
	if !reflect.DeepEqual(old.Proxy, doc.Proxy) {
		changed = append(changed, "proxy")
	}
	if old.Validation != doc.Validation {
		changed = append(changed, "validation")
	}
	if old.Logging != doc.Logging {
		changed = append(changed, "logging")
	}
	return changed
}
