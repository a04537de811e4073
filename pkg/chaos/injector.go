package chaos

import (
	"context"
	"math"
	mathrand "math/rand/v2"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/getmockd/mockcore/pkg/mock"
)

// Plan is the effective pair of profiles for one route. Either may be nil.
type Plan struct {
	Latency *LatencyProfile
	Fault   *FaultProfile
}

// Empty reports whether the plan does nothing.
func (p Plan) Empty() bool {
	return p.Latency == nil && p.Fault == nil
}

// Stats is a snapshot of injector counters.
type Stats struct {
	Planned        int64         `json:"planned"`
	DelaysApplied  int64         `json:"delaysApplied"`
	TotalDelay     time.Duration `json:"totalDelay"`
	FaultsInjected int64         `json:"faultsInjected"`
}

// Injector samples latency and decides on faults. It is safe for concurrent
// use; only the random source is guarded by a mutex, and sleeping holds no lock.
type Injector struct {
	latency map[string]*LatencyProfile
	faults  map[string]*FaultProfile
	byRoute map[string]ProfileRef
	byTag   map[string]ProfileRef
	def     ProfileRef

	mu  sync.Mutex
	rng *mathrand.Rand

	planned    atomic.Int64
	delays     atomic.Int64
	totalDelay atomic.Int64
	faulted    atomic.Int64
}

// NewInjector validates cfg and builds an Injector. A zero seed seeds from
// the clock. Invalid configuration is reported as ConfigInvalid.
func NewInjector(cfg Config, seed int64) (*Injector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, mock.Wrap(mock.KindConfigInvalid, "chaos", err)
	}
	latency, faults, _ := cfg.profiles()

	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	inj := &Injector{
		latency: latency,
		faults:  faults,
		byRoute: make(map[string]ProfileRef),
		byTag:   make(map[string]ProfileRef),
		def:     cfg.Default,
		rng:     mathrand.New(mathrand.NewPCG(uint64(seed), 0)),
	}
	for _, b := range cfg.Bindings {
		target := inj.byTag
		key := b.Tag
		if b.Route != "" {
			target, key = inj.byRoute, b.Route
		}
		ref := target[key]
		if b.Latency != "" {
			ref.Latency = b.Latency
		}
		if b.Fault != "" {
			ref.Fault = b.Fault
		}
		target[key] = ref
	}
	return inj, nil
}

// Plan resolves the profiles for a route. Tags are consulted in order; a
// route binding overrides any tag binding, which overrides the default.
// Latency and fault are resolved independently.
func (i *Injector) Plan(route string, tags []string) Plan {
	if i == nil {
		return Plan{}
	}
	i.planned.Add(1)

	latency, fault := i.def.Latency, i.def.Fault
	tagLatency, tagFault := "", ""
	for _, tag := range tags {
		ref, ok := i.byTag[tag]
		if !ok {
			continue
		}
		if tagLatency == "" {
			tagLatency = ref.Latency
		}
		if tagFault == "" {
			tagFault = ref.Fault
		}
	}
	if tagLatency != "" {
		latency = tagLatency
	}
	if tagFault != "" {
		fault = tagFault
	}
	if ref, ok := i.byRoute[route]; ok {
		if ref.Latency != "" {
			latency = ref.Latency
		}
		if ref.Fault != "" {
			fault = ref.Fault
		}
	}

	var p Plan
	if latency != "" {
		p.Latency = i.latency[latency]
	}
	if fault != "" {
		p.Fault = i.faults[fault]
	}
	return p
}

// Sample draws one delay from the profile.
func (i *Injector) Sample(p *LatencyProfile) time.Duration {
	if p == nil {
		return 0
	}
	switch p.Distribution {
	case DistributionFixed:
		return p.Fixed.Duration()
	case DistributionUniform:
		lo, hi := int64(p.Min), int64(p.Max)
		if hi <= lo {
			return time.Duration(lo)
		}
		i.mu.Lock()
		n := i.rng.Int64N(hi - lo + 1)
		i.mu.Unlock()
		return time.Duration(lo + n)
	case DistributionNormal:
		mean, clamp := float64(p.Mean), float64(p.Clamp)
		lo := math.Max(0, 2*mean-clamp)
		if p.StdDev == 0 || clamp == mean {
			return p.Mean.Duration()
		}
		i.mu.Lock()
		v := mean + i.rng.NormFloat64()*float64(p.StdDev)
		i.mu.Unlock()
		return time.Duration(math.Min(clamp, math.Max(lo, v)))
	}
	return 0
}

// Delay sleeps for a sampled duration, returning early with ctx.Err() when ctx
// ends. It returns the duration that was slept (or would have been).
func (i *Injector) Delay(ctx context.Context, plan Plan) (time.Duration, error) {
	if i == nil || plan.Latency == nil {
		return 0, nil
	}
	d := i.Sample(plan.Latency)
	if d <= 0 {
		return 0, nil
	}
	i.delays.Add(1)
	i.totalDelay.Add(int64(d))

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return d, ctx.Err()
	case <-timer.C:
		return d, nil
	}
}

// Apply draws against the plan's fault probability and, on a hit, returns the
// fault response in place of resp. The second result reports a replacement.
func (i *Injector) Apply(resp *mock.Response, plan Plan) (*mock.Response, bool) {
	if i == nil || plan.Fault == nil {
		return resp, false
	}
	i.mu.Lock()
	draw := i.rng.Float64()
	i.mu.Unlock()
	if draw >= plan.Fault.Probability {
		return resp, false
	}
	i.faulted.Add(1)
	return FaultResponse(plan.Fault), true
}

// FaultResponse builds the response a fault profile substitutes.
func FaultResponse(p *FaultProfile) *mock.Response {
	status := p.Status
	if status == 0 {
		status = http.StatusInternalServerError
	}
	resp := mock.NewResponse(status, []byte(p.Body))
	for k, v := range p.Headers {
		resp.Header.Set(k, v)
	}
	resp.Header.Set("X-Mock-Fault", p.Name)
	resp.Source = mock.SourceFault
	return resp
}

// Stats returns a snapshot of the counters.
func (i *Injector) Stats() Stats {
	if i == nil {
		return Stats{}
	}
	return Stats{
		Planned:        i.planned.Load(),
		DelaysApplied:  i.delays.Load(),
		TotalDelay:     time.Duration(i.totalDelay.Load()),
		FaultsInjected: i.faulted.Load(),
	}
}
