package chaos

import (
	"net/http"
	"sort"
	"time"

	"github.com/getmockd/mockcore/pkg/mock"
)

// Built-in profiles can be referenced by name from bindings. A declared
// profile with the same name replaces the built-in.
func builtinLatency() map[string]*LatencyProfile {
	return map[string]*LatencyProfile{
		"lan": {
			Name:         "lan",
			Distribution: DistributionUniform,
			Min:          mock.Duration(time.Millisecond),
			Max:          mock.Duration(5 * time.Millisecond),
		},
		"slow-api": {
			Name:         "slow-api",
			Distribution: DistributionUniform,
			Min:          mock.Duration(500 * time.Millisecond),
			Max:          mock.Duration(2 * time.Second),
		},
		"mobile-3g": {
			Name:         "mobile-3g",
			Distribution: DistributionNormal,
			Mean:         mock.Duration(300 * time.Millisecond),
			StdDev:       mock.Duration(100 * time.Millisecond),
			Clamp:        mock.Duration(800 * time.Millisecond),
		},
	}
}

func builtinFaults() map[string]*FaultProfile {
	return map[string]*FaultProfile{
		"flaky": {
			Name:        "flaky",
			Probability: 0.1,
			Status:      http.StatusServiceUnavailable,
			Body:        `{"error":"service_unavailable","message":"injected fault"}`,
			Headers:     map[string]string{"Content-Type": "application/json"},
		},
		"outage": {
			Name:        "outage",
			Probability: 1.0,
			Status:      http.StatusServiceUnavailable,
			Body:        `{"error":"service_unavailable","message":"injected outage"}`,
			Headers:     map[string]string{"Content-Type": "application/json"},
		},
		"rate-limited": {
			Name:        "rate-limited",
			Probability: 0.2,
			Status:      http.StatusTooManyRequests,
			Body:        `{"error":"rate_limited"}`,
			Headers:     map[string]string{"Content-Type": "application/json", "Retry-After": "1"},
		},
	}
}

// BuiltinNames lists the built-in latency and fault profile names.
func BuiltinNames() (latency, faults []string) {
	for name := range builtinLatency() {
		latency = append(latency, name)
	}
	for name := range builtinFaults() {
		faults = append(faults, name)
	}
	sort.Strings(latency)
	sort.Strings(faults)
	return latency, faults
}
