// Package chaos applies latency and fault injection to resolved responses.
//
// Latency profiles describe a delay distribution: fixed, uniform over
// [min, max], or normal with mean/stddev bounded by clamp. Fault profiles give
// a probability of replacing the response with a configured status and body.
// Both are bound to routes or tags; the most specific binding wins
// (route over tag over default), independently for latency and faults.
//
// All parameters are checked by Config.Validate when the configuration is
// loaded. An Injector is never built from an invalid Config, so nothing at
// request time can fail on bad parameters.
//
//	inj, err := chaos.NewInjector(cfg, seed)
//	plan := inj.Plan(op.RouteID(), op.Tags)
//	if _, err := inj.Delay(ctx, plan); err != nil {
//	    return err // ctx cancelled
//	}
//	resp, faulted := inj.Apply(resp, plan)
package chaos
