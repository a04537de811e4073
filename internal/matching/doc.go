// Package matching compiles declarative rules into immutable rule sets and
// evaluates them against requests and WebSocket messages.
//
// Predicates are a closed set of variants (method, header, query, body,
// jsonpath, var, expr) dispatched by a single function. A predicate that
// fails to compile, or whose kind is unknown, never matches: the rule that
// owns it is disabled and the problem is logged once, when the rule set is
// built. Evaluation never returns an error.
//
// Rules are tried in declared order, except that catch-all rules (no
// predicates besides the method) are moved after every other rule. The first
// rule whose predicates all hold wins; there is no scoring.
package matching
