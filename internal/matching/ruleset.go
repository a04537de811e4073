package matching

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/getmockd/mockcore/pkg/logging"
	"github.com/getmockd/mockcore/pkg/mock"
)

// GlobalRoute is the route key of rules that apply to every request.
const GlobalRoute = "*"

// CompiledRule is a rule ready for evaluation.
type CompiledRule struct {
	Rule *mock.Rule
	// ID is Rule.ID, or a generated "route#index" when none was declared.
	ID string
	// Err is set when the rule could not be compiled. Such a rule never matches.
	Err error

	method     string
	predicates []*predicate
}

// CatchAll reports whether the rule has no predicates besides its method.
func (c *CompiledRule) CatchAll() bool {
	return c.Rule.IsCatchAll()
}

func (c *CompiledRule) matches(s *subject) bool {
	if c.Err != nil {
		return false
	}
	if c.method != "" && (s.message || !strings.EqualFold(c.method, s.method)) {
		return false
	}
	for _, p := range c.predicates {
		if !p.eval(s) {
			return false
		}
	}
	return true
}

// RuleSet is an immutable, ordered list of compiled rules.
type RuleSet struct {
	rules []*CompiledRule
}

// Compile builds a RuleSet. Rules that fail to compile are kept but disabled,
// and each failure is logged once here.
func Compile(rules []mock.Rule, log *slog.Logger) *RuleSet {
	log = logging.OrNop(log)
	set, problems := compile(rules)
	for _, c := range problems {
		log.Warn("rule disabled", "rule", c.ID, "error", c.Err)
	}
	return set
}

// CompileStrict builds a RuleSet and fails with a ConfigInvalid error listing
// every rule that did not compile.
func CompileStrict(rules []mock.Rule) (*RuleSet, error) {
	set, problems := compile(rules)
	if len(problems) == 0 {
		return set, nil
	}
	err := mock.NewError(mock.KindConfigInvalid, "matching.compile", fmt.Sprintf("%d invalid rule(s)", len(problems)))
	for _, c := range problems {
		err.Details = append(err.Details, fmt.Sprintf("%s: %v", c.ID, c.Err))
	}
	return nil, err
}

func compile(rules []mock.Rule) (*RuleSet, []*CompiledRule) {
	var specific, catchAll, problems []*CompiledRule
	for i := range rules {
		rule := rules[i]
		c := &CompiledRule{Rule: &rule, ID: rule.ID, method: strings.ToUpper(rule.Method)}
		if c.ID == "" {
			route := rule.Route
			if route == "" {
				route = GlobalRoute
			}
			c.ID = fmt.Sprintf("%s#%d", route, i)
		}
		if rule.Response == nil {
			c.Err = fmt.Errorf("response is required")
		}
		for j, p := range rule.Predicates {
			if c.Err != nil {
				break
			}
			cp, err := compilePredicate(p)
			if err != nil {
				c.Err = fmt.Errorf("predicates[%d]: %w", j, err)
				break
			}
			c.predicates = append(c.predicates, cp)
		}
		if c.Err != nil {
			problems = append(problems, c)
		}
		if rule.IsCatchAll() {
			catchAll = append(catchAll, c)
		} else {
			specific = append(specific, c)
		}
	}
	return &RuleSet{rules: append(specific, catchAll...)}, problems
}

// Rules returns the compiled rules in evaluation order.
func (s *RuleSet) Rules() []*CompiledRule {
	if s == nil {
		return nil
	}
	return append([]*CompiledRule(nil), s.rules...)
}

// Len returns the number of rules, including disabled ones.
func (s *RuleSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.rules)
}

// Match returns the first rule whose predicates all hold for req.
func (s *RuleSet) Match(req *mock.Request) *CompiledRule {
	if s == nil {
		return nil
	}
	return s.first(requestSubject(req))
}

// MatchMessage evaluates the rules against a WebSocket message. Method,
// header and query predicates never hold for a message.
func (s *RuleSet) MatchMessage(body []byte, vars map[string]string) *CompiledRule {
	if s == nil {
		return nil
	}
	return s.first(messageSubject(body, vars))
}

func (s *RuleSet) first(sub *subject) *CompiledRule {
	for _, r := range s.rules {
		if r.matches(sub) {
			return r
		}
	}
	return nil
}

// RuleBook groups rule sets by route. Rules declared for GlobalRoute (or with
// no route) are appended to every route's set.
type RuleBook struct {
	byRoute map[string]*RuleSet
	global  *RuleSet
}

// NewRuleBook compiles rules grouped by route.
func NewRuleBook(rules []mock.Rule, log *slog.Logger) *RuleBook {
	grouped, global := group(rules)
	b := &RuleBook{byRoute: make(map[string]*RuleSet, len(grouped)), global: Compile(global, log)}
	for route, rs := range grouped {
		// global rules were already reported when compiling the global set
		set, _ := compile(append(rs, global...))
		for _, c := range set.rules {
			if c.Err != nil && c.Rule.Route == route {
				logging.OrNop(log).Warn("rule disabled", "rule", c.ID, "error", c.Err)
			}
		}
		b.byRoute[route] = set
	}
	return b
}

// ValidateRules compiles every rule strictly and reports all failures.
func ValidateRules(rules []mock.Rule) error {
	_, err := CompileStrict(rules)
	return err
}

func group(rules []mock.Rule) (map[string][]mock.Rule, []mock.Rule) {
	grouped := make(map[string][]mock.Rule)
	var global []mock.Rule
	for i, r := range rules {
		if r.ID == "" {
			route := r.Route
			if route == "" {
				route = GlobalRoute
			}
			r.ID = fmt.Sprintf("%s#%d", route, i)
		}
		if r.Route == "" || r.Route == GlobalRoute {
			global = append(global, r)
			continue
		}
		grouped[r.Route] = append(grouped[r.Route], r)
	}
	return grouped, global
}

// ForRoute returns the rule set that applies to route.
func (b *RuleBook) ForRoute(route string) *RuleSet {
	if b == nil {
		return nil
	}
	if set, ok := b.byRoute[route]; ok {
		return set
	}
	return b.global
}

// Match evaluates the route's rule set against req.
func (b *RuleBook) Match(route string, req *mock.Request) *CompiledRule {
	return b.ForRoute(route).Match(req)
}
