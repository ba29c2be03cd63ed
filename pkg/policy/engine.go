// Package policy evaluates per-URL resolution rules. Rules are expr-lang
// expressions over the parsed URL; the highest-priority matching rule decides
// how the resolution behaves.
package policy

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/mozilla-rally/web-science-sub001/pkg/config"
	"github.com/mozilla-rally/web-science-sub001/pkg/urlrewrite"
)

// Context is the expression environment for one URL.
type Context struct {
	Url               string
	Scheme            string
	Host              string
	Path              string
	RegistrableDomain string
}

// NewContext builds the expression environment from a URL. Unparseable URLs
// produce a context with only Url set, so rules on the other fields never
// match them.
func NewContext(rawURL string) Context {
	c := Context{Url: rawURL}
	u, err := url.Parse(rawURL)
	if err != nil {
		return c
	}
	c.Scheme = strings.ToLower(u.Scheme)
	c.Host = strings.ToLower(u.Hostname())
	c.Path = u.Path
	c.RegistrableDomain = urlrewrite.RegistrableDomain(rawURL)
	return c
}

// Rule is one compiled policy rule.
type Rule struct {
	Name     string
	Priority int

	// RequestMode overrides the engine-level request mode when the rule
	// matches; empty means no override.
	RequestMode string

	// Rewriters overrides the engine-level rewriter toggles when the rule
	// matches; nil means no override.
	Rewriters *config.RewritersConfig

	program *vm.Program
}

// Engine holds compiled rules ordered by descending priority. Rules may be
// replaced while evaluations are in flight (config reload).
type Engine struct {
	mu    sync.RWMutex
	rules []*Rule
}

// NewEngine compiles the configured rules. Disabled rules are skipped; a rule
// that fails to compile fails the whole engine.
func NewEngine(rules []config.PolicyRule) (*Engine, error) {
	e := &Engine{}
	for _, rc := range rules {
		if rc.Disabled {
			continue
		}
		if err := e.AddRule(&Rule{
			Name:        rc.Name,
			Priority:    rc.Priority,
			RequestMode: rc.RequestMode,
			Rewriters:   rc.Rewriters,
		}, rc.When); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// AddRule compiles when and adds the rule, keeping the priority order.
func (e *Engine) AddRule(rule *Rule, when string) error {
	program, err := expr.Compile(when, expr.Env(Context{}), expr.AsBool())
	if err != nil {
		return fmt.Errorf("compiling rule %q: %w", rule.Name, err)
	}
	rule.program = program

	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules = append(e.rules, rule)
	sort.SliceStable(e.rules, func(i, j int) bool {
		return e.rules[i].Priority > e.rules[j].Priority
	})
	return nil
}

// ReplaceRules compiles a new rule set and swaps it in atomically. On a
// compile error the current rules stay in effect.
func (e *Engine) ReplaceRules(rules []config.PolicyRule) error {
	fresh, err := NewEngine(rules)
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.rules = fresh.rules
	e.mu.Unlock()
	return nil
}

// Evaluate runs the rules against ctx in priority order and returns the first
// match. A rule whose expression errors at runtime is treated as not matching.
func (e *Engine) Evaluate(ctx Context) (bool, *Rule) {
	e.mu.RLock()
	rules := e.rules
	e.mu.RUnlock()

	for _, rule := range rules {
		out, err := vm.Run(rule.program, ctx)
		if err != nil {
			continue
		}
		if matched, ok := out.(bool); ok && matched {
			return true, rule
		}
	}
	return false, nil
}

// Count reports the number of active rules.
func (e *Engine) Count() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.rules)
}
