package routing

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/propflow/handoff/internal/core"
)

// Decision is the outcome of post-authentication routing for a principal.
type Decision struct {
	// Destination is the allow-listed target realm, set when the role
	// continues its session on a different origin.
	Destination string `yaml:"destination" json:"destination,omitempty"`

	// Path is the dashboard path the user lands on.
	Path string `yaml:"path" json:"path"`

	// Handoff marks roles that require a cross-origin session transfer.
	// Only decisions with Handoff set may reach the token issuer.
	Handoff bool `yaml:"handoff" json:"handoff"`
}

// Rule overrides the default route for a role, optionally gated on an
// expression over the principal's attributes.
type Rule struct {
	// Name is a human-readable identifier for logs/debugging.
	Name string `yaml:"name" json:"name"`

	// Role this rule applies to.
	Role string `yaml:"role" json:"role"`

	// Expr is an optional condition; an empty Expr matches every
	// principal with the role.
	Expr string `yaml:"expr" json:"expr"`

	// CompiledExpr holds the pre-compiled form of Expr.
	CompiledExpr *vm.Program `yaml:"-" json:"-"`

	// Route is the decision applied when the rule matches.
	Route Decision `yaml:"route" json:"route"`
}

// Router maps a principal to a route decision over the closed role set.
// Configured rules are consulted first, in order; the built-in table is
// the fallback. Adding a role means extending the variant set and the
// default table, not adding conditionals at call sites.
type Router struct {
	rules    []Rule
	defaults map[core.Role]Decision
}

func defaultRoutes() map[core.Role]Decision {
	return map[core.Role]Decision{
		core.RoleTenant:   {Path: "/tenant/dashboard"},
		core.RoleAgent:    {Path: "/agent/dashboard"},
		core.RoleLandlord: {Destination: "landlord-app", Path: "/landlord/dashboard", Handoff: true},
		// super_admin stays on the origin app
		core.RoleSuperAdmin: {Path: "/admin/dashboard"},
	}
}

func New(rules []Rule) *Router {
	return &Router{
		rules:    rules,
		defaults: defaultRoutes(),
	}
}

// Route returns the decision for the principal. An unknown role is an
// error, never a silent fallback.
func (r *Router) Route(principal *core.Principal) (Decision, error) {
	for i := range r.rules {
		rule := &r.rules[i]
		if rule.Role != string(principal.Role) {
			continue
		}
		if rule.CompiledExpr != nil {
			out, err := expr.Run(rule.CompiledExpr, map[string]any{
				"principal": principal,
			})
			if err != nil {
				return Decision{}, fmt.Errorf("evaluating rule %q: %w", rule.Name, err)
			}
			if ok, _ := out.(bool); !ok {
				continue
			}
		}
		return rule.Route, nil
	}

	decision, ok := r.defaults[principal.Role]
	if !ok {
		return Decision{}, fmt.Errorf("no route for role %q", principal.Role)
	}
	return decision, nil
}

// CompileRules validates configured rules against the known role and
// destination sets and pre-compiles their expressions.
func CompileRules(rules []Rule, knownDestinations map[string]struct{}) ([]Rule, error) {
	seenNames := make(map[string]struct{})
	var validRules []Rule

	for i, rule := range rules {
		if rule.Name == "" {
			return nil, fmt.Errorf("routing rule #%d missing name", i)
		}
		if _, exists := seenNames[rule.Name]; exists {
			return nil, fmt.Errorf("routing rule name %q is not unique", rule.Name)
		}
		seenNames[rule.Name] = struct{}{}

		if _, err := core.ParseRole(rule.Role); err != nil {
			return nil, fmt.Errorf("routing rule %q: %w", rule.Name, err)
		}

		if rule.Route.Handoff {
			if rule.Route.Destination == "" {
				return nil, fmt.Errorf("routing rule %q hands off but has no destination", rule.Name)
			}
			if _, known := knownDestinations[rule.Route.Destination]; !known {
				return nil, fmt.Errorf("routing rule %q references unknown destination %q",
					rule.Name, rule.Route.Destination)
			}
		}
		if rule.Route.Path == "" && !rule.Route.Handoff {
			return nil, fmt.Errorf("routing rule %q has neither path nor handoff", rule.Name)
		}

		if rule.Expr != "" {
			out, err := expr.Compile(rule.Expr, expr.AsBool())
			if err != nil {
				return nil, fmt.Errorf("compiling expr for routing rule %q: %w", rule.Name, err)
			}
			rule.CompiledExpr = out
		}

		validRules = append(validRules, rule)
	}

	return validRules, nil
}
