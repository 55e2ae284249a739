package grantkit

import (
	"fmt"
	"time"

	"github.com/grantkit/grantkit/condition"
	"github.com/grantkit/grantkit/match"
)

// NewGrant validates and constructs a grant. The ID is left zero; storage
// assigns one on create. All matcher patterns and the optional condition are
// compiled here: a grant that constructs successfully can never fail with a
// syntax error during evaluation.
func NewGrant(effect Effect, action, resource, principal, conditionExpr string) (Grant, error) {
	if effect != EffectAllow && effect != EffectDeny {
		return Grant{}, fmt.Errorf("%w: effect out of range", ErrGrantInvalid)
	}
	for _, m := range []struct {
		field   string
		pattern string
	}{
		{"action", action},
		{"resource", resource},
		{"principal", principal},
	} {
		if _, err := match.Compile(m.pattern); err != nil {
			return Grant{}, fmt.Errorf("%w: %s matcher: %v", ErrPatternSyntax, m.field, err)
		}
	}
	if conditionExpr != "" {
		eval, err := condition.Default()
		if err != nil {
			return Grant{}, fmt.Errorf("%w: %v", ErrConditionSyntax, err)
		}
		if err := eval.Compile(conditionExpr); err != nil {
			return Grant{}, fmt.Errorf("%w: %v", ErrConditionSyntax, err)
		}
	}
	return Grant{
		Effect:    effect,
		Action:    action,
		Resource:  resource,
		Principal: principal,
		Condition: conditionExpr,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// Validate re-checks a grant's shape. Storage backends call it on create so
// grants built literally (not through [NewGrant]) still meet the contract.
func (g Grant) Validate() error {
	if g.Effect != EffectAllow && g.Effect != EffectDeny {
		return fmt.Errorf("%w: effect out of range", ErrGrantInvalid)
	}
	for _, p := range []string{g.Action, g.Resource, g.Principal} {
		if _, err := match.Compile(p); err != nil {
			return fmt.Errorf("%w: %v", ErrPatternSyntax, err)
		}
	}
	if g.Condition != "" {
		eval, err := condition.Default()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrConditionSyntax, err)
		}
		if err := eval.Compile(g.Condition); err != nil {
			return fmt.Errorf("%w: %v", ErrConditionSyntax, err)
		}
	}
	return nil
}

// Matches reports whether the grant applies to the request: all three
// matchers must match and the condition, if present, must evaluate true.
// Matches is a pure predicate with no side effects. A condition evaluation
// failure is surfaced as an error, never folded into the boolean.
func (g Grant) Matches(req Request) (bool, error) {
	action, err := match.Compile(g.Action)
	if err != nil {
		return false, fmt.Errorf("%w: stored action matcher: %v", ErrPatternSyntax, err)
	}
	if !action.Match(req.Action) {
		return false, nil
	}
	resource, err := match.Compile(g.Resource)
	if err != nil {
		return false, fmt.Errorf("%w: stored resource matcher: %v", ErrPatternSyntax, err)
	}
	if !resource.Match(req.Resource) {
		return false, nil
	}
	principal, err := match.Compile(g.Principal)
	if err != nil {
		return false, fmt.Errorf("%w: stored principal matcher: %v", ErrPatternSyntax, err)
	}
	if !principal.Match(req.Principal) {
		return false, nil
	}
	if g.Condition == "" {
		return true, nil
	}
	eval, err := condition.Default()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrConditionEval, err)
	}
	ok, err := eval.Eval(g.Condition, condition.Vars{
		Principal: req.Principal,
		Action:    req.Action,
		Resource:  req.Resource,
		Context:   req.Context,
	})
	if err != nil {
		return false, fmt.Errorf("%w: grant %s: %v", ErrConditionEval, g.ID, err)
	}
	return ok, nil
}

// Validate checks that a request names a concrete principal, action, and
// resource. Wildcards belong in grants, not requests.
func (r Request) Validate() error {
	if r.Principal == "" || r.Action == "" || r.Resource == "" {
		return fmt.Errorf("%w: principal, action, and resource are required", ErrRequestInvalid)
	}
	return nil
}
