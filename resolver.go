package abac

import "fmt"

// PolicyEvaluation is one line of a resolution trace
type PolicyEvaluation struct {
	PolicyID   int64  `json:"policy_id"`
	PolicyName string `json:"policy_name"`
	Priority   int    `json:"priority"`
	Effect     Effect `json:"effect"`
	Condition  string `json:"condition"`
	Matched    bool   `json:"matched"`
	Error      string `json:"error,omitempty"`
}

// Resolution is the outcome of running an ordered policy list
type Resolution struct {
	Effect     Effect             `json:"effect"`
	PolicyID   *int64             `json:"policy_id,omitempty"`
	PolicyName string             `json:"policy_name,omitempty"`
	Reason     string             `json:"reason"`
	Trace      []PolicyEvaluation `json:"trace,omitempty"`
	Errors     int                `json:"-"`
}

// Resolver applies first-match-wins over policies already in evaluation order
type Resolver struct {
	cache *ConditionCache
}

// NewResolver returns a resolver compiling conditions through cache (which may be nil)
func NewResolver(cache *ConditionCache) *Resolver {
	return &Resolver{cache: cache}
}

// Resolve evaluates policies in order and returns the effect of the first one
// whose conditions hold. A policy whose tree is defective or fails to
// evaluate is skipped; nothing a single policy does can abort the loop.
// With no policies, or no match, the result is DENY.
func (r *Resolver) Resolve(policies []*Policy, ctx Flat) Resolution {
	if len(policies) == 0 {
		return Resolution{Effect: EffectDeny, Reason: ReasonNoApplicable}
	}
	res := Resolution{Trace: make([]PolicyEvaluation, 0, len(policies))}
	for _, p := range policies {
		ev, matched := r.evaluate(p, ctx)
		res.Trace = append(res.Trace, ev)
		if ev.Error != "" {
			res.Errors++
		}
		if !matched {
			continue
		}
		effect := EffectDeny
		if p.Effect == EffectAllow {
			effect = EffectAllow
		}
		res.Effect = effect
		res.PolicyID = int64Ptr(p.ID)
		res.PolicyName = p.Name
		res.Reason = fmt.Sprintf("Policy '%s' matched", p.Name)
		return res
	}
	res.Effect = EffectDeny
	res.Reason = ReasonNoMatch
	return res
}

func (r *Resolver) evaluate(p *Policy, ctx Flat) (ev PolicyEvaluation, matched bool) {
	ev = PolicyEvaluation{PolicyID: p.ID, PolicyName: p.Name, Priority: p.Priority, Effect: p.Effect}
	defer func() {
		if rec := recover(); rec != nil {
			ev.Matched, matched = false, false
			ev.Error = fmt.Sprintf("panic: %v", rec)
		}
	}()
	compiled := r.cache.Compile(p.Conditions)
	ev.Condition = compiled.String()
	ok, err := compiled.Evaluate(ctx)
	if err != nil {
		ev.Error = err.Error()
		return ev, false
	}
	ev.Matched = ok
	return ev, ok
}
