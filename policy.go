package abac

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// ============================================================================
// POLICY SYSTEM
// ============================================================================

// Policy is an ABAC rule. It is read-only while a request is evaluated.
type Policy struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Effect      Effect    `json:"effect"`
	Priority    int       `json:"priority"` // higher = evaluated first
	Conditions  Condition `json:"conditions"`
	ActionID    *int64    `json:"action_id"` // nil applies to every action
	Active      bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Global reports whether the policy is bound to no action
func (p *Policy) Global() bool { return p.ActionID == nil }

// AppliesTo reports whether the policy is selected for actionID
func (p *Policy) AppliesTo(actionID *int64) bool {
	if !p.Active {
		return false
	}
	if p.ActionID == nil {
		return true
	}
	return actionID != nil && *p.ActionID == *actionID
}

// Checksum returns a deterministic hash of the fields that influence a decision
func (p *Policy) Checksum() string {
	data, _ := json.Marshal(struct {
		Effect     Effect
		Priority   int
		ActionID   *int64
		Active     bool
		Conditions string
	}{
		Effect:     p.Effect,
		Priority:   p.Priority,
		ActionID:   p.ActionID,
		Active:     p.Active,
		Conditions: p.Conditions.Checksum(),
	})
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

// Validate applies the policy-management rules: a short name, a known effect,
// a non-negative priority and a condition tree built from known operators.
func (p *Policy) Validate() error {
	name := strings.TrimSpace(p.Name)
	switch {
	case name == "":
		return fmt.Errorf("%w: name is required", ErrInvalidPolicy)
	case len(name) > 100:
		return fmt.Errorf("%w: name longer than 100 characters", ErrInvalidPolicy)
	case !p.Effect.Valid():
		return fmt.Errorf("%w %q: effect must be ALLOW or DENY, got %q", ErrInvalidPolicy, name, p.Effect)
	case p.Priority < 0:
		return fmt.Errorf("%w %q: priority must be >= 0", ErrInvalidPolicy, name)
	case len(p.Conditions) == 0:
		return fmt.Errorf("%w %q: conditions are required", ErrInvalidPolicy, name)
	}
	if err := p.Conditions.Compile().Err; err != nil {
		return fmt.Errorf("%w %q: %v", ErrInvalidPolicy, name, err)
	}
	return nil
}

// SelectApplicable keeps the active policies bound to actionID or to no
// action (only unbound ones when actionID is nil) and orders them the way the
// resolver consumes them: priority descending, then oldest first. The policy
// id is a final tie-break so the order never depends on input order.
func SelectApplicable(policies []*Policy, actionID *int64) []*Policy {
	out := make([]*Policy, 0, len(policies))
	for _, p := range policies {
		if p != nil && p.AppliesTo(actionID) {
			out = append(out, p)
		}
	}
	SortPolicies(out)
	return out
}

// SortPolicies sorts in place into evaluation order
func SortPolicies(policies []*Policy) {
	sort.SliceStable(policies, func(i, j int) bool {
		a, b := policies[i], policies[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}
