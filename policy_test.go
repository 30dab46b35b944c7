package abac

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestPolicyValidate(t *testing.T) {
	valid := func() *Policy {
		return NewPolicyBuilder().Name("ok").Allow().Priority(10).When(Equals("subject.role", "admin")).Active(true).Build()
	}
	if err := valid().Validate(); err != nil {
		t.Fatalf("valid policy rejected: %v", err)
	}

	cases := map[string]func(p *Policy){
		"name is required":    func(p *Policy) { p.Name = "  " },
		"longer than 100":     func(p *Policy) { p.Name = strings.Repeat("x", 101) },
		"effect must be":      func(p *Policy) { p.Effect = "PERMIT" },
		"priority must be":    func(p *Policy) { p.Priority = -1 },
		"conditions are":      func(p *Policy) { p.Conditions = nil },
		"unknown operator":    func(p *Policy) { p.Conditions = Condition{"xor": []any{}} },
		"malformed condition": func(p *Policy) { p.Conditions = Condition{"in": map[string]any{"attribute": "a", "values": 1}} },
	}
	for want, mutate := range cases {
		p := valid()
		mutate(p)
		err := p.Validate()
		if !errors.Is(err, ErrInvalidPolicy) || !strings.Contains(err.Error(), want) {
			t.Fatalf("%s: got %v", want, err)
		}
	}
}

func TestSelectApplicable(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	mk := func(id int64, priority int, action *int64, active bool, age int) *Policy {
		p := NewPolicyBuilder().ID(id).Name("p").Allow().Priority(priority).When(And()).Active(active).Build()
		p.ActionID = action
		p.CreatedAt = base.Add(time.Duration(age) * time.Hour)
		return p
	}
	read, write := int64(1), int64(2)
	policies := []*Policy{
		mk(1, 10, nil, true, 0),
		mk(2, 50, &read, true, 0),
		mk(3, 50, nil, true, -1), // same priority, older
		mk(4, 90, &write, true, 0),
		mk(5, 99, nil, false, 0),
		mk(6, 10, nil, true, 0), // ties policy 1 on priority and age
		nil,
	}

	ids := func(ps []*Policy) []int64 {
		out := make([]int64, len(ps))
		for i, p := range ps {
			out[i] = p.ID
		}
		return out
	}
	assertIDs := func(got []*Policy, want ...int64) {
		t.Helper()
		g := ids(got)
		if len(g) != len(want) {
			t.Fatalf("got %v, want %v", g, want)
		}
		for i := range want {
			if g[i] != want[i] {
				t.Fatalf("got %v, want %v", g, want)
			}
		}
	}

	assertIDs(SelectApplicable(policies, &read), 3, 2, 1, 6)
	assertIDs(SelectApplicable(policies, &write), 4, 3, 1, 6)
	assertIDs(SelectApplicable(policies, nil), 3, 1, 6)

	// input order must not matter
	reversed := make([]*Policy, 0, len(policies))
	for i := len(policies) - 1; i >= 0; i-- {
		reversed = append(reversed, policies[i])
	}
	assertIDs(SelectApplicable(reversed, &read), 3, 2, 1, 6)
}

func TestPolicyChecksum(t *testing.T) {
	a := NewPolicyBuilder().Name("a").Allow().Priority(1).When(Equals("x", 1)).Build()
	b := NewPolicyBuilder().Name("renamed").Allow().Priority(1).When(Equals("x", 1)).Build()
	if a.Checksum() != b.Checksum() {
		t.Fatalf("name should not affect the checksum")
	}
	b.Priority = 2
	if a.Checksum() == b.Checksum() {
		t.Fatalf("priority should affect the checksum")
	}
}
