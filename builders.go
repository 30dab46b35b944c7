package abac

// Builders provide a fluent API for creating Policies, Subjects, Resources
// and the condition trees policies carry.

// PolicyBuilder builds a Policy
type PolicyBuilder struct {
	p *Policy
}

func NewPolicyBuilder() *PolicyBuilder {
	return &PolicyBuilder{p: &Policy{Effect: EffectDeny, Active: true}}
}

func (b *PolicyBuilder) ID(id int64) *PolicyBuilder              { b.p.ID = id; return b }
func (b *PolicyBuilder) Name(n string) *PolicyBuilder            { b.p.Name = n; return b }
func (b *PolicyBuilder) Description(d string) *PolicyBuilder     { b.p.Description = d; return b }
func (b *PolicyBuilder) Effect(e Effect) *PolicyBuilder          { b.p.Effect = e; return b }
func (b *PolicyBuilder) Allow() *PolicyBuilder                   { b.p.Effect = EffectAllow; return b }
func (b *PolicyBuilder) Deny() *PolicyBuilder                    { b.p.Effect = EffectDeny; return b }
func (b *PolicyBuilder) Priority(p int) *PolicyBuilder           { b.p.Priority = p; return b }
func (b *PolicyBuilder) When(c Condition) *PolicyBuilder         { b.p.Conditions = c; return b }
func (b *PolicyBuilder) Active(active bool) *PolicyBuilder       { b.p.Active = active; return b }
func (b *PolicyBuilder) ForAction(actionID int64) *PolicyBuilder { b.p.ActionID = &actionID; return b }
func (b *PolicyBuilder) Global() *PolicyBuilder                  { b.p.ActionID = nil; return b }
func (b *PolicyBuilder) Build() *Policy                          { return b.p }

// SubjectBuilder builds a Subject
type SubjectBuilder struct {
	s *Subject
}

func NewSubjectBuilder(username string) *SubjectBuilder {
	return &SubjectBuilder{s: &Subject{Username: username, Active: true}}
}

func (b *SubjectBuilder) ID(id int64) *SubjectBuilder    { b.s.ID = id; return b }
func (b *SubjectBuilder) Email(e string) *SubjectBuilder { b.s.Email = e; return b }
func (b *SubjectBuilder) Active(a bool) *SubjectBuilder  { b.s.Active = a; return b }
func (b *SubjectBuilder) Attr(name string, dt DataType, value string) *SubjectBuilder {
	b.s.Attributes = append(b.s.Attributes, Attribute{
		Name: name, Type: AttributeSubject, DataType: dt, Value: value, Active: true,
	})
	return b
}
func (b *SubjectBuilder) Build() *Subject { return b.s }

// ResourceBuilder builds a Resource
type ResourceBuilder struct {
	r *Resource
}

func NewResourceBuilder(uri string) *ResourceBuilder {
	return &ResourceBuilder{r: &Resource{URI: uri}}
}

func (b *ResourceBuilder) ID(id int64) *ResourceBuilder     { b.r.ID = id; return b }
func (b *ResourceBuilder) Name(n string) *ResourceBuilder   { b.r.Name = n; return b }
func (b *ResourceBuilder) Type(t string) *ResourceBuilder   { b.r.Type = t; return b }
func (b *ResourceBuilder) Parent(id int64) *ResourceBuilder { b.r.ParentID = &id; return b }
func (b *ResourceBuilder) Attr(name string, dt DataType, value string) *ResourceBuilder {
	b.r.Attributes = append(b.r.Attributes, Attribute{
		Name: name, Type: AttributeResource, DataType: dt, Value: value, Active: true,
	})
	return b
}
func (b *ResourceBuilder) Build() *Resource { return b.r }

// Condition builders produce the same untyped shape policies store, so a
// built tree serializes exactly like a hand-written one.

func And(cs ...Condition) Condition { return Condition{string(OpAnd): conditionList(cs)} }
func Or(cs ...Condition) Condition  { return Condition{string(OpOr): conditionList(cs)} }
func Not(c Condition) Condition     { return Condition{string(OpNot): map[string]any(c)} }

func Equals(attr string, v any) Condition      { return comparison(OpEquals, attr, "value", v) }
func Contains(attr string, v any) Condition    { return comparison(OpContains, attr, "value", v) }
func GreaterThan(attr string, v any) Condition { return comparison(OpGreaterThan, attr, "value", v) }
func LessThan(attr string, v any) Condition    { return comparison(OpLessThan, attr, "value", v) }
func Regex(attr, pattern string) Condition     { return comparison(OpRegex, attr, "pattern", pattern) }
func In(attr string, vs ...any) Condition {
	return comparison(OpIn, attr, "values", append([]any{}, vs...))
}

func comparison(op Operator, attr, key string, v any) Condition {
	return Condition{string(op): map[string]any{"attribute": attr, key: v}}
}

func conditionList(cs []Condition) []any {
	out := make([]any, len(cs))
	for i, c := range cs {
		out[i] = map[string]any(c)
	}
	return out
}
