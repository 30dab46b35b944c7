package abac

import (
	"maps"
	"time"
)

// Namespace prefixes of the flattened lookup table
const (
	NamespaceSubject     = "subject"
	NamespaceResource    = "resource"
	NamespaceAction      = "action"
	NamespaceEnvironment = "environment"

	// legacyNamespaceSubject mirrors the subject map for policies written
	// against "user.<name>" keys.
	legacyNamespaceSubject = "user"
)

// Flat is the "namespace.name" -> value table conditions are evaluated against
type Flat map[string]any

// Lookup returns the value stored under key and whether it was present.
// A missing key is distinct from a key holding nil.
func (f Flat) Lookup(key string) (any, bool) {
	v, ok := f[key]
	return v, ok
}

// EvaluationContext holds the four attribute maps of a single request.
// It is built fresh for every evaluation and never persisted.
type EvaluationContext struct {
	Subject     map[string]any `json:"user_attributes"`
	Resource    map[string]any `json:"resource_attributes"`
	Action      map[string]any `json:"action_attributes"`
	Environment map[string]any `json:"environment_attributes"`
}

// BuildContext assembles the evaluation context. Custom attributes are added
// first so that built-in fields win on a name clash; computed environment
// fields likewise overwrite caller-supplied keys.
func BuildContext(subject *Subject, resource *Resource, action *Action, env map[string]any, now time.Time) *EvaluationContext {
	return &EvaluationContext{
		Subject:     subjectAttributes(subject),
		Resource:    resourceAttributes(resource),
		Action:      actionAttributes(action),
		Environment: environmentAttributes(env, now),
	}
}

func subjectAttributes(s *Subject) map[string]any {
	out := make(map[string]any, len(s.Attributes)+5)
	addActive(out, s.Attributes)
	out["user_id"] = s.ID
	out["username"] = s.Username
	out["email"] = s.Email
	out["is_active"] = s.Active
	out["created_at"] = s.CreatedAt.Format(time.RFC3339Nano)
	return out
}

func resourceAttributes(r *Resource) map[string]any {
	out := make(map[string]any, len(r.Attributes)+5)
	addActive(out, r.Attributes)
	out["resource_id"] = r.ID
	out["resource_name"] = r.Name
	out["resource_type"] = r.Type
	out["resource_uri"] = r.URI
	if r.ParentID != nil {
		out["parent_id"] = *r.ParentID
	} else {
		out["parent_id"] = nil
	}
	return out
}

func actionAttributes(a *Action) map[string]any {
	return map[string]any{
		"action_id":          a.ID,
		"action_name":        a.Name,
		"action_category":    a.Category,
		"action_description": a.Description,
	}
}

func environmentAttributes(env map[string]any, now time.Time) map[string]any {
	out := make(map[string]any, len(env)+3)
	maps.Copy(out, env)
	now = now.UTC()
	out["current_time"] = now.Format(time.RFC3339Nano)
	out["day_of_week"] = weekday(now)
	out["hour"] = int64(now.Hour())
	return out
}

// weekday numbers days Monday=0 .. Sunday=6
func weekday(t time.Time) int64 {
	return int64((int(t.Weekday()) + 6) % 7)
}

func addActive(dst map[string]any, attrs []Attribute) {
	for _, a := range attrs {
		if !a.Active {
			continue
		}
		dst[a.Name] = a.Typed()
	}
}

// Flatten merges the four maps into a single lookup table with
// namespace-prefixed keys.
func (c *EvaluationContext) Flatten() Flat {
	flat := make(Flat, 2*len(c.Subject)+len(c.Resource)+len(c.Action)+len(c.Environment))
	put := func(ns string, m map[string]any) {
		for k, v := range m {
			flat[ns+"."+k] = v
		}
	}
	put(legacyNamespaceSubject, c.Subject)
	put(NamespaceSubject, c.Subject)
	put(NamespaceResource, c.Resource)
	put(NamespaceAction, c.Action)
	put(NamespaceEnvironment, c.Environment)
	return flat
}

// Snapshot returns a copy of the context suitable for the audit trail
func (c *EvaluationContext) Snapshot() map[string]any {
	return map[string]any{
		"user_attributes":        maps.Clone(c.Subject),
		"resource_attributes":    maps.Clone(c.Resource),
		"action_attributes":      maps.Clone(c.Action),
		"environment_attributes": maps.Clone(c.Environment),
	}
}
