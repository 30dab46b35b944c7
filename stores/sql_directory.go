package stores

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/oarkflow/squealx"

	"github.com/oarkflow/abac"
)

const (
	ownerSubject  = "subject"
	ownerResource = "resource"
)

// SQLDirectory implements abac.Directory and abac.Seeder over squealx.
// Queries never overlap, so a single-connection pool (as :memory: sqlite
// requires) is enough.
type SQLDirectory struct {
	db    *squealx.DB
	query queryFunc
	now   func() time.Time
}

func NewSQLDirectory(db *squealx.DB) *SQLDirectory {
	return &SQLDirectory{db: db, query: namedQuery(db), now: time.Now}
}

// ============================================================================
// WRITES
// ============================================================================

func (s *SQLDirectory) PutSubject(ctx context.Context, sub *abac.Subject) error {
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = s.now().UTC()
	}
	params := map[string]any{
		"username":   sub.Username,
		"email":      sub.Email,
		"is_active":  boolToInt(sub.Active),
		"created_at": formatTime(sub.CreatedAt),
	}
	q := `INSERT INTO users(username, email, is_active, created_at) VALUES(:username, :email, :is_active, :created_at)`
	if sub.ID != 0 {
		params["id"] = sub.ID
		q = `INSERT INTO users(id, username, email, is_active, created_at) VALUES(:id, :username, :email, :is_active, :created_at)
			ON CONFLICT(id) DO UPDATE SET username=excluded.username, email=excluded.email, is_active=excluded.is_active, created_at=excluded.created_at`
	}
	id, err := s.insert(ctx, q, params)
	if err != nil {
		return fmt.Errorf("put user %q: %w", sub.Username, err)
	}
	if sub.ID == 0 {
		sub.ID = id
	}
	return s.replaceAttributes(ctx, ownerSubject, sub.ID, sub.Attributes)
}

func (s *SQLDirectory) PutResource(ctx context.Context, r *abac.Resource) error {
	meta := "{}"
	if len(r.Metadata) > 0 {
		b, err := json.Marshal(r.Metadata)
		if err != nil {
			return fmt.Errorf("put resource %q: encode metadata: %w", r.URI, err)
		}
		meta = string(b)
	}
	params := map[string]any{
		"name":          r.Name,
		"resource_type": r.Type,
		"resource_uri":  r.URI,
		"parent_id":     nullableID(r.ParentID),
		"metadata_json": meta,
	}
	q := `INSERT INTO resources(name, resource_type, resource_uri, parent_id, metadata_json) VALUES(:name, :resource_type, :resource_uri, :parent_id, :metadata_json)`
	if r.ID != 0 {
		params["id"] = r.ID
		q = `INSERT INTO resources(id, name, resource_type, resource_uri, parent_id, metadata_json) VALUES(:id, :name, :resource_type, :resource_uri, :parent_id, :metadata_json)
			ON CONFLICT(id) DO UPDATE SET name=excluded.name, resource_type=excluded.resource_type, resource_uri=excluded.resource_uri, parent_id=excluded.parent_id, metadata_json=excluded.metadata_json`
	}
	id, err := s.insert(ctx, q, params)
	if err != nil {
		return fmt.Errorf("put resource %q: %w", r.URI, err)
	}
	if r.ID == 0 {
		r.ID = id
	}
	return s.replaceAttributes(ctx, ownerResource, r.ID, r.Attributes)
}

func (s *SQLDirectory) PutAction(ctx context.Context, a *abac.Action) error {
	params := map[string]any{
		"name":        a.Name,
		"category":    a.Category,
		"description": a.Description,
	}
	q := `INSERT INTO actions(name, category, description) VALUES(:name, :category, :description)`
	if a.ID != 0 {
		params["id"] = a.ID
		q = `INSERT INTO actions(id, name, category, description) VALUES(:id, :name, :category, :description)
			ON CONFLICT(id) DO UPDATE SET name=excluded.name, category=excluded.category, description=excluded.description`
	}
	id, err := s.insert(ctx, q, params)
	if err != nil {
		return fmt.Errorf("put action %q: %w", a.Name, err)
	}
	if a.ID == 0 {
		a.ID = id
	}
	return nil
}

func (s *SQLDirectory) PutPolicy(ctx context.Context, p *abac.Policy) error {
	cond, err := json.Marshal(p.Conditions)
	if err != nil {
		return fmt.Errorf("put policy %q: encode conditions: %w", p.Name, err)
	}
	now := s.now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	params := map[string]any{
		"name":            p.Name,
		"description":     p.Description,
		"effect":          string(p.Effect),
		"priority":        p.Priority,
		"conditions_json": string(cond),
		"action_id":       nullableID(p.ActionID),
		"is_active":       boolToInt(p.Active),
		"created_at":      formatTime(p.CreatedAt),
		"updated_at":      formatTime(p.UpdatedAt),
	}
	q := `INSERT INTO policies(name, description, effect, priority, conditions_json, action_id, is_active, created_at, updated_at)
		VALUES(:name, :description, :effect, :priority, :conditions_json, :action_id, :is_active, :created_at, :updated_at)`
	if p.ID != 0 {
		params["id"] = p.ID
		q = `INSERT INTO policies(id, name, description, effect, priority, conditions_json, action_id, is_active, created_at, updated_at)
			VALUES(:id, :name, :description, :effect, :priority, :conditions_json, :action_id, :is_active, :created_at, :updated_at)
			ON CONFLICT(id) DO UPDATE SET name=excluded.name, description=excluded.description, effect=excluded.effect,
				priority=excluded.priority, conditions_json=excluded.conditions_json, action_id=excluded.action_id,
				is_active=excluded.is_active, updated_at=excluded.updated_at`
	}
	id, err := s.insert(ctx, q, params)
	if err != nil {
		return fmt.Errorf("put policy %q: %w", p.Name, err)
	}
	if p.ID == 0 {
		p.ID = id
	}
	return nil
}

// DeletePolicy removes a policy row
func (s *SQLDirectory) DeletePolicy(ctx context.Context, id int64) error {
	res, err := s.db.NamedExecContext(ctx, `DELETE FROM policies WHERE id = :id`, map[string]any{"id": id})
	if err != nil {
		return fmt.Errorf("delete policy %d: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("delete policy %d: %w", id, abac.ErrPolicyNotFound)
	}
	return nil
}

func (s *SQLDirectory) insert(ctx context.Context, q string, params map[string]any) (int64, error) {
	res, err := s.db.NamedExecContext(ctx, q, params)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *SQLDirectory) replaceAttributes(ctx context.Context, kind string, ownerID int64, attrs []abac.Attribute) error {
	_, err := s.db.NamedExecContext(ctx, `DELETE FROM attributes WHERE owner_kind = :owner_kind AND owner_id = :owner_id`,
		map[string]any{"owner_kind": kind, "owner_id": ownerID})
	if err != nil {
		return fmt.Errorf("clear %s %d attributes: %w", kind, ownerID, err)
	}
	q := `INSERT INTO attributes(owner_kind, owner_id, name, attribute_type, data_type, value, description, is_active)
		VALUES(:owner_kind, :owner_id, :name, :attribute_type, :data_type, :value, :description, :is_active)`
	for _, a := range attrs {
		t := a.Type
		if t == "" {
			t = abac.AttributeType(kind)
		}
		_, err := s.db.NamedExecContext(ctx, q, map[string]any{
			"owner_kind":     kind,
			"owner_id":       ownerID,
			"name":           a.Name,
			"attribute_type": string(t),
			"data_type":      string(a.DataType),
			"value":          a.Value,
			"description":    a.Description,
			"is_active":      boolToInt(a.Active),
		})
		if err != nil {
			return fmt.Errorf("insert %s %d attribute %q: %w", kind, ownerID, a.Name, err)
		}
	}
	return nil
}

// ============================================================================
// READS
// ============================================================================

func (s *SQLDirectory) SubjectByID(ctx context.Context, id int64) (*abac.Subject, error) {
	q := `SELECT id, username, email, is_active, created_at FROM users WHERE id = :id`
	r, err := s.query(ctx, q, map[string]any{"id": id})
	if err != nil {
		return nil, fmt.Errorf("query user %d: %w", id, err)
	}
	sub, found, err := func() (*abac.Subject, bool, error) {
		defer r.Close()
		if !r.Next() {
			return nil, false, r.Err()
		}
		var (
			sub     abac.Subject
			active  int
			created any
		)
		if err := r.Scan(&sub.ID, &sub.Username, &sub.Email, &active, &created); err != nil {
			return nil, false, err
		}
		sub.Active = active != 0
		sub.CreatedAt = scanTime(created)
		return &sub, true, nil
	}()
	if err != nil {
		return nil, fmt.Errorf("scan user %d: %w", id, err)
	}
	if !found {
		return nil, abac.ErrSubjectNotFound
	}
	if sub.Attributes, err = s.attributes(ctx, ownerSubject, sub.ID); err != nil {
		return nil, err
	}
	return sub, nil
}

func (s *SQLDirectory) ResourceByURI(ctx context.Context, uri string) (*abac.Resource, error) {
	return s.resource(ctx, `WHERE resource_uri = :key`, uri)
}

func (s *SQLDirectory) ResourceByID(ctx context.Context, id int64) (*abac.Resource, error) {
	return s.resource(ctx, `WHERE id = :key`, id)
}

func (s *SQLDirectory) resource(ctx context.Context, where string, key any) (*abac.Resource, error) {
	q := `SELECT id, name, resource_type, resource_uri, parent_id, metadata_json FROM resources ` + where
	r, err := s.query(ctx, q, map[string]any{"key": key})
	if err != nil {
		return nil, fmt.Errorf("query resource %v: %w", key, err)
	}
	res, found, err := func() (*abac.Resource, bool, error) {
		defer r.Close()
		if !r.Next() {
			return nil, false, r.Err()
		}
		var (
			res    abac.Resource
			parent sql.NullInt64
			meta   string
		)
		if err := r.Scan(&res.ID, &res.Name, &res.Type, &res.URI, &parent, &meta); err != nil {
			return nil, false, err
		}
		res.ParentID = idOrNil(parent)
		if meta != "" && meta != "{}" {
			if err := json.Unmarshal([]byte(meta), &res.Metadata); err != nil {
				return nil, false, fmt.Errorf("decode metadata: %w", err)
			}
		}
		return &res, true, nil
	}()
	if err != nil {
		return nil, fmt.Errorf("scan resource %v: %w", key, err)
	}
	if !found {
		return nil, abac.ErrResourceNotFound
	}
	if res.Attributes, err = s.attributes(ctx, ownerResource, res.ID); err != nil {
		return nil, err
	}
	return res, nil
}

func (s *SQLDirectory) ActionByName(ctx context.Context, name string) (*abac.Action, error) {
	q := `SELECT id, name, category, description FROM actions WHERE name = :name`
	r, err := s.query(ctx, q, map[string]any{"name": name})
	if err != nil {
		return nil, fmt.Errorf("query action %q: %w", name, err)
	}
	defer r.Close()
	if !r.Next() {
		if err := r.Err(); err != nil {
			return nil, fmt.Errorf("query action %q: %w", name, err)
		}
		return nil, abac.ErrActionNotFound
	}
	var a abac.Action
	if err := r.Scan(&a.ID, &a.Name, &a.Category, &a.Description); err != nil {
		return nil, fmt.Errorf("scan action %q: %w", name, err)
	}
	return &a, nil
}

func (s *SQLDirectory) attributes(ctx context.Context, kind string, ownerID int64) ([]abac.Attribute, error) {
	q := `SELECT id, name, attribute_type, data_type, value, description, is_active FROM attributes
		WHERE owner_kind = :owner_kind AND owner_id = :owner_id ORDER BY id`
	r, err := s.query(ctx, q, map[string]any{"owner_kind": kind, "owner_id": ownerID})
	if err != nil {
		return nil, fmt.Errorf("query %s %d attributes: %w", kind, ownerID, err)
	}
	defer r.Close()
	out := make([]abac.Attribute, 0)
	for r.Next() {
		var (
			a          abac.Attribute
			t, dt      string
			activeFlag int
		)
		if err := r.Scan(&a.ID, &a.Name, &t, &dt, &a.Value, &a.Description, &activeFlag); err != nil {
			return nil, fmt.Errorf("scan %s %d attribute: %w", kind, ownerID, err)
		}
		a.Type = abac.AttributeType(t)
		a.DataType = abac.DataType(dt)
		a.Active = activeFlag != 0
		out = append(out, a)
	}
	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s %d attributes: %w", kind, ownerID, err)
	}
	return out, nil
}

const policyColumns = `id, name, description, effect, priority, conditions_json, action_id, is_active, created_at, updated_at`

// ApplicablePolicies lets SQL do the selection and ordering
func (s *SQLDirectory) ApplicablePolicies(ctx context.Context, actionID *int64) ([]*abac.Policy, error) {
	q := `SELECT ` + policyColumns + ` FROM policies
		WHERE is_active = 1 AND (action_id IS NULL OR action_id = :action_id)
		ORDER BY priority DESC, created_at ASC, id ASC`
	return s.queryPolicies(ctx, q, map[string]any{"action_id": nullableID(actionID)})
}

// Policies lists every stored policy ordered by id
func (s *SQLDirectory) Policies(ctx context.Context) ([]*abac.Policy, error) {
	return s.queryPolicies(ctx, `SELECT `+policyColumns+` FROM policies ORDER BY id`, map[string]any{})
}

// PolicyByID loads one policy
func (s *SQLDirectory) PolicyByID(ctx context.Context, id int64) (*abac.Policy, error) {
	out, err := s.queryPolicies(ctx, `SELECT `+policyColumns+` FROM policies WHERE id = :id`, map[string]any{"id": id})
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("policy %d: %w", id, abac.ErrPolicyNotFound)
	}
	return out[0], nil
}

func (s *SQLDirectory) queryPolicies(ctx context.Context, q string, params map[string]any) ([]*abac.Policy, error) {
	r, err := s.query(ctx, q, params)
	if err != nil {
		return nil, fmt.Errorf("query policies: %w", err)
	}
	defer r.Close()
	out := make([]*abac.Policy, 0)
	for r.Next() {
		var (
			p                abac.Policy
			effect, condJSON string
			action           sql.NullInt64
			active           int
			created, updated any
		)
		if err := r.Scan(&p.ID, &p.Name, &p.Description, &effect, &p.Priority, &condJSON, &action, &active, &created, &updated); err != nil {
			return nil, fmt.Errorf("scan policy: %w", err)
		}
		p.Effect = abac.Effect(effect)
		p.ActionID = idOrNil(action)
		p.Active = active != 0
		p.CreatedAt = scanTime(created)
		p.UpdatedAt = scanTime(updated)
		// an undecodable tree is left nil, which compiles to a never-matching condition
		if err := json.Unmarshal([]byte(condJSON), &p.Conditions); err != nil {
			p.Conditions = nil
		}
		out = append(out, &p)
	}
	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("iterate policies: %w", err)
	}
	return out, nil
}

var (
	_ abac.Directory = (*SQLDirectory)(nil)
	_ abac.Seeder    = (*SQLDirectory)(nil)
)
