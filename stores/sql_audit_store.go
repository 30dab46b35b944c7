package stores

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/oarkflow/squealx"

	"github.com/oarkflow/abac"
)

// SQLAuditStore persists audit entries in SQL
type SQLAuditStore struct {
	db    *squealx.DB
	query queryFunc
}

func NewSQLAuditStore(db *squealx.DB) *SQLAuditStore {
	return &SQLAuditStore{db: db, query: namedQuery(db)}
}

func (s *SQLAuditStore) LogDecision(ctx context.Context, entry *abac.AuditEntry) error {
	ctxJSON, err := json.Marshal(entry.Context)
	if err != nil {
		return fmt.Errorf("encode audit context %s: %w", entry.ID, err)
	}
	q := `INSERT INTO audit_log(id, decision, policy_id, user_id, resource_id, action_id, resource_uri, action_name, context_json, reason, timestamp)
		VALUES(:id, :decision, :policy_id, :user_id, :resource_id, :action_id, :resource_uri, :action_name, :context_json, :reason, :timestamp)`
	_, err = s.db.NamedExecContext(ctx, q, map[string]any{
		"id":           entry.ID,
		"decision":     string(entry.Decision),
		"policy_id":    nullableID(entry.PolicyID),
		"user_id":      nullableID(entry.SubjectID),
		"resource_id":  nullableID(entry.ResourceID),
		"action_id":    nullableID(entry.ActionID),
		"resource_uri": entry.ResourceURI,
		"action_name":  entry.ActionName,
		"context_json": string(ctxJSON),
		"reason":       entry.Reason,
		"timestamp":    formatTime(entry.Timestamp),
	})
	if err != nil {
		return fmt.Errorf("insert audit entry %s: %w", entry.ID, err)
	}
	return nil
}

// GetAccessLog returns matching entries oldest first. The resource glob is
// applied after the query, so the limit is too when a glob is set.
func (s *SQLAuditStore) GetAccessLog(ctx context.Context, filter abac.AuditFilter) ([]*abac.AuditEntry, error) {
	q := `SELECT id, decision, policy_id, user_id, resource_id, action_id, resource_uri, action_name, context_json, reason, timestamp FROM audit_log WHERE 1=1`
	params := map[string]any{}
	if filter.SubjectID != nil {
		q += " AND user_id = :user_id"
		params["user_id"] = *filter.SubjectID
	}
	if filter.ResourceID != nil {
		q += " AND resource_id = :resource_id"
		params["resource_id"] = *filter.ResourceID
	}
	if filter.ActionID != nil {
		q += " AND action_id = :action_id"
		params["action_id"] = *filter.ActionID
	}
	if filter.Decision != "" {
		q += " AND decision = :decision"
		params["decision"] = string(filter.Decision)
	}
	if !filter.StartTime.IsZero() {
		q += " AND timestamp >= :start"
		params["start"] = formatTime(filter.StartTime)
	}
	if !filter.EndTime.IsZero() {
		q += " AND timestamp <= :end"
		params["end"] = formatTime(filter.EndTime)
	}
	q += " ORDER BY timestamp ASC, id ASC"
	if filter.Limit > 0 && filter.ResourceGlob == "" {
		q += " LIMIT :limit"
		params["limit"] = filter.Limit
	}
	r, err := s.query(ctx, q, params)
	if err != nil {
		return nil, fmt.Errorf("query audit log: %w", err)
	}
	defer r.Close()
	out := make([]*abac.AuditEntry, 0)
	for r.Next() {
		var (
			e                              abac.AuditEntry
			decision, ctxJSON              string
			policy, user, resource, action sql.NullInt64
			timestampRaw                   any
		)
		if err := r.Scan(&e.ID, &decision, &policy, &user, &resource, &action, &e.ResourceURI, &e.ActionName, &ctxJSON, &e.Reason, &timestampRaw); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.Decision = abac.Effect(decision)
		e.PolicyID = idOrNil(policy)
		e.SubjectID = idOrNil(user)
		e.ResourceID = idOrNil(resource)
		e.ActionID = idOrNil(action)
		e.Timestamp = scanTime(timestampRaw)
		if err := json.Unmarshal([]byte(ctxJSON), &e.Context); err != nil {
			return nil, fmt.Errorf("decode audit entry %s context: %w", e.ID, err)
		}
		if !filter.Match(&e) {
			continue
		}
		out = append(out, &e)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit log: %w", err)
	}
	return out, nil
}

var _ abac.AuditStore = (*SQLAuditStore)(nil)
