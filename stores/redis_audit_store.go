package stores

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/oarkflow/abac"
)

// RedisAuditStore appends JSON-encoded entries to a Redis list. When
// MaxEntries is positive the list is trimmed to the newest MaxEntries.
type RedisAuditStore struct {
	client     redis.UniversalClient
	key        string
	MaxEntries int64
}

func NewRedisAuditStore(client redis.UniversalClient, key string) *RedisAuditStore {
	if key == "" {
		key = "abac:audit"
	}
	return &RedisAuditStore{client: client, key: key}
}

func (s *RedisAuditStore) LogDecision(ctx context.Context, entry *abac.AuditEntry) error {
	b, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode audit entry %s: %w", entry.ID, err)
	}
	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, s.key, b)
	if s.MaxEntries > 0 {
		pipe.LTrim(ctx, s.key, -s.MaxEntries, -1)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("push audit entry %s: %w", entry.ID, err)
	}
	return nil
}

// GetAccessLog scans the list oldest first and filters client-side
func (s *RedisAuditStore) GetAccessLog(ctx context.Context, filter abac.AuditFilter) ([]*abac.AuditEntry, error) {
	raw, err := s.client.LRange(ctx, s.key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read audit log: %w", err)
	}
	out := make([]*abac.AuditEntry, 0)
	for _, item := range raw {
		var e abac.AuditEntry
		if err := json.Unmarshal([]byte(item), &e); err != nil {
			continue
		}
		if !filter.Match(&e) {
			continue
		}
		out = append(out, &e)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

// Len returns the number of stored entries
func (s *RedisAuditStore) Len(ctx context.Context) (int64, error) {
	return s.client.LLen(ctx, s.key).Result()
}

var _ abac.AuditStore = (*RedisAuditStore)(nil)
