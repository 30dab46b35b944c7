package abac

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is a loadable snapshot: engine tunables plus the entities and
// policies to seed a directory with.
type Config struct {
	Version   int            `json:"version" yaml:"version"`
	Engine    EngineConfig   `json:"engine" yaml:"engine"`
	Actions   []ActionSeed   `json:"actions" yaml:"actions"`
	Subjects  []SubjectSeed  `json:"users" yaml:"users"`
	Resources []ResourceSeed `json:"resources" yaml:"resources"`
	Policies  []PolicySeed   `json:"policies" yaml:"policies"`
}

type EngineConfig struct {
	AuditQueueSize         *int   `json:"audit_queue_size,omitempty" yaml:"audit_queue_size,omitempty"`
	ConditionCacheCounters int64  `json:"condition_cache_counters" yaml:"condition_cache_counters"`
	ConditionCacheMaxCost  int64  `json:"condition_cache_max_cost" yaml:"condition_cache_max_cost"`
	ConditionCacheBuffer   int64  `json:"condition_cache_buffer" yaml:"condition_cache_buffer"`
	MetricsNamespace       string `json:"metrics_namespace" yaml:"metrics_namespace"`
	Logger                 string `json:"logger" yaml:"logger"`
}

// DefaultEngineConfig mirrors the engine defaults
func DefaultEngineConfig() EngineConfig {
	q := DefaultAuditQueueSize
	return EngineConfig{
		AuditQueueSize:         &q,
		ConditionCacheCounters: DefaultConditionCacheCounters,
		ConditionCacheMaxCost:  DefaultConditionCacheMaxCost,
		ConditionCacheBuffer:   DefaultConditionCacheBuffer,
		MetricsNamespace:       "abac",
		Logger:                 "null",
	}
}

// Options turns the tunables into engine options. The returned cache is owned
// by the caller, as is the metrics set (nil when no namespace is configured).
func (c EngineConfig) Options() ([]EngineOption, *ConditionCache, *Metrics, error) {
	cache, err := NewConditionCache(c.ConditionCacheCounters, c.ConditionCacheMaxCost, c.ConditionCacheBuffer)
	if err != nil {
		return nil, nil, nil, err
	}
	opts := []EngineOption{WithConditionCache(cache)}
	if c.AuditQueueSize != nil {
		opts = append(opts, WithAuditQueueSize(*c.AuditQueueSize))
	}
	var metrics *Metrics
	if c.MetricsNamespace != "" {
		metrics = NewMetrics(c.MetricsNamespace)
		metrics.Init()
		opts = append(opts, WithMetrics(metrics))
	}
	return opts, cache, metrics, nil
}

// AttributeSeed is an attribute as written in a snapshot. Active defaults to true.
type AttributeSeed struct {
	Name        string   `json:"name" yaml:"name"`
	DataType    DataType `json:"data_type" yaml:"data_type"`
	Value       string   `json:"value" yaml:"value"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	Active      *bool    `json:"is_active,omitempty" yaml:"is_active,omitempty"`
}

func (a AttributeSeed) attribute(t AttributeType) Attribute {
	dt := a.DataType
	if dt == "" {
		dt = DataString
	}
	return Attribute{
		Name:        a.Name,
		Type:        t,
		DataType:    dt,
		Value:       a.Value,
		Description: a.Description,
		Active:      boolOr(a.Active, true),
	}
}

type ActionSeed struct {
	ID          int64  `json:"id,omitempty" yaml:"id,omitempty"`
	Name        string `json:"name" yaml:"name"`
	Category    string `json:"category,omitempty" yaml:"category,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

type SubjectSeed struct {
	ID         int64           `json:"id,omitempty" yaml:"id,omitempty"`
	Username   string          `json:"username" yaml:"username"`
	Email      string          `json:"email" yaml:"email"`
	Active     *bool           `json:"is_active,omitempty" yaml:"is_active,omitempty"`
	Attributes []AttributeSeed `json:"attributes,omitempty" yaml:"attributes,omitempty"`
}

// ResourceSeed refers to its parent by URI; the parent must be listed first
type ResourceSeed struct {
	ID         int64           `json:"id,omitempty" yaml:"id,omitempty"`
	Name       string          `json:"name" yaml:"name"`
	Type       string          `json:"resource_type" yaml:"resource_type"`
	URI        string          `json:"resource_uri" yaml:"resource_uri"`
	Parent     string          `json:"parent,omitempty" yaml:"parent,omitempty"`
	Metadata   map[string]any  `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	Attributes []AttributeSeed `json:"attributes,omitempty" yaml:"attributes,omitempty"`
}

// PolicySeed binds to an action by name; an empty Action makes the policy global
type PolicySeed struct {
	ID          int64     `json:"id,omitempty" yaml:"id,omitempty"`
	Name        string    `json:"name" yaml:"name"`
	Description string    `json:"description,omitempty" yaml:"description,omitempty"`
	Effect      Effect    `json:"effect" yaml:"effect"`
	Priority    int       `json:"priority" yaml:"priority"`
	Action      string    `json:"action,omitempty" yaml:"action,omitempty"`
	Conditions  Condition `json:"conditions" yaml:"conditions"`
	Active      *bool     `json:"is_active,omitempty" yaml:"is_active,omitempty"`
}

func (p PolicySeed) policy(actionID *int64) *Policy {
	return &Policy{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		Effect:      Effect(strings.ToUpper(string(p.Effect))),
		Priority:    p.Priority,
		Conditions:  p.Conditions,
		ActionID:    actionID,
		Active:      boolOr(p.Active, true),
	}
}

func boolOr(b *bool, def bool) bool {
	if b == nil {
		return def
	}
	return *b
}

// Validate checks references and policy rules without touching a directory.
// All problems are reported together.
func (c *Config) Validate() error {
	var errs []error
	actions := make(map[string]bool, len(c.Actions))
	for i, a := range c.Actions {
		switch {
		case a.Name == "":
			errs = append(errs, fmt.Errorf("actions[%d]: name is required", i))
		case actions[a.Name]:
			errs = append(errs, fmt.Errorf("actions[%d]: duplicate action %q", i, a.Name))
		}
		actions[a.Name] = true
	}
	uris := make(map[string]bool, len(c.Resources))
	for i, r := range c.Resources {
		switch {
		case r.URI == "":
			errs = append(errs, fmt.Errorf("resources[%d]: resource_uri is required", i))
		case uris[r.URI]:
			errs = append(errs, fmt.Errorf("resources[%d]: duplicate uri %q", i, r.URI))
		case r.Parent != "" && !uris[r.Parent]:
			errs = append(errs, fmt.Errorf("resources[%d]: parent %q must be listed before %q", i, r.Parent, r.URI))
		}
		uris[r.URI] = true
	}
	for i, s := range c.Subjects {
		if s.Username == "" {
			errs = append(errs, fmt.Errorf("users[%d]: username is required", i))
		}
	}
	for i, p := range c.Policies {
		if p.Action != "" && !actions[p.Action] {
			errs = append(errs, fmt.Errorf("policies[%d] %q: unknown action %q", i, p.Name, p.Action))
		}
		if err := p.policy(nil).Validate(); err != nil {
			errs = append(errs, fmt.Errorf("policies[%d]: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

// Apply validates the snapshot and writes it into dst: actions, then users,
// then resources, then policies.
func (c *Config) Apply(ctx context.Context, dst Seeder) error {
	if err := c.Validate(); err != nil {
		return err
	}
	actionIDs := make(map[string]int64, len(c.Actions))
	for _, s := range c.Actions {
		a := &Action{ID: s.ID, Name: s.Name, Category: s.Category, Description: s.Description}
		if err := dst.PutAction(ctx, a); err != nil {
			return fmt.Errorf("seed action %q: %w", s.Name, err)
		}
		actionIDs[a.Name] = a.ID
	}
	for _, s := range c.Subjects {
		sub := &Subject{ID: s.ID, Username: s.Username, Email: s.Email, Active: boolOr(s.Active, true)}
		for _, a := range s.Attributes {
			sub.Attributes = append(sub.Attributes, a.attribute(AttributeSubject))
		}
		if err := dst.PutSubject(ctx, sub); err != nil {
			return fmt.Errorf("seed user %q: %w", s.Username, err)
		}
	}
	resourceIDs := make(map[string]int64, len(c.Resources))
	for _, s := range c.Resources {
		r := &Resource{ID: s.ID, Name: s.Name, Type: s.Type, URI: s.URI, Metadata: s.Metadata}
		if s.Parent != "" {
			parent := resourceIDs[s.Parent]
			r.ParentID = &parent
		}
		for _, a := range s.Attributes {
			r.Attributes = append(r.Attributes, a.attribute(AttributeResource))
		}
		if err := dst.PutResource(ctx, r); err != nil {
			return fmt.Errorf("seed resource %q: %w", s.URI, err)
		}
		resourceIDs[r.URI] = r.ID
	}
	for _, s := range c.Policies {
		var actionID *int64
		if s.Action != "" {
			id := actionIDs[s.Action]
			actionID = &id
		}
		if err := dst.PutPolicy(ctx, s.policy(actionID)); err != nil {
			return fmt.Errorf("seed policy %q: %w", s.Name, err)
		}
	}
	return nil
}

// ConfigLoader loads configuration from various formats
type ConfigLoader struct{}

func NewConfigLoader() *ConfigLoader {
	return &ConfigLoader{}
}

func (l *ConfigLoader) LoadYAML(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("decode yaml config: %w", err)
	}
	return cfg, nil
}

func (l *ConfigLoader) LoadJSON(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("decode json config: %w", err)
	}
	return cfg, nil
}

// LoadFile picks the decoder from the file extension (.yaml, .yml or .json)
func (l *ConfigLoader) LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return l.LoadYAML(data)
	case ".json":
		return l.LoadJSON(data)
	}
	return nil, fmt.Errorf("unsupported config format: %s", filepath.Ext(path))
}

// ToYAML exports config to YAML
func (c *Config) ToYAML() ([]byte, error) {
	return yaml.Marshal(c)
}

// ToJSON exports config to JSON
func (c *Config) ToJSON() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}
