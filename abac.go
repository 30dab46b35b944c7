package abac

import (
	"errors"
	"strings"
	"time"
)

// ============================================================================
// DOMAIN OBJECTS
// ============================================================================

// Effect is the outcome a policy produces when its conditions match
type Effect string

const (
	EffectAllow Effect = "ALLOW"
	EffectDeny  Effect = "DENY"
)

// Valid reports whether e is one of the two known effects
func (e Effect) Valid() bool {
	return e == EffectAllow || e == EffectDeny
}

// AttributeType tags the namespace an attribute belongs to
type AttributeType string

const (
	AttributeSubject     AttributeType = "subject"
	AttributeResource    AttributeType = "resource"
	AttributeAction      AttributeType = "action"
	AttributeEnvironment AttributeType = "environment"
)

// UnmarshalText accepts the legacy "user" tag as a synonym of subject.
func (t *AttributeType) UnmarshalText(b []byte) error {
	s := strings.ToLower(strings.TrimSpace(string(b)))
	if s == "user" {
		s = string(AttributeSubject)
	}
	*t = AttributeType(s)
	return nil
}

// DataType is the declared type of an attribute's raw string value
type DataType string

const (
	DataString   DataType = "string"
	DataInteger  DataType = "integer"
	DataBoolean  DataType = "boolean"
	DataDatetime DataType = "datetime"
	DataList     DataType = "list"
	DataJSON     DataType = "json"
)

// Attribute is a typed key/value fact attached to a subject or resource.
// Value is always stored raw and parsed lazily with ParseAttributeValue.
type Attribute struct {
	ID          int64         `json:"id,omitempty" yaml:"id,omitempty"`
	Name        string        `json:"name" yaml:"name"`
	Type        AttributeType `json:"attribute_type" yaml:"attribute_type"`
	DataType    DataType      `json:"data_type" yaml:"data_type"`
	Value       string        `json:"value" yaml:"value"`
	Description string        `json:"description,omitempty" yaml:"description,omitempty"`
	Active      bool          `json:"is_active" yaml:"is_active"`
}

// Typed returns the parsed value of the attribute
func (a Attribute) Typed() any {
	return ParseAttributeValue(a.Value, a.DataType)
}

// Subject is the user requesting access
type Subject struct {
	ID         int64       `json:"id"`
	Username   string      `json:"username"`
	Email      string      `json:"email"`
	Active     bool        `json:"is_active"`
	CreatedAt  time.Time   `json:"created_at"`
	Attributes []Attribute `json:"attributes"`
}

// Resource is the protected object. ParentID is a plain reference resolved
// through the Directory, never an embedded parent.
type Resource struct {
	ID         int64          `json:"id"`
	Name       string         `json:"name"`
	Type       string         `json:"resource_type"`
	URI        string         `json:"resource_uri"`
	ParentID   *int64         `json:"parent_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Attributes []Attribute    `json:"attributes"`
}

// Action is an operation from a small vocabulary, unique by name
type Action struct {
	ID          int64  `json:"id" yaml:"id,omitempty"`
	Name        string `json:"name" yaml:"name"`
	Category    string `json:"category,omitempty" yaml:"category,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// AuthorizationRequest is the input of EvaluateAccess
type AuthorizationRequest struct {
	SubjectID   int64          `json:"user_id"`
	ResourceURI string         `json:"resource_uri"`
	ActionName  string         `json:"action_name"`
	Context     map[string]any `json:"context,omitempty"`
}

// AuthorizationResponse is the only observable outcome of EvaluateAccess
type AuthorizationResponse struct {
	Decision Effect `json:"decision"`
	PolicyID *int64 `json:"policy_id,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// Allowed is a convenience for callers that only need a boolean
func (r AuthorizationResponse) Allowed() bool {
	return r.Decision == EffectAllow
}

// Decision reasons that do not name a policy
const (
	ReasonSubjectUnavailable = "User not found or inactive"
	ReasonResourceNotFound   = "Resource not found"
	ReasonActionNotFound     = "Action not found"
	ReasonNoApplicable       = "No applicable policies found"
	ReasonNoMatch            = "No matching policies"
	reasonSystemErrorPrefix  = "System error: "
)

var (
	ErrSubjectNotFound  = errors.New("subject not found")
	ErrResourceNotFound = errors.New("resource not found")
	ErrActionNotFound   = errors.New("action not found")
	ErrPolicyNotFound   = errors.New("policy not found")
	ErrInvalidPolicy    = errors.New("invalid policy")
)

func int64Ptr(v int64) *int64 { return &v }
