package abac

import (
	"testing"
	"time"
)

func fixtureContext() *EvaluationContext {
	parent := int64(4)
	subject := &Subject{
		ID:        7,
		Username:  "ana",
		Email:     "ana@example.com",
		Active:    true,
		CreatedAt: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		Attributes: []Attribute{
			{Name: "role", DataType: DataString, Value: "analyst", Active: true},
			{Name: "clearance_level", DataType: DataInteger, Value: "3", Active: true},
			{Name: "retired", DataType: DataBoolean, Value: "true", Active: false},
			{Name: "username", DataType: DataString, Value: "spoofed", Active: true},
		},
	}
	resource := &Resource{
		ID: 9, Name: "Policies", Type: "api", URI: "/abac/policies", ParentID: &parent,
		Attributes: []Attribute{{Name: "sensitivity", DataType: DataString, Value: "public", Active: true}},
	}
	action := &Action{ID: 2, Name: "read", Category: "read", Description: "Read"}
	env := map[string]any{"network": "internal", "hour": 99}
	// 2024-06-05 is a Wednesday
	now := time.Date(2024, 6, 5, 14, 0, 0, 0, time.FixedZone("X", 2*3600))
	return BuildContext(subject, resource, action, env, now)
}

func TestBuildContextSubject(t *testing.T) {
	c := fixtureContext()
	if c.Subject["role"] != "analyst" || c.Subject["clearance_level"] != int64(3) {
		t.Fatalf("custom attributes missing: %#v", c.Subject)
	}
	if _, ok := c.Subject["retired"]; ok {
		t.Fatalf("inactive attribute leaked into context")
	}
	if c.Subject["username"] != "ana" {
		t.Fatalf("built-in must win over custom attribute, got %v", c.Subject["username"])
	}
	if c.Subject["user_id"] != int64(7) || c.Subject["is_active"] != true {
		t.Fatalf("unexpected built-ins: %#v", c.Subject)
	}
	if c.Subject["created_at"] != "2024-01-02T03:04:05Z" {
		t.Fatalf("created_at = %v", c.Subject["created_at"])
	}
}

func TestBuildContextResourceAndAction(t *testing.T) {
	c := fixtureContext()
	if c.Resource["parent_id"] != int64(4) || c.Resource["resource_uri"] != "/abac/policies" {
		t.Fatalf("unexpected resource map %#v", c.Resource)
	}
	if len(c.Action) != 4 || c.Action["action_name"] != "read" || c.Action["action_id"] != int64(2) {
		t.Fatalf("unexpected action map %#v", c.Action)
	}

	noParent := BuildContext(&Subject{}, &Resource{URI: "/x"}, &Action{}, nil, time.Now())
	v, ok := noParent.Resource["parent_id"]
	if !ok || v != nil {
		t.Fatalf("parent_id should be present and nil, got %v %v", v, ok)
	}
}

func TestBuildContextEnvironment(t *testing.T) {
	c := fixtureContext()
	if c.Environment["network"] != "internal" {
		t.Fatalf("caller environment lost")
	}
	if c.Environment["hour"] != int64(12) {
		t.Fatalf("hour should be computed in UTC and override the caller, got %v", c.Environment["hour"])
	}
	if c.Environment["day_of_week"] != int64(2) {
		t.Fatalf("wednesday should be 2, got %v", c.Environment["day_of_week"])
	}
	if c.Environment["current_time"] != "2024-06-05T12:00:00Z" {
		t.Fatalf("current_time = %v", c.Environment["current_time"])
	}
}

func TestWeekdayNumbering(t *testing.T) {
	monday := time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 7; i++ {
		if got := weekday(monday.AddDate(0, 0, i)); got != int64(i) {
			t.Fatalf("day %d: got %d", i, got)
		}
	}
}

func TestFlatten(t *testing.T) {
	flat := fixtureContext().Flatten()
	for key, want := range map[string]any{
		"subject.role":            "analyst",
		"user.role":               "analyst",
		"resource.sensitivity":    "public",
		"action.action_name":      "read",
		"environment.network":     "internal",
		"environment.day_of_week": int64(2),
	} {
		if got, ok := flat.Lookup(key); !ok || got != want {
			t.Fatalf("%s = %v (present %v), want %v", key, got, ok, want)
		}
	}
	if _, ok := flat.Lookup("subject.missing"); ok {
		t.Fatalf("missing key reported present")
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	c := fixtureContext()
	snap := c.Snapshot()
	snap["user_attributes"].(map[string]any)["role"] = "admin"
	if c.Subject["role"] != "analyst" {
		t.Fatalf("snapshot shares storage with the context")
	}
}
