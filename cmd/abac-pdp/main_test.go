package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/oarkflow/abac"
)

const seed = "testdata/seed.yaml"

func TestRunCommandRouting(t *testing.T) {
	var out bytes.Buffer
	if err := run(nil, &out); err == nil {
		t.Fatal("expected error when command is missing")
	}
	if !strings.Contains(out.String(), "abac-pdp validate") {
		t.Fatalf("expected usage output, got %q", out.String())
	}

	out.Reset()
	if err := run([]string{"bogus"}, &out); err == nil {
		t.Fatal("expected error for unknown command")
	}
}

func TestValidateSeed(t *testing.T) {
	var out bytes.Buffer
	if err := run([]string{"validate", seed}, &out); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !strings.Contains(out.String(), "Policies:  4") {
		t.Fatalf("unexpected output %q", out.String())
	}
}

func TestValidateRejectsBadPolicy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	body := `
actions:
  - {name: read}
policies:
  - name: broken
    effect: MAYBE
    priority: 1
    action: write
    conditions:
      equals: {attribute: subject.role, value: admin}
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	err := run([]string{"validate", path}, &bytes.Buffer{})
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"unknown action", "effect must be ALLOW or DENY"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q does not mention %q", err, want)
		}
	}
}

func evaluate(t *testing.T, args ...string) abac.AuthorizationResponse {
	t.Helper()
	var out bytes.Buffer
	if err := run(append([]string{"evaluate", "-config", seed}, args...), &out); err != nil {
		t.Fatalf("evaluate %v: %v", args, err)
	}
	var resp abac.AuthorizationResponse
	if err := json.Unmarshal(out.Bytes(), &resp); err != nil {
		t.Fatalf("decode %q: %v", out.String(), err)
	}
	return resp
}

func TestEvaluateSampleData(t *testing.T) {
	cases := []struct {
		args   []string
		want   abac.Effect
		reason string
	}{
		{[]string{"1", "/api/users", "delete"}, abac.EffectAllow, "Policy 'Admin Full Access' matched"},
		{[]string{"2", "/api/reports", "read"}, abac.EffectAllow, "Policy 'Analyst Read Access' matched"},
		{[]string{"2", "/api/reports", "update"}, abac.EffectAllow, "Policy 'Analyst Read Access' matched"},
		{[]string{"2", "/api/reports", "delete"}, abac.EffectDeny, abac.ReasonNoMatch},
		{[]string{"2", "/api/users", "admin"}, abac.EffectDeny, "Policy 'Deny Admin Actions for Non-Admins' matched"},
		{[]string{"3", "/api/dashboard", "read"}, abac.EffectAllow, "Policy 'Viewer Read Only' matched"},
		{[]string{"3", "/api/dashboard", "create"}, abac.EffectDeny, abac.ReasonNoMatch},
		{[]string{"99", "/api/dashboard", "read"}, abac.EffectDeny, abac.ReasonSubjectUnavailable},
		{[]string{"1", "/nope", "read"}, abac.EffectDeny, abac.ReasonResourceNotFound},
		{[]string{"1", "/api/dashboard", "fly"}, abac.EffectDeny, abac.ReasonActionNotFound},
	}
	for _, tc := range cases {
		resp := evaluate(t, tc.args...)
		if resp.Decision != tc.want || resp.Reason != tc.reason {
			t.Fatalf("%v: got %s %q, want %s %q", tc.args, resp.Decision, resp.Reason, tc.want, tc.reason)
		}
	}
}

func TestExplainIncludesTrace(t *testing.T) {
	var out bytes.Buffer
	if err := run([]string{"explain", "-config", seed, "2", "/api/users", "admin"}, &out); err != nil {
		t.Fatalf("explain: %v", err)
	}
	var exp abac.Explanation
	if err := json.Unmarshal(out.Bytes(), &exp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	// admin (global, 100) is tried before the admin-bound deny (75)
	if len(exp.Trace) != 2 || exp.Trace[0].PolicyName != "Admin Full Access" || exp.Trace[0].Matched {
		t.Fatalf("unexpected trace %+v", exp.Trace)
	}
	if exp.Policy != "Deny Admin Actions for Non-Admins" {
		t.Fatalf("policy = %q", exp.Policy)
	}
}

func TestEvaluateWithSQLiteAndAudit(t *testing.T) {
	db := filepath.Join(t.TempDir(), "abac.db")
	var out bytes.Buffer
	args := []string{"evaluate", "-config", seed, "-db", db, "3", "/abac/policies", "read"}
	if err := run(args, &out); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	// seeding twice must be idempotent
	out.Reset()
	args = []string{"evaluate", "-config", seed, "-db", db, "3", "/abac/policies", "delete"}
	if err := run(args, &out); err != nil {
		t.Fatalf("evaluate again: %v", err)
	}

	out.Reset()
	if err := run([]string{"audit", "-db", db, "-user", "3", "-resource", "/abac/**"}, &out); err != nil {
		t.Fatalf("audit: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 audit lines, got %d: %q", len(lines), out.String())
	}
	var first abac.AuditEntry
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("decode audit: %v", err)
	}
	if first.Decision != abac.EffectAllow || first.ResourceURI != "/abac/policies" {
		t.Fatalf("unexpected entry %+v", first)
	}

	out.Reset()
	if err := run([]string{"audit", "-db", db, "-decision", "deny"}, &out); err != nil {
		t.Fatalf("audit deny: %v", err)
	}
	if n := strings.Count(strings.TrimSpace(out.String()), "\n") + 1; n != 1 {
		t.Fatalf("expected 1 deny entry, got %d", n)
	}
}

func TestPoliciesOrder(t *testing.T) {
	var out bytes.Buffer
	if err := run([]string{"policies", "-config", seed, "read"}, &out); err != nil {
		t.Fatalf("policies: %v", err)
	}
	got := out.String()
	admin := strings.Index(got, "Admin Full Access")
	analyst := strings.Index(got, "Analyst Read Access")
	viewer := strings.Index(got, "Viewer Read Only")
	if admin < 0 || analyst < admin || viewer < analyst {
		t.Fatalf("unexpected order:\n%s", got)
	}
	if strings.Contains(got, "Deny Admin Actions") {
		t.Fatalf("admin-bound policy listed for read:\n%s", got)
	}
}

func TestParseContext(t *testing.T) {
	env, err := parseContext([]string{"n=3", "ok=true", "net=internal"})
	if err != nil {
		t.Fatal(err)
	}
	if env["n"] != int64(3) || env["ok"] != true || env["net"] != "internal" {
		t.Fatalf("unexpected env %#v", env)
	}
	if _, err := parseContext([]string{"novalue"}); err == nil {
		t.Fatal("expected error for missing '='")
	}
}
