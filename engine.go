package abac

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/oarkflow/abac/logger"
)

// ============================================================================
// DECISION POINT
// ============================================================================

// DefaultAuditQueueSize is the capacity of the asynchronous audit queue
const DefaultAuditQueueSize = 1024

// EngineOption configures an Engine
type EngineOption func(*Engine) error

// Engine is the policy decision point. It holds no per-request state: every
// call builds its own context, and the collaborators it keeps (directory,
// audit queue, cache, metrics) are safe for concurrent use.
type Engine struct {
	dir        Directory
	auditStore AuditStore
	audit      *AuditLogger
	resolver   *Resolver
	cache      *ConditionCache
	ownsCache  bool
	metrics    *Metrics
	logger     logger.Logger
	now        func() time.Time
	queueSize  int
}

// NewEngine wires a decision point over dir. A nil store discards the audit trail.
func NewEngine(dir Directory, store AuditStore, opts ...EngineOption) (*Engine, error) {
	if dir == nil {
		return nil, errors.New("abac: directory is required")
	}
	e := &Engine{
		dir:        dir,
		auditStore: store,
		logger:     logger.NewNullLogger(),
		now:        time.Now,
		queueSize:  DefaultAuditQueueSize,
	}
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}
	if e.cache == nil {
		cache, err := NewConditionCache(0, 0, 0)
		if err != nil {
			return nil, err
		}
		e.cache, e.ownsCache = cache, true
	}
	e.resolver = NewResolver(e.cache)
	e.audit = NewAuditLogger(e.auditStore, e.queueSize, e.logger, e.metrics)
	return e, nil
}

// WithClock replaces the wall clock used for environment attributes and timestamps
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) error {
		if now == nil {
			return errors.New("abac: nil clock")
		}
		e.now = now
		return nil
	}
}

// WithMetrics records decisions on m
func WithMetrics(m *Metrics) EngineOption {
	return func(e *Engine) error {
		e.metrics = m
		return nil
	}
}

// WithConditionCache shares a compiled-condition cache; the engine will not close it
func WithConditionCache(c *ConditionCache) EngineOption {
	return func(e *Engine) error {
		e.cache = c
		return nil
	}
}

// WithAuditQueueSize sets the audit queue capacity; 0 writes synchronously
func WithAuditQueueSize(n int) EngineOption {
	return func(e *Engine) error {
		if n < 0 {
			return fmt.Errorf("abac: audit queue size must be >= 0, got %d", n)
		}
		e.queueSize = n
		return nil
	}
}

// Explanation is a decision together with how it was reached
type Explanation struct {
	Response AuthorizationResponse `json:"response"`
	Policy   string                `json:"policy,omitempty"`
	Trace    []PolicyEvaluation    `json:"trace,omitempty"`
	Context  map[string]any        `json:"context,omitempty"`
}

// outcome is everything one pass through the pipeline produced
type outcome struct {
	resp  AuthorizationResponse
	res   Resolution
	entry *AuditEntry
	label string
	err   error
}

// EvaluateAccess decides req. It never returns an error and never panics:
// every failure is a DENY whose reason says what went wrong, and each call
// produces exactly one audit entry.
func (e *Engine) EvaluateAccess(ctx context.Context, req AuthorizationRequest) AuthorizationResponse {
	return e.run(ctx, req).resp
}

// Explain is EvaluateAccess plus the per-policy trace and the evaluated context
func (e *Engine) Explain(ctx context.Context, req AuthorizationRequest) *Explanation {
	out := e.run(ctx, req)
	return &Explanation{
		Response: out.resp,
		Policy:   out.res.PolicyName,
		Trace:    out.res.Trace,
		Context:  cloneContext(out.entry.Context),
	}
}

// BatchEvaluate decides every request independently; responses keep the order of reqs
func (e *Engine) BatchEvaluate(ctx context.Context, reqs []AuthorizationRequest) []AuthorizationResponse {
	out := make([]AuthorizationResponse, len(reqs))
	for i, req := range reqs {
		out[i] = e.EvaluateAccess(ctx, req)
	}
	return out
}

// Simulate evaluates a candidate policy against req as though it were the
// only active policy. Nothing is audited. The error is reserved for a
// candidate that fails validation.
func (e *Engine) Simulate(ctx context.Context, candidate *Policy, req AuthorizationRequest) (*Explanation, error) {
	if candidate == nil {
		return nil, fmt.Errorf("%w: nil policy", ErrInvalidPolicy)
	}
	if err := candidate.Validate(); err != nil {
		return nil, err
	}
	p := *candidate
	p.Active = true
	out := e.decide(ctx, req, []*Policy{&p})
	return &Explanation{
		Response: out.resp,
		Policy:   out.res.PolicyName,
		Trace:    out.res.Trace,
		Context:  cloneContext(out.entry.Context),
	}, nil
}

// GetAccessLog queries the audit store
func (e *Engine) GetAccessLog(ctx context.Context, filter AuditFilter) ([]*AuditEntry, error) {
	return e.audit.Store().GetAccessLog(ctx, filter)
}

// Close drains the audit queue and releases an engine-owned cache
func (e *Engine) Close() {
	e.audit.Close()
	if e.ownsCache {
		e.cache.Close()
	}
}

func (e *Engine) run(ctx context.Context, req AuthorizationRequest) outcome {
	started := time.Now()
	out := e.decide(ctx, req, nil)
	out.entry.Decision = out.resp.Decision
	out.entry.PolicyID = out.resp.PolicyID
	out.entry.Reason = out.resp.Reason
	_ = e.audit.Record(context.WithoutCancel(ctx), out.entry)

	e.metrics.recordDecision(out.resp.Decision, out.label, time.Since(started))
	if out.err != nil {
		e.logger.Error("access evaluation failed",
			"user_id", req.SubjectID,
			"resource_uri", req.ResourceURI,
			"action", req.ActionName,
			"error", out.err.Error())
	}
	e.logger.Debug("access decision",
		"user_id", req.SubjectID,
		"resource_uri", req.ResourceURI,
		"action", req.ActionName,
		"decision", string(out.resp.Decision),
		"reason", out.resp.Reason)
	return out
}

// cloneContext copies an audited context two levels deep, which covers
// both the snapshot and the request-only shape
func cloneContext(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if inner, ok := v.(map[string]any); ok {
			v = maps.Clone(inner)
		}
		out[k] = v
	}
	return out
}

// decide runs RESOLVE_SUBJECT, RESOLVE_RESOURCE, RESOLVE_ACTION,
// BUILD_CONTEXT, SELECT_POLICIES and EVALUATE. When candidates is non-nil it
// replaces the directory's policy list.
func (e *Engine) decide(ctx context.Context, req AuthorizationRequest, candidates []*Policy) (out outcome) {
	// stamped with the wall clock until the engine clock has answered
	out.entry = NewAuditEntry(time.Now())
	out.entry.SubjectID = int64Ptr(req.SubjectID)
	out.entry.ResourceURI = req.ResourceURI
	out.entry.ActionName = req.ActionName
	out.entry.Context = map[string]any{"request_context": maps.Clone(req.Context)}

	deny := func(label, reason string, err error) outcome {
		out.resp = AuthorizationResponse{Decision: EffectDeny, Reason: reason}
		out.res = Resolution{Effect: EffectDeny, Reason: reason}
		out.label, out.err = label, err
		return out
	}
	systemError := func(err error) outcome {
		return deny(reasonError, reasonSystemErrorPrefix+err.Error(), err)
	}
	defer func() {
		if r := recover(); r != nil {
			out = systemError(fmt.Errorf("panic: %v", r))
		}
	}()

	now := e.now()
	out.entry.Timestamp = now.UTC()

	subject, err := e.dir.SubjectByID(ctx, req.SubjectID)
	switch {
	case errors.Is(err, ErrSubjectNotFound):
		return deny(reasonSubject, ReasonSubjectUnavailable, nil)
	case err != nil:
		return systemError(err)
	case subject == nil || !subject.Active:
		return deny(reasonSubject, ReasonSubjectUnavailable, nil)
	}

	resource, err := e.dir.ResourceByURI(ctx, req.ResourceURI)
	switch {
	case errors.Is(err, ErrResourceNotFound) || (err == nil && resource == nil):
		return deny(reasonResource, ReasonResourceNotFound, nil)
	case err != nil:
		return systemError(err)
	}
	out.entry.ResourceID = int64Ptr(resource.ID)

	action, err := e.dir.ActionByName(ctx, req.ActionName)
	switch {
	case errors.Is(err, ErrActionNotFound) || (err == nil && action == nil):
		return deny(reasonAction, ReasonActionNotFound, nil)
	case err != nil:
		return systemError(err)
	}
	out.entry.ActionID = int64Ptr(action.ID)

	evalCtx := BuildContext(subject, resource, action, req.Context, now)
	out.entry.Context = evalCtx.Snapshot()

	var policies []*Policy
	if candidates != nil {
		policies = SelectApplicable(candidates, &action.ID)
	} else if policies, err = e.dir.ApplicablePolicies(ctx, &action.ID); err != nil {
		return systemError(err)
	}

	res := e.resolver.Resolve(policies, evalCtx.Flatten())
	e.metrics.conditionFailed(res.Errors)
	for _, ev := range res.Trace {
		if ev.Error != "" {
			e.logger.Error("policy condition failed",
				"policy_id", ev.PolicyID,
				"policy", ev.PolicyName,
				"error", ev.Error)
		}
	}

	out.res = res
	out.resp = AuthorizationResponse{Decision: res.Effect, PolicyID: res.PolicyID, Reason: res.Reason}
	switch {
	case res.PolicyID != nil:
		out.label = reasonPolicy
	case len(policies) == 0:
		out.label = reasonNoPolicy
	default:
		out.label = reasonNoMatch
	}
	return out
}
