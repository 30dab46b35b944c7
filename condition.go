package abac

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strings"
)

// ============================================================================
// CONDITION LANGUAGE
// ============================================================================

// Condition is the untyped tree a policy stores: a single-key object whose
// key is the operator, e.g. {"equals": {"attribute": "subject.role", "value": "admin"}}.
// It round-trips through JSON and YAML unchanged and is compiled into a Node
// before evaluation.
type Condition map[string]any

// Checksum returns a stable hash of the tree (map keys are sorted by the
// JSON encoder).
func (c Condition) Checksum() string {
	data, err := json.Marshal(c)
	if err != nil {
		data = []byte(fmt.Sprintf("%#v", c))
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Compile parses the tree into its typed form
func (c Condition) Compile() *CompiledCondition {
	var root Node = &UnknownNode{}
	if c != nil {
		root = ParseCondition(map[string]any(c))
	}
	return &CompiledCondition{Root: root, Err: Check(root)}
}

// CompiledCondition is a parsed tree plus the first defect found in it. A
// defective tree never matches, even where an unknown branch sits under a
// "not" and would otherwise evaluate to true.
type CompiledCondition struct {
	Root Node
	Err  error
}

func (c *CompiledCondition) Evaluate(ctx Flat) (bool, error) {
	if c.Err != nil {
		return false, c.Err
	}
	return c.Root.Evaluate(ctx)
}

func (c *CompiledCondition) String() string { return c.Root.String() }

// Operator names a condition node kind
type Operator string

const (
	OpAnd         Operator = "and"
	OpOr          Operator = "or"
	OpNot         Operator = "not"
	OpEquals      Operator = "equals"
	OpIn          Operator = "in"
	OpContains    Operator = "contains"
	OpGreaterThan Operator = "greater_than"
	OpLessThan    Operator = "less_than"
	OpRegex       Operator = "regex"
)

// MaxConditionDepth bounds the nesting of a condition tree
const MaxConditionDepth = 64

var (
	ErrMalformedCondition = errors.New("malformed condition")
	ErrUnknownOperator    = errors.New("unknown operator")
)

// EvalError reports why a node could not be evaluated. The resolver treats it
// as a non-match for the policy that owns the node.
type EvalError struct {
	Op  Operator
	Err error
}

func (e *EvalError) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *EvalError) Unwrap() error { return e.Err }

func evalErr(op Operator, format string, args ...any) *EvalError {
	return &EvalError{Op: op, Err: fmt.Errorf(format, args...)}
}

// Node is a compiled condition. Implementations are immutable and safe for
// concurrent use.
type Node interface {
	Evaluate(ctx Flat) (bool, error)
	String() string
}

// AndNode is true iff every child is true. An empty list is vacuously true.
type AndNode struct{ Nodes []Node }

func (n *AndNode) Evaluate(ctx Flat) (bool, error) {
	for _, child := range n.Nodes {
		ok, err := child.Evaluate(ctx)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func (n *AndNode) String() string { return joinNodes(n.Nodes, " AND ", "true") }

// OrNode is true iff any child is true. An empty list is false.
type OrNode struct{ Nodes []Node }

func (n *OrNode) Evaluate(ctx Flat) (bool, error) {
	for _, child := range n.Nodes {
		ok, err := child.Evaluate(ctx)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

func (n *OrNode) String() string { return joinNodes(n.Nodes, " OR ", "false") }

func joinNodes(nodes []Node, sep, empty string) string {
	if len(nodes) == 0 {
		return empty
	}
	parts := make([]string, len(nodes))
	for i, c := range nodes {
		parts[i] = c.String()
	}
	return "(" + strings.Join(parts, sep) + ")"
}

// NotNode negates its child
type NotNode struct{ Node Node }

func (n *NotNode) Evaluate(ctx Flat) (bool, error) {
	ok, err := n.Node.Evaluate(ctx)
	if err != nil {
		return false, err
	}
	return !ok, nil
}

func (n *NotNode) String() string { return "NOT " + n.Node.String() }

// EqualsNode compares an attribute with a literal
type EqualsNode struct {
	Attribute string
	Value     any
}

func (n *EqualsNode) Evaluate(ctx Flat) (bool, error) {
	v, ok := ctx.Lookup(n.Attribute)
	if !ok {
		return false, nil
	}
	return valuesEqual(v, n.Value), nil
}

func (n *EqualsNode) String() string {
	return fmt.Sprintf("%s == %s", n.Attribute, literal(n.Value))
}

// InNode tests membership of an attribute in a literal list
type InNode struct {
	Attribute string
	Values    []any
}

func (n *InNode) Evaluate(ctx Flat) (bool, error) {
	v, ok := ctx.Lookup(n.Attribute)
	if !ok {
		return false, nil
	}
	for _, candidate := range n.Values {
		if valuesEqual(v, candidate) {
			return true, nil
		}
	}
	return false, nil
}

func (n *InNode) String() string {
	return fmt.Sprintf("%s IN %s", n.Attribute, literal(n.Values))
}

// ContainsNode is true when the attribute is a list holding Value or a string
// holding Value as a substring. Any other attribute value is a plain false.
type ContainsNode struct {
	Attribute string
	Value     any
}

func (n *ContainsNode) Evaluate(ctx Flat) (bool, error) {
	v, ok := ctx.Lookup(n.Attribute)
	if !ok || v == nil {
		return false, nil
	}
	if s, isStr := v.(string); isStr {
		needle, ok := n.Value.(string)
		if !ok {
			return false, evalErr(OpContains, "cannot search string attribute %s for %T", n.Attribute, n.Value)
		}
		return strings.Contains(s, needle), nil
	}
	rv := reflect.ValueOf(v)
	if !isList(rv) {
		return false, nil
	}
	for i := 0; i < rv.Len(); i++ {
		if valuesEqual(rv.Index(i).Interface(), n.Value) {
			return true, nil
		}
	}
	return false, nil
}

func (n *ContainsNode) String() string {
	return fmt.Sprintf("%s CONTAINS %s", n.Attribute, literal(n.Value))
}

// GreaterThanNode compares numerically; a missing attribute counts as 0
type GreaterThanNode struct {
	Attribute string
	Value     any
}

func (n *GreaterThanNode) Evaluate(ctx Flat) (bool, error) {
	c, err := compareNumeric(lookupOrZero(ctx, n.Attribute), n.Value)
	if err != nil {
		return false, &EvalError{Op: OpGreaterThan, Err: err}
	}
	return c > 0, nil
}

func (n *GreaterThanNode) String() string {
	return fmt.Sprintf("%s > %s", n.Attribute, literal(n.Value))
}

// LessThanNode compares numerically; a missing attribute counts as 0
type LessThanNode struct {
	Attribute string
	Value     any
}

func (n *LessThanNode) Evaluate(ctx Flat) (bool, error) {
	c, err := compareNumeric(lookupOrZero(ctx, n.Attribute), n.Value)
	if err != nil {
		return false, &EvalError{Op: OpLessThan, Err: err}
	}
	return c < 0, nil
}

func (n *LessThanNode) String() string {
	return fmt.Sprintf("%s < %s", n.Attribute, literal(n.Value))
}

func lookupOrZero(ctx Flat, key string) any {
	if v, ok := ctx.Lookup(key); ok {
		return v
	}
	return int64(0)
}

// RegexNode matches Pattern at the start of the attribute's string form.
// It is a prefix match: trailing characters after the match are allowed.
type RegexNode struct {
	Attribute string
	Pattern   string
	re        *regexp.Regexp
}

func (n *RegexNode) Evaluate(ctx Flat) (bool, error) {
	v, _ := ctx.Lookup(n.Attribute)
	return n.re.MatchString(stringify(v)), nil
}

func (n *RegexNode) String() string {
	return fmt.Sprintf("%s MATCHES /%s/", n.Attribute, n.Pattern)
}

// UnknownNode stands for an unrecognized operator. It is always false and
// never an error.
type UnknownNode struct{ Tag string }

func (n *UnknownNode) Evaluate(Flat) (bool, error) { return false, nil }

func (n *UnknownNode) String() string {
	if n.Tag == "" {
		return "<unknown>"
	}
	return "<unknown " + n.Tag + ">"
}

// InvalidNode is a recognized operator with an unusable operand (missing
// attribute key, non-list "values", bad pattern, excessive nesting...).
// Evaluating it always fails.
type InvalidNode struct {
	Op  Operator
	Err error
}

func (n *InvalidNode) Evaluate(Flat) (bool, error) {
	return false, &EvalError{Op: n.Op, Err: n.Err}
}

func (n *InvalidNode) String() string {
	return fmt.Sprintf("<invalid %s: %v>", n.Op, n.Err)
}

// ParseCondition turns untyped structured data (as decoded from JSON or YAML)
// into a Node. It never fails: shapes it cannot make sense of become
// UnknownNode or InvalidNode, both of which deny.
func ParseCondition(raw any) Node {
	return parseNode(raw, 0)
}

func parseNode(raw any, depth int) Node {
	if depth > MaxConditionDepth {
		return &InvalidNode{Err: fmt.Errorf("%w: nesting deeper than %d", ErrMalformedCondition, MaxConditionDepth)}
	}
	obj, ok := asObject(raw)
	if !ok || len(obj) != 1 {
		return &UnknownNode{Tag: describeTags(obj)}
	}
	var (
		tag     string
		payload any
	)
	for k, v := range obj {
		tag, payload = k, v
	}
	op := Operator(tag)
	switch op {
	case OpAnd, OpOr:
		items, ok := asList(payload)
		if !ok {
			return invalid(op, "expected a list of conditions, got %T", payload)
		}
		nodes := make([]Node, len(items))
		for i, item := range items {
			nodes[i] = parseNode(item, depth+1)
		}
		if op == OpAnd {
			return &AndNode{Nodes: nodes}
		}
		return &OrNode{Nodes: nodes}
	case OpNot:
		return &NotNode{Node: parseNode(payload, depth+1)}
	case OpEquals, OpContains, OpGreaterThan, OpLessThan:
		attr, args, err := operand(payload, "value")
		if err != nil {
			return &InvalidNode{Op: op, Err: err}
		}
		value := args["value"]
		switch op {
		case OpEquals:
			return &EqualsNode{Attribute: attr, Value: value}
		case OpContains:
			return &ContainsNode{Attribute: attr, Value: value}
		case OpGreaterThan:
			return &GreaterThanNode{Attribute: attr, Value: value}
		default:
			return &LessThanNode{Attribute: attr, Value: value}
		}
	case OpIn:
		attr, args, err := operand(payload, "values")
		if err != nil {
			return &InvalidNode{Op: op, Err: err}
		}
		values, ok := asList(args["values"])
		if !ok {
			return invalid(op, "values must be a list, got %T", args["values"])
		}
		return &InNode{Attribute: attr, Values: values}
	case OpRegex:
		attr, args, err := operand(payload, "pattern")
		if err != nil {
			return &InvalidNode{Op: op, Err: err}
		}
		pattern, ok := args["pattern"].(string)
		if !ok {
			return invalid(op, "pattern must be a string, got %T", args["pattern"])
		}
		re, err := regexp.Compile(`^(?:` + pattern + `)`)
		if err != nil {
			return &InvalidNode{Op: op, Err: err}
		}
		return &RegexNode{Attribute: attr, Pattern: pattern, re: re}
	}
	return &UnknownNode{Tag: tag}
}

func invalid(op Operator, format string, args ...any) Node {
	return &InvalidNode{Op: op, Err: fmt.Errorf("%w: "+format, append([]any{ErrMalformedCondition}, args...)...)}
}

// operand validates the {attribute, <key>} object shared by the comparison
// operators.
func operand(payload any, key string) (string, map[string]any, error) {
	args, ok := asObject(payload)
	if !ok {
		return "", nil, fmt.Errorf("%w: expected an object, got %T", ErrMalformedCondition, payload)
	}
	attr, ok := args["attribute"].(string)
	if !ok || attr == "" {
		return "", nil, fmt.Errorf("%w: missing attribute", ErrMalformedCondition)
	}
	if _, ok := args[key]; !ok {
		return "", nil, fmt.Errorf("%w: missing %s", ErrMalformedCondition, key)
	}
	return attr, args, nil
}

// asObject accepts the map shapes produced by encoding/json and yaml.v3
func asObject(raw any) (map[string]any, bool) {
	switch m := raw.(type) {
	case map[string]any:
		return m, true
	case Condition:
		return map[string]any(m), true
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, v := range m {
			ks, ok := k.(string)
			if !ok {
				return nil, false
			}
			out[ks] = v
		}
		return out, true
	}
	return nil, false
}

func asList(raw any) ([]any, bool) {
	if l, ok := raw.([]any); ok {
		return l, true
	}
	rv := reflect.ValueOf(raw)
	if raw == nil || !isList(rv) {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

func describeTags(obj map[string]any) string {
	if len(obj) == 0 {
		return ""
	}
	tags := make([]string, 0, len(obj))
	for k := range obj {
		tags = append(tags, k)
	}
	sort.Strings(tags)
	return strings.Join(tags, ",")
}

func literal(v any) string {
	if s, ok := v.(string); ok {
		return fmt.Sprintf("%q", s)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

// Walk visits n and its descendants depth-first until fn returns false
func Walk(n Node, fn func(Node) bool) bool {
	if !fn(n) {
		return false
	}
	switch v := n.(type) {
	case *AndNode:
		for _, c := range v.Nodes {
			if !Walk(c, fn) {
				return false
			}
		}
	case *OrNode:
		for _, c := range v.Nodes {
			if !Walk(c, fn) {
				return false
			}
		}
	case *NotNode:
		return Walk(v.Node, fn)
	}
	return true
}

// Check returns the first unknown or invalid node of a tree as an error
func Check(n Node) error {
	var err error
	Walk(n, func(node Node) bool {
		switch v := node.(type) {
		case *UnknownNode:
			err = &EvalError{Err: fmt.Errorf("%w %q", ErrUnknownOperator, v.Tag)}
		case *InvalidNode:
			err = &EvalError{Op: v.Op, Err: v.Err}
		}
		return err == nil
	})
	return err
}
