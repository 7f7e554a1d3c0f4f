// Package sqon models the recursive boolean filter expression ("SQON") used by
// portal clients to describe a selection of entities.
//
// A node is either a Combinator (and/or/not over child nodes) or a Predicate
// (an operator applied to one field and a list of values). The two shapes are
// distinct Go types so callers switch on the concrete type instead of probing
// optional fields.
package sqon

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

type Op string

const (
	OpAnd Op = "and"
	OpOr  Op = "or"
	OpNot Op = "not"

	OpIn        Op = "in"
	OpNotIn     Op = "not-in"
	OpSomeNotIn Op = "some-not-in"
	OpAll       Op = "all"
	OpGTE       Op = ">="
	OpLTE       Op = "<="
	OpGT        Op = ">"
	OpLT        Op = "<"
	OpBetween   Op = "between"
	OpFilter    Op = "filter"
)

// SetPrefix marks a predicate value as a reference to a saved selection.
const SetPrefix = "set_id:"

var ErrInvalidSqon = errors.New("invalid sqon")

func (o Op) IsCombinator() bool {
	return o == OpAnd || o == OpOr || o == OpNot
}

func (o Op) isPredicate() bool {
	switch o {
	case OpIn, OpNotIn, OpSomeNotIn, OpAll, OpGTE, OpLTE, OpGT, OpLT, OpBetween, OpFilter:
		return true
	}
	return false
}

// Node is implemented by *Combinator and *Predicate only.
type Node interface {
	Operator() Op
	isNode()
}

type Combinator struct {
	Op      Op
	Content []Node
}

type Predicate struct {
	Op    Op
	Field string
	Value []any
	// Index is an optional hint naming the entity the field belongs to.
	Index string
}

func (c *Combinator) Operator() Op { return c.Op }
func (*Combinator) isNode()        {}

func (p *Predicate) Operator() Op { return p.Op }
func (*Predicate) isNode()        {}

// And builds an "and" combinator.
func And(content ...Node) *Combinator {
	return &Combinator{Op: OpAnd, Content: content}
}

// In builds an "in" predicate over string ids. A nil or empty ids slice yields
// a predicate that matches nothing.
func In(field string, ids []string) *Predicate {
	values := make([]any, len(ids))
	for i, id := range ids {
		values[i] = id
	}
	return &Predicate{Op: OpIn, Field: field, Value: values}
}

// IsPlaceholder reports whether v is a "set_id:<id>" token.
func IsPlaceholder(v any) bool {
	s, ok := v.(string)
	return ok && strings.HasPrefix(s, SetPrefix)
}

// PlaceholderID strips the set prefix.
func PlaceholderID(token string) string {
	return strings.TrimPrefix(token, SetPrefix)
}

// Placeholder formats the token referencing the given selection id.
func Placeholder(id string) string {
	return SetPrefix + id
}

// Walk visits every node depth-first, parents before children.
func Walk(n Node, visit func(Node)) {
	if n == nil {
		return
	}
	visit(n)
	if c, ok := n.(*Combinator); ok {
		for _, child := range c.Content {
			Walk(child, visit)
		}
	}
}

// Predicates returns every predicate of the tree in depth-first order.
func Predicates(n Node) []*Predicate {
	var out []*Predicate
	Walk(n, func(node Node) {
		if p, ok := node.(*Predicate); ok {
			out = append(out, p)
		}
	})
	return out
}

// FieldValues returns the values of the first top-level predicate on field.
func FieldValues(n Node, field string) []any {
	c, ok := n.(*Combinator)
	if !ok {
		if p, ok := n.(*Predicate); ok && p.Field == field {
			return p.Value
		}
		return nil
	}
	for _, child := range c.Content {
		if p, ok := child.(*Predicate); ok && p.Field == field {
			return p.Value
		}
	}
	return nil
}

// WithCondition returns a copy of n with extra appended to its top level. A
// predicate root is wrapped in an "and" first.
func WithCondition(n Node, extra Node) Node {
	switch v := n.(type) {
	case *Combinator:
		content := make([]Node, 0, len(v.Content)+1)
		content = append(content, v.Content...)
		content = append(content, extra)
		return &Combinator{Op: v.Op, Content: content}
	case nil:
		return And(extra)
	default:
		return And(v, extra)
	}
}

// ---- JSON ----

type wireNode struct {
	Op      Op              `json:"op"`
	Content json.RawMessage `json:"content"`
}

type wirePredicate struct {
	Field string          `json:"field"`
	Value json.RawMessage `json:"value"`
	Index string          `json:"index,omitempty"`
}

// Parse decodes a SQON document. Empty input or JSON null yields an empty
// "and" combinator, which matches everything.
func Parse(data []byte) (Node, error) {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" || trimmed == "null" || trimmed == "{}" {
		return And(), nil
	}
	return parseNode([]byte(trimmed))
}

func parseNode(data []byte) (Node, error) {
	var w wireNode
	if err := decodeJSON(data, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSqon, err)
	}

	switch {
	case w.Op.IsCombinator():
		var raw []json.RawMessage
		if len(w.Content) > 0 && string(w.Content) != "null" {
			if err := decodeJSON(w.Content, &raw); err != nil {
				return nil, fmt.Errorf("%w: combinator %q content must be a list", ErrInvalidSqon, w.Op)
			}
		}
		c := &Combinator{Op: w.Op, Content: make([]Node, 0, len(raw))}
		for _, r := range raw {
			child, err := parseNode(r)
			if err != nil {
				return nil, err
			}
			c.Content = append(c.Content, child)
		}
		return c, nil

	case w.Op.isPredicate():
		var wp wirePredicate
		if err := decodeJSON(w.Content, &wp); err != nil {
			return nil, fmt.Errorf("%w: predicate %q content must be an object", ErrInvalidSqon, w.Op)
		}
		if wp.Field == "" {
			return nil, fmt.Errorf("%w: predicate %q has no field", ErrInvalidSqon, w.Op)
		}
		values, err := parseValues(wp.Value)
		if err != nil {
			return nil, err
		}
		return &Predicate{Op: w.Op, Field: wp.Field, Value: values, Index: wp.Index}, nil
	}

	return nil, fmt.Errorf("%w: unknown op %q", ErrInvalidSqon, w.Op)
}

func parseValues(raw json.RawMessage) ([]any, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return []any{}, nil
	}
	var v any
	if err := decodeJSON(raw, &v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSqon, err)
	}
	if list, ok := v.([]any); ok {
		return list, nil
	}
	return []any{v}, nil
}

func decodeJSON(data []byte, v any) error {
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.UseNumber()
	return dec.Decode(v)
}

// Marshal encodes a node in its wire form. Predicate values are always
// emitted as a list.
func Marshal(n Node) ([]byte, error) {
	return json.Marshal(ToMap(n))
}

// ToMap converts the node into plain maps and slices.
func ToMap(n Node) map[string]any {
	switch v := n.(type) {
	case *Combinator:
		content := make([]any, 0, len(v.Content))
		for _, c := range v.Content {
			content = append(content, ToMap(c))
		}
		return map[string]any{"op": string(v.Op), "content": content}
	case *Predicate:
		value := v.Value
		if value == nil {
			value = []any{}
		}
		content := map[string]any{"field": v.Field, "value": value}
		if v.Index != "" {
			content["index"] = v.Index
		}
		return map[string]any{"op": string(v.Op), "content": content}
	}
	return map[string]any{"op": string(OpAnd), "content": []any{}}
}
