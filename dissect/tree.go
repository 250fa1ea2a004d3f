package dissect

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// Item is one labeled value emitted by the dissector.
type Item struct {
	Field *Field
	// Label overrides the field name, e.g. "[3]" or a map key.
	Label string
	// Value holds the typed value: string, bool, uint16, uint32, uint64,
	// int32, int64, float64, []byte or nil for structural items.
	Value interface{}
	// Text is the displayed value. Structural items may carry a summary.
	Text string
}

// Name returns the displayed name.
func (it *Item) Name() string {
	if it.Label != "" {
		return it.Label
	}
	return it.Field.Name
}

func (it *Item) String() string {
	if it.Text == "" {
		return it.Name()
	}
	return it.Name() + ": " + it.Text
}

// Node receives the decoded fields of a message. It is implemented by the
// host; Tree is an in-memory implementation.
type Node interface {
	// AddItem adds an item and returns the node for its children.
	AddItem(it *Item) Node
	// AddCondition attaches a condition to the node.
	AddCondition(c *Condition)
}

// Tree is an in-memory Node.
type Tree struct {
	Item       *Item
	Children   []*Tree
	Conditions []*Condition
}

// NewTree creates an empty root.
func NewTree() *Tree {
	return &Tree{}
}

// AddItem implements Node.
func (t *Tree) AddItem(it *Item) Node {
	c := &Tree{Item: it}
	t.Children = append(t.Children, c)
	return c
}

// AddCondition implements Node.
func (t *Tree) AddCondition(c *Condition) {
	t.Conditions = append(t.Conditions, c)
}

// Walk calls f for every node below t in depth first order.
func (t *Tree) Walk(f func(n *Tree, depth int)) {
	t.walk(f, 0)
}

func (t *Tree) walk(f func(*Tree, int), depth int) {
	for _, c := range t.Children {
		f(c, depth)
		c.walk(f, depth+1)
	}
}

// Find returns all nodes with the field abbreviation in depth first order.
func (t *Tree) Find(abbrev string) []*Tree {
	var res []*Tree
	t.Walk(func(n *Tree, _ int) {
		if n.Item.Field.Abbrev == abbrev {
			res = append(res, n)
		}
	})
	return res
}

// First returns the first node with the field abbreviation or nil.
func (t *Tree) First(abbrev string) *Tree {
	if ns := t.Find(abbrev); len(ns) > 0 {
		return ns[0]
	}
	return nil
}

// Text returns the display text of the first node with the field
// abbreviation.
func (t *Tree) Text(abbrev string) string {
	if n := t.First(abbrev); n != nil {
		return n.Item.Text
	}
	return ""
}

// AllConditions collects the conditions of t and all nodes below.
func (t *Tree) AllConditions() []*Condition {
	res := append([]*Condition(nil), t.Conditions...)
	t.Walk(func(n *Tree, _ int) {
		res = append(res, n.Conditions...)
	})
	return res
}

// Format writes an indented text representation.
func (t *Tree) Format(w io.Writer) error {
	var err error
	write := func(depth int, format string, args ...interface{}) {
		if err == nil {
			_, err = fmt.Fprintf(w, strings.Repeat("    ", depth)+format+"\n", args...)
		}
	}
	for _, c := range t.Conditions {
		write(0, "[%s] %s", c.Severity, c.Msg)
	}
	t.Walk(func(n *Tree, depth int) {
		write(depth, "%s", n.Item)
		for _, c := range n.Conditions {
			write(depth+1, "[%s] %s", c.Severity, c.Msg)
		}
	})
	return err
}

func (t *Tree) String() string {
	var sb strings.Builder
	_ = t.Format(&sb)
	return sb.String()
}

type jsonCondition struct {
	Kind     string `json:"kind"`
	Severity string `json:"severity"`
	Message  string `json:"message"`
}

type jsonNode struct {
	Field      string          `json:"field,omitempty"`
	Name       string          `json:"name,omitempty"`
	Value      interface{}     `json:"value,omitempty"`
	Text       string          `json:"text,omitempty"`
	Conditions []jsonCondition `json:"conditions,omitempty"`
	Children   []*jsonNode     `json:"children,omitempty"`
}

func (t *Tree) toJSON() *jsonNode {
	n := &jsonNode{}
	if t.Item != nil {
		n.Field = t.Item.Field.Abbrev
		n.Name = t.Item.Name()
		n.Value = t.Item.Value
		n.Text = t.Item.Text
	}
	for _, c := range t.Conditions {
		n.Conditions = append(n.Conditions, jsonCondition{c.Kind.String(), c.Severity.String(), c.Msg})
	}
	for _, c := range t.Children {
		n.Children = append(n.Children, c.toJSON())
	}
	return n
}

// MarshalJSON implements json.Marshaler.
func (t *Tree) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.toJSON())
}
