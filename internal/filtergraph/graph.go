// Package filtergraph models an ffmpeg filter graph as labelled nodes and
// serializes it to -filter_complex syntax.
package filtergraph

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Param is one filter option. An empty Key renders the value positionally.
type Param struct {
	Key   string
	Value string
}

// P builds a keyed parameter.
func P(key, value string) Param {
	return Param{Key: key, Value: value}
}

// Node is a single filter with its input and output pads.
type Node struct {
	Name    string
	Inputs  []string
	Params  []Param
	Outputs []string
}

// Param returns the value of the named parameter.
func (n Node) Param(key string) (string, bool) {
	for _, p := range n.Params {
		if p.Key == key {
			return p.Value, true
		}
	}
	return "", false
}

// String renders the node as `[in]name=k=v:k=v[out]`.
func (n Node) String() string {
	var b strings.Builder
	for _, in := range n.Inputs {
		b.WriteString("[" + in + "]")
	}
	b.WriteString(n.Name)
	if len(n.Params) > 0 {
		b.WriteByte('=')
		for i, p := range n.Params {
			if i > 0 {
				b.WriteByte(':')
			}
			if p.Key != "" {
				b.WriteString(p.Key + "=")
			}
			b.WriteString(p.Value)
		}
	}
	for _, out := range n.Outputs {
		b.WriteString("[" + out + "]")
	}
	return b.String()
}

// Graph is an ordered list of nodes plus a label allocator.
type Graph struct {
	nodes  []Node
	labels map[string]int
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{labels: make(map[string]int)}
}

// Label allocates a unique pad label with the given prefix.
func (g *Graph) Label(prefix string) string {
	n := g.labels[prefix]
	g.labels[prefix] = n + 1
	return fmt.Sprintf("%s%d", prefix, n)
}

// Add appends a single-output filter and returns its output label.
func (g *Graph) Add(name string, inputs []string, params ...Param) string {
	out := g.Label(labelPrefix(name))
	g.nodes = append(g.nodes, Node{
		Name:    name,
		Inputs:  append([]string(nil), inputs...),
		Params:  params,
		Outputs: []string{out},
	})
	return out
}

// Chain applies filters one after another starting from input and returns
// the final output label.
func (g *Graph) Chain(input string, filters ...Filter) string {
	current := input
	for _, f := range filters {
		current = g.Add(f.Name, []string{current}, f.Params...)
	}
	return current
}

// Filter is a node template used with Chain.
type Filter struct {
	Name   string
	Params []Param
}

// F builds a Filter.
func F(name string, params ...Param) Filter {
	return Filter{Name: name, Params: params}
}

// Nodes returns a copy of the graph's nodes in insertion order.
func (g *Graph) Nodes() []Node {
	return append([]Node(nil), g.nodes...)
}

// Find returns every node using the named filter.
func (g *Graph) Find(name string) []Node {
	var found []Node
	for _, n := range g.nodes {
		if n.Name == name {
			found = append(found, n)
		}
	}
	return found
}

// Producer returns the node whose output is label.
func (g *Graph) Producer(label string) (Node, bool) {
	for _, n := range g.nodes {
		for _, out := range n.Outputs {
			if out == label {
				return n, true
			}
		}
	}
	return Node{}, false
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	return len(g.nodes)
}

// String serializes the graph for -filter_complex.
func (g *Graph) String() string {
	parts := make([]string, len(g.nodes))
	for i, n := range g.nodes {
		parts[i] = n.String()
	}
	return strings.Join(parts, ";")
}

func labelPrefix(name string) string {
	switch name {
	case "overlay":
		return "ov"
	case "drawtext":
		return "tx"
	case "amix":
		return "mix"
	}
	if len(name) > 0 && name[0] == 'a' {
		return "a"
	}
	return "v"
}

// RoundMs rounds seconds to millisecond precision.
func RoundMs(seconds float64) float64 {
	return math.Round(seconds*1000) / 1000
}

// Seconds formats a time value rounded to milliseconds without trailing zeros.
func Seconds(seconds float64) string {
	return strconv.FormatFloat(RoundMs(seconds), 'f', -1, 64)
}

// Int formats an integer parameter value.
func Int(v int) string {
	return strconv.Itoa(v)
}

// Between renders a timeline gate `'between(t,START,END)'`.
func Between(start, end float64) string {
	return fmt.Sprintf("'between(t,%s,%s)'", Seconds(start), Seconds(end))
}

// EscapeText escapes drawtext content for use inside single quotes.
func EscapeText(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `'`, `'\''`, `:`, `\:`)
	return r.Replace(s)
}
