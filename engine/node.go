package engine

import "context"

// Kind is the composition kind of a Node.
type Kind string

const (
	// KindLLM submits instruction, tools and delegation targets to a model.
	KindLLM Kind = "llm"
	// KindSequential runs children strictly in declared order.
	KindSequential Kind = "sequential"
	// KindParallel runs children concurrently against the same input.
	KindParallel Kind = "parallel"
)

// ToolFunc is the invocation signature shared by every bound capability.
type ToolFunc func(ctx context.Context, args map[string]any) (map[string]any, error)

// Tool is a callable capability bound to a Node.
type Tool struct {
	Name        string
	Description string
	// Parameters is a JSON schema object describing the accepted args.
	Parameters map[string]any
	Invoke     ToolFunc
}

// Node is an executable agent in memory. A Node tree is built once per
// registry rebuild and never mutated afterwards; instances are not shared
// between parallel siblings.
type Node struct {
	Name        string
	Kind        Kind
	Description string
	Instruction string
	Model       string
	VoiceName   string
	Children    []*Node
	Tools       []Tool
}

// Find returns the first node named name in depth-first order, or nil.
func (n *Node) Find(name string) *Node {
	if n == nil {
		return nil
	}
	if n.Name == name {
		return n
	}
	for _, c := range n.Children {
		if found := c.Find(name); found != nil {
			return found
		}
	}
	return nil
}

// Tool returns the bound tool named name.
func (n *Node) Tool(name string) (Tool, bool) {
	for _, t := range n.Tools {
		if t.Name == name {
			return t, true
		}
	}
	return Tool{}, false
}

// Child returns the direct child named name.
func (n *Node) Child(name string) (*Node, bool) {
	for _, c := range n.Children {
		if c.Name == name {
			return c, true
		}
	}
	return nil, false
}
