package agent

import (
	"fmt"
	"maps"
	"slices"

	"github.com/rehearsed/rehearsed/engine"
)

// DefaultInlineFeedbackAgent is the record name whose output is routed to the
// markdown side channel.
const DefaultInlineFeedbackAgent = "inline_feedback_agent"

// CapabilityResolver binds declared tools to callable handles.
type CapabilityResolver interface {
	Resolve(toolNames, moduleNames []string) ([]engine.Tool, error)
}

// BuildOptions toggles build policies.
type BuildOptions struct {
	// LoadCapabilities binds tools through the resolver. When false every
	// node carries an empty tool list.
	LoadCapabilities bool
	// InlineCritique pairs every direct child of the root with a fresh
	// inline feedback node under a PARALLEL wrapper.
	InlineCritique bool
}

// Builder materialises AgentRecords into engine.Node graphs. It performs no
// I/O: every record comes from the caller's arena.
type Builder struct {
	resolver     CapabilityResolver
	feedbackName string
}

// NewBuilder creates a Builder. feedbackName defaults to
// DefaultInlineFeedbackAgent.
func NewBuilder(resolver CapabilityResolver, feedbackName string) *Builder {
	if feedbackName == "" {
		feedbackName = DefaultInlineFeedbackAgent
	}
	return &Builder{resolver: resolver, feedbackName: feedbackName}
}

// Build materialises agentID and its descendants from records.
func (b *Builder) Build(agentID uint, records map[uint]AgentRecord, opts BuildOptions) (*engine.Node, error) {
	if _, ok := records[agentID]; !ok {
		return nil, fmt.Errorf("%w: id %d", ErrAgentNotFound, agentID)
	}
	root, err := b.build(agentID, records, opts, make(map[uint]struct{}))
	if err != nil {
		return nil, err
	}
	if opts.InlineCritique {
		if err := b.wrapWithCritique(root, records, opts); err != nil {
			return nil, err
		}
	}
	return root, nil
}

// build descends depth-first. path holds the ids on the current descent and
// catches cycles; diamonds are allowed and produce distinct node instances.
func (b *Builder) build(id uint, records map[uint]AgentRecord, opts BuildOptions, path map[uint]struct{}) (*engine.Node, error) {
	rec, ok := records[id]
	if !ok {
		return nil, fmt.Errorf("%w: id %d is not in the scenario", ErrInvalidChildReference, id)
	}
	if _, onPath := path[id]; onPath {
		return nil, fmt.Errorf("%w: agent %q (id %d) reaches itself", ErrAgentCycle, rec.Name, id)
	}
	path[id] = struct{}{}
	defer delete(path, id)

	kind, err := rec.Kind()
	if err != nil {
		return nil, err
	}

	childIDs, err := rec.ChildIDs()
	if err != nil {
		return nil, err
	}
	children := make([]*engine.Node, 0, len(childIDs))
	for _, cid := range childIDs {
		child, err := b.build(cid, records, opts, path)
		if err != nil {
			return nil, err
		}
		children = append(children, child)
	}

	node := &engine.Node{
		Name:        rec.Name,
		Kind:        kind,
		Description: rec.Description,
		VoiceName:   rec.VoiceName,
		Children:    children,
		Tools:       []engine.Tool{},
	}
	if kind != engine.KindLLM {
		return node, nil
	}

	node.Instruction = rec.Instruction
	node.Model = rec.Model
	if opts.LoadCapabilities && len(rec.ToolNames()) > 0 {
		if b.resolver == nil {
			return nil, fmt.Errorf("agent %q: %w: no capability resolver", rec.Name, ErrCapabilityNotFound)
		}
		tools, err := b.resolver.Resolve(rec.ToolNames(), rec.ModuleNames())
		if err != nil {
			return nil, fmt.Errorf("agent %q: %w", rec.Name, err)
		}
		node.Tools = tools
	}
	return node, nil
}

func (b *Builder) wrapWithCritique(root *engine.Node, records map[uint]AgentRecord, opts BuildOptions) error {
	if len(root.Children) == 0 {
		return nil
	}
	feedbackID, ok := b.feedbackRecordID(records)
	if !ok {
		return fmt.Errorf("%w: inline feedback agent %q is not in the scenario", ErrInvalidChildReference, b.feedbackName)
	}

	wrapped := make([]*engine.Node, 0, len(root.Children))
	for _, child := range root.Children {
		if child.Name == b.feedbackName {
			wrapped = append(wrapped, child)
			continue
		}
		feedback, err := b.build(feedbackID, records, opts, make(map[uint]struct{}))
		if err != nil {
			return fmt.Errorf("build inline feedback for %q: %w", child.Name, err)
		}
		wrapped = append(wrapped, &engine.Node{
			Name:        child.Name + "_with_feedback",
			Kind:        engine.KindParallel,
			Description: child.Description,
			VoiceName:   child.VoiceName,
			Children:    []*engine.Node{child, feedback},
			Tools:       []engine.Tool{},
		})
	}
	root.Children = wrapped
	return nil
}

// feedbackRecordID returns the lowest id carrying the feedback name.
func (b *Builder) feedbackRecordID(records map[uint]AgentRecord) (uint, bool) {
	for _, id := range slices.Sorted(maps.Keys(records)) {
		if records[id].Name == b.feedbackName {
			return id, true
		}
	}
	return 0, false
}
