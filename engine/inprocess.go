package engine

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// TransferToAgentTool is the built-in function an LLM node calls to hand the
// turn to one of its children.
const TransferToAgentTool = "transfer_to_agent"

const defaultMaxSteps = 8

// ErrMaxStepsExceeded is returned when an LLM node keeps calling tools past
// the configured step limit.
var ErrMaxStepsExceeded = errors.New("max tool steps exceeded")

// errStopped signals that the consumer stopped iterating.
var errStopped = errors.New("event consumer stopped")

// =============================================================================
// 🏃 InProcessRunner
// =============================================================================

// InProcessRunner executes a Node tree in the current process over a Model.
// Every emitted event is persisted through the SessionService before the
// consumer sees it, so later nodes observe earlier output in their history.
type InProcessRunner struct {
	model    Model
	live     LiveModel
	sessions SessionService
	maxSteps int
	logger   *zap.Logger
}

// RunnerOption configures an InProcessRunner.
type RunnerOption func(*InProcessRunner)

// WithLiveModel enables OpenLive.
func WithLiveModel(m LiveModel) RunnerOption {
	return func(r *InProcessRunner) { r.live = m }
}

// WithMaxSteps bounds the tool-call loop of a single LLM node.
func WithMaxSteps(n int) RunnerOption {
	return func(r *InProcessRunner) {
		if n > 0 {
			r.maxSteps = n
		}
	}
}

// NewInProcessRunner creates a runner.
func NewInProcessRunner(model Model, sessions SessionService, logger *zap.Logger, opts ...RunnerOption) *InProcessRunner {
	if sessions == nil {
		sessions = MemorySessions{}
	}
	r := &InProcessRunner{
		model:    model,
		sessions: sessions,
		maxSteps: defaultMaxSteps,
		logger:   logger.With(zap.String("component", "engine")),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type invocation struct {
	id   string
	sess *Session
}

// RunTurn implements Runner.
func (r *InProcessRunner) RunTurn(ctx context.Context, root *Node, sess *Session, msg *Content) iter.Seq2[*Event, error] {
	return func(yield func(*Event, error) bool) {
		inv := &invocation{id: NewID(), sess: sess}

		userEvent := NewEvent(inv.id, AuthorUser)
		userEvent.Content = msg
		if err := r.sessions.AppendEvent(ctx, sess, userEvent); err != nil {
			yield(nil, fmt.Errorf("append user event: %w", err))
			return
		}

		stopped := false
		emit := func(e *Event) bool {
			if err := r.sessions.AppendEvent(ctx, sess, e); err != nil {
				stopped = true
				yield(nil, fmt.Errorf("append event: %w", err))
				return false
			}
			if !yield(e, nil) {
				stopped = true
				return false
			}
			return true
		}

		err := r.runNode(ctx, inv, root, emit)
		if err == nil || stopped {
			return
		}
		if errors.Is(err, errStopped) {
			err = ctx.Err()
			if err == nil {
				return
			}
		}
		yield(nil, err)
	}
}

func (r *InProcessRunner) runNode(ctx context.Context, inv *invocation, node *Node, emit func(*Event) bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.logger.Debug("running node",
		zap.String("invocation_id", inv.id),
		zap.String("agent", node.Name),
		zap.String("kind", string(node.Kind)),
	)

	switch node.Kind {
	case KindLLM:
		return r.runLLM(ctx, inv, node, emit)
	case KindSequential:
		for _, child := range node.Children {
			if err := r.runNode(ctx, inv, child, emit); err != nil {
				return err
			}
		}
		return nil
	case KindParallel:
		return r.runParallel(ctx, inv, node, emit)
	default:
		return fmt.Errorf("agent %s: unknown node kind %q", node.Name, node.Kind)
	}
}

func (r *InProcessRunner) runLLM(ctx context.Context, inv *invocation, node *Node, emit func(*Event) bool) error {
	if r.model == nil {
		return fmt.Errorf("agent %s: no model configured", node.Name)
	}
	decls := declarations(node)

	for step := 0; step < r.maxSteps; step++ {
		resp, err := r.model.Generate(ctx, &ModelRequest{
			Model:             node.Model,
			SystemInstruction: systemInstruction(node),
			Contents:          buildHistory(inv.sess.Events(), node.Name),
			Tools:             decls,
		})
		if err != nil {
			return fmt.Errorf("agent %s: generate: %w", node.Name, err)
		}

		ev := NewEvent(inv.id, node.Name)
		switch {
		case resp.Content != nil && len(resp.Content.Parts) > 0:
			ev.Content = &Content{Role: RoleModel, Parts: resp.Content.Parts}
		case resp.ErrorMessage != "":
			ev.Actions.Escalate = true
			ev.ErrorMessage = resp.ErrorMessage
		}

		calls := ev.FunctionCalls()
		for _, call := range calls {
			if call.Name == TransferToAgentTool {
				ev.Actions.TransferToAgent = stringArg(call.Args, "agent_name")
			}
		}
		if !emit(ev) {
			return errStopped
		}
		if len(calls) == 0 {
			return nil
		}

		responses, target := r.callTools(ctx, node, calls)
		parts := make([]Part, 0, len(responses))
		for i := range responses {
			parts = append(parts, Part{FunctionResponse: &responses[i]})
		}
		respEv := NewEvent(inv.id, node.Name)
		respEv.Content = &Content{Role: RoleUser, Parts: parts}
		if !emit(respEv) {
			return errStopped
		}

		if target != nil {
			return r.runNode(ctx, inv, target, emit)
		}
	}
	return fmt.Errorf("agent %s: %w", node.Name, ErrMaxStepsExceeded)
}

// callTools runs every call in order. Tool failures are reported back to the
// model as error responses. A transfer_to_agent call naming a child returns
// that child as the delegation target.
func (r *InProcessRunner) callTools(ctx context.Context, node *Node, calls []FunctionCall) ([]FunctionResponse, *Node) {
	var target *Node
	out := make([]FunctionResponse, 0, len(calls))
	for _, call := range calls {
		resp := FunctionResponse{ID: call.ID, Name: call.Name}

		if call.Name == TransferToAgentTool {
			name := stringArg(call.Args, "agent_name")
			if child, ok := node.Child(name); ok && target == nil {
				target = child
				resp.Response = map[string]any{"status": "transferred", "agent_name": name}
			} else {
				resp.Response = map[string]any{"error": fmt.Sprintf("cannot transfer to agent %q", name)}
			}
			out = append(out, resp)
			continue
		}

		tool, ok := node.Tool(call.Name)
		if !ok || tool.Invoke == nil {
			resp.Response = map[string]any{"error": fmt.Sprintf("tool %q is not available", call.Name)}
			out = append(out, resp)
			continue
		}
		result, err := tool.Invoke(ctx, call.Args)
		if err != nil {
			r.logger.Warn("tool failed",
				zap.String("agent", node.Name),
				zap.String("tool", call.Name),
				zap.Error(err),
			)
			result = map[string]any{"error": err.Error()}
		}
		resp.Response = result
		out = append(out, resp)
	}
	return out, target
}

type parallelItem struct {
	event *Event
	ack   chan bool
}

// runParallel runs every child concurrently. Child events are merged onto one
// channel and handed to emit one at a time; a child waits for its event to be
// consumed before continuing.
func (r *InProcessRunner) runParallel(ctx context.Context, inv *invocation, node *Node, emit func(*Event) bool) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	items := make(chan parallelItem)
	g, gctx := errgroup.WithContext(ctx)
	for _, child := range node.Children {
		g.Go(func() error {
			return r.runNode(gctx, inv, child, func(e *Event) bool {
				ack := make(chan bool, 1)
				select {
				case items <- parallelItem{event: e, ack: ack}:
				case <-gctx.Done():
					return false
				}
				select {
				case ok := <-ack:
					return ok
				case <-gctx.Done():
					return false
				}
			})
		})
	}

	done := make(chan error, 1)
	go func() {
		done <- g.Wait()
		close(items)
	}()

	stopped := false
	for it := range items {
		if stopped {
			it.ack <- false
			continue
		}
		ok := emit(it.event)
		it.ack <- ok
		if !ok {
			stopped = true
			cancel()
		}
	}

	err := <-done
	if stopped {
		return errStopped
	}
	return err
}

// =============================================================================
// 📡 Live sessions
// =============================================================================

// OpenLive implements Runner. The live connection is bound to root, or to its
// first LLM descendant when root is a composition node.
func (r *InProcessRunner) OpenLive(ctx context.Context, root *Node, sess *Session, cfg LiveConfig) (LiveSession, error) {
	if r.live == nil {
		return nil, ErrLiveUnsupported
	}
	target := firstLLM(root)
	if target == nil {
		return nil, fmt.Errorf("agent %s: %w: no llm node in graph", root.Name, ErrLiveUnsupported)
	}

	conn, err := r.live.Connect(ctx, &LiveRequest{
		Model:             target.Model,
		SystemInstruction: systemInstruction(target),
		Tools:             declarations(target),
		History:           buildHistory(sess.Events(), target.Name),
		Modality:          cfg.Modality,
		Voice:             cfg.Voice,
	})
	if err != nil {
		return nil, fmt.Errorf("agent %s: connect live: %w", target.Name, err)
	}
	return &liveSession{
		runner: r,
		conn:   conn,
		node:   target,
		inv:    &invocation{id: NewID(), sess: sess},
	}, nil
}

func firstLLM(n *Node) *Node {
	if n == nil {
		return nil
	}
	if n.Kind == KindLLM {
		return n
	}
	for _, c := range n.Children {
		if found := firstLLM(c); found != nil {
			return found
		}
	}
	return nil
}

// =============================================================================
// 🔧 Prompt assembly
// =============================================================================

func systemInstruction(node *Node) string {
	var sb strings.Builder
	sb.WriteString(node.Instruction)
	if node.Description != "" {
		fmt.Fprintf(&sb, "\n\nYou are the agent %q. %s", node.Name, node.Description)
	}
	if len(node.Children) > 0 {
		sb.WriteString("\n\nYou can hand the conversation to one of these agents by calling " + TransferToAgentTool + ":")
		for _, c := range node.Children {
			fmt.Fprintf(&sb, "\n- %s: %s", c.Name, c.Description)
		}
	}
	return strings.TrimSpace(sb.String())
}

func declarations(node *Node) []ToolDeclaration {
	decls := make([]ToolDeclaration, 0, len(node.Tools)+1)
	for _, t := range node.Tools {
		decls = append(decls, ToolDeclaration{Name: t.Name, Description: t.Description, Parameters: t.Parameters})
	}
	if len(node.Children) > 0 {
		names := make([]any, 0, len(node.Children))
		for _, c := range node.Children {
			names = append(names, c.Name)
		}
		decls = append(decls, ToolDeclaration{
			Name:        TransferToAgentTool,
			Description: "Hand the conversation to another agent.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"agent_name": map[string]any{"type": "string", "enum": names},
				},
				"required": []any{"agent_name"},
			},
		})
	}
	return decls
}

// buildHistory converts the session log into model contents as seen by self.
// Output of other agents is folded in as user-side context.
func buildHistory(events []*Event, self string) []*Content {
	out := make([]*Content, 0, len(events))
	for _, e := range events {
		if e.Partial || e.Content == nil || len(e.Content.Parts) == 0 {
			continue
		}
		switch e.Author {
		case AuthorUser:
			out = append(out, &Content{Role: RoleUser, Parts: e.Content.Parts})
		case self:
			out = append(out, e.Content)
		default:
			if !e.Content.HasText() {
				continue
			}
			out = append(out, NewTextContent(RoleUser, fmt.Sprintf("For context: [%s] said: %s", e.Author, e.Content.Text())))
		}
	}
	return out
}

func stringArg(args map[string]any, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}
