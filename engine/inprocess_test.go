package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// scriptedModel answers each model id with a queue of responses.
type scriptedModel struct {
	mu       sync.Mutex
	scripts  map[string][]*ModelResponse
	requests []*ModelRequest
	err      error
}

func (m *scriptedModel) Generate(_ context.Context, req *ModelRequest) (*ModelResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	if m.err != nil {
		return nil, m.err
	}
	queue := m.scripts[req.Model]
	if len(queue) == 0 {
		return &ModelResponse{Content: NewTextContent(RoleModel, "default from "+req.Model)}, nil
	}
	m.scripts[req.Model] = queue[1:]
	return queue[0], nil
}

func textReply(text string) *ModelResponse {
	return &ModelResponse{Content: NewTextContent(RoleModel, text)}
}

func collect(t *testing.T, seq func(func(*Event, error) bool)) []*Event {
	t.Helper()
	var out []*Event
	for ev, err := range seq {
		require.NoError(t, err)
		out = append(out, ev)
	}
	return out
}

func newSession() *Session {
	return NewSession("Rehearsed", "u1", "s1", nil, time.Time{})
}

func TestRunTurn_SingleLLM(t *testing.T) {
	model := &scriptedModel{scripts: map[string][]*ModelResponse{"m-root": {textReply("hello")}}}
	r := NewInProcessRunner(model, nil, zap.NewNop())
	sess := newSession()

	root := &Node{Name: "root", Kind: KindLLM, Model: "m-root", Instruction: "be kind"}
	events := collect(t, r.RunTurn(context.Background(), root, sess, NewTextContent(RoleUser, "hi")))

	require.Len(t, events, 1)
	assert.Equal(t, "root", events[0].Author)
	assert.Equal(t, "hello", events[0].Content.Text())
	assert.True(t, events[0].IsFinalResponse())

	logged := sess.Events()
	require.Len(t, logged, 2)
	assert.Equal(t, AuthorUser, logged[0].Author)
	assert.Equal(t, events[0].InvocationID, logged[0].InvocationID)

	require.Len(t, model.requests, 1)
	assert.Contains(t, model.requests[0].SystemInstruction, "be kind")
	require.Len(t, model.requests[0].Contents, 1)
	assert.Equal(t, "hi", model.requests[0].Contents[0].Text())
}

func TestRunTurn_ToolLoop(t *testing.T) {
	call := &ModelResponse{Content: &Content{Role: RoleModel, Parts: []Part{
		{FunctionCall: &FunctionCall{ID: "c1", Name: "lookup", Args: map[string]any{"q": "fractions"}}},
	}}}
	model := &scriptedModel{scripts: map[string][]*ModelResponse{"m": {call, textReply("done")}}}
	r := NewInProcessRunner(model, nil, zap.NewNop())

	var gotArgs map[string]any
	root := &Node{Name: "root", Kind: KindLLM, Model: "m", Tools: []Tool{{
		Name: "lookup",
		Invoke: func(_ context.Context, args map[string]any) (map[string]any, error) {
			gotArgs = args
			return map[string]any{"answer": "1/2"}, nil
		},
	}}}

	events := collect(t, r.RunTurn(context.Background(), root, newSession(), NewTextContent(RoleUser, "hi")))
	require.Len(t, events, 3)
	assert.False(t, events[0].IsFinalResponse())
	require.Len(t, events[1].FunctionResponses(), 1)
	assert.Equal(t, "1/2", events[1].FunctionResponses()[0].Response["answer"])
	assert.Equal(t, "done", events[2].Content.Text())
	assert.Equal(t, "fractions", gotArgs["q"])
}

func TestRunTurn_ToolErrorIsReportedToModel(t *testing.T) {
	call := &ModelResponse{Content: &Content{Role: RoleModel, Parts: []Part{
		{FunctionCall: &FunctionCall{Name: "broken"}},
	}}}
	model := &scriptedModel{scripts: map[string][]*ModelResponse{"m": {call, textReply("recovered")}}}
	r := NewInProcessRunner(model, nil, zap.NewNop())
	root := &Node{Name: "root", Kind: KindLLM, Model: "m", Tools: []Tool{{
		Name: "broken",
		Invoke: func(context.Context, map[string]any) (map[string]any, error) {
			return nil, errors.New("boom")
		},
	}}}

	events := collect(t, r.RunTurn(context.Background(), root, newSession(), NewTextContent(RoleUser, "hi")))
	require.Len(t, events, 3)
	assert.Equal(t, "boom", events[1].FunctionResponses()[0].Response["error"])
}

func TestRunTurn_TransferToChild(t *testing.T) {
	transfer := &ModelResponse{Content: &Content{Role: RoleModel, Parts: []Part{
		{FunctionCall: &FunctionCall{Name: TransferToAgentTool, Args: map[string]any{"agent_name": "student"}}},
	}}}
	model := &scriptedModel{scripts: map[string][]*ModelResponse{
		"m-root":    {transfer},
		"m-student": {textReply("I am confused")},
	}}
	r := NewInProcessRunner(model, nil, zap.NewNop())
	root := &Node{Name: "root", Kind: KindLLM, Model: "m-root", Children: []*Node{
		{Name: "student", Kind: KindLLM, Model: "m-student", Description: "a student"},
	}}

	events := collect(t, r.RunTurn(context.Background(), root, newSession(), NewTextContent(RoleUser, "hi")))
	require.Len(t, events, 3)
	assert.Equal(t, "student", events[0].Actions.TransferToAgent)
	assert.Equal(t, "student", events[2].Author)
	assert.Equal(t, "I am confused", events[2].Content.Text())

	decls := model.requests[0].Tools
	require.Len(t, decls, 1)
	assert.Equal(t, TransferToAgentTool, decls[0].Name)
}

func TestRunTurn_SequentialOrder(t *testing.T) {
	model := &scriptedModel{scripts: map[string][]*ModelResponse{}}
	r := NewInProcessRunner(model, nil, zap.NewNop())
	root := &Node{Name: "seq", Kind: KindSequential, Children: []*Node{
		{Name: "a", Kind: KindLLM, Model: "a"},
		{Name: "b", Kind: KindLLM, Model: "b"},
		{Name: "c", Kind: KindLLM, Model: "c"},
	}}

	events := collect(t, r.RunTurn(context.Background(), root, newSession(), NewTextContent(RoleUser, "go")))
	authors := make([]string, 0, len(events))
	for _, ev := range events {
		authors = append(authors, ev.Author)
	}
	assert.Equal(t, []string{"a", "b", "c"}, authors)

	// c sees the output of a and b as context.
	last := model.requests[2]
	require.Len(t, last.Contents, 3)
	assert.Contains(t, last.Contents[1].Text(), "[a] said")
	assert.Contains(t, last.Contents[2].Text(), "[b] said")
}

func TestRunTurn_ParallelMergesChildren(t *testing.T) {
	model := &scriptedModel{scripts: map[string][]*ModelResponse{
		"student":  {textReply("answer")},
		"feedback": {textReply("**good**")},
	}}
	r := NewInProcessRunner(model, nil, zap.NewNop())
	sess := newSession()
	root := &Node{Name: "par", Kind: KindParallel, Children: []*Node{
		{Name: "student", Kind: KindLLM, Model: "student"},
		{Name: "inline_feedback_agent", Kind: KindLLM, Model: "feedback"},
	}}

	events := collect(t, r.RunTurn(context.Background(), root, sess, NewTextContent(RoleUser, "hi")))
	require.Len(t, events, 2)
	byAuthor := map[string]string{}
	for _, ev := range events {
		byAuthor[ev.Author] = ev.Content.Text()
	}
	assert.Equal(t, "answer", byAuthor["student"])
	assert.Equal(t, "**good**", byAuthor["inline_feedback_agent"])
	assert.Len(t, sess.Events(), 3)
}

func TestRunTurn_ParallelEarlyBreak(t *testing.T) {
	model := &scriptedModel{scripts: map[string][]*ModelResponse{}}
	r := NewInProcessRunner(model, nil, zap.NewNop())
	root := &Node{Name: "par", Kind: KindParallel, Children: []*Node{
		{Name: "a", Kind: KindLLM, Model: "a"},
		{Name: "b", Kind: KindLLM, Model: "b"},
		{Name: "c", Kind: KindLLM, Model: "c"},
	}}

	seen := 0
	for _, err := range r.RunTurn(context.Background(), root, newSession(), NewTextContent(RoleUser, "hi")) {
		require.NoError(t, err)
		seen++
		break
	}
	assert.Equal(t, 1, seen)
}

func TestRunTurn_EscalationOnEmptyResponse(t *testing.T) {
	model := &scriptedModel{scripts: map[string][]*ModelResponse{
		"m": {{ErrorMessage: "SAFETY"}},
	}}
	r := NewInProcessRunner(model, nil, zap.NewNop())
	root := &Node{Name: "root", Kind: KindLLM, Model: "m"}

	events := collect(t, r.RunTurn(context.Background(), root, newSession(), NewTextContent(RoleUser, "hi")))
	require.Len(t, events, 1)
	assert.True(t, events[0].Actions.Escalate)
	assert.Equal(t, "SAFETY", events[0].ErrorMessage)
	assert.Nil(t, events[0].Content)
	assert.True(t, events[0].IsFinalResponse())
}

func TestRunTurn_ModelErrorPropagates(t *testing.T) {
	model := &scriptedModel{err: errors.New("quota")}
	r := NewInProcessRunner(model, nil, zap.NewNop())
	root := &Node{Name: "root", Kind: KindLLM, Model: "m"}

	var gotErr error
	for _, err := range r.RunTurn(context.Background(), root, newSession(), NewTextContent(RoleUser, "hi")) {
		if err != nil {
			gotErr = err
		}
	}
	require.Error(t, gotErr)
	assert.Contains(t, gotErr.Error(), "quota")
}

func TestRunTurn_MaxSteps(t *testing.T) {
	loop := &ModelResponse{Content: &Content{Role: RoleModel, Parts: []Part{
		{FunctionCall: &FunctionCall{Name: "noop"}},
	}}}
	model := &scriptedModel{scripts: map[string][]*ModelResponse{"m": {loop, loop, loop}}}
	r := NewInProcessRunner(model, nil, zap.NewNop(), WithMaxSteps(2))
	root := &Node{Name: "root", Kind: KindLLM, Model: "m", Tools: []Tool{{
		Name:   "noop",
		Invoke: func(context.Context, map[string]any) (map[string]any, error) { return nil, nil },
	}}}

	var gotErr error
	for _, err := range r.RunTurn(context.Background(), root, newSession(), NewTextContent(RoleUser, "hi")) {
		if err != nil {
			gotErr = err
		}
	}
	assert.ErrorIs(t, gotErr, ErrMaxStepsExceeded)
}

func TestBuildHistory_SkipsPartialAndToolOnlyContext(t *testing.T) {
	user := NewEvent("i", AuthorUser)
	user.Content = NewTextContent(RoleUser, "hi")
	partial := NewEvent("i", "root")
	partial.Content = NewTextContent(RoleModel, "hel")
	partial.Partial = true
	other := NewEvent("i", "helper")
	other.Content = &Content{Role: RoleModel, Parts: []Part{{FunctionCall: &FunctionCall{Name: "x"}}}}
	mine := NewEvent("i", "root")
	mine.Content = NewTextContent(RoleModel, "hello")

	got := buildHistory([]*Event{user, partial, other, mine}, "root")
	require.Len(t, got, 2)
	assert.Equal(t, RoleUser, got[0].Role)
	assert.Equal(t, RoleModel, got[1].Role)
	assert.Equal(t, "hello", got[1].Text())
}
