package engine

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Content roles.
const (
	RoleUser  = "user"
	RoleModel = "model"
)

// AuthorUser marks events that carry the human side of the conversation.
const AuthorUser = "user"

// Blob is inline binary data tagged with its MIME type.
type Blob struct {
	MIMEType string `json:"mime_type"`
	Data     []byte `json:"data"`
}

// FunctionCall is a tool invocation requested by a model.
type FunctionCall struct {
	ID   string         `json:"id,omitempty"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// FunctionResponse carries the result of a FunctionCall back to the model.
type FunctionResponse struct {
	ID       string         `json:"id,omitempty"`
	Name     string         `json:"name"`
	Response map[string]any `json:"response,omitempty"`
}

// Part is one element of a Content. Exactly one field is expected to be set.
type Part struct {
	Text             string            `json:"text,omitempty"`
	InlineData       *Blob             `json:"inline_data,omitempty"`
	FunctionCall     *FunctionCall     `json:"function_call,omitempty"`
	FunctionResponse *FunctionResponse `json:"function_response,omitempty"`
}

// Content is a role-tagged list of parts.
type Content struct {
	Role  string `json:"role"`
	Parts []Part `json:"parts"`
}

// NewTextContent builds a single-part text Content.
func NewTextContent(role, text string) *Content {
	return &Content{Role: role, Parts: []Part{{Text: text}}}
}

// Text concatenates every text part. Empty when the content carries no text.
func (c *Content) Text() string {
	if c == nil {
		return ""
	}
	var sb strings.Builder
	for _, p := range c.Parts {
		sb.WriteString(p.Text)
	}
	return sb.String()
}

// HasText reports whether at least one part carries non-empty text.
func (c *Content) HasText() bool {
	if c == nil {
		return false
	}
	for _, p := range c.Parts {
		if p.Text != "" {
			return true
		}
	}
	return false
}

// EventActions are orchestration signals attached to an Event.
type EventActions struct {
	Escalate        bool   `json:"escalate,omitempty"`
	TransferToAgent string `json:"transfer_to_agent,omitempty"`
}

// Event is one unit of output produced while running a turn or a live session.
// Treat it as immutable once emitted.
type Event struct {
	ID           string       `json:"id"`
	InvocationID string       `json:"invocation_id"`
	Author       string       `json:"author"`
	Timestamp    time.Time    `json:"timestamp"`
	Content      *Content     `json:"content,omitempty"`
	Partial      bool         `json:"partial,omitempty"`
	TurnComplete bool         `json:"turn_complete,omitempty"`
	Interrupted  bool         `json:"interrupted,omitempty"`
	Actions      EventActions `json:"actions"`
	ErrorMessage string       `json:"error_message,omitempty"`
}

// NewEvent creates a bare event authored by author and bound to an invocation.
func NewEvent(invocationID, author string) *Event {
	return &Event{
		ID:           NewID(),
		InvocationID: invocationID,
		Author:       author,
		Timestamp:    time.Now().UTC(),
	}
}

// NewID generates a new unique identifier for events and invocations.
func NewID() string { return uuid.NewString() }

// FunctionCalls returns the function call parts in order.
func (e *Event) FunctionCalls() []FunctionCall {
	if e.Content == nil {
		return nil
	}
	var calls []FunctionCall
	for _, p := range e.Content.Parts {
		if p.FunctionCall != nil {
			calls = append(calls, *p.FunctionCall)
		}
	}
	return calls
}

// FunctionResponses returns the function response parts in order.
func (e *Event) FunctionResponses() []FunctionResponse {
	if e.Content == nil {
		return nil
	}
	var responses []FunctionResponse
	for _, p := range e.Content.Parts {
		if p.FunctionResponse != nil {
			responses = append(responses, *p.FunctionResponse)
		}
	}
	return responses
}

// IsFinalResponse reports whether the event concludes a turn for its author:
// not partial and no pending tool calls or tool results.
func (e *Event) IsFinalResponse() bool {
	return !e.Partial &&
		len(e.FunctionCalls()) == 0 &&
		len(e.FunctionResponses()) == 0
}
