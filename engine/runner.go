package engine

import (
	"context"
	"errors"
	"iter"
)

// ErrLiveUnsupported is returned by OpenLive when no live model is configured.
var ErrLiveUnsupported = errors.New("live sessions are not supported by this runner")

// Modality selects what a live session answers with.
type Modality string

const (
	ModalityText  Modality = "TEXT"
	ModalityAudio Modality = "AUDIO"
)

// LiveConfig configures a live session.
type LiveConfig struct {
	Modality Modality
	Voice    string
}

// Runner executes a Node tree.
type Runner interface {
	// RunTurn drives one request/response turn. The returned sequence is
	// ordered and single-use.
	RunTurn(ctx context.Context, root *Node, sess *Session, msg *Content) iter.Seq2[*Event, error]
	// OpenLive opens a duplex streaming session bound to root.
	OpenLive(ctx context.Context, root *Node, sess *Session, cfg LiveConfig) (LiveSession, error)
}

// LiveSession is an open duplex streaming session.
type LiveSession interface {
	// Events yields engine output until the session ends or ctx is done.
	Events(ctx context.Context) iter.Seq2[*Event, error]
	SendContent(ctx context.Context, c *Content) error
	SendRealtime(ctx context.Context, b Blob) error
	// Close closes the input side and releases the session. It unblocks a
	// pending Events iteration and is safe to call more than once.
	Close() error
}

// ToolDeclaration describes a tool to the model.
type ToolDeclaration struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// ModelRequest is one generation call.
type ModelRequest struct {
	Model             string
	SystemInstruction string
	Contents          []*Content
	Tools             []ToolDeclaration
}

// ModelResponse is the model's answer. ErrorMessage is set when the model
// produced no usable content, e.g. a blocked prompt.
type ModelResponse struct {
	Content      *Content
	ErrorMessage string
}

// Model generates content for an LLM node.
type Model interface {
	Generate(ctx context.Context, req *ModelRequest) (*ModelResponse, error)
}

// LiveRequest opens a live connection to a model.
type LiveRequest struct {
	Model             string
	SystemInstruction string
	Tools             []ToolDeclaration
	History           []*Content
	Modality          Modality
	Voice             string
}

// LiveModel opens live connections.
type LiveModel interface {
	Connect(ctx context.Context, req *LiveRequest) (LiveConn, error)
}

// LiveConn is the raw model side of a live session. Receive returns io.EOF
// once the model closes the stream. Events returned by Receive carry no
// author; the runner stamps it.
type LiveConn interface {
	Receive(ctx context.Context) (*Event, error)
	SendContent(ctx context.Context, c *Content) error
	SendRealtime(ctx context.Context, b Blob) error
	SendToolResponses(ctx context.Context, responses []FunctionResponse) error
	Close() error
}
