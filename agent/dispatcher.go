package agent

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/rehearsed/rehearsed/engine"
)

const instrumentationName = "github.com/rehearsed/rehearsed/agent"

// NoResponsePlaceholder is returned when a turn ends without a final event.
const NoResponsePlaceholder = "Agent did not produce a final response."

const noEscalationMessage = "No specific message."

// Lookuper resolves agent names.
type Lookuper interface {
	Lookup(name string) (RegistryEntry, error)
}

// SessionProvider opens the persisted session a turn runs against.
type SessionProvider interface {
	GetOrCreate(ctx context.Context, appName, userID, sessionID string) (*engine.Session, error)
}

// InlineImage is an optional image attached to a turn.
type InlineImage struct {
	MIMEType string
	Data     []byte
}

// TurnRequest is one dispatched message.
type TurnRequest struct {
	RootName  string
	UserID    string
	SessionID string
	Message   string
	Image     *InlineImage
}

// DispatcherConfig configures a Dispatcher.
type DispatcherConfig struct {
	AppName string
	// FeedbackAgentName authors the markdown side channel.
	FeedbackAgentName string
}

// =============================================================================
// 🚦 Dispatcher
// =============================================================================

// Dispatcher drives one turn against a registered root and folds the
// resulting multi-author event stream into a single AgentResponse.
type Dispatcher struct {
	agents   Lookuper
	sessions SessionProvider
	runner   engine.Runner
	cfg      DispatcherConfig

	recorder    Recorder
	tracer      trace.Tracer
	activeTurns metric.Int64UpDownCounter
	logger      *zap.Logger
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithTurnRecorder reports turns to rec.
func WithTurnRecorder(rec Recorder) DispatcherOption {
	return func(d *Dispatcher) {
		if rec != nil {
			d.recorder = rec
		}
	}
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(agents Lookuper, sessions SessionProvider, runner engine.Runner, cfg DispatcherConfig, logger *zap.Logger, opts ...DispatcherOption) *Dispatcher {
	if cfg.FeedbackAgentName == "" {
		cfg.FeedbackAgentName = DefaultInlineFeedbackAgent
	}
	d := &Dispatcher{
		agents:   agents,
		sessions: sessions,
		runner:   runner,
		cfg:      cfg,
		recorder: nopRecorder{},
		tracer:   otel.Tracer(instrumentationName),
		logger:   logger.With(zap.String("component", "dispatcher")),
	}
	active, err := otel.Meter(instrumentationName).Int64UpDownCounter("agent.turn.active",
		metric.WithDescription("Turns currently being dispatched"),
		metric.WithUnit("{turn}"))
	if err == nil {
		d.activeTurns = active
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch runs one turn. An unknown root yields ErrAgentNotFound; engine
// failures propagate unchanged and are never retried. Escalation and silence
// are folded into the response.
func (d *Dispatcher) Dispatch(ctx context.Context, req TurnRequest) (resp *AgentResponse, err error) {
	start := time.Now()
	ctx, span := d.tracer.Start(ctx, "agent.dispatch",
		trace.WithAttributes(
			attribute.String("agent.root", req.RootName),
			attribute.String("user.id", req.UserID),
			attribute.String("session.id", req.SessionID),
			attribute.Bool("turn.has_image", req.Image != nil),
		))
	if d.activeTurns != nil {
		d.activeTurns.Add(ctx, 1)
	}
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		if d.activeTurns != nil {
			d.activeTurns.Add(ctx, -1)
		}
		d.recorder.RecordTurn(req.RootName, status, time.Since(start))
		span.End()
	}()

	entry, err := d.agents.Lookup(req.RootName)
	if err != nil {
		return nil, err
	}

	sess, err := d.sessions.GetOrCreate(ctx, d.cfg.AppName, req.UserID, req.SessionID)
	if err != nil {
		return nil, fmt.Errorf("open session %s: %w", req.SessionID, err)
	}

	msg := engine.NewTextContent(engine.RoleUser, req.Message)
	if req.Image != nil {
		msg.Parts = append(msg.Parts, engine.Part{InlineData: &engine.Blob{
			MIMEType: req.Image.MIMEType,
			Data:     req.Image.Data,
		}})
	}

	var fold turnFold
	for ev, evErr := range d.runner.RunTurn(ctx, entry.Node, sess, msg) {
		if evErr != nil {
			return nil, fmt.Errorf("run turn for %q: %w", req.RootName, evErr)
		}
		d.logger.Debug("event",
			zap.String("author", ev.Author),
			zap.Bool("final", ev.IsFinalResponse()),
			zap.Bool("escalate", ev.Actions.Escalate),
		)
		fold.observe(ev, d.cfg.FeedbackAgentName)
	}

	resp = fold.response()
	span.SetAttributes(attribute.Bool("turn.has_markdown", resp.MarkdownText != nil))
	if resp.Author != nil {
		span.SetAttributes(attribute.String("agent.author", *resp.Author))
	}
	return resp, nil
}

// turnFold is the reducer state over one turn's events.
type turnFold struct {
	primary  string
	author   string
	markdown *string
	answered bool
}

// observe folds one event. Every final event contributes: feedback output
// fills the markdown slot, anything else replaces the primary answer.
func (f *turnFold) observe(ev *engine.Event, feedbackName string) {
	if !ev.IsFinalResponse() {
		return
	}
	if ev.Author == feedbackName {
		if ev.Content.HasText() {
			text := ev.Content.Text()
			f.markdown = &text
		}
		return
	}
	switch {
	case ev.Content.HasText():
		f.primary = ev.Content.Text()
	case ev.Actions.Escalate:
		msg := ev.ErrorMessage
		if msg == "" {
			msg = noEscalationMessage
		}
		f.primary = "Agent escalated: " + msg
	default:
		return
	}
	f.author = ev.Author
	f.answered = true
}

func (f *turnFold) response() *AgentResponse {
	resp := &AgentResponse{
		AgentResponseText: NoResponsePlaceholder,
		MarkdownText:      f.markdown,
	}
	if f.answered {
		author := f.author
		resp.AgentResponseText = f.primary
		resp.Author = &author
	}
	return resp
}
