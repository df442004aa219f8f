package gemini

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/rehearsed/rehearsed/engine"
)

// Connect implements engine.LiveModel.
func (m *Model) Connect(ctx context.Context, req *engine.LiveRequest) (engine.LiveConn, error) {
	model := req.Model
	if m.cfg.LiveModel != "" {
		model = m.cfg.LiveModel
	}
	model = m.model(model)

	config := &genai.LiveConnectConfig{
		ResponseModalities: []genai.Modality{genai.ModalityText},
		Tools:              toGenaiTools(req.Tools),
	}
	if req.Modality == engine.ModalityAudio {
		config.ResponseModalities = []genai.Modality{genai.ModalityAudio}
		config.SpeechConfig = &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: req.Voice},
			},
		}
	}
	if req.SystemInstruction != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: req.SystemInstruction}}}
	}

	sess, err := m.client.Live.Connect(ctx, model, config)
	if err != nil {
		return nil, fmt.Errorf("live connect with %s: %w", model, err)
	}

	if history := toGenaiContents(req.History); len(history) > 0 {
		if err := sess.SendClientContent(genai.LiveClientContentInput{Turns: history}); err != nil {
			_ = sess.Close()
			return nil, fmt.Errorf("replay history: %w", err)
		}
	}

	m.logger.Info("live session opened",
		zap.String("model", model),
		zap.String("modality", string(req.Modality)),
	)
	return &liveConn{sess: sess, logger: m.logger}, nil
}

// liveConn adapts a genai live session. Sends are serialised by mu.
type liveConn struct {
	sess   *genai.Session
	logger *zap.Logger

	mu        sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func (c *liveConn) Receive(ctx context.Context) (*engine.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	msg, err := c.sess.Receive()
	if err != nil {
		return nil, err
	}
	return fromServerMessage(msg), nil
}

func fromServerMessage(msg *genai.LiveServerMessage) *engine.Event {
	ev := &engine.Event{Timestamp: time.Now().UTC()}
	if msg.ToolCall != nil && len(msg.ToolCall.FunctionCalls) > 0 {
		content := &engine.Content{Role: engine.RoleModel}
		for _, fc := range msg.ToolCall.FunctionCalls {
			content.Parts = append(content.Parts, engine.Part{FunctionCall: &engine.FunctionCall{
				ID:   fc.ID,
				Name: fc.Name,
				Args: fc.Args,
			}})
		}
		ev.Content = content
		return ev
	}
	if sc := msg.ServerContent; sc != nil {
		if sc.ModelTurn != nil {
			ev.Content = fromGenaiContent(sc.ModelTurn)
			ev.Content.Role = engine.RoleModel
			ev.Partial = true
		}
		ev.TurnComplete = sc.TurnComplete
		ev.Interrupted = sc.Interrupted
	}
	return ev
}

func (c *liveConn) SendContent(_ context.Context, content *engine.Content) error {
	gc := toGenaiContent(content)
	if gc == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess.SendClientContent(genai.LiveClientContentInput{Turns: []*genai.Content{gc}})
}

func (c *liveConn) SendRealtime(_ context.Context, b engine.Blob) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess.SendRealtimeInput(genai.LiveRealtimeInput{
		Media: &genai.Blob{MIMEType: b.MIMEType, Data: b.Data},
	})
}

func (c *liveConn) SendToolResponses(_ context.Context, responses []engine.FunctionResponse) error {
	frs := make([]*genai.FunctionResponse, 0, len(responses))
	for _, r := range responses {
		frs = append(frs, toGenaiFunctionResponse(r))
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess.SendToolResponse(genai.LiveToolResponseInput{FunctionResponses: frs})
}

func (c *liveConn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.sess.Close()
		c.logger.Debug("live session closed")
	})
	return c.closeErr
}
