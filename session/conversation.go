package session

import (
	"context"
	"encoding/base64"

	"go.uber.org/zap"

	"github.com/rehearsed/rehearsed/engine"
)

// Turn is one replayed conversation message.
type Turn struct {
	Content   string `json:"content"`
	Role      string `json:"role"`
	Author    string `json:"author"`
	MessageID string `json:"message_id"`
	Audio     string `json:"audio,omitempty"`
}

// Conversation is the client-facing projection of a session log.
type Conversation struct {
	Turns []Turn `json:"turns"`
}

// Synthesizer turns text into audio bytes.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voice string) ([]byte, error)
}

// ConversationConfig configures a ConversationService.
type ConversationConfig struct {
	AppName string
	Voice   string
	// HiddenAuthors are excluded from replays.
	HiddenAuthors []string
}

// ConversationService replays a session's event log into turns.
type ConversationService struct {
	store  *Store
	tts    Synthesizer
	cfg    ConversationConfig
	hidden map[string]struct{}
	logger *zap.Logger
}

// NewConversationService creates a ConversationService. tts may be nil, in
// which case turns never carry audio.
func NewConversationService(store *Store, tts Synthesizer, cfg ConversationConfig, logger *zap.Logger) *ConversationService {
	hidden := make(map[string]struct{}, len(cfg.HiddenAuthors))
	for _, a := range cfg.HiddenAuthors {
		hidden[a] = struct{}{}
	}
	return &ConversationService{
		store:  store,
		tts:    tts,
		cfg:    cfg,
		hidden: hidden,
		logger: logger.With(zap.String("component", "conversation")),
	}
}

// Content replays the session (created when absent). Events without leading
// text and events from hidden authors are skipped. With includeAudio, model
// turns carry base64 audio; a synthesis failure drops the audio, not the turn.
func (c *ConversationService) Content(ctx context.Context, userID, sessionID string, includeAudio bool) (*Conversation, error) {
	sess, err := c.store.GetOrCreate(ctx, c.cfg.AppName, userID, sessionID)
	if err != nil {
		return nil, err
	}

	conv := &Conversation{Turns: []Turn{}}
	for _, ev := range sess.Events() {
		text := leadingText(ev)
		if text == "" {
			continue
		}
		if _, skip := c.hidden[ev.Author]; skip {
			continue
		}

		turn := Turn{
			Content:   text,
			Role:      ev.Content.Role,
			Author:    ev.Author,
			MessageID: ev.ID,
		}
		if ev.Content.Role == engine.RoleModel && includeAudio && c.tts != nil {
			audio, err := c.tts.Synthesize(ctx, text, c.cfg.Voice)
			if err != nil {
				c.logger.Warn("synthesize turn failed",
					zap.String("session_id", sessionID),
					zap.String("message_id", ev.ID),
					zap.Error(err),
				)
			} else if len(audio) > 0 {
				turn.Audio = base64.StdEncoding.EncodeToString(audio)
			}
		}
		conv.Turns = append(conv.Turns, turn)
	}
	return conv, nil
}

func leadingText(ev *engine.Event) string {
	if ev.Content == nil || len(ev.Content.Parts) == 0 {
		return ""
	}
	return ev.Content.Parts[0].Text
}
