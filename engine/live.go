package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// liveSession adapts a model LiveConn to LiveSession: it stamps authorship,
// answers tool calls and persists complete events. Partial text is buffered
// and persisted as one model event when the turn completes or is interrupted.
type liveSession struct {
	runner *InProcessRunner
	conn   LiveConn
	node   *Node
	inv    *invocation

	turn strings.Builder

	closeOnce sync.Once
	closeErr  error
}

func (s *liveSession) Events(ctx context.Context) iter.Seq2[*Event, error] {
	return func(yield func(*Event, error) bool) {
		for {
			ev, err := s.conn.Receive(ctx)
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(nil, err)
				return
			}
			if ev.ID == "" {
				ev.ID = NewID()
			}
			if ev.Timestamp.IsZero() {
				ev.Timestamp = time.Now().UTC()
			}
			ev.Author = s.node.Name
			ev.InvocationID = s.inv.id

			if calls := ev.FunctionCalls(); len(calls) > 0 {
				responses, _ := s.runner.callTools(ctx, s.node, calls)
				if err := s.conn.SendToolResponses(ctx, responses); err != nil {
					yield(nil, fmt.Errorf("send tool responses: %w", err))
					return
				}
			}

			if ev.Partial {
				s.turn.WriteString(ev.Content.Text())
			} else if ev.Content != nil {
				s.persist(ctx, ev)
			}
			if ev.TurnComplete || ev.Interrupted {
				s.flushTurn(ctx)
			}
			if !yield(ev, nil) {
				return
			}
		}
	}
}

// flushTurn persists the buffered partial text of the current model turn.
func (s *liveSession) flushTurn(ctx context.Context) {
	text := s.turn.String()
	s.turn.Reset()
	if text == "" {
		return
	}
	ev := NewEvent(s.inv.id, s.node.Name)
	ev.Content = NewTextContent(RoleModel, text)
	s.persist(ctx, ev)
}

func (s *liveSession) persist(ctx context.Context, ev *Event) {
	if err := s.runner.sessions.AppendEvent(ctx, s.inv.sess, ev); err != nil {
		s.runner.logger.Warn("persist live event failed",
			zap.String("agent", s.node.Name),
			zap.Error(err),
		)
	}
}

func (s *liveSession) SendContent(ctx context.Context, c *Content) error {
	ev := NewEvent(s.inv.id, AuthorUser)
	ev.Content = c
	if err := s.runner.sessions.AppendEvent(ctx, s.inv.sess, ev); err != nil {
		s.runner.logger.Warn("persist live user content failed", zap.Error(err))
	}
	return s.conn.SendContent(ctx, c)
}

func (s *liveSession) SendRealtime(ctx context.Context, b Blob) error {
	return s.conn.SendRealtime(ctx, b)
}

func (s *liveSession) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}
