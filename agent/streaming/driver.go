package streaming

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rehearsed/rehearsed/agent"
	"github.com/rehearsed/rehearsed/engine"
)

// DefaultVoice 记录未指定音色时使用的预置音色
const DefaultVoice = "Puck"

// ErrSessionStarted 同一个 Session 只能运行一次
var ErrSessionStarted = errors.New("live session already started")

// State 是直播会话的生命周期状态。
type State string

const (
	StateIdle       State = "idle"
	StateStarting   State = "starting"
	StateActive     State = "active"
	StateClosing    State = "closing"
	StateTerminated State = "terminated"
)

// Recorder 接收直播会话指标。internal/metrics.Collector 实现了它。
type Recorder interface {
	RecordLiveState(state string)
	RecordLiveSession(agent, outcome string, duration time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) RecordLiveState(string)                          {}
func (nopRecorder) RecordLiveSession(string, string, time.Duration) {}

// Request 描述一次直播会话。
type Request struct {
	RootName  string
	UserID    string
	SessionID string
	IsAudio   bool
}

// DriverConfig 配置 Driver。
type DriverConfig struct {
	AppName      string
	DefaultVoice string
}

// =============================================================================
// 🎙️ Driver
// =============================================================================

// Driver 把客户端 socket 与引擎直播会话配对，双向中继帧。
type Driver struct {
	agents   agent.Lookuper
	sessions agent.SessionProvider
	runner   engine.Runner
	cfg      DriverConfig
	recorder Recorder
	logger   *zap.Logger
}

// DriverOption 配置 Driver。
type DriverOption func(*Driver)

// WithRecorder 设置指标接收者。
func WithRecorder(rec Recorder) DriverOption {
	return func(d *Driver) {
		if rec != nil {
			d.recorder = rec
		}
	}
}

// NewDriver 创建 Driver。
func NewDriver(agents agent.Lookuper, sessions agent.SessionProvider, runner engine.Runner, cfg DriverConfig, logger *zap.Logger, opts ...DriverOption) *Driver {
	if cfg.DefaultVoice == "" {
		cfg.DefaultVoice = DefaultVoice
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Driver{
		agents:   agents,
		sessions: sessions,
		runner:   runner,
		cfg:      cfg,
		recorder: nopRecorder{},
		logger:   logger.With(zap.String("component", "live_driver")),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// NewSession 创建一个处于 Idle 状态的会话。
func (d *Driver) NewSession(req Request) *Session {
	return &Session{
		driver: d,
		req:    req,
		state:  StateIdle,
		logger: d.logger.With(
			zap.String("agent", req.RootName),
			zap.String("user_id", req.UserID),
			zap.String("session_id", req.SessionID),
		),
	}
}

// Serve 在 conn 上运行一次完整会话。
func (d *Driver) Serve(ctx context.Context, conn Conn, req Request) error {
	return d.NewSession(req).Run(ctx, conn)
}

// =============================================================================
// 🔁 Session
// =============================================================================

// Session 是一次直播会话：Idle → Starting → Active → Closing → Terminated。
// Terminated 是终态。
type Session struct {
	driver *Driver
	req    Request

	mu    sync.RWMutex
	state State

	liveOnce sync.Once

	logger *zap.Logger
}

// State 返回当前状态。
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Session) transition(to State) {
	s.mu.Lock()
	from := s.state
	s.state = to
	s.mu.Unlock()

	s.driver.recorder.RecordLiveState(string(to))
	s.logger.Debug("live session state",
		zap.String("from", string(from)),
		zap.String("to", string(to)),
	)
}

// Run 启动会话并阻塞直到两个中继都结束。客户端断开视为正常结束并返回 nil；
// 其他错误在同样的清理之后返回。
func (s *Session) Run(ctx context.Context, conn Conn) error {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return ErrSessionStarted
	}
	s.state = StateStarting
	s.mu.Unlock()

	start := time.Now()
	s.driver.recorder.RecordLiveState(string(StateStarting))

	live, err := s.open(ctx)
	if err != nil {
		s.close(nil, conn)
		s.driver.recorder.RecordLiveSession(s.req.RootName, "start_failed", time.Since(start))
		s.logger.Warn("live session start failed", zap.Error(err))
		return err
	}

	s.transition(StateActive)
	err = s.relay(ctx, conn, live)
	s.close(live, conn)

	outcome := "disconnected"
	if err != nil {
		outcome = "error"
		s.logger.Error("live session ended with error", zap.Error(err))
	} else {
		s.logger.Info("live session ended", zap.Duration("duration", time.Since(start)))
	}
	s.driver.recorder.RecordLiveSession(s.req.RootName, outcome, time.Since(start))
	return err
}

func (s *Session) open(ctx context.Context) (engine.LiveSession, error) {
	d := s.driver
	entry, err := d.agents.Lookup(s.req.RootName)
	if err != nil {
		return nil, err
	}
	sess, err := d.sessions.GetOrCreate(ctx, d.cfg.AppName, s.req.UserID, s.req.SessionID)
	if err != nil {
		return nil, fmt.Errorf("open session %s: %w", s.req.SessionID, err)
	}

	cfg := engine.LiveConfig{Modality: engine.ModalityText}
	if s.req.IsAudio {
		cfg.Modality = engine.ModalityAudio
		cfg.Voice = entry.Record.VoiceName
		if cfg.Voice == "" {
			cfg.Voice = d.cfg.DefaultVoice
		}
	}

	live, err := d.runner.OpenLive(ctx, entry.Node, sess, cfg)
	if err != nil {
		return nil, fmt.Errorf("open live session for %q: %w", s.req.RootName, err)
	}
	return live, nil
}

// relay 并发运行出站与入站中继。任一中继返回即取消另一个，
// 并立即关闭引擎会话：引擎的接收调用不一定响应 ctx。
func (s *Session) relay(ctx context.Context, conn Conn, live engine.LiveSession) error {
	relayCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(relayCtx)
	g.Go(func() error {
		<-gctx.Done()
		s.closeLive(live)
		return nil
	})
	// 出错时 errgroup 先记录错误再取消；正常结束需要手动取消另一方。
	g.Go(func() error {
		err := s.outbound(gctx, conn, live)
		if err == nil {
			cancel()
		}
		return err
	})
	g.Go(func() error {
		err := s.inbound(gctx, conn, live)
		if err == nil {
			cancel()
		}
		return err
	})

	err := g.Wait()
	switch {
	case err == nil, errors.Is(err, ErrDisconnected):
		return nil
	case errors.Is(err, context.Canceled) && ctx.Err() == nil:
		// 由另一中继正常结束引发
		return nil
	default:
		return err
	}
}

// outbound 把引擎事件翻译为出站帧。
func (s *Session) outbound(ctx context.Context, conn Conn, live engine.LiveSession) error {
	for ev, err := range live.Events(ctx) {
		if err != nil {
			return fmt.Errorf("live events: %w", err)
		}
		for _, f := range outboundFrames(ev) {
			if err := conn.WriteFrame(ctx, f); err != nil {
				return err
			}
		}
	}
	return nil
}

// inbound 把客户端帧提交给引擎。
func (s *Session) inbound(ctx context.Context, conn Conn, live engine.LiveSession) error {
	for {
		f, err := conn.ReadFrame(ctx)
		if err != nil {
			return err
		}
		switch f.MIMEType {
		case MIMETextPlain:
			if err := live.SendContent(ctx, engine.NewTextContent(engine.RoleUser, f.Data)); err != nil {
				return fmt.Errorf("send content: %w", err)
			}
		case MIMEAudioPCM:
			data, err := base64.StdEncoding.DecodeString(f.Data)
			if err != nil {
				return fmt.Errorf("decode audio frame: %w", err)
			}
			if err := live.SendRealtime(ctx, engine.Blob{MIMEType: MIMEAudioPCM, Data: data}); err != nil {
				return fmt.Errorf("send audio: %w", err)
			}
		default:
			return fmt.Errorf("%w: %q", ErrUnsupportedMimeType, f.MIMEType)
		}
	}
}

// close 关闭引擎输入与 socket，然后进入终态。
func (s *Session) close(live engine.LiveSession, conn Conn) {
	s.transition(StateClosing)
	if live != nil {
		s.closeLive(live)
	}
	if err := conn.Close(); err != nil {
		s.logger.Debug("close socket", zap.Error(err))
	}
	s.transition(StateTerminated)
}

func (s *Session) closeLive(live engine.LiveSession) {
	s.liveOnce.Do(func() {
		if err := live.Close(); err != nil {
			s.logger.Debug("close live session", zap.Error(err))
		}
	})
}
