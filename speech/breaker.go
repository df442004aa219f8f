package speech

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

// Default circuit breaker settings.
const (
	defaultMaxFailures uint32        = 5
	defaultOpenTimeout time.Duration = 30 * time.Second
	defaultInterval    time.Duration = 60 * time.Second
)

// BreakerConfig configures the breaker wrappers.
type BreakerConfig struct {
	// MaxFailures is the number of consecutive failures before the circuit opens.
	MaxFailures uint32 `yaml:"max_failures" json:"max_failures"`
	// Timeout is how long the circuit stays open before a half-open probe.
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
	// Interval clears failure counts while closed. Zero keeps the default.
	Interval time.Duration `yaml:"interval" json:"interval"`
}

func newBreaker[T any](op string, cfg BreakerConfig, logger *zap.Logger) *gobreaker.CircuitBreaker[T] {
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = defaultMaxFailures
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultOpenTimeout
	}
	interval := cfg.Interval
	if interval == 0 {
		interval = defaultInterval
	}
	return gobreaker.NewCircuitBreaker[T](gobreaker.Settings{
		Name:        "speech:" + op,
		MaxRequests: 1,
		Interval:    interval,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
		// 调用方取消不算下游故障
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled) ||
				errors.Is(err, ErrEmptyText) || errors.Is(err, ErrEmptyAudio)
		},
	})
}

func breakerError(op string, err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("speech %s circuit open: %w", op, err)
	}
	return err
}

func status(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return "rejected"
	default:
		return "error"
	}
}

// BreakerSynthesizer wraps a Synthesizer with a circuit breaker. When the
// backend keeps failing, calls fail fast until the open timeout elapses.
type BreakerSynthesizer struct {
	inner    Synthesizer
	breaker  *gobreaker.CircuitBreaker[[]byte]
	recorder Recorder
}

// NewBreakerSynthesizer wraps inner. recorder may be nil.
func NewBreakerSynthesizer(inner Synthesizer, cfg BreakerConfig, recorder Recorder, logger *zap.Logger) *BreakerSynthesizer {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &BreakerSynthesizer{
		inner:    inner,
		breaker:  newBreaker[[]byte](OpSynthesize, cfg, logger.With(zap.String("component", "speech_breaker"))),
		recorder: recorder,
	}
}

// Synthesize implements Synthesizer.
func (b *BreakerSynthesizer) Synthesize(ctx context.Context, text, voice string) ([]byte, error) {
	start := time.Now()
	audio, err := b.breaker.Execute(func() ([]byte, error) {
		return b.inner.Synthesize(ctx, text, voice)
	})
	b.recorder.RecordSpeechCall(OpSynthesize, status(err), time.Since(start))
	if err != nil {
		return nil, breakerError(OpSynthesize, err)
	}
	return audio, nil
}

// State returns the breaker state.
func (b *BreakerSynthesizer) State() gobreaker.State { return b.breaker.State() }

// BreakerTranscriber wraps a Transcriber with a circuit breaker.
type BreakerTranscriber struct {
	inner    Transcriber
	breaker  *gobreaker.CircuitBreaker[string]
	recorder Recorder
}

// NewBreakerTranscriber wraps inner. recorder may be nil.
func NewBreakerTranscriber(inner Transcriber, cfg BreakerConfig, recorder Recorder, logger *zap.Logger) *BreakerTranscriber {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &BreakerTranscriber{
		inner:    inner,
		breaker:  newBreaker[string](OpTranscribe, cfg, logger.With(zap.String("component", "speech_breaker"))),
		recorder: recorder,
	}
}

// Transcribe implements Transcriber.
func (b *BreakerTranscriber) Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error) {
	start := time.Now()
	text, err := b.breaker.Execute(func() (string, error) {
		return b.inner.Transcribe(ctx, audio, mimeType)
	})
	b.recorder.RecordSpeechCall(OpTranscribe, status(err), time.Since(start))
	if err != nil {
		return "", breakerError(OpTranscribe, err)
	}
	return text, nil
}

// State returns the breaker state.
func (b *BreakerTranscriber) State() gobreaker.State { return b.breaker.State() }

var (
	_ Synthesizer = (*BreakerSynthesizer)(nil)
	_ Transcriber = (*BreakerTranscriber)(nil)
)
