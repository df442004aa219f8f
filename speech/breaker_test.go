package speech

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type scriptedSynth struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (s *scriptedSynth) Synthesize(_ context.Context, text, voice string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return []byte(voice + ":" + text), nil
}

func (s *scriptedSynth) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func (s *scriptedSynth) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type scriptedSTT struct {
	err   error
	calls int
}

func (s *scriptedSTT) Transcribe(_ context.Context, audio []byte, _ string) (string, error) {
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	return string(audio), nil
}

type callLog struct {
	mu     sync.Mutex
	calls  []string
	lookup []bool
}

func (c *callLog) RecordSpeechCall(op, status string, _ time.Duration) {
	c.mu.Lock()
	c.calls = append(c.calls, op+":"+status)
	c.mu.Unlock()
}

func (c *callLog) RecordCacheLookup(_ string, hit bool) {
	c.mu.Lock()
	c.lookup = append(c.lookup, hit)
	c.mu.Unlock()
}

func TestBreakerSynthesizer_PassesThrough(t *testing.T) {
	inner := &scriptedSynth{}
	rec := &callLog{}
	b := NewBreakerSynthesizer(inner, BreakerConfig{}, rec, zap.NewNop())

	audio, err := b.Synthesize(context.Background(), "hi", "Puck")
	require.NoError(t, err)
	assert.Equal(t, []byte("Puck:hi"), audio)
	assert.Equal(t, []string{"synthesize:success"}, rec.calls)
	assert.Equal(t, gobreaker.StateClosed, b.State())
}

func TestBreakerSynthesizer_OpensAfterConsecutiveFailures(t *testing.T) {
	inner := &scriptedSynth{err: errors.New("upstream 503")}
	rec := &callLog{}
	b := NewBreakerSynthesizer(inner, BreakerConfig{MaxFailures: 2, Timeout: time.Hour}, rec, zap.NewNop())

	for i := 0; i < 2; i++ {
		_, err := b.Synthesize(context.Background(), "hi", "")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "upstream 503")
	}
	assert.Equal(t, gobreaker.StateOpen, b.State())

	_, err := b.Synthesize(context.Background(), "hi", "")
	require.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Contains(t, err.Error(), "circuit open")
	assert.Equal(t, 2, inner.count(), "open circuit must not reach the backend")
	assert.Equal(t, []string{"synthesize:error", "synthesize:error", "synthesize:rejected"}, rec.calls)
}

func TestBreakerSynthesizer_HalfOpenProbeCloses(t *testing.T) {
	inner := &scriptedSynth{err: errors.New("down")}
	b := NewBreakerSynthesizer(inner, BreakerConfig{MaxFailures: 1, Timeout: 20 * time.Millisecond}, nil, zap.NewNop())

	_, err := b.Synthesize(context.Background(), "hi", "")
	require.Error(t, err)
	require.Equal(t, gobreaker.StateOpen, b.State())

	inner.setErr(nil)
	require.Eventually(t, func() bool {
		_, err := b.Synthesize(context.Background(), "hi", "")
		return err == nil
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, gobreaker.StateClosed, b.State())
}

func TestBreakerSynthesizer_CallerErrorsDoNotTrip(t *testing.T) {
	inner := &scriptedSynth{err: context.Canceled}
	b := NewBreakerSynthesizer(inner, BreakerConfig{MaxFailures: 1}, nil, zap.NewNop())

	for i := 0; i < 3; i++ {
		_, err := b.Synthesize(context.Background(), "hi", "")
		require.ErrorIs(t, err, context.Canceled)
	}
	assert.Equal(t, gobreaker.StateClosed, b.State())

	inner.setErr(ErrEmptyText)
	_, err := b.Synthesize(context.Background(), "", "")
	require.ErrorIs(t, err, ErrEmptyText)
	assert.Equal(t, gobreaker.StateClosed, b.State())
}

func TestBreakerTranscriber(t *testing.T) {
	inner := &scriptedSTT{}
	rec := &callLog{}
	b := NewBreakerTranscriber(inner, BreakerConfig{MaxFailures: 1, Timeout: time.Hour}, rec, zap.NewNop())

	text, err := b.Transcribe(context.Background(), []byte("hello"), "audio/wav")
	require.NoError(t, err)
	assert.Equal(t, "hello", text)

	inner.err = errors.New("whisper down")
	_, err = b.Transcribe(context.Background(), []byte("hello"), "audio/wav")
	require.Error(t, err)
	assert.Equal(t, gobreaker.StateOpen, b.State())

	_, err = b.Transcribe(context.Background(), []byte("hello"), "audio/wav")
	require.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, 2, inner.calls)
	assert.Equal(t, []string{"transcribe:success", "transcribe:error", "transcribe:rejected"}, rec.calls)
}
