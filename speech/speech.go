package speech

import (
	"context"
	"errors"
	"time"
)

// Synthesizer turns text into audio bytes in the given voice.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voice string) ([]byte, error)
}

// Transcriber turns recorded audio into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error)
}

// Recorder receives speech call and cache outcomes. internal/metrics.Collector
// implements it.
type Recorder interface {
	RecordSpeechCall(op, status string, d time.Duration)
	RecordCacheLookup(cache string, hit bool)
}

type nopRecorder struct{}

func (nopRecorder) RecordSpeechCall(string, string, time.Duration) {}
func (nopRecorder) RecordCacheLookup(string, bool)                 {}

// Errors
var (
	ErrEmptyText  = errors.New("speech: text is empty")
	ErrEmptyAudio = errors.New("speech: audio is empty")
)

// Operation names used for metrics and breaker names.
const (
	OpSynthesize = "synthesize"
	OpTranscribe = "transcribe"
)
