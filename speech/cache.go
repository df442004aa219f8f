package speech

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"time"

	"go.uber.org/zap"

	"github.com/rehearsed/rehearsed/internal/cache"
)

const (
	audioCacheName  = "tts"
	audioKeyPrefix  = "rehearsed:tts:"
	defaultAudioTTL = 24 * time.Hour
)

// Store is the subset of cache.Manager used for audio.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
}

// CachedSynthesizer serves repeated (voice, text) pairs from the cache.
// Cache failures fall through to the wrapped synthesizer.
type CachedSynthesizer struct {
	inner    Synthesizer
	store    Store
	ttl      time.Duration
	recorder Recorder
	logger   *zap.Logger
}

// NewCachedSynthesizer wraps inner. A zero ttl uses 24h; recorder may be nil.
func NewCachedSynthesizer(inner Synthesizer, store Store, ttl time.Duration, recorder Recorder, logger *zap.Logger) *CachedSynthesizer {
	if ttl <= 0 {
		ttl = defaultAudioTTL
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &CachedSynthesizer{
		inner:    inner,
		store:    store,
		ttl:      ttl,
		recorder: recorder,
		logger:   logger.With(zap.String("component", "tts_cache")),
	}
}

// Synthesize implements Synthesizer.
func (c *CachedSynthesizer) Synthesize(ctx context.Context, text, voice string) ([]byte, error) {
	key := audioKey(text, voice)

	val, err := c.store.Get(ctx, key)
	switch {
	case err == nil:
		if audio, decErr := base64.StdEncoding.DecodeString(val); decErr == nil {
			c.recorder.RecordCacheLookup(audioCacheName, true)
			return audio, nil
		}
		c.logger.Warn("discarding corrupt cached audio", zap.String("key", key))
	case !cache.IsCacheMiss(err):
		c.logger.Warn("audio cache read failed", zap.Error(err))
	}
	c.recorder.RecordCacheLookup(audioCacheName, false)

	audio, err := c.inner.Synthesize(ctx, text, voice)
	if err != nil {
		return nil, err
	}
	if err := c.store.Set(ctx, key, base64.StdEncoding.EncodeToString(audio), c.ttl); err != nil {
		c.logger.Warn("audio cache write failed", zap.Error(err))
	}
	return audio, nil
}

func audioKey(text, voice string) string {
	h := sha256.New()
	h.Write([]byte(voice))
	h.Write([]byte{0})
	h.Write([]byte(text))
	return audioKeyPrefix + hex.EncodeToString(h.Sum(nil))
}

var (
	_ Synthesizer = (*CachedSynthesizer)(nil)
	_ Store       = (*cache.Manager)(nil)
)
