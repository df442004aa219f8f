package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/rehearsed/rehearsed/internal/tlsutil"
)

// =============================================================================
// 🔊 OpenAI 语音合成
// =============================================================================

// OpenAIConfig OpenAI 语音接口配置
type OpenAIConfig struct {
	APIKey   string        `yaml:"api_key" json:"-"`
	BaseURL  string        `yaml:"base_url" json:"base_url"`
	TTSModel string        `yaml:"tts_model" json:"tts_model"`
	STTModel string        `yaml:"stt_model" json:"stt_model"`
	Voice    string        `yaml:"voice" json:"voice"`
	Format   string        `yaml:"format" json:"format"`
	Timeout  time.Duration `yaml:"timeout" json:"timeout"`
}

func (c OpenAIConfig) withDefaults() OpenAIConfig {
	if c.BaseURL == "" {
		c.BaseURL = "https://api.openai.com"
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.TTSModel == "" {
		c.TTSModel = "tts-1"
	}
	if c.STTModel == "" {
		c.STTModel = "whisper-1"
	}
	if c.Voice == "" {
		c.Voice = "alloy"
	}
	if c.Format == "" {
		c.Format = "mp3"
	}
	if c.Timeout == 0 {
		c.Timeout = 60 * time.Second
	}
	return c
}

// openAIVoices 是接口直接支持的音色
var openAIVoices = map[string]bool{
	"alloy": true, "ash": true, "coral": true, "echo": true, "fable": true,
	"onyx": true, "nova": true, "sage": true, "shimmer": true,
}

// liveVoices 把直播模型的音色名映射到相近的 OpenAI 音色
var liveVoices = map[string]string{
	"puck":   "echo",
	"charon": "onyx",
	"kore":   "nova",
	"fenrir": "onyx",
	"aoede":  "shimmer",
	"leda":   "coral",
	"orus":   "ash",
	"zephyr": "sage",
}

// OpenAITTS 通过 /v1/audio/speech 合成语音
type OpenAITTS struct {
	cfg    OpenAIConfig
	client *http.Client
	logger *zap.Logger
}

// NewOpenAITTS 创建合成器
func NewOpenAITTS(cfg OpenAIConfig, logger *zap.Logger) *OpenAITTS {
	cfg = cfg.withDefaults()
	return &OpenAITTS{
		cfg:    cfg,
		client: tlsutil.SecureHTTPClient(cfg.Timeout),
		logger: logger.With(zap.String("component", "openai_tts")),
	}
}

type ttsRequest struct {
	Model          string `json:"model"`
	Input          string `json:"input"`
	Voice          string `json:"voice"`
	ResponseFormat string `json:"response_format,omitempty"`
}

// Voice 把请求的音色映射为接口可用的音色，未知音色回落到默认值
func (p *OpenAITTS) Voice(requested string) string {
	v := strings.ToLower(strings.TrimSpace(requested))
	if openAIVoices[v] {
		return v
	}
	if mapped, ok := liveVoices[v]; ok {
		return mapped
	}
	return p.cfg.Voice
}

// Synthesize 实现 Synthesizer
func (p *OpenAITTS) Synthesize(ctx context.Context, text, voice string) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}
	payload, err := json.Marshal(ttsRequest{
		Model:          p.cfg.TTSModel,
		Input:          text,
		Voice:          p.Voice(voice),
		ResponseFormat: p.cfg.Format,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal tts request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+"/v1/audio/speech", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("openai tts request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("openai tts error: status=%d body=%s", resp.StatusCode, string(errBody))
	}
	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read tts audio: %w", err)
	}
	p.logger.Debug("speech synthesized", zap.Int("chars", len(text)), zap.Int("bytes", len(audio)))
	return audio, nil
}

// =============================================================================
// 🎙️ OpenAI 语音识别
// =============================================================================

// OpenAISTT 通过 /v1/audio/transcriptions 识别语音
type OpenAISTT struct {
	cfg    OpenAIConfig
	client *http.Client
	logger *zap.Logger
}

// NewOpenAISTT 创建识别器
func NewOpenAISTT(cfg OpenAIConfig, logger *zap.Logger) *OpenAISTT {
	cfg = cfg.withDefaults()
	return &OpenAISTT{
		cfg:    cfg,
		client: tlsutil.SecureHTTPClient(cfg.Timeout),
		logger: logger.With(zap.String("component", "openai_stt")),
	}
}

type sttResponse struct {
	Text string `json:"text"`
}

// Transcribe 实现 Transcriber
func (p *OpenAISTT) Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error) {
	if len(audio) == 0 {
		return "", ErrEmptyAudio
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", "audio"+extensionFor(mimeType))
	if err != nil {
		return "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return "", fmt.Errorf("failed to copy audio: %w", err)
	}
	_ = writer.WriteField("model", p.cfg.STTModel)
	_ = writer.WriteField("response_format", "json")
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close multipart: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+"/v1/audio/transcriptions", &buf)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("openai stt request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("openai stt error: status=%d body=%s", resp.StatusCode, string(errBody))
	}
	var out sttResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode transcription: %w", err)
	}
	p.logger.Debug("speech transcribed", zap.Int("bytes", len(audio)), zap.Int("chars", len(out.Text)))
	return out.Text, nil
}

// extensionFor 根据 MIME 类型推断上传文件扩展名，接口靠扩展名识别格式
func extensionFor(mimeType string) string {
	base, _, err := mime.ParseMediaType(mimeType)
	if err != nil {
		base = mimeType
	}
	switch base {
	case "audio/wav", "audio/x-wav", "audio/wave":
		return ".wav"
	case "audio/webm":
		return ".webm"
	case "audio/ogg":
		return ".ogg"
	case "audio/mp4", "audio/m4a", "audio/x-m4a":
		return ".m4a"
	case "audio/flac":
		return ".flac"
	default:
		return ".mp3"
	}
}
