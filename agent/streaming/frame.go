package streaming

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"

	"github.com/rehearsed/rehearsed/engine"
)

// 帧 MIME 类型
const (
	MIMETextPlain = "text/plain"
	MIMEAudioPCM  = "audio/pcm"
)

var (
	// ErrUnsupportedMimeType 入站帧的 MIME 类型既不是文本也不是 PCM 音频
	ErrUnsupportedMimeType = errors.New("unsupported mime type")

	// ErrDisconnected 客户端断开连接，属于正常终止
	ErrDisconnected = errors.New("client disconnected")

	// ErrConnClosed 连接已被本端关闭
	ErrConnClosed = errors.New("connection closed")
)

// InboundFrame 是客户端发来的一帧。音频数据为 base64 编码。
type InboundFrame struct {
	MIMEType string `json:"mime_type"`
	Data     string `json:"data"`
}

// OutboundFrame 是发往客户端的一帧：控制帧只带 TurnComplete/Interrupted，
// 数据帧只带 MIMEType/Data。
type OutboundFrame struct {
	MIMEType     string `json:"mime_type,omitempty"`
	Data         string `json:"data,omitempty"`
	TurnComplete bool   `json:"turn_complete,omitempty"`
	Interrupted  bool   `json:"interrupted,omitempty"`
}

// Conn 是客户端 socket 的抽象。WriteFrame 可被并发调用。
// 对端断开时 ReadFrame 返回 ErrDisconnected。
type Conn interface {
	ReadFrame(ctx context.Context) (InboundFrame, error)
	WriteFrame(ctx context.Context, f OutboundFrame) error
	Close() error
}

// outboundFrames 把一个引擎事件翻译成零到多个出站帧。
// 非部分文本与工具调用等事件不产生帧。
func outboundFrames(ev *engine.Event) []OutboundFrame {
	var frames []OutboundFrame
	if ev.TurnComplete {
		frames = append(frames, OutboundFrame{TurnComplete: true})
	}
	if ev.Interrupted {
		frames = append(frames, OutboundFrame{Interrupted: true})
	}
	if ev.Content == nil {
		return frames
	}
	for _, p := range ev.Content.Parts {
		switch {
		case p.InlineData != nil && strings.HasPrefix(p.InlineData.MIMEType, MIMEAudioPCM):
			frames = append(frames, OutboundFrame{
				MIMEType: MIMEAudioPCM,
				Data:     base64.StdEncoding.EncodeToString(p.InlineData.Data),
			})
		case p.Text != "" && ev.Partial:
			frames = append(frames, OutboundFrame{MIMEType: MIMETextPlain, Data: p.Text})
		}
	}
	return frames
}
