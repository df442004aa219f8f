// Copyright (c) Rehearsed Authors.
// Licensed under the MIT License.

/*
包 speech 提供语音合成（TTS）与语音识别（STT）能力。

# 概述

OpenAITTS 与 OpenAISTT 通过 HTTP 调用 OpenAI 音频接口，客户端使用
internal/tlsutil 的加固 TLS 配置。直播模型的音色名（如 Puck、Kore）
会映射到相近的 OpenAI 音色，未知音色回落到配置的默认音色。

# 装饰器

  - BreakerSynthesizer / BreakerTranscriber：sony/gobreaker 熔断，
    连续失败后快速失败，调用方取消与空输入不计入失败
  - CachedSynthesizer：按 (voice, text) 的哈希在 Redis 中缓存音频，
    缓存故障时直接回落到下游合成器

典型组装顺序为 Cached(Breaker(OpenAITTS))。
*/
package speech
