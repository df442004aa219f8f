// =============================================================================
// 📦 Rehearsed 默认配置
// =============================================================================
package config

import (
	"time"

	"github.com/rehearsed/rehearsed/internal/database"
)

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server:    DefaultServerConfig(),
		App:       DefaultAppConfig(),
		Database:  DefaultDatabaseConfig(),
		Redis:     DefaultRedisConfig(),
		Engine:    DefaultEngineConfig(),
		Speech:    DefaultSpeechConfig(),
		JWT:       DefaultJWTConfig(),
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		MetricsPort:     9091,
		ReadTimeout:     30 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		RateLimitRPS:    20,
		RateLimitBurst:  40,
	}
}

// DefaultAppConfig 返回默认业务配置
func DefaultAppConfig() AppConfig {
	return AppConfig{
		Name:              "Rehearsed",
		FeedbackAgentName: "feedback_agent",
		DefaultVoice:      "Puck",
		LoadCapabilities:  true,
	}
}

// DefaultDatabaseConfig 返回默认数据库配置
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:  "postgres",
		Host:    "localhost",
		Port:    5432,
		User:    "rehearsed",
		Name:    "rehearsed",
		SSLMode: "disable",
		Pool:    database.DefaultPoolConfig(),
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		PoolSize:     10,
		MinIdleConns: 2,
		AudioTTL:     24 * time.Hour,
	}
}

// DefaultEngineConfig 返回默认模型配置
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Location:     "us-central1",
		DefaultModel: "gemini-2.0-flash",
		LiveModel:    "gemini-2.0-flash-live-001",
		Timeout:      2 * time.Minute,
		MaxSteps:     8,
	}
}

// DefaultSpeechConfig 返回默认语音配置
func DefaultSpeechConfig() SpeechConfig {
	return SpeechConfig{
		BaseURL:            "https://api.openai.com",
		TTSModel:           "tts-1",
		STTModel:           "whisper-1",
		Voice:              "alloy",
		Format:             "mp3",
		Timeout:            60 * time.Second,
		BreakerMaxFailures: 5,
		BreakerTimeout:     30 * time.Second,
	}
}

// DefaultJWTConfig 返回默认 JWT 配置
func DefaultJWTConfig() JWTConfig {
	return JWTConfig{
		Issuer:    "rehearsed",
		AdminRole: "admin",
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:       "info",
		Format:      "json",
		OutputPaths: []string{"stdout"},
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		OTLPEndpoint: "localhost:4317",
		Insecure:     true,
		ServiceName:  "rehearsed",
		SampleRate:   0.1,
	}
}
