// =============================================================================
// 📦 Rehearsed 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("config.yaml").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量（前缀 REHEARSED）
// =============================================================================
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rehearsed/rehearsed/internal/database"
)

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是 Rehearsed 的完整配置结构
type Config struct {
	Server    ServerConfig    `yaml:"server" env:"SERVER"`
	App       AppConfig       `yaml:"app" env:"APP"`
	Database  DatabaseConfig  `yaml:"database" env:"DATABASE"`
	Redis     RedisConfig     `yaml:"redis" env:"REDIS"`
	Engine    EngineConfig    `yaml:"engine" env:"ENGINE"`
	Speech    SpeechConfig    `yaml:"speech" env:"SPEECH"`
	JWT       JWTConfig       `yaml:"jwt" env:"JWT"`
	Log       LogConfig       `yaml:"log" env:"LOG"`
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// ServerConfig HTTP 服务配置
type ServerConfig struct {
	HTTPPort    int `yaml:"http_port" env:"HTTP_PORT"`
	MetricsPort int `yaml:"metrics_port" env:"METRICS_PORT"`

	ReadTimeout time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	// 直播 WebSocket 要求为 0
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`

	// CORS 允许的来源，空表示不发送 CORS 头
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins" env:"CORS_ALLOWED_ORIGINS"`

	// 每个客户端 IP 的限流
	RateLimitRPS   int `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	RateLimitBurst int `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`

	TLSCertFile string `yaml:"tls_cert_file" env:"TLS_CERT_FILE"`
	TLSKeyFile  string `yaml:"tls_key_file" env:"TLS_KEY_FILE"`
}

// AppConfig 业务配置
type AppConfig struct {
	// 会话存储中的应用名
	Name string `yaml:"name" env:"NAME"`
	// 内联反馈 Agent 的名称，其输出进入 markdownText
	FeedbackAgentName string `yaml:"feedback_agent_name" env:"FEEDBACK_AGENT_NAME"`
	// Agent 记录未指定音色时使用
	DefaultVoice string `yaml:"default_voice" env:"DEFAULT_VOICE"`
	// 为根 Agent 的每个直接子节点配对内联反馈节点
	InlineCritique bool `yaml:"inline_critique" env:"INLINE_CRITIQUE"`
	// 为 false 时所有节点不绑定工具
	LoadCapabilities bool `yaml:"load_capabilities" env:"LOAD_CAPABILITIES"`
	// 直播连接未指定 agent_name 时使用，空表示必须指定
	LiveAgentName string `yaml:"live_agent_name" env:"LIVE_AGENT_NAME"`
	// 启动时激活的场景，0 表示不激活
	DefaultScenarioID uint `yaml:"default_scenario_id" env:"DEFAULT_SCENARIO_ID"`
	// 启动时加载的种子文件，空表示跳过
	SeedFile string `yaml:"seed_file" env:"SEED_FILE"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	// postgres | mysql | sqlite
	Driver   string `yaml:"driver" env:"DRIVER"`
	Host     string `yaml:"host" env:"HOST"`
	Port     int    `yaml:"port" env:"PORT"`
	User     string `yaml:"user" env:"USER"`
	Password string `yaml:"password" env:"PASSWORD"`
	// sqlite 时为文件路径
	Name    string `yaml:"name" env:"NAME"`
	SSLMode string `yaml:"ssl_mode" env:"SSL_MODE"`

	Pool database.PoolConfig `yaml:"pool" env:"POOL"`
}

// RedisConfig Redis 配置，仅用于缓存合成音频
type RedisConfig struct {
	Enabled      bool          `yaml:"enabled" env:"ENABLED"`
	Addr         string        `yaml:"addr" env:"ADDR"`
	Password     string        `yaml:"password" env:"PASSWORD"`
	DB           int           `yaml:"db" env:"DB"`
	TLSEnabled   bool          `yaml:"tls_enabled" env:"TLS_ENABLED"`
	PoolSize     int           `yaml:"pool_size" env:"POOL_SIZE"`
	MinIdleConns int           `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
	AudioTTL     time.Duration `yaml:"audio_ttl" env:"AUDIO_TTL"`
}

// EngineConfig 模型后端配置
type EngineConfig struct {
	APIKey   string `yaml:"api_key" env:"API_KEY"`
	VertexAI bool   `yaml:"vertex_ai" env:"VERTEX_AI"`
	Project  string `yaml:"project" env:"PROJECT"`
	Location string `yaml:"location" env:"LOCATION"`
	// 记录未指定模型时使用
	DefaultModel string `yaml:"default_model" env:"DEFAULT_MODEL"`
	// 直播会话使用的模型
	LiveModel string        `yaml:"live_model" env:"LIVE_MODEL"`
	Timeout   time.Duration `yaml:"timeout" env:"TIMEOUT"`
	// 单个 LLM 节点的工具调用轮数上限
	MaxSteps int `yaml:"max_steps" env:"MAX_STEPS"`
}

// SpeechConfig 语音合成与识别配置
type SpeechConfig struct {
	Enabled  bool          `yaml:"enabled" env:"ENABLED"`
	APIKey   string        `yaml:"api_key" env:"API_KEY"`
	BaseURL  string        `yaml:"base_url" env:"BASE_URL"`
	TTSModel string        `yaml:"tts_model" env:"TTS_MODEL"`
	STTModel string        `yaml:"stt_model" env:"STT_MODEL"`
	Voice    string        `yaml:"voice" env:"VOICE"`
	Format   string        `yaml:"format" env:"FORMAT"`
	Timeout  time.Duration `yaml:"timeout" env:"TIMEOUT"`

	BreakerMaxFailures uint32        `yaml:"breaker_max_failures" env:"BREAKER_MAX_FAILURES"`
	BreakerTimeout     time.Duration `yaml:"breaker_timeout" env:"BREAKER_TIMEOUT"`
}

// JWTConfig 管理接口鉴权配置。Secret 为空时不注册管理接口。
type JWTConfig struct {
	Secret    string `yaml:"secret" env:"SECRET"`
	Issuer    string `yaml:"issuer" env:"ISSUER"`
	AdminRole string `yaml:"admin_role" env:"ADMIN_ROLE"`
}

// LogConfig 日志配置
type LogConfig struct {
	// debug | info | warn | error
	Level string `yaml:"level" env:"LEVEL"`
	// json | console
	Format      string   `yaml:"format" env:"FORMAT"`
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled" env:"ENABLED"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	Insecure     bool    `yaml:"insecure" env:"INSECURE"`
	ServiceName  string  `yaml:"service_name" env:"SERVICE_NAME"`
	SampleRate   float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{envPrefix: "REHEARSED"}
}

// WithConfigPath 设置配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator 添加配置验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 按 默认值 → YAML 文件 → 环境变量 的顺序加载
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}
	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}
	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}
	return cfg, nil
}

// loadFromFile 文件不存在时保留默认值
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

func (l *Loader) loadFromEnv(cfg *Config) error {
	return setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv 递归设置结构体字段，键为 PREFIX_SECTION_FIELD
func setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		envTag := t.Field(i).Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}
		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct && field.Type() != reflect.TypeOf(time.Duration(0)) {
			if err := setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue, ok := os.LookupEnv(envKey)
		if !ok || envValue == "" {
			continue
		}
		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}
	return nil
}

func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
			return nil
		}
		i, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetInt(i)

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetUint(u)

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			out := make([]string, 0, len(parts))
			for _, p := range parts {
				if p = strings.TrimSpace(p); p != "" {
					out = append(out, p)
				}
			}
			field.Set(reflect.ValueOf(out))
		}
	}
	return nil
}

// =============================================================================
// 🔍 校验与辅助
// =============================================================================

// MinJWTSecretLength HS256 密钥的最小长度
const MinJWTSecretLength = 32

// Validate 汇总所有配置错误
func (c *Config) Validate() error {
	var errs []string

	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, "invalid HTTP port")
	}
	if c.Server.MetricsPort < 0 || c.Server.MetricsPort > 65535 {
		errs = append(errs, "invalid metrics port")
	}
	if c.Server.MetricsPort != 0 && c.Server.MetricsPort == c.Server.HTTPPort {
		errs = append(errs, "metrics port must differ from HTTP port")
	}
	if (c.Server.TLSCertFile == "") != (c.Server.TLSKeyFile == "") {
		errs = append(errs, "tls_cert_file and tls_key_file must be set together")
	}

	if c.App.Name == "" {
		errs = append(errs, "app name is required")
	}
	if c.App.FeedbackAgentName == "" {
		errs = append(errs, "feedback_agent_name is required")
	}

	switch c.Database.Driver {
	case "postgres", "mysql", "sqlite":
	default:
		errs = append(errs, fmt.Sprintf("unsupported database driver %q", c.Database.Driver))
	}
	if c.Database.Name == "" {
		errs = append(errs, "database name is required")
	}
	if err := c.Database.Pool.Validate(); err != nil {
		errs = append(errs, "database pool: "+err.Error())
	}

	if c.Redis.Enabled && c.Redis.Addr == "" {
		errs = append(errs, "redis addr is required when redis is enabled")
	}

	if c.Engine.VertexAI {
		if c.Engine.Project == "" || c.Engine.Location == "" {
			errs = append(errs, "engine project and location are required for Vertex AI")
		}
	} else if c.Engine.APIKey == "" {
		errs = append(errs, "engine api_key is required")
	}

	if c.Speech.Enabled && c.Speech.APIKey == "" {
		errs = append(errs, "speech api_key is required when speech is enabled")
	}

	if c.JWT.Secret != "" && len(c.JWT.Secret) < MinJWTSecretLength {
		errs = append(errs, fmt.Sprintf("jwt secret must be at least %d bytes", MinJWTSecretLength))
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("invalid log level %q", c.Log.Level))
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Sprintf("invalid log format %q", c.Log.Format))
	}

	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		errs = append(errs, "telemetry sample_rate must be between 0 and 1")
	}
	if c.Telemetry.Enabled && c.Telemetry.OTLPEndpoint == "" {
		errs = append(errs, "telemetry otlp_endpoint is required when telemetry is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// DSN 返回数据库连接字符串
func (d *DatabaseConfig) DSN() string {
	switch d.Driver {
	case "postgres":
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
		)
	case "mysql":
		return fmt.Sprintf(
			"%s:%s@tcp(%s:%d)/%s?parseTime=true&charset=utf8mb4",
			d.User, d.Password, d.Host, d.Port, d.Name,
		)
	case "sqlite":
		return d.Name
	default:
		return ""
	}
}
