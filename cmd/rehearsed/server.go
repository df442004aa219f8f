package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/rehearsed/rehearsed/agent"
	"github.com/rehearsed/rehearsed/agent/capability"
	"github.com/rehearsed/rehearsed/agent/streaming"
	"github.com/rehearsed/rehearsed/api/handlers"
	"github.com/rehearsed/rehearsed/config"
	"github.com/rehearsed/rehearsed/engine"
	"github.com/rehearsed/rehearsed/engine/gemini"
	"github.com/rehearsed/rehearsed/internal/cache"
	"github.com/rehearsed/rehearsed/internal/database"
	"github.com/rehearsed/rehearsed/internal/metrics"
	"github.com/rehearsed/rehearsed/internal/server"
	"github.com/rehearsed/rehearsed/internal/telemetry"
	"github.com/rehearsed/rehearsed/session"
	"github.com/rehearsed/rehearsed/speech"
	"github.com/rehearsed/rehearsed/store"
)

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// Server 持有全部运行时组件
type Server struct {
	cfg    *config.Config
	db     *gorm.DB
	otel   *telemetry.Providers
	logger *zap.Logger

	promRegistry *prometheus.Registry
	collector    *metrics.Collector

	pool  *database.PoolManager
	cache *cache.Manager

	registry  *agent.Registry
	scenarios *agent.ScenarioService

	healthHandler   *handlers.HealthHandler
	agentHandler    *handlers.AgentHandler
	streamHandler   *handlers.StreamHandler
	scenarioHandler *handlers.ScenarioHandler
	sessionHandler  *handlers.SessionHandler
	adminHandler    *handlers.AdminHandler

	httpManager    *server.Manager
	metricsManager *server.Manager

	rateLimiterCancel context.CancelFunc
}

// NewServer 创建服务器实例
func NewServer(cfg *config.Config, db *gorm.DB, otel *telemetry.Providers, logger *zap.Logger) *Server {
	return &Server{
		cfg:    cfg,
		db:     db,
		otel:   otel,
		logger: logger,
	}
}

// =============================================================================
// 🚀 启动流程
// =============================================================================

// Start 初始化组件并启动 HTTP 与 Metrics 服务器
func (s *Server) Start(ctx context.Context) error {
	s.promRegistry = prometheus.NewRegistry()
	s.promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	s.collector = metrics.NewCollector("rehearsed", s.promRegistry, s.logger)

	if err := s.initComponents(ctx); err != nil {
		return fmt.Errorf("failed to init components: %w", err)
	}
	if err := s.startHTTPServer(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	if err := s.startMetricsServer(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	s.logger.Info("All servers started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
		zap.Strings("agents", s.registry.ListNames()),
	)
	return nil
}

// =============================================================================
// 🔧 组件装配
// =============================================================================

func (s *Server) initComponents(ctx context.Context) error {
	pool, err := database.NewPoolManager(s.db, s.cfg.Database.Pool, s.logger, database.WithStatsRecorder(s.collector))
	if err != nil {
		return err
	}
	s.pool = pool

	records := store.NewRecordStore(pool.DB(), s.logger)
	if err := records.AutoMigrate(ctx); err != nil {
		return err
	}
	sessions := session.NewStore(pool.DB(), s.logger)
	if err := sessions.AutoMigrate(ctx); err != nil {
		return err
	}

	if s.cfg.App.SeedFile != "" {
		if _, err := seedFromFile(ctx, pool, s.cfg.App.SeedFile, s.logger); err != nil {
			s.logger.Warn("seed skipped", zap.String("file", s.cfg.App.SeedFile), zap.Error(err))
		}
	}

	model, err := gemini.New(ctx, gemini.Config{
		APIKey:       s.cfg.Engine.APIKey,
		VertexAI:     s.cfg.Engine.VertexAI,
		Project:      s.cfg.Engine.Project,
		Location:     s.cfg.Engine.Location,
		DefaultModel: s.cfg.Engine.DefaultModel,
		LiveModel:    s.cfg.Engine.LiveModel,
		Timeout:      s.cfg.Engine.Timeout,
	}, s.logger)
	if err != nil {
		return err
	}

	capabilities := capability.NewRegistry()
	if err := capability.RegisterTextTools(capabilities, model, ""); err != nil {
		return err
	}

	builder := agent.NewBuilder(capabilities, s.cfg.App.FeedbackAgentName)
	s.registry = agent.NewRegistry(records, builder, agent.BuildOptions{
		LoadCapabilities: s.cfg.App.LoadCapabilities,
		InlineCritique:   s.cfg.App.InlineCritique,
	}, s.logger, agent.WithRegistryRecorder(s.collector))

	s.scenarios = agent.NewScenarioService(records, s.registry, s.logger)
	if id := s.cfg.App.DefaultScenarioID; id != 0 {
		if _, err := s.scenarios.Set(ctx, id); err != nil {
			s.logger.Warn("default scenario not activated", zap.Uint("scenario_id", id), zap.Error(err))
		}
	}

	runner := engine.NewInProcessRunner(model, sessions, s.logger,
		engine.WithLiveModel(model),
		engine.WithMaxSteps(s.cfg.Engine.MaxSteps),
	)
	dispatcher := agent.NewDispatcher(s.registry, sessions, runner, agent.DispatcherConfig{
		AppName:           s.cfg.App.Name,
		FeedbackAgentName: s.cfg.App.FeedbackAgentName,
	}, s.logger, agent.WithTurnRecorder(s.collector))

	tts, stt := s.initSpeech()

	conversations := session.NewConversationService(sessions, tts, session.ConversationConfig{
		AppName:       s.cfg.App.Name,
		Voice:         s.cfg.App.DefaultVoice,
		HiddenAuthors: []string{s.cfg.App.FeedbackAgentName},
	}, s.logger)

	driver := streaming.NewDriver(s.registry, sessions, runner, streaming.DriverConfig{
		AppName:      s.cfg.App.Name,
		DefaultVoice: s.cfg.App.DefaultVoice,
	}, s.logger, streaming.WithRecorder(s.collector))

	s.healthHandler = handlers.NewHealthHandler(s.registry, s.logger)
	s.healthHandler.RegisterCheck(handlers.NewPingCheck("database", pool.Ping))
	if s.cache != nil {
		s.healthHandler.RegisterCheck(handlers.NewPingCheck("redis", s.cache.Ping))
	}

	s.agentHandler = handlers.NewAgentHandler(dispatcher, s.registry, sessions, conversations, tts, stt,
		handlers.AgentHandlerConfig{
			AppName:           s.cfg.App.Name,
			FeedbackAgentName: s.cfg.App.FeedbackAgentName,
			DefaultVoice:      s.cfg.App.DefaultVoice,
		}, s.logger)
	s.streamHandler = handlers.NewStreamHandler(driver, s.registry, s.cfg.App.LiveAgentName, s.cfg.Server.CORSAllowedOrigins, s.logger)
	s.scenarioHandler = handlers.NewScenarioHandler(s.scenarios, s.logger)
	s.sessionHandler = handlers.NewSessionHandler(sessions, s.cfg.App.Name, s.logger)
	s.adminHandler = handlers.NewAdminHandler(records, s.scenarios, s.logger)

	s.logger.Info("Handlers initialized", zap.Bool("speech", tts != nil), zap.Bool("audio_cache", s.cache != nil))
	return nil
}

// initSpeech 组装 Cached(Breaker(OpenAI)) 合成链与 Breaker(OpenAI) 识别链。
// 未启用时两者均为 nil。
func (s *Server) initSpeech() (speech.Synthesizer, speech.Transcriber) {
	if !s.cfg.Speech.Enabled {
		s.logger.Info("speech disabled, audio endpoints return 503")
		return nil, nil
	}

	oc := speech.OpenAIConfig{
		APIKey:   s.cfg.Speech.APIKey,
		BaseURL:  s.cfg.Speech.BaseURL,
		TTSModel: s.cfg.Speech.TTSModel,
		STTModel: s.cfg.Speech.STTModel,
		Voice:    s.cfg.Speech.Voice,
		Format:   s.cfg.Speech.Format,
		Timeout:  s.cfg.Speech.Timeout,
	}
	bc := speech.BreakerConfig{
		MaxFailures: s.cfg.Speech.BreakerMaxFailures,
		Timeout:     s.cfg.Speech.BreakerTimeout,
	}

	var tts speech.Synthesizer = speech.NewBreakerSynthesizer(speech.NewOpenAITTS(oc, s.logger), bc, s.collector, s.logger)
	stt := speech.NewBreakerTranscriber(speech.NewOpenAISTT(oc, s.logger), bc, s.collector, s.logger)

	if s.cfg.Redis.Enabled {
		cc := cache.DefaultConfig()
		cc.Addr = s.cfg.Redis.Addr
		cc.Password = s.cfg.Redis.Password
		cc.DB = s.cfg.Redis.DB
		cc.TLSEnabled = s.cfg.Redis.TLSEnabled
		cc.PoolSize = s.cfg.Redis.PoolSize
		cc.MinIdleConns = s.cfg.Redis.MinIdleConns
		cc.DefaultTTL = s.cfg.Redis.AudioTTL

		mgr, err := cache.NewManager(cc, s.logger)
		if err != nil {
			s.logger.Warn("redis unavailable, audio cache disabled", zap.Error(err))
		} else {
			s.cache = mgr
			tts = speech.NewCachedSynthesizer(tts, mgr, s.cfg.Redis.AudioTTL, s.collector, s.logger)
		}
	}
	return tts, stt
}

// =============================================================================
// 🌐 HTTP 服务器
// =============================================================================

// routes 注册全部端点。adminWrap 为 nil 时不注册管理接口。
func (s *Server) routes(adminWrap func(http.HandlerFunc) http.HandlerFunc) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.healthHandler.HandleHealth)
	mux.HandleFunc("GET /healthz", s.healthHandler.HandleHealthz)
	mux.HandleFunc("GET /ready", s.healthHandler.HandleReady)
	mux.HandleFunc("GET /readyz", s.healthHandler.HandleReady)
	mux.HandleFunc("GET /version", s.healthHandler.HandleVersion(Version, BuildTime, GitCommit))

	mux.HandleFunc("POST /agent/start-session", s.agentHandler.HandleStartSession)
	mux.HandleFunc("POST /agent/request", s.agentHandler.HandleRequest)
	mux.HandleFunc("POST /agent/feedback", s.agentHandler.HandleFeedback)
	mux.HandleFunc("GET /agent/conversation/{userId}/{sessionId}", s.agentHandler.HandleConversation)
	mux.HandleFunc("GET /agent/list", s.agentHandler.HandleList)
	mux.HandleFunc("GET /agent/ws/{userId}/{sessionId}", s.streamHandler.HandleStream)

	mux.HandleFunc("GET /scenario/get-all", s.scenarioHandler.HandleGetAll)
	mux.HandleFunc("GET /scenario/get-current-scenario", s.scenarioHandler.HandleGetCurrent)
	mux.HandleFunc("POST /scenario/set-scenario", s.scenarioHandler.HandleSet)

	mux.HandleFunc("POST /session/create", s.sessionHandler.HandleCreate)
	mux.HandleFunc("GET /session/list", s.sessionHandler.HandleList)

	if adminWrap != nil {
		s.adminHandler.Register(mux, adminWrap)
	}
	return mux
}

func (s *Server) startHTTPServer() error {
	var adminWrap func(http.HandlerFunc) http.HandlerFunc
	if s.cfg.JWT.Secret != "" {
		adminWrap = func(h http.HandlerFunc) http.HandlerFunc {
			return Chain(h, JWTAuth(s.cfg.JWT, s.logger), RequireRole(s.cfg.JWT.AdminRole)).ServeHTTP
		}
	} else {
		s.logger.Warn("jwt secret not configured, admin routes disabled")
	}
	mux := s.routes(adminWrap)

	rateLimiterCtx, rateLimiterCancel := context.WithCancel(context.Background())
	s.rateLimiterCancel = rateLimiterCancel
	handler := Chain(mux,
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		OTelTracing(),
		MetricsMiddleware(s.collector),
		RequestLogger(s.logger),
		CORS(s.cfg.Server.CORSAllowedOrigins),
		RateLimiter(rateLimiterCtx, float64(s.cfg.Server.RateLimitRPS), s.cfg.Server.RateLimitBurst),
	)

	s.httpManager = server.NewManager(handler, server.Config{
		Name:            "http",
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		IdleTimeout:     2 * s.cfg.Server.ReadTimeout,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
		TLSCertFile:     s.cfg.Server.TLSCertFile,
		TLSKeyFile:      s.cfg.Server.TLSKeyFile,
	}, s.logger)
	return s.httpManager.Start()
}

// =============================================================================
// 📊 Metrics 服务器
// =============================================================================

func (s *Server) startMetricsServer() error {
	if s.cfg.Server.MetricsPort == 0 {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.promRegistry, promhttp.HandlerOpts{Registry: s.promRegistry}))

	s.metricsManager = server.NewManager(mux, server.Config{
		Name:            "metrics",
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.MetricsPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.ReadTimeout,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}, s.logger)
	return s.metricsManager.Start()
}

// =============================================================================
// 🛑 关闭流程
// =============================================================================

// WaitForShutdown 阻塞到收到信号或服务异常退出，然后优雅关闭
func (s *Server) WaitForShutdown() {
	if s.httpManager != nil {
		if err := s.httpManager.Wait(context.Background()); err != nil {
			s.logger.Error("HTTP server exited", zap.Error(err))
		}
	}
	s.Shutdown()
}

// Shutdown 按依赖的逆序关闭组件，可在部分初始化后调用
func (s *Server) Shutdown() {
	s.logger.Info("Starting graceful shutdown...")
	ctx := context.Background()

	if s.rateLimiterCancel != nil {
		s.rateLimiterCancel()
	}
	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP server shutdown error", zap.Error(err))
		}
	}
	if s.metricsManager != nil {
		if err := s.metricsManager.Shutdown(ctx); err != nil {
			s.logger.Error("Metrics server shutdown error", zap.Error(err))
		}
	}
	if s.cache != nil {
		if err := s.cache.Close(); err != nil && !errors.Is(err, cache.ErrClosed) {
			s.logger.Error("Cache shutdown error", zap.Error(err))
		}
	}
	if s.pool != nil {
		if err := s.pool.Close(); err != nil {
			s.logger.Error("Database shutdown error", zap.Error(err))
		}
	}
	if err := s.otel.Shutdown(ctx); err != nil {
		s.logger.Error("Telemetry shutdown error", zap.Error(err))
	}

	s.logger.Info("Graceful shutdown completed")
}
