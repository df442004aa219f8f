// =============================================================================
// Rehearsed 主入口
// =============================================================================
// 教学演练后端：HTTP/WebSocket 服务、健康检查、Prometheus 指标
//
// 使用方法:
//
//	rehearsed serve                       # 启动服务
//	rehearsed serve --config config.yaml  # 指定配置文件
//	rehearsed migrate --config config.yaml
//	rehearsed seed --file scenarios.yaml  # 导入场景种子
//	rehearsed version                     # 显示版本信息
//	rehearsed health                      # 健康检查
// =============================================================================

// @title Rehearsed API
// @version 1.0.0
// @description Teaching-practice backend: scenario-scoped agent graphs, turn dispatch and live sessions.

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @host localhost:8080
// @BasePath /
// @schemes http https

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Bearer JWT carrying the admin role, required for /admin routes

package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/rehearsed/rehearsed/config"
	"github.com/rehearsed/rehearsed/internal/database"
	"github.com/rehearsed/rehearsed/internal/telemetry"
	"github.com/rehearsed/rehearsed/session"
	"github.com/rehearsed/rehearsed/store"
)

// =============================================================================
// 📦 版本信息（构建时注入）
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// =============================================================================
// 🎯 主函数
// =============================================================================

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		runServe(os.Args[2:])
	case "migrate":
		runMigrate(os.Args[2:])
	case "seed":
		runSeed(os.Args[2:])
	case "version":
		printVersion()
	case "health":
		runHealthCheck(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

// =============================================================================
// 🖥️ serve 命令
// =============================================================================

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	_ = fs.Parse(args)

	cfg, err := config.NewLoader().WithConfigPath(*configPath).Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting Rehearsed",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
	)

	otelProviders, err := telemetry.Init(cfg.Telemetry, Version, logger)
	if err != nil {
		logger.Warn("failed to initialize telemetry", zap.Error(err))
	}

	db, err := openDatabase(cfg.Database, logger)
	if err != nil {
		logger.Fatal("Database not available", zap.Error(err))
	}

	server := NewServer(cfg, db, otelProviders, logger)
	if err := server.Start(context.Background()); err != nil {
		server.Shutdown()
		logger.Fatal("Failed to start server", zap.Error(err))
	}

	server.WaitForShutdown()
	logger.Info("Rehearsed stopped")
}

// =============================================================================
// 🗄️ migrate / seed 命令
// =============================================================================

// runMigrate 创建或更新全部表结构
func runMigrate(args []string) {
	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	_ = fs.Parse(args)

	cfg, logger, db := openForMaintenance(*configPath)
	defer func() { _ = logger.Sync() }()

	ctx := context.Background()
	if err := migrateAll(ctx, db, logger); err != nil {
		fmt.Fprintf(os.Stderr, "Migration failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Schema up to date (%s)\n", cfg.Database.Driver)
}

// runSeed 将 YAML 种子导入数据库，已存在的同名场景会被跳过
func runSeed(args []string) {
	fs := flag.NewFlagSet("seed", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	file := fs.String("file", "", "Path to seed YAML")
	_ = fs.Parse(args)

	cfg, logger, db := openForMaintenance(*configPath)
	defer func() { _ = logger.Sync() }()

	path := *file
	if path == "" {
		path = cfg.App.SeedFile
	}
	if path == "" {
		fmt.Fprintln(os.Stderr, "No seed file: pass --file or set app.seed_file")
		os.Exit(1)
	}

	ctx := context.Background()
	if err := migrateAll(ctx, db, logger); err != nil {
		fmt.Fprintf(os.Stderr, "Migration failed: %v\n", err)
		os.Exit(1)
	}

	pool, err := database.NewPoolManager(db, cfg.Database.Pool, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Database pool: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = pool.Close() }()

	result, err := seedFromFile(ctx, pool, path, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Seed failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Seeded %d scenarios, %d agents, %d links (skipped %d)\n",
		result.Scenarios, result.Agents, result.Links, len(result.Skipped))
}

// openForMaintenance 加载配置并连接数据库。维护命令不需要模型凭据，
// 因此只校验数据库相关配置。
func openForMaintenance(configPath string) (*config.Config, *zap.Logger, *gorm.DB) {
	cfg, err := config.NewLoader().
		WithConfigPath(configPath).
		WithValidator(func(c *config.Config) error { return c.Database.Pool.Validate() }).
		Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := initLogger(cfg.Log)
	db, err := openDatabase(cfg.Database, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Database not available: %v\n", err)
		os.Exit(1)
	}
	return cfg, logger, db
}

// migrateAll 迁移记录表与会话表
func migrateAll(ctx context.Context, db *gorm.DB, logger *zap.Logger) error {
	if err := store.NewRecordStore(db, logger).AutoMigrate(ctx); err != nil {
		return fmt.Errorf("records: %w", err)
	}
	if err := session.NewStore(db, logger).AutoMigrate(ctx); err != nil {
		return fmt.Errorf("sessions: %w", err)
	}
	return nil
}

func seedFromFile(ctx context.Context, tx store.Transactor, path string, logger *zap.Logger) (*store.SeedResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open seed: %w", err)
	}
	defer f.Close()

	seed, err := store.ParseSeed(f)
	if err != nil {
		return nil, err
	}
	return store.LoadSeed(ctx, tx, seed, logger)
}

// =============================================================================
// 🏥 健康检查命令
// =============================================================================

func runHealthCheck(args []string) {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	addr := fs.String("addr", "http://localhost:8080", "Server address")
	_ = fs.Parse(args)

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(*addr + "/healthz")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "Health check failed: status %d\n", resp.StatusCode)
		os.Exit(1)
	}
	fmt.Println("OK")
}

// =============================================================================
// 📋 版本和帮助
// =============================================================================

func printVersion() {
	fmt.Printf("Rehearsed %s\n", Version)
	fmt.Printf("  Build Time: %s\n", BuildTime)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`Rehearsed - teaching practice backend

Usage:
  rehearsed <command> [options]

Commands:
  serve     Start the HTTP server
  migrate   Create or update database tables
  seed      Import scenarios from a YAML seed file
  version   Show version information
  health    Check server health
  help      Show this help message

Options:
  --config <path>   Path to configuration file (YAML)
  --file <path>     Seed file for 'seed' (default: app.seed_file)
  --addr <url>      Server address for 'health'

Examples:
  rehearsed serve --config /etc/rehearsed/config.yaml
  rehearsed migrate
  rehearsed seed --file configs/seed.example.yaml
  rehearsed health --addr http://localhost:8080`)
}

// =============================================================================
// 🔧 日志与数据库
// =============================================================================

func initLogger(cfg config.LogConfig) *zap.Logger {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	encoding := "json"
	if cfg.Format == "console" {
		encoding = "console"
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stdout"}
	}

	logger, err := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      encoding == "console",
		Encoding:         encoding,
		EncoderConfig:    encoderConfig,
		OutputPaths:      outputs,
		ErrorOutputPaths: []string{"stderr"},
	}.Build(zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	return logger
}

// sqlitePragmas 让多个连接共享同一文件时等待而不是立即返回 SQLITE_BUSY
const sqlitePragmas = "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"

// openDatabase 根据配置打开数据库连接。唯一键冲突会被翻译为 gorm.ErrDuplicatedKey。
func openDatabase(dbCfg config.DatabaseConfig, logger *zap.Logger) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch dbCfg.Driver {
	case "postgres":
		dialector = postgres.Open(dbCfg.DSN())
	case "mysql":
		dialector = mysql.Open(dbCfg.DSN())
	case "sqlite":
		dsn := dbCfg.DSN()
		if !strings.Contains(dsn, "?") {
			dsn += sqlitePragmas
		}
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s (supported: postgres, mysql, sqlite)", dbCfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}

	logger.Info("Database connected", zap.String("driver", dbCfg.Driver))
	return db, nil
}
