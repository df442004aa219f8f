// Copyright (c) Rehearsed Authors.
// Licensed under the MIT License.

/*
Package main 提供 Rehearsed 服务端程序入口。

# 子命令

  - serve: 装配全部组件并启动 HTTP 与 Metrics 双端口
  - migrate: 对记录表与会话表执行 AutoMigrate
  - seed: 从 YAML 导入场景，同名场景跳过
  - version / health

# 装配顺序

数据库连接池 → 记录与会话存储 → Gemini 模型与能力注册表 →
Agent 注册表与场景服务 → 运行器、回合分发器、直播驱动 →
语音链 Cached(Breaker(OpenAI)) → Handlers。

# 中间件链

Recovery、RequestID、SecurityHeaders、OTelTracing、MetricsMiddleware、
RequestLogger、CORS、RateLimiter（按 IP）。/admin 路由另外经过
JWTAuth 与 RequireRole；未配置 jwt.secret 时不注册管理接口。

# 超时

直播 WebSocket 连接要求 server.write_timeout 为 0。
*/
package main
