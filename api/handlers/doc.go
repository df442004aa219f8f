// Copyright (c) Rehearsed Authors.
// Licensed under the MIT License.

/*
Package handlers 提供 Rehearsed HTTP API 的请求处理器。

# 概述

每个 Handler 只依赖一个小接口（TurnDispatcher、AgentCatalog、
ScenarioController、RecordAdmin 等），由 agent、session、store
包中的具体类型实现，测试中可以直接替换为假实现。

# 核心类型

  - AgentHandler: 会话初始化、单轮请求（JSON/multipart）、反馈、对话回放
  - StreamHandler: /agent/ws 直播会话，升级为 WebSocket 后交给 streaming.Driver
  - ScenarioHandler: 场景列表与切换
  - SessionHandler: 会话创建与列表
  - AdminHandler: Agent、场景、子 Agent 链接的 CRUD，写入后重建当前场景
  - HealthHandler: /health、/healthz、/ready、/version

# 错误映射

领域错误经 mapError 转换为 types.Error，再由 ErrorCode 决定 HTTP 状态码。
未识别的错误统一返回 500，不向客户端暴露内部信息。
*/
package handlers
