// Copyright (c) Rehearsed Authors.
// Licensed under the MIT License.

/*
Package types 提供跨包共享的基础类型，不依赖任何内部包。

# 核心类型

  - Error / ErrorCode: 结构化错误，携带 HTTP 状态码与 Retryable 标记
  - WithUserID / WithRoles / WithTraceID: 请求上下文中的身份与追踪信息
  - RoleAdmin: 解锁管理接口的 JWT 角色
*/
package types
