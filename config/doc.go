// Copyright (c) Rehearsed Authors.
// Licensed under the MIT License.

// Package config 提供 Rehearsed 的配置加载。
//
// 配置按 默认值 → YAML 文件 → 环境变量 叠加，环境变量键由 env 标签拼接，
// 例如 REHEARSED_DATABASE_POOL_MAX_OPEN_CONNS。Validate 一次性报告所有错误。
package config
