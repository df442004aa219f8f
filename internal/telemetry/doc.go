// Copyright (c) Rehearsed Authors.
// Licensed under the MIT License.

// Package telemetry 封装 OpenTelemetry SDK 初始化，为调度器与 HTTP
// 中间件的 span 提供全局 TracerProvider 和 MeterProvider。禁用时
// 保持 noop 实现，不连接任何外部服务。
package telemetry
