// Copyright (c) Rehearsed Authors.
// Licensed under the MIT License.

/*
包 metrics 基于 Prometheus 暴露服务指标。

# 概述

Collector 在构造时把全部指标注册到给定的 prometheus.Registerer
（测试使用独立的 prometheus.NewRegistry()）。它同时实现各组件的
Recorder 接口，组件只依赖接口，不依赖本包。

# 指标分组

  - HTTP：请求数、延迟、响应大小
  - 注册表：重建次数、重建耗时、当前快照中的 Agent 数
  - 回合：按根 Agent 与结果统计的回合数与耗时
  - 直播：状态进入次数、会话结果与时长
  - 语音与缓存：TTS/STT 调用、音频缓存命中率
  - 数据库：连接池快照
*/
package metrics
