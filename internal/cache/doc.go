// Copyright (c) Rehearsed Authors.
// Licensed under the MIT License.

/*
包 cache 提供基于 Redis 的缓存管理，目前用于缓存合成音频。

# 概述

Manager 封装 go-redis 客户端，负责连接、健康检查与关闭。
TLSEnabled 时使用 internal/tlsutil 的加固配置。未命中返回
ErrCacheMiss，关闭后的调用返回 ErrClosed。

# 核心类型

  - Manager：Get/Set/Delete/Ping 以及 GetStats
  - Config：地址、连接池、默认 TTL 与健康检查间隔
  - Stats：由 INFO 输出解析的命中、内存与连接数
*/
package cache
