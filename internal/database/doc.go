// Copyright (c) Rehearsed Authors.
// Licensed under the MIT License.

/*
包 database 管理 GORM 连接池，提供健康检查、统计上报与可重试事务。

# 概述

PoolManager 在构造时校验并应用 PoolConfig，随后按间隔 Ping 数据库；
每次成功探活后把连接池快照交给 StatsRecorder（通常是
internal/metrics.Collector）。Close 会停止后台循环。

# 事务

WithTransactionRetry 对死锁、序列化失败、连接中断与 SQLite 的
"database is locked" 按指数退避重试；唯一键冲突、记录不存在与
上下文取消直接返回。store.LoadSeed 通过它写入种子数据。
*/
package database
