// Copyright (c) Rehearsed Authors.
// Licensed under the MIT License.

/*
包 store 提供 Agent 记录、场景与子 Agent 链接的关系型存储。

# 概述

RecordStore 基于 GORM，既是 Agent 注册表的批量读取源
（ListAgentRecords 一次读取整个场景），也是管理端 CRUD 的落点。
缺失的行统一返回 ErrNotFound，唯一约束冲突返回 ErrConflict。

# 种子数据

ParseSeed 读取 YAML 种子文件，LoadSeed 在一个可重试事务中按场景写入
Agent，并把按名称引用的子 Agent 解析为 sub_agent_ids 与链接表。
已存在的同名场景会被跳过。
*/
package store
