// Copyright (c) Rehearsed Authors.
// Licensed under the MIT License.

/*
包 streaming 把客户端 WebSocket 与引擎直播会话配对，实现低延迟的
文本与音频双向中继。

# 概述

每个直播会话经历 Idle → Starting → Active → Closing → Terminated。
Starting 阶段按名称解析根 Agent、获取或创建会话、选择响应模态
（TEXT 或 AUDIO）并绑定音色，然后打开引擎直播会话。Active 阶段
在同一个 errgroup 中运行出站与入站两个中继，任一中继结束即取消
另一个。Closing 阶段关闭引擎输入与 socket，随后进入终态。

# 帧格式

  - 入站：{"mime_type": "text/plain", "data": "..."} 或
    {"mime_type": "audio/pcm", "data": "<base64>"}，其他类型返回
    ErrUnsupportedMimeType 并终止会话
  - 出站：控制帧 {"turn_complete": true} / {"interrupted": true}，
    数据帧 {"mime_type": ..., "data": ...}

# 核心类型

  - Driver：持有 Agent 查找、会话存储与引擎，创建 Session
  - Session：单次直播会话的状态机，State() 可随时观察
  - Conn：客户端 socket 抽象；WebSocketConn 适配 coder/websocket
*/
package streaming
