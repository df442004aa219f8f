// Copyright (c) Rehearsed Authors.
// Licensed under the MIT License.

/*
包 server 管理 HTTP/HTTPS 服务器的生命周期。

# 概述

Manager 封装 net/http.Server：Start 非阻塞监听，配置了证书与私钥时
使用 internal/tlsutil 的加固 TLS；Shutdown 在超时内排空请求；Wait
阻塞到 ctx 结束、收到 SIGINT/SIGTERM 或服务异常退出。rehearsed
进程运行两个 Manager，分别承载 API 与 /metrics。

直播 WebSocket 连接会长时间占用写通道，因此 API 服务器的
WriteTimeout 保持为 0。
*/
package server
