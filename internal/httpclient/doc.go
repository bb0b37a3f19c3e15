// 版权所有 2024 GenFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 httpclient 为上游模型服务构造安全加固的 HTTP 客户端。

# 概述

TLS 1.2+，仅 AEAD 密码套件。与普通 http.Client 不同，默认不设置
整体超时（Client.Timeout 会截断长时间的 SSE 响应体），而是用
ResponseHeaderTimeout 约束"等待响应头"的时间，响应体的生命周期
交给调用方的 context 控制。
*/
package httpclient
