// 版权所有 2024 GenFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 streaming 提供把 HTTP 响应体转换为类型化事件序列的流式原语，
包括异步队列、SSE 帧解码器与带 schema 校验的事件读取器。

# 概述

大模型的流式响应以 Server-Sent Events 的形式增量到达。本包把原始字节流
逐层转换为调用方可以直接消费的事件序列：

  - 字节流 → Decoder 按 SSE 语法切分为 Frame
  - Frame → ReadEvents 做 JSON 解析与 schema 校验
  - 校验通过的事件 → Queue 按到达顺序交付给消费者

单帧校验失败只上报给错误回调，不会中断整个流；解码或读取失败则在
已缓冲事件全部交付后，以终止错误结束序列。

# 核心接口

  - Queue[T] — 有序、可关闭的异步队列，Next 在 EOF 时返回 io.EOF，
    错误关闭后错误仅上报一次。
  - Decoder — 增量 SSE 解码器，容忍任意分块边界与 \r\n 行尾。
  - ReadEvents[T] — 后台读取协程 + 校验 + 入队，流以任何方式结束时关闭响应体。

# 设计取舍

读取协程不受消费者节奏约束，队列缓冲无上限，网络读取不施加背压。
*/
package streaming
