// Copyright (c) GenFlow Authors.
// Licensed under the MIT License.

/*
Package schema 定义流式事件与响应体的校验能力。

# 概述

Schema[T] 只有一个能力：把原始 JSON 校验并转换为类型化的值，
失败时返回带诊断信息的 VALIDATION_ERROR。任何满足该接口的实现
（结构校验器、生成的解析器、手写函数）都可以替换使用。

# 内置实现

  - Func[T]       — 函数适配器
  - JSON[T]       — 直接反序列化，可选拒绝未知字段
  - Definition    — JSON Schema 子集（type/required/enum/const/
    长度/数值边界/pattern/format/items/additionalProperties）
  - Typed[T]      — 先按 Definition 做结构校验，再反序列化为 T
*/
package schema
