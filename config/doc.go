// 版权所有 2024 GenFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 config 提供 GenFlow 的配置加载与热重载。

加载顺序为默认值、YAML 文件、GENFLOW_ 前缀的环境变量，最后运行校验器。
Reloader 轮询配置文件，内容变化时重新加载并通知回调；目前运行时会据此
更新日志级别与价格表，其余字段在下次启动时生效。
*/
package config
