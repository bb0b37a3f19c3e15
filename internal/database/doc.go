// 版权所有 2024 GenFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 database 负责打开用量账本所用的数据库并管理其连接池。

# 概述

Open 按 config.DatabaseConfig 的 Driver 选择 GORM 方言（postgres、
mysql 或纯 Go 的 sqlite），PoolManager 在其上配置连接池参数、定时
探活，并可把连接数上报到 metrics.Collector。

# 事务

WithTransaction 执行单次事务；WithTransactionRetry 借助 llm/retry
的指数退避，在死锁、序列化失败、锁超时与连接中断时整体重试事务。
*/
package database
