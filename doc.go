// 版权所有 2024 GenFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 genflow 把一份 config.Config 组装成可直接使用的运行时。

# 概述

New 依次构建 Prometheus 指标、OpenTelemetry、响应缓存（可选 Redis
二级存储）、用量账本（可选数据库）、成本核算与 pipeline.Executor，
最后创建 OpenAI 兼容 Provider：

	cfg, _ := config.NewLoader().WithConfigPath("genflow.yaml").Load()
	logger, level, _ := logging.New(cfg.Log)
	rt, err := genflow.New(ctx, cfg, logger, genflow.WithLevel(level))
	if err != nil {
		return err
	}
	defer rt.Close(context.Background())

	q, err := rt.Provider().Stream(ctx, req)

# 热重载

WatchConfig 轮询配置文件，变化后更新日志级别与价格表。连接类配置
（上游地址、Redis、数据库）需要重建 Runtime。
*/
package genflow
