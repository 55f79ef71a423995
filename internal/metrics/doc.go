// 版权所有 2026 Chatbot Retrieval Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 metrics 提供基于 Prometheus 的检索引擎指标采集能力，覆盖
查询、检索耗时、缓存与文档摄取四大维度。

# 概述

本包通过 Collector 统一注册和记录 Prometheus 指标，使用 promauto
工厂注册机制，默认挂到全局 Registry，测试可传入独立 Registry。
所有指标按 namespace 隔离，支持多维度 label 分组，便于 Grafana
等工具进行可视化与告警。

# 核心类型

  - Collector：指标收集器，持有 Counter、Histogram 等
    Prometheus 向量指标，按业务域分组管理。

# 主要能力

  - 查询指标：查询总数按查询类型与复杂度档位分组，
    检索耗时按 multi_stage/single_stage 模式分组，降级计数。
  - 缓存指标：命中与未命中计数，按缓存类型分组。
  - 摄取指标：文档与块计数、嵌入调用耗时按状态分组。
*/
package metrics
