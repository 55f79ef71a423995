// 版权所有 2026 Chatbot Retrieval Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 cache 提供基于 Redis 的共享缓存能力，作为检索结果在多个
服务进程之间共享的二级缓存层。

# 概述

本包封装 go-redis 客户端，为上层检索组件提供统一的缓存读写接口。
Manager 负责连接生命周期管理，包括初始化、健康检查与优雅关闭。

# 核心类型

  - Manager：缓存管理器，持有 Redis 客户端与连接池配置，
    提供 Get/Set/Delete 基础操作以及 GetJSON/SetJSON
    便捷序列化方法。
  - Config：缓存配置，包含地址、密码、键前缀、连接池大小、
    默认 TTL 与健康检查间隔等参数。

# 主要能力

  - 键值读写：支持字符串与 JSON 两种模式的缓存存取。
  - 键空间隔离：通过 Namespace 前缀与同一实例上的其他业务隔离。
  - 连接池管理：通过 PoolSize 与 MinIdleConns 控制连接复用。
  - 健康检查：后台定时 Ping 检测，异常时通过 zap 日志告警。
  - 优雅关闭：Close 方法安全释放底层 Redis 连接，关闭后的
    操作返回 ErrClosed。
  - 错误语义：提供 ErrCacheMiss 哨兵错误与 IsCacheMiss 判断函数。
*/
package cache
