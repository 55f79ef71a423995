// Package config 提供检索服务的配置管理功能。
//
// 支持从默认值、YAML 文件和环境变量加载配置，
// 优先级依次递增，并提供统一的配置校验入口。
package config
