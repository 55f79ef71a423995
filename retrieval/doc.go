// Copyright 2025-2026 Chatbot Retrieval Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
# 概述

Package retrieval 实现多阶段 RAG 检索引擎：结构感知分块、BM25 词法打分、
稠密+词法混合检索、查询分析驱动的自适应参数调整、启发式重排序和
自适应阈值筛选。

引擎是一个编排层：向量相似度查询和文本嵌入由外部能力
（VectorQuerier / Embedder 接口）提供，引擎负责其余全部阶段，
并在外部能力失败时逐级降级而不是向调用方抛错。

# 核心接口/类型

  - DocumentChunker — 结构感知 + 语义分块器，产出带重要度评分的 Chunk
  - LexicalScorer — BM25 词法打分器（k1=1.5, b=0.75）
  - HybridSearcher — 稠密+词法混合检索，权重归一化融合
  - QueryAnalyzer — 查询类型与复杂度分析（specific > comparative > temporal > general）
  - Reranker — 启发式交叉编码风格重排序
  - MultiStageRetriever — 多阶段编排器（分析 → 初检 → 回退 → 重排 → 自适应阈值筛选）
  - CacheService — TTL 失效的相似度/上下文缓存
  - VectorQuerier / Embedder — 外部向量查询与嵌入能力接口

# 主要能力

  - 结构感知分块：按标题切分章节，超长章节语义细分并带上下文重叠（DocumentChunker）
  - 内容特征分析：对话密度、行长、段落密度动态调整块目标大小
  - 混合检索：BM25 + 稠密相似度加权融合，查询文本缺失时自动降级为纯稠密检索
  - 查询自适应：复杂度决定扩展倍数与阈值，比较类查询自动放宽初检阈值
  - 自适应阈值：检测头部分数断崖，收紧最终阈值只保留头部结果
  - 永不空手：只要初检有候选，最终至少返回最优一条
  - 工厂函数：NewEngineFromConfig 从配置一键创建完整检索管线
*/
package retrieval
