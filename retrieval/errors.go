package retrieval

import "errors"

// 检索引擎错误分类。可降级错误由引擎内部吸收并回退，
// 不可降级错误（配置无效、上下文取消）原样向调用方返回。
var (
	// ErrNoCandidates 所有阶段（含回退检索）结束后仍无候选
	ErrNoCandidates = errors.New("retrieval: no candidates found")

	// ErrEmptyQueryTerms 查询文本分词后为空，词法打分无法进行
	ErrEmptyQueryTerms = errors.New("retrieval: query produced no lexical terms")

	// ErrHybridSearchFailed 混合检索失败且语义回退也失败
	ErrHybridSearchFailed = errors.New("retrieval: hybrid search failed")

	// ErrMultiStageFailed 多阶段编排失败且单阶段回退也失败
	ErrMultiStageFailed = errors.New("retrieval: multi-stage retrieval failed")

	// ErrInvalidConfig 配置校验失败
	ErrInvalidConfig = errors.New("retrieval: invalid configuration")
)
