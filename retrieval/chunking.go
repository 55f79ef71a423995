package retrieval

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"go.uber.org/zap"
)

// ChunkerConfig 分块器配置。尺寸单位全部为字符。
type ChunkerConfig struct {
	TargetSize     int    `json:"target_size" yaml:"target_size"`         // 目标块大小
	MaxSize        int    `json:"max_size" yaml:"max_size"`               // 硬上限，超过必须切分
	MinSize        int    `json:"min_size" yaml:"min_size"`               // 低于此值并入前块
	OverlapSize    int    `json:"overlap_size" yaml:"overlap_size"`       // 相邻块重叠大小
	SentenceEnders string `json:"sentence_enders" yaml:"sentence_enders"` // 句子结束符
}

// DefaultChunkerConfig 返回默认分块配置
func DefaultChunkerConfig() ChunkerConfig {
	return ChunkerConfig{
		TargetSize:     1000,
		MaxSize:        1500,
		MinSize:        100,
		OverlapSize:    100,
		SentenceEnders: ".!?\n",
	}
}

// Validate 校验分块配置
func (c ChunkerConfig) Validate() error {
	if c.TargetSize <= 0 || c.MaxSize <= 0 || c.MinSize < 0 || c.OverlapSize < 0 {
		return fmt.Errorf("%w: chunk sizes must be positive", ErrInvalidConfig)
	}
	if c.MaxSize < c.TargetSize {
		return fmt.Errorf("%w: max_size %d < target_size %d", ErrInvalidConfig, c.MaxSize, c.TargetSize)
	}
	if c.MinSize >= c.TargetSize {
		return fmt.Errorf("%w: min_size %d >= target_size %d", ErrInvalidConfig, c.MinSize, c.TargetSize)
	}
	if c.OverlapSize >= c.TargetSize {
		return fmt.Errorf("%w: overlap_size %d >= target_size %d", ErrInvalidConfig, c.OverlapSize, c.TargetSize)
	}
	return nil
}

// 内容特征分析阈值
const (
	dialogueRatioThreshold = 0.05 // 引号字符/总词数 超过此值视为对话密集
	longLineThreshold      = 100  // 平均行长超过此值视为技术性长行文本
	denseParaPerKiloChars  = 3.0  // 每千字符段落数超过此值视为段落密集
)

// contentProfile 内容特征分析结果，只影响目标大小和重叠大小
type contentProfile struct {
	targetSize  int
	overlapSize int
}

// DocumentChunker 结构感知分块器。
// 优先按标题切分章节，无结构时做语义分块，句子切分失败时回退字符级切分。
type DocumentChunker struct {
	config    ChunkerConfig
	tokenizer SentenceTokenizer
	logger    *zap.Logger
}

// NewDocumentChunker 创建分块器。tokenizer 为 nil 时使用规则句子切分器。
func NewDocumentChunker(config ChunkerConfig, tokenizer SentenceTokenizer, logger *zap.Logger) (*DocumentChunker, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if tokenizer == nil {
		tokenizer = NewLinguisticTokenizer(config.SentenceEnders)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DocumentChunker{
		config:    config,
		tokenizer: tokenizer,
		logger:    logger.With(zap.String("component", "document_chunker")),
	}, nil
}

// Chunk 把文档切分为块。空文档返回空列表。
// structure 为调用方提供的标题结构，为空时退为内置的标题识别；
// metadata 原样附加到每个产出块上。
func (c *DocumentChunker) Chunk(text string, structure []Heading, metadata map[string]string) []Chunk {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	profile := c.analyzeContent(text)
	headings := c.normalizeStructure(text, structure)
	if len(headings) == 0 {
		headings = c.detectHeadings(text)
	}

	var chunks []Chunk
	if len(headings) > 0 {
		chunks = c.chunkByStructure(text, headings, profile)
	} else {
		body, lead := c.extractLeadHeading(text)
		chunks = c.chunkSemantic(body, "", ChunkTypeText, 1.0, profile)
		if lead != "" && len(chunks) > 0 {
			chunks[0].Heading = lead
		}
	}

	chunks = c.mergeSmallChunks(chunks)
	for i := range chunks {
		if len(metadata) > 0 {
			chunks[i].Metadata = cloneMetadata(metadata)
		}
	}
	c.logger.Debug("文档分块完成",
		zap.Int("document_chars", len(text)),
		zap.Int("headings", len(headings)),
		zap.Int("chunks", len(chunks)))
	return chunks
}

// normalizeStructure 过滤越界标题并按位置排序，不修改调用方切片
func (c *DocumentChunker) normalizeStructure(text string, structure []Heading) []Heading {
	if len(structure) == 0 {
		return nil
	}
	out := make([]Heading, 0, len(structure))
	for _, h := range structure {
		if h.StartPosition >= 0 && h.StartPosition < len(text) {
			out = append(out, h)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].StartPosition < out[j].StartPosition
	})
	return out
}

// extractLeadHeading 无结构文本的首行短于最小块时抽出作为标题
func (c *DocumentChunker) extractLeadHeading(text string) (body, heading string) {
	nl := strings.Index(text, "\n")
	if nl <= 0 {
		return text, ""
	}
	first := strings.TrimSpace(text[:nl])
	rest := text[nl+1:]
	if first == "" || len(first) >= c.config.MinSize || strings.TrimSpace(rest) == "" {
		return text, ""
	}
	return rest, first
}

// analyzeContent 分析文本特征，动态调整目标大小与重叠
func (c *DocumentChunker) analyzeContent(text string) contentProfile {
	p := contentProfile{targetSize: c.config.TargetSize, overlapSize: c.config.OverlapSize}

	words := len(strings.Fields(text))
	if words == 0 {
		return p
	}

	quotes := strings.Count(text, `"`) + strings.Count(text, "“") + strings.Count(text, "”")
	if float64(quotes)/float64(words) > dialogueRatioThreshold {
		// 对话密集：缩小块、加大重叠，保持说话轮次的连贯
		p.targetSize = int(float64(p.targetSize) * 0.8)
		p.overlapSize = int(float64(p.overlapSize) * 1.2)
	}

	lines := strings.Split(text, "\n")
	nonEmpty, totalLen := 0, 0
	for _, l := range lines {
		if strings.TrimSpace(l) != "" {
			nonEmpty++
			totalLen += len(l)
		}
	}
	if nonEmpty > 0 && totalLen/nonEmpty > longLineThreshold {
		// 长行文本（技术文档、日志）：放大块容纳完整行
		p.targetSize = int(float64(p.targetSize) * 1.2)
	}

	paraBreaks := strings.Count(text, "\n\n")
	if float64(paraBreaks)/float64(len(text))*1000 > denseParaPerKiloChars {
		p.targetSize = int(float64(p.targetSize) * 1.1)
	}

	if p.targetSize > c.config.MaxSize {
		p.targetSize = c.config.MaxSize
	}
	if p.overlapSize >= p.targetSize {
		p.overlapSize = p.targetSize / 2
	}
	return p
}

var (
	markdownHeadingRe = regexp.MustCompile(`(?m)^(#{1,6})\s+(.+)$`)
	numberedHeadingRe = regexp.MustCompile(`(?m)^((?:\d+\.)+\d*)\s+(\S.{0,80})$`)
)

// detectHeadings 识别 Markdown 标题和编号标题，按出现位置排序
func (c *DocumentChunker) detectHeadings(text string) []Heading {
	var headings []Heading
	for _, m := range markdownHeadingRe.FindAllStringSubmatchIndex(text, -1) {
		headings = append(headings, Heading{
			StartPosition: m[0],
			Level:         m[3] - m[2],
			Text:          strings.TrimSpace(text[m[4]:m[5]]),
		})
	}
	for _, m := range numberedHeadingRe.FindAllStringSubmatchIndex(text, -1) {
		numbering := text[m[2]:m[3]]
		level := strings.Count(numbering, ".")
		if level > 6 {
			level = 6
		}
		headings = append(headings, Heading{
			StartPosition: m[0],
			Level:         level,
			Text:          strings.TrimSpace(text[m[0]:m[1]]),
		})
	}
	// 两类标题合并后按位置排序
	for i := 1; i < len(headings); i++ {
		for j := i; j > 0 && headings[j].StartPosition < headings[j-1].StartPosition; j-- {
			headings[j], headings[j-1] = headings[j-1], headings[j]
		}
	}
	return headings
}

// chunkByStructure 按标题切分章节，超长章节做语义细分
func (c *DocumentChunker) chunkByStructure(text string, headings []Heading, profile contentProfile) []Chunk {
	var chunks []Chunk

	// 首个标题之前的前言作为无标题文本处理
	if headings[0].StartPosition > 0 {
		preamble := text[:headings[0].StartPosition]
		if strings.TrimSpace(preamble) != "" {
			chunks = append(chunks, c.chunkSemantic(preamble, "", ChunkTypeText, 1.0, profile)...)
		}
	}

	for i, h := range headings {
		end := len(text)
		if i+1 < len(headings) {
			end = headings[i+1].StartPosition
		}
		section := text[h.StartPosition:end]
		if strings.TrimSpace(section) == "" {
			continue
		}

		importance := c.sectionImportance(h, section)
		if len(section) <= c.config.MaxSize {
			chunks = append(chunks, Chunk{
				Content:         strings.TrimSpace(section),
				Heading:         h.Text,
				Type:            ChunkTypeSection,
				ImportanceScore: importance,
			})
			continue
		}
		chunks = append(chunks, c.chunkSemantic(section, h.Text, ChunkTypeSectionPart, importance, profile)...)
	}
	return chunks
}

// 提升章节重要度的标题关键词
var importantHeadingWords = []string{
	"introduction", "overview", "summary", "conclusion", "abstract",
	"key", "important", "critical", "results", "findings",
	"概述", "简介", "总结", "结论", "摘要", "重要",
}

// 重要度公式：层级越浅越重要，关键词标题和适中信息密度加分，上限 2.0
func (c *DocumentChunker) sectionImportance(h Heading, section string) float64 {
	level := h.Level
	if level > 6 {
		level = 6
	}
	score := 1.0 + 0.15*float64(7-level)

	lower := strings.ToLower(h.Text)
	for _, w := range importantHeadingWords {
		if strings.Contains(lower, w) {
			score += 0.3
			break
		}
	}

	words := len(strings.Fields(section))
	if words > 0 {
		sentences := len(c.tokenizer.Sentences(section))
		per100 := float64(sentences) / float64(words) * 100
		if per100 >= 3 && per100 <= 8 {
			score += 0.2
		}
	}

	return clamp(score, 0, 2.0)
}

// 语义断点词表：以这些词开头的句子通常开启新的语义单元
var discourseMarkers = map[string]struct{}{
	"however": {}, "meanwhile": {}, "therefore": {}, "finally": {},
	"furthermore": {}, "moreover": {}, "nevertheless": {}, "consequently": {},
	"first": {}, "second": {}, "third": {}, "lastly": {}, "next": {},
}

// 场景切换标记：叙事文本中的时间跳转
var sceneMarkers = []string{
	"later", "afterward", "afterwards", "eventually", "suddenly",
	"the next day", "that night", "the following", "hours later", "years later",
}

// 说话人切换：Name said/asked/... 开头的句子
var speakerChangeRe = regexp.MustCompile(`^[A-Z][a-z]+\s+(?:said|asked|replied|answered|continued|added|shouted|whispered)\b`)

// 结论性措辞：出现在句中即视为合适的断块位置
var conclusionPhrases = []string{
	"in conclusion", "in summary", "to summarize", "in short", "overall", "finally",
}

// 新话题引导词：下一句以它们开头时适合在其前断块
var topicStarters = map[string]struct{}{
	"now": {}, "next": {}, "another": {}, "regarding": {},
	"moving": {}, "turning": {}, "additionally": {}, "separately": {},
}

// isSemanticBreak 判断句子是否开启新的语义单元：
// 语篇标记、对话引号、场景切换或说话人切换
func isSemanticBreak(sentence string) bool {
	fields := strings.Fields(sentence)
	if len(fields) == 0 {
		return false
	}
	first := strings.ToLower(strings.Trim(fields[0], ",.;:"))
	if _, ok := discourseMarkers[first]; ok {
		return true
	}
	if strings.HasPrefix(sentence, `"`) || strings.HasPrefix(sentence, "“") {
		return true
	}
	lower := strings.ToLower(sentence)
	for _, m := range sceneMarkers {
		if strings.HasPrefix(lower, m) {
			return true
		}
	}
	return speakerChangeRe.MatchString(sentence)
}

// isGoodBreakpoint 判断当前句和下一句之间是否适合闭合一个块：
// 终止标点接大写开头、结论性措辞，或下一句以新话题引导词开头
func isGoodBreakpoint(current, next string) bool {
	if next == "" {
		return true
	}
	lower := strings.ToLower(current)
	for _, p := range conclusionPhrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	nf := strings.Fields(next)
	if len(nf) > 0 {
		first := strings.ToLower(strings.Trim(nf[0], ",.;:"))
		if _, ok := topicStarters[first]; ok {
			return true
		}
	}
	cr := []rune(strings.TrimSpace(current))
	nr := []rune(strings.TrimSpace(next))
	if len(cr) > 0 && len(nr) > 0 &&
		strings.ContainsRune(".!?", cr[len(cr)-1]) && unicode.IsUpper(nr[0]) {
		return true
	}
	return false
}

// chunkSemantic 句子级语义分块。句子切分无产出时回退字符级切分。
// 累积到硬上限强制断块；过最小块后优先在语义断点断；
// 过目标大小后在合适的句间断点闭合。
// 同一章节切出的后续块重要度按序衰减，下限 0.5。
func (c *DocumentChunker) chunkSemantic(text, heading string, chunkType ChunkType, importance float64, profile contentProfile) []Chunk {
	sentences := c.tokenizer.Sentences(text)
	if len(sentences) == 0 {
		c.logger.Debug("句子切分无产出，回退字符级切分", zap.Int("chars", len(text)))
		return c.chunkByChars(text, heading, chunkType, importance, profile)
	}

	var chunks []Chunk
	var current []string
	currentLen := 0 // 含重叠种子在内的累积长度
	seedLen := 0    // 其中来自上一块重叠种子的部分

	// flush 只在种子之外有新内容时产出，重叠种子本身不会重复成块
	flush := func() {
		if currentLen <= seedLen {
			return
		}
		content := strings.TrimSpace(strings.Join(current, " "))
		if content == "" {
			current, currentLen, seedLen = current[:0], 0, 0
			return
		}
		chunks = append(chunks, Chunk{
			Content:         content,
			Heading:         heading,
			Type:            chunkType,
			ImportanceScore: c.decayImportance(importance, len(chunks)),
		})
		// 重叠播种：从尾部回抽句子，承接词开头的句子保持与前句同块
		seed, sl := c.overlapSeed(current, profile.overlapSize)
		current, currentLen, seedLen = seed, sl, sl
	}

	for i, s := range sentences {
		// 单句超过硬上限，字符级强制切分
		if len(s) > c.config.MaxSize {
			flush()
			current, currentLen, seedLen = nil, 0, 0
			chunks = append(chunks, c.splitOversized(s, heading, chunkType, importance, len(chunks))...)
			continue
		}
		if currentLen > 0 && currentLen+len(s)+1 > c.config.MaxSize {
			flush()
			// 种子本身过大时整体丢弃，保证新块不越过硬上限
			if currentLen+len(s)+1 > c.config.MaxSize {
				current, currentLen, seedLen = nil, 0, 0
			}
		}
		// 过最小块后优先在语义断点断块
		if currentLen >= c.config.MinSize && isSemanticBreak(s) {
			flush()
		}
		current = append(current, s)
		currentLen += len(s) + 1
		// 到目标大小且句间构成合适断点时闭合
		if currentLen >= profile.targetSize {
			next := ""
			if i+1 < len(sentences) {
				next = sentences[i+1]
			}
			if isGoodBreakpoint(s, next) {
				flush()
			}
		}
	}
	// 尾部残留：种子之外有新内容才产出
	if currentLen > seedLen {
		content := strings.TrimSpace(strings.Join(current, " "))
		if content != "" {
			chunks = append(chunks, Chunk{
				Content:         content,
				Heading:         heading,
				Type:            chunkType,
				ImportanceScore: c.decayImportance(importance, len(chunks)),
			})
		}
	}
	return chunks
}

// overlapSeed 从块尾部回抽不超过 overlapSize 的句子作为下一块的开头
func (c *DocumentChunker) overlapSeed(sentences []string, overlapSize int) ([]string, int) {
	if overlapSize <= 0 || len(sentences) == 0 {
		return nil, 0
	}
	var seed []string
	total := 0
	for i := len(sentences) - 1; i >= 0; i-- {
		s := sentences[i]
		if total+len(s)+1 > overlapSize {
			// 已够一半重叠且当前种子首句不依赖前文，停止回抽
			if total >= overlapSize/2 && (len(seed) == 0 || !needsAntecedent(seed[0])) {
				break
			}
			if total > 0 {
				break
			}
			// 单句已远超重叠预算，放弃播种
			if len(s)+1 > overlapSize*2 {
				break
			}
		}
		seed = append([]string{s}, seed...)
		total += len(s) + 1
		if total >= overlapSize && !needsAntecedent(seed[0]) {
			break
		}
	}
	return seed, total
}

// splitOversized 超长单句的强制切分。
// 以字节长度对齐上限，但只在码点边界断开，多字节字符不被截断。
func (c *DocumentChunker) splitOversized(s, heading string, chunkType ChunkType, importance float64, baseIdx int) []Chunk {
	var chunks []Chunk
	emit := func(content string) {
		content = strings.TrimSpace(content)
		if content == "" {
			return
		}
		chunks = append(chunks, Chunk{
			Content:         content,
			Heading:         heading,
			Type:            chunkType,
			ImportanceScore: c.decayImportance(importance, baseIdx+len(chunks)),
		})
	}

	var sb strings.Builder
	for _, r := range s {
		if sb.Len()+utf8.RuneLen(r) > c.config.MaxSize && sb.Len() > 0 {
			emit(sb.String())
			sb.Reset()
		}
		sb.WriteRune(r)
	}
	emit(sb.String())
	return chunks
}

// chunkByChars 字符级回退切分：优先在句子结束符处断开，
// 到目标大小后寻找断点，到硬上限强制切分，块间保留重叠。
func (c *DocumentChunker) chunkByChars(text, heading string, chunkType ChunkType, importance float64, profile contentProfile) []Chunk {
	var chunks []Chunk
	runes := []rune(text)

	emit := func(content string) {
		content = strings.TrimSpace(content)
		if content == "" {
			return
		}
		chunks = append(chunks, Chunk{
			Content:         content,
			Heading:         heading,
			Type:            chunkType,
			ImportanceScore: c.decayImportance(importance, len(chunks)),
		})
	}

	start := 0
	lastBreak := -1
	for i := 0; i < len(runes); i++ {
		if strings.ContainsRune(c.config.SentenceEnders, runes[i]) {
			lastBreak = i
		}
		size := i - start + 1
		if size >= profile.targetSize && lastBreak > start {
			emit(string(runes[start : lastBreak+1]))
			start = c.overlapStart(lastBreak+1, profile.overlapSize)
			lastBreak = -1
			continue
		}
		if size >= c.config.MaxSize {
			emit(string(runes[start : i+1]))
			start = c.overlapStart(i+1, profile.overlapSize)
			lastBreak = -1
		}
	}
	if start < len(runes) {
		tail := strings.TrimSpace(string(runes[start:]))
		// 尾部只剩重叠部分时不重复产出
		if tail != "" && (len(chunks) == 0 || !strings.Contains(chunks[len(chunks)-1].Content, tail)) {
			emit(tail)
		}
	}
	return chunks
}

func (c *DocumentChunker) overlapStart(cutPos, overlapSize int) int {
	start := cutPos - overlapSize
	if start < 0 {
		start = 0
	}
	return start
}

// decayImportance 同章节后续块的重要度按 importance×(1−idx×0.1) 衰减，
// 乘积下限 0.5
func (c *DocumentChunker) decayImportance(importance float64, idx int) float64 {
	decayed := importance * (1.0 - float64(idx)*0.1)
	if decayed < 0.5 {
		decayed = 0.5
	}
	return decayed
}

// mergeSmallChunks 把低于最小尺寸的块并入前一块
func (c *DocumentChunker) mergeSmallChunks(chunks []Chunk) []Chunk {
	if len(chunks) == 0 {
		return chunks
	}
	out := chunks[:0]
	for _, ch := range chunks {
		if len(ch.Content) < c.config.MinSize && len(out) > 0 &&
			len(out[len(out)-1].Content)+len(ch.Content)+1 <= c.config.MaxSize {
			prev := &out[len(out)-1]
			prev.Content = prev.Content + "\n" + ch.Content
			if ch.ImportanceScore > prev.ImportanceScore {
				prev.ImportanceScore = ch.ImportanceScore
			}
			continue
		}
		out = append(out, ch)
	}
	return out
}
