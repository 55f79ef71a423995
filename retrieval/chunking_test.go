package retrieval

import (
	"strings"
	"testing"
	"unicode/utf8"

	"pgregory.net/rapid"
)

func newTestChunker(t *testing.T, cfg ChunkerConfig) *DocumentChunker {
	t.Helper()
	chunker, err := NewDocumentChunker(cfg, nil, nil)
	if err != nil {
		t.Fatalf("NewDocumentChunker: %v", err)
	}
	return chunker
}

func TestDocumentChunker_EmptyDocument(t *testing.T) {
	t.Parallel()

	chunker := newTestChunker(t, DefaultChunkerConfig())
	for _, doc := range []string{"", "   ", "\n\n\t"} {
		if got := chunker.Chunk(doc, nil, nil); len(got) != 0 {
			t.Fatalf("Chunk(%q) = %d chunks, want 0", doc, len(got))
		}
	}
}

func TestDocumentChunker_SmallSectionStaysWhole(t *testing.T) {
	t.Parallel()

	chunker := newTestChunker(t, DefaultChunkerConfig())
	doc := "# Introduction\n\nA short section that easily fits in one chunk. It has two sentences."
	chunks := chunker.Chunk(doc, nil, nil)
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if chunks[0].Type != ChunkTypeSection {
		t.Fatalf("expected section chunk, got %s", chunks[0].Type)
	}
	if chunks[0].Heading != "Introduction" {
		t.Fatalf("expected heading Introduction, got %q", chunks[0].Heading)
	}
}

func TestDocumentChunker_StructuredDocument(t *testing.T) {
	t.Parallel()

	cfg := DefaultChunkerConfig()
	cfg.TargetSize = 200
	cfg.MaxSize = 300
	cfg.MinSize = 20
	cfg.OverlapSize = 40
	chunker := newTestChunker(t, cfg)

	body := strings.Repeat("The quick brown fox jumps over the lazy dog near the river bank. ", 10)
	doc := "Preamble text before the first heading. It stands on its own here.\n\n" +
		"# Overview\n" + body +
		"\n## Details\n" + body +
		"\n1.2 Numbered Part\n" + body

	chunks := chunker.Chunk(doc, nil, nil)
	if len(chunks) < 4 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}

	headings := map[string]bool{}
	for i, c := range chunks {
		if strings.TrimSpace(c.Content) == "" {
			t.Fatalf("chunk %d has empty content", i)
		}
		if len(c.Content) > cfg.MaxSize {
			t.Fatalf("chunk %d exceeds max size: %d > %d", i, len(c.Content), cfg.MaxSize)
		}
		headings[c.Heading] = true
	}
	for _, want := range []string{"Overview", "Details"} {
		if !headings[want] {
			t.Fatalf("missing chunks for heading %q (have %v)", want, headings)
		}
	}
	// 编号标题也要被识别
	found := false
	for h := range headings {
		if strings.Contains(h, "Numbered Part") {
			found = true
		}
	}
	if !found {
		t.Fatalf("numbered heading not detected: %v", headings)
	}

	// 前言作为无标题文本块
	if chunks[0].Heading != "" || chunks[0].Type != ChunkTypeText {
		t.Fatalf("expected untitled preamble first, got %+v", chunks[0])
	}
}

func TestDocumentChunker_TopLevelHeadingMoreImportant(t *testing.T) {
	t.Parallel()

	cfg := DefaultChunkerConfig()
	chunker := newTestChunker(t, cfg)

	body := "Plain descriptive paragraph about the system internals and behavior, " +
		"long enough to stand alone as a chunk without being merged into neighbors."
	doc := "# Top\n" + body + "\n###### Deep\n" + body

	chunks := chunker.Chunk(doc, nil, nil)
	var top, deep float64
	for _, c := range chunks {
		switch c.Heading {
		case "Top":
			top = c.ImportanceScore
		case "Deep":
			deep = c.ImportanceScore
		}
	}
	if top == 0 || deep == 0 {
		t.Fatalf("expected both sections chunked, got %+v", chunks)
	}
	if top <= deep {
		t.Fatalf("expected level-1 heading more important: top=%f deep=%f", top, deep)
	}
}

func TestDocumentChunker_KeywordHeadingBoost(t *testing.T) {
	t.Parallel()

	chunker := newTestChunker(t, DefaultChunkerConfig())
	body := "Plain descriptive paragraph about the system internals and behavior, " +
		"long enough to stand alone as a chunk without being merged into neighbors."
	doc := "## Summary\n" + body + "\n## Appendix\n" + body

	chunks := chunker.Chunk(doc, nil, nil)
	var summary, appendix float64
	for _, c := range chunks {
		switch c.Heading {
		case "Summary":
			summary = c.ImportanceScore
		case "Appendix":
			appendix = c.ImportanceScore
		}
	}
	if summary <= appendix {
		t.Fatalf("expected keyword heading boost: summary=%f appendix=%f", summary, appendix)
	}
}

func TestDocumentChunker_ImportanceDecayWithinSection(t *testing.T) {
	t.Parallel()

	cfg := DefaultChunkerConfig()
	cfg.TargetSize = 150
	cfg.MaxSize = 200
	cfg.MinSize = 20
	cfg.OverlapSize = 30
	chunker := newTestChunker(t, cfg)

	body := strings.Repeat("Another complete sentence that adds bulk to this long section body. ", 12)
	chunks := chunker.Chunk("# Long Section\n"+body, nil, nil)
	if len(chunks) < 2 {
		t.Fatalf("expected section to be split, got %d chunks", len(chunks))
	}
	for i := 1; i < len(chunks); i++ {
		if chunks[i].ImportanceScore > chunks[i-1].ImportanceScore {
			t.Fatalf("importance must not increase within a section: chunk %d %f > chunk %d %f",
				i, chunks[i].ImportanceScore, i-1, chunks[i-1].ImportanceScore)
		}
	}
}

func TestDocumentChunker_OverlapBetweenChunks(t *testing.T) {
	t.Parallel()

	cfg := DefaultChunkerConfig()
	cfg.TargetSize = 150
	cfg.MaxSize = 250
	cfg.MinSize = 20
	cfg.OverlapSize = 60
	chunker := newTestChunker(t, cfg)

	var sb strings.Builder
	for i := 0; i < 12; i++ {
		sb.WriteString("Sentence number ")
		sb.WriteString(strings.Repeat("x", i+1))
		sb.WriteString(" carries some distinct payload content. ")
	}
	chunks := chunker.Chunk(sb.String(), nil, nil)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}

	// 相邻块之间应有共享句子
	overlapped := false
	for i := 1; i < len(chunks); i++ {
		prev := chunks[i-1].Content
		firstSentence := strings.SplitAfter(chunks[i].Content, ".")[0]
		if firstSentence != "" && strings.Contains(prev, strings.TrimSpace(firstSentence)) {
			overlapped = true
			break
		}
	}
	if !overlapped {
		t.Fatal("expected sentence overlap between adjacent chunks")
	}
}

func TestDocumentChunker_OversizedSentenceForceSplit(t *testing.T) {
	t.Parallel()

	cfg := DefaultChunkerConfig()
	cfg.TargetSize = 100
	cfg.MaxSize = 120
	cfg.MinSize = 10
	cfg.OverlapSize = 20
	chunker := newTestChunker(t, cfg)

	// 无结束符的超长单句
	doc := strings.Repeat("abcdefghij", 60)
	chunks := chunker.Chunk(doc, nil, nil)
	if len(chunks) < 2 {
		t.Fatalf("expected oversized text split, got %d chunks", len(chunks))
	}
	for i, c := range chunks {
		if len(c.Content) > cfg.MaxSize {
			t.Fatalf("chunk %d exceeds max size: %d", i, len(c.Content))
		}
	}
}

func TestDocumentChunker_MergeSmallChunks(t *testing.T) {
	t.Parallel()

	cfg := DefaultChunkerConfig()
	cfg.MinSize = 50
	chunker := newTestChunker(t, cfg)

	doc := "# First\nA solid paragraph with enough text to stand on its own as a chunk.\n# Tiny\nShort."
	chunks := chunker.Chunk(doc, nil, nil)
	for i, c := range chunks {
		if len(c.Content) < cfg.MinSize && i > 0 {
			t.Fatalf("chunk %d below min size was not merged: %q", i, c.Content)
		}
	}
}

func TestChunkerConfig_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*ChunkerConfig)
		wantErr bool
	}{
		{"默认配置有效", func(*ChunkerConfig) {}, false},
		{"目标大小为零", func(c *ChunkerConfig) { c.TargetSize = 0 }, true},
		{"上限小于目标", func(c *ChunkerConfig) { c.MaxSize = c.TargetSize - 1 }, true},
		{"下限不小于目标", func(c *ChunkerConfig) { c.MinSize = c.TargetSize }, true},
		{"重叠不小于目标", func(c *ChunkerConfig) { c.OverlapSize = c.TargetSize }, true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := DefaultChunkerConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

// 属性：任意文本分块后，无结构文本的块不超过硬上限，且无空块
func TestDocumentChunker_ChunkBounds(t *testing.T) {
	t.Parallel()

	cfg := DefaultChunkerConfig()
	cfg.TargetSize = 120
	cfg.MaxSize = 180
	cfg.MinSize = 15
	cfg.OverlapSize = 25
	chunker, err := NewDocumentChunker(cfg, nil, nil)
	if err != nil {
		t.Fatalf("NewDocumentChunker: %v", err)
	}

	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(0, 40).Draw(t, "sentences")
		var sb strings.Builder
		for i := 0; i < n; i++ {
			words := rapid.IntRange(1, 12).Draw(t, "words")
			for j := 0; j < words; j++ {
				sb.WriteString("word ")
			}
			sb.WriteString(". ")
		}
		chunks := chunker.Chunk(sb.String(), nil, nil)
		for i, c := range chunks {
			if strings.TrimSpace(c.Content) == "" {
				t.Fatalf("chunk %d is empty", i)
			}
			if len(c.Content) > cfg.MaxSize {
				t.Fatalf("chunk %d exceeds max size: %d", i, len(c.Content))
			}
		}
	})
}

func TestDocumentChunker_LongSentenceOverlapStaysBounded(t *testing.T) {
	t.Parallel()

	cfg := DefaultChunkerConfig()
	chunker := newTestChunker(t, cfg)

	// 一个接近上限的长句后跟若干普通句子：
	// 长句不得作为重叠种子重复产出，也不得把后续块推过硬上限
	var sb strings.Builder
	sb.WriteString(strings.Repeat("a", 1395))
	sb.WriteString(". ")
	for i := 0; i < 6; i++ {
		sb.WriteString("B")
		sb.WriteString(strings.Repeat("b", 148))
		sb.WriteString(". ")
	}

	chunks := chunker.Chunk(sb.String(), nil, nil)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	seen := map[string]int{}
	for i, c := range chunks {
		if len(c.Content) > cfg.MaxSize {
			t.Fatalf("chunk %d exceeds max size: %d > %d", i, len(c.Content), cfg.MaxSize)
		}
		seen[c.Content]++
	}
	for content, n := range seen {
		if n > 1 {
			t.Fatalf("duplicate chunk emitted %d times (len=%d)", n, len(content))
		}
	}
}

func TestDocumentChunker_ExplicitStructureAndMetadata(t *testing.T) {
	t.Parallel()

	cfg := DefaultChunkerConfig()
	cfg.MinSize = 20
	chunker := newTestChunker(t, cfg)

	alpha := "Alpha body paragraph long enough to stand alone as a retrieval chunk here. "
	beta := "Beta body paragraph also long enough to stand alone as a retrieval chunk."
	text := alpha + beta

	// 结构乱序给入，分块器负责按位置排序
	structure := []Heading{
		{StartPosition: len(alpha), Level: 2, Text: "Beta"},
		{StartPosition: 0, Level: 1, Text: "Alpha"},
	}
	metadata := map[string]string{"source": "ingest", "lang": "en"}

	chunks := chunker.Chunk(text, structure, metadata)
	if len(chunks) != 2 {
		t.Fatalf("expected 2 section chunks, got %d", len(chunks))
	}
	if chunks[0].Heading != "Alpha" || chunks[1].Heading != "Beta" {
		t.Fatalf("structure not honored in order: %q / %q", chunks[0].Heading, chunks[1].Heading)
	}
	for i, c := range chunks {
		if c.Type != ChunkTypeSection {
			t.Fatalf("chunk %d type = %s, want section", i, c.Type)
		}
		if c.Metadata["source"] != "ingest" || c.Metadata["lang"] != "en" {
			t.Fatalf("chunk %d metadata not propagated: %v", i, c.Metadata)
		}
	}

	// 调用方后续修改元数据不得影响已产出的块
	metadata["source"] = "changed"
	if chunks[0].Metadata["source"] != "ingest" {
		t.Fatal("chunk metadata must be a copy of the caller map")
	}
}

func TestDocumentChunker_BreaksAtDiscourseMarker(t *testing.T) {
	t.Parallel()

	cfg := DefaultChunkerConfig()
	cfg.TargetSize = 200
	cfg.MaxSize = 400
	cfg.MinSize = 20
	cfg.OverlapSize = 40
	chunker := newTestChunker(t, cfg)

	doc := "The report covers the quarterly revenue figures in considerable detail. " +
		"However the second half shifts to staffing and hiring plans instead. " +
		"More prose follows to give the later material some body and weight."

	chunks := chunker.Chunk(doc, nil, nil)
	if len(chunks) < 2 {
		t.Fatalf("expected a break before the discourse marker, got %d chunks", len(chunks))
	}
	if strings.Contains(chunks[0].Content, "However") {
		t.Fatalf("first chunk should close before the marker: %q", chunks[0].Content)
	}
	if !strings.Contains(chunks[1].Content, "However") {
		t.Fatalf("second chunk should start the new unit: %q", chunks[1].Content)
	}
}

func TestSemanticBreakDetection(t *testing.T) {
	t.Parallel()

	breaks := []string{
		"However the situation changed quickly.",
		"Meanwhile the workers kept digging.",
		`"Stop right there," came the voice.`,
		"Later that evening the rain began.",
		"Maria said the results were final.",
	}
	for _, s := range breaks {
		if !isSemanticBreak(s) {
			t.Fatalf("expected semantic break for %q", s)
		}
	}
	plain := []string{
		"The figures were unchanged from last month.",
		"It also covers the remaining items.",
	}
	for _, s := range plain {
		if isSemanticBreak(s) {
			t.Fatalf("unexpected semantic break for %q", s)
		}
	}
}

func TestGoodBreakpointDetection(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		current string
		next    string
		want    bool
	}{
		{"终止标点接大写开头", "The section ends here.", "Another part begins now.", true},
		{"结论性措辞", "In summary the plan worked", "more detail follows", true},
		{"下一句为新话题引导词", "the data was collected", "Regarding the next phase of work", true},
		{"小写接续不是断点", "the clause trails off,", "and it keeps going here", false},
		{"句尾无终止标点", "an unfinished fragment", "lowercase continuation text", false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := isGoodBreakpoint(tt.current, tt.next); got != tt.want {
				t.Fatalf("isGoodBreakpoint(%q, %q) = %v, want %v", tt.current, tt.next, got, tt.want)
			}
		})
	}
}

func TestDocumentChunker_LeadHeadingExtraction(t *testing.T) {
	t.Parallel()

	chunker := newTestChunker(t, DefaultChunkerConfig())
	doc := "Project Notes\n" +
		"The body paragraph goes into enough depth to stand on its own as a retrieval " +
		"chunk and clearly does not read like a heading line at all."

	chunks := chunker.Chunk(doc, nil, nil)
	if len(chunks) == 0 {
		t.Fatal("expected at least one chunk")
	}
	if chunks[0].Heading != "Project Notes" {
		t.Fatalf("short first line should become the heading, got %q", chunks[0].Heading)
	}
	if strings.Contains(chunks[0].Content, "Project Notes") {
		t.Fatalf("heading line should not remain in the body: %q", chunks[0].Content)
	}
}

func TestDocumentChunker_ImportanceDecayFloorsProduct(t *testing.T) {
	t.Parallel()

	chunker := newTestChunker(t, DefaultChunkerConfig())
	tests := []struct {
		importance float64
		idx        int
		want       float64
	}{
		{1.0, 0, 1.0},
		{1.0, 3, 0.7},
		{2.0, 2, 1.6},
		// 衰减下限作用于乘积而非衰减系数
		{2.0, 9, 0.5},
		{2.0, 20, 0.5},
		{0.6, 3, 0.5},
	}
	for _, tt := range tests {
		got := chunker.decayImportance(tt.importance, tt.idx)
		if diff := got - tt.want; diff > 1e-9 || diff < -1e-9 {
			t.Fatalf("decayImportance(%v, %d) = %v, want %v", tt.importance, tt.idx, got, tt.want)
		}
	}
}

func TestDocumentChunker_OversizedMultibyteSplitKeepsRunesIntact(t *testing.T) {
	t.Parallel()

	cfg := DefaultChunkerConfig()
	cfg.TargetSize = 100
	cfg.MaxSize = 120
	cfg.MinSize = 10
	cfg.OverlapSize = 20
	chunker := newTestChunker(t, cfg)

	// 720 字节的多字节长句，无任何句子结束符
	doc := strings.Repeat("检索引擎性能测试", 30)
	chunks := chunker.Chunk(doc, nil, nil)
	if len(chunks) < 2 {
		t.Fatalf("expected oversized text split, got %d chunks", len(chunks))
	}
	var joined strings.Builder
	for i, c := range chunks {
		if len(c.Content) > cfg.MaxSize {
			t.Fatalf("chunk %d exceeds max size: %d", i, len(c.Content))
		}
		if !utf8.ValidString(c.Content) {
			t.Fatalf("chunk %d split inside a rune: %q", i, c.Content)
		}
		joined.WriteString(c.Content)
	}
	if joined.String() != doc {
		t.Fatal("rejoined chunks must reproduce the original text")
	}
}
