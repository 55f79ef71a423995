package retrieval

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"pgregory.net/rapid"
)

func TestLexicalScorer_EmptyQueryTerms(t *testing.T) {
	t.Parallel()

	scorer := NewLexicalScorer(nil)
	for _, query := range []string{"", "   ", "!!! ... ???"} {
		_, err := scorer.Score(query, "doc1", "some content")
		if !errors.Is(err, ErrEmptyQueryTerms) {
			t.Fatalf("query %q: expected ErrEmptyQueryTerms, got %v", query, err)
		}
	}
}

func TestLexicalScorer_ScoreNeverNegative(t *testing.T) {
	t.Parallel()

	scorer := NewLexicalScorer(nil)
	// 所有文档都含 "common"，其 idf 为负，分数应被截断到 0
	for i := 0; i < 5; i++ {
		scorer.AddDocument(fmt.Sprintf("doc%d", i), "common term appears everywhere")
	}
	score, err := scorer.Score("common", "doc0", "common term appears everywhere")
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if score < 0 {
		t.Fatalf("expected non-negative score, got %f", score)
	}
}

func TestLexicalScorer_RareTermOutranksCommonTerm(t *testing.T) {
	t.Parallel()

	scorer := NewLexicalScorer(nil)
	scorer.AddDocument("a", "redis cache layer with shared connection pool")
	scorer.AddDocument("b", "cache eviction policy for the memory cache")
	scorer.AddDocument("c", "cache warming strategies and cache stampede")

	// "redis" 只出现在 doc a，"cache" 出现在所有文档
	rare, err := scorer.Score("redis", "a", "redis cache layer with shared connection pool")
	if err != nil {
		t.Fatalf("Score rare: %v", err)
	}
	common, err := scorer.Score("cache", "a", "redis cache layer with shared connection pool")
	if err != nil {
		t.Fatalf("Score common: %v", err)
	}
	if rare <= common {
		t.Fatalf("expected rare term score %f > common term score %f", rare, common)
	}
}

func TestLexicalScorer_AddDocumentIdempotent(t *testing.T) {
	t.Parallel()

	scorer := NewLexicalScorer(nil)
	scorer.AddDocument("doc1", "alpha beta gamma")
	first, err := scorer.Score("alpha", "doc1", "alpha beta gamma")
	if err != nil {
		t.Fatalf("Score: %v", err)
	}

	// 重复登记不得改变语料统计
	scorer.AddDocument("doc1", "alpha beta gamma")
	scorer.AddDocument("doc1", "totally different content")
	second, err := scorer.Score("alpha", "doc1", "alpha beta gamma")
	if err != nil {
		t.Fatalf("Score after re-add: %v", err)
	}
	if first != second {
		t.Fatalf("expected identical score after re-add, got %f then %f", first, second)
	}
	if scorer.DocumentCount() != 1 {
		t.Fatalf("expected 1 document, got %d", scorer.DocumentCount())
	}
}

func TestLexicalScorer_ScoreRegistersUnknownDocument(t *testing.T) {
	t.Parallel()

	scorer := NewLexicalScorer(nil)
	if _, err := scorer.Score("kubernetes", "new-doc", "kubernetes operator deployment"); err != nil {
		t.Fatalf("Score: %v", err)
	}
	if scorer.DocumentCount() != 1 {
		t.Fatalf("expected read-through registration, got %d documents", scorer.DocumentCount())
	}
}

func TestLexicalScorer_RemoveDocument(t *testing.T) {
	t.Parallel()

	scorer := NewLexicalScorer(nil)
	scorer.AddDocument("a", "alpha beta")
	scorer.AddDocument("b", "beta gamma")
	scorer.RemoveDocument("a")
	if scorer.DocumentCount() != 1 {
		t.Fatalf("expected 1 document after removal, got %d", scorer.DocumentCount())
	}
	// 未知 id 为空操作
	scorer.RemoveDocument("missing")
	if scorer.DocumentCount() != 1 {
		t.Fatalf("expected removal of unknown id to be a no-op")
	}
}

func TestTokenize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input string
		want  []string
	}{
		{"Hello, World!", []string{"hello", "world"}},
		{"HTTP/2 multiplexing", []string{"http", "2", "multiplexing"}},
		{"", nil},
		{"  \t\n ", nil},
	}
	for _, tt := range tests {
		got := tokenize(tt.input)
		if strings.Join(got, " ") != strings.Join(tt.want, " ") {
			t.Errorf("tokenize(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

// 属性：词频更高的文档在相同语料下分数不低于词频更低的文档
func TestLexicalScorer_TermFrequencyMonotonic(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		low := rapid.IntRange(1, 5).Draw(t, "low")
		extra := rapid.IntRange(1, 5).Draw(t, "extra")
		filler := rapid.IntRange(0, 10).Draw(t, "filler")

		scorer := NewLexicalScorer(nil)
		pad := strings.Repeat("filler ", filler)
		docLow := pad + strings.Repeat("target ", low)
		docHigh := pad + strings.Repeat("target ", low+extra)
		scorer.AddDocument("low", docLow)
		scorer.AddDocument("high", docHigh)
		// 足够多的背景文档，保证 target 的 idf 为正
		for i := 0; i < 4; i++ {
			scorer.AddDocument(fmt.Sprintf("bg%d", i), "unrelated background corpus text")
		}

		scoreLow, err := scorer.Score("target", "low", docLow)
		if err != nil {
			t.Fatalf("Score low: %v", err)
		}
		scoreHigh, err := scorer.Score("target", "high", docHigh)
		if err != nil {
			t.Fatalf("Score high: %v", err)
		}
		if scoreHigh < scoreLow {
			t.Fatalf("tf=%d score %f < tf=%d score %f", low+extra, scoreHigh, low, scoreLow)
		}
	})
}
