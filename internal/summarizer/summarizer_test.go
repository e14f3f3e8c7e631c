package summarizer

import (
	"context"
	"errors"
	"testing"

	"github.com/fachebot/quickscan/internal/config"
	"github.com/fachebot/quickscan/internal/llm"
	"github.com/stretchr/testify/assert"
)

// mockBackend 用于测试的 llmBackend mock
type mockBackend struct {
	score      int
	scoreErr   error
	summary    string
	summaryErr error
	scoreCalls int
	lastQA     []llm.QA
}

func (m *mockBackend) ScoreAnswer(ctx context.Context, question, answer string) (int, error) {
	m.scoreCalls++
	if m.scoreErr != nil {
		return 0, m.scoreErr
	}
	return m.score, nil
}

func (m *mockBackend) SummarizeResponses(ctx context.Context, items []llm.QA) (string, error) {
	m.lastQA = items
	if m.summaryErr != nil {
		return "", m.summaryErr
	}
	return m.summary, nil
}

// memoryCache 用于测试的内存缓存
type memoryCache struct {
	data   map[string]int
	getErr error
}

func newMemoryCache() *memoryCache {
	return &memoryCache{data: make(map[string]int)}
}

func (c *memoryCache) Get(ctx context.Context, model, question, answer string) (int, bool, error) {
	if c.getErr != nil {
		return 0, false, c.getErr
	}
	v, ok := c.data[model+"|"+question+"|"+answer]
	return v, ok, nil
}

func (c *memoryCache) Set(ctx context.Context, model, question, answer string, score int) error {
	c.data[model+"|"+question+"|"+answer] = score
	return nil
}

func llmConfig() *config.LLM {
	return &config.LLM{Model: "test", ScoreItems: true, Summarize: true}
}

func TestNewFallback(t *testing.T) {
	tests := []struct {
		name        string
		score       int
		summary     string
		wantScore   int
		wantSummary string
	}{
		{"正常值", 4, "tekst", 4, "tekst"},
		{"分数越界回退中点", 9, "tekst", 3, "tekst"},
		{"空总结使用默认文本", 2, "  ", 2, config.DefaultFallbackSummary},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewFallback(tt.score, tt.summary)
			assert.False(t, f.ScoresItems())
			assert.Equal(t, tt.wantScore, f.Score(context.Background(), "q", "a"))
			assert.Equal(t, tt.wantSummary, f.Summarize(context.Background(), nil))
		})
	}
}

func TestLLMScorer_Score(t *testing.T) {
	backend := &mockBackend{score: 5}
	s := newLLMScorer(backend, nil, llmConfig(), NewFallback(3, "x"))

	assert.True(t, s.ScoresItems())
	assert.Equal(t, 5, s.Score(context.Background(), "q", "a"))
	assert.Equal(t, 1, backend.scoreCalls)
}

func TestLLMScorer_ScoreFailureUsesFallback(t *testing.T) {
	backend := &mockBackend{scoreErr: errors.New("timeout")}
	s := newLLMScorer(backend, nil, llmConfig(), NewFallback(3, "x"))

	assert.Equal(t, 3, s.Score(context.Background(), "q", "a"))
}

func TestLLMScorer_ScoreUsesCache(t *testing.T) {
	backend := &mockBackend{score: 4}
	c := newMemoryCache()
	s := newLLMScorer(backend, c, llmConfig(), NewFallback(3, "x"))

	assert.Equal(t, 4, s.Score(context.Background(), "q", "a"))
	assert.Equal(t, 4, s.Score(context.Background(), "q", "a"))
	assert.Equal(t, 1, backend.scoreCalls, "第二次应命中缓存")
}

func TestLLMScorer_ScoreCacheErrorFallsThrough(t *testing.T) {
	backend := &mockBackend{score: 2}
	c := newMemoryCache()
	c.getErr = errors.New("redis down")
	s := newLLMScorer(backend, c, llmConfig(), NewFallback(3, "x"))

	assert.Equal(t, 2, s.Score(context.Background(), "q", "a"))
	assert.Equal(t, 1, backend.scoreCalls)
}

func TestLLMScorer_ScoreItemsDisabled(t *testing.T) {
	backend := &mockBackend{score: 5}
	cfg := llmConfig()
	cfg.ScoreItems = false
	s := newLLMScorer(backend, nil, cfg, NewFallback(3, "x"))

	assert.False(t, s.ScoresItems())
	assert.Equal(t, 3, s.Score(context.Background(), "q", "a"))
	assert.Equal(t, 0, backend.scoreCalls)
}

func TestLLMScorer_Summarize(t *testing.T) {
	items := []NarrativeItem{
		{Topic: "T1", Question: "q1", Answer: "a1"},
		{Topic: "T2", Question: "q2", Answer: "a2"},
	}

	tests := []struct {
		name    string
		backend *mockBackend
		items   []NarrativeItem
		want    string
	}{
		{"成功", &mockBackend{summary: " Goed op weg. "}, items, "Goed op weg."},
		{"失败使用兜底", &mockBackend{summaryErr: errors.New("boom")}, items, "fallback"},
		{"空回复使用兜底", &mockBackend{summary: "   "}, items, "fallback"},
		{"无题目使用兜底", &mockBackend{summary: "x"}, nil, "fallback"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newLLMScorer(tt.backend, nil, llmConfig(), NewFallback(3, "fallback"))
			assert.Equal(t, tt.want, s.Summarize(context.Background(), tt.items))
		})
	}
}

func TestLLMScorer_SummarizePassesItems(t *testing.T) {
	backend := &mockBackend{summary: "ok"}
	s := newLLMScorer(backend, nil, llmConfig(), NewFallback(3, "x"))

	s.Summarize(context.Background(), []NarrativeItem{{Topic: "T", Question: "q", Answer: "a"}})
	assert.Equal(t, []llm.QA{{Topic: "T", Question: "q", Answer: "a"}}, backend.lastQA)
}

func TestLLMScorer_NeverFails(t *testing.T) {
	backend := &mockBackend{scoreErr: errors.New("x"), summaryErr: errors.New("y")}
	s := newLLMScorer(backend, nil, llmConfig(), NewFallback(3, "fallback"))

	for i := 0; i < 5; i++ {
		assert.Equal(t, 3, s.Score(context.Background(), "q", "a"))
	}
	assert.Equal(t, "fallback", s.Summarize(context.Background(), []NarrativeItem{{Topic: "T"}}))
}
