package summarizer

import (
	"context"
	"strings"

	"github.com/fachebot/quickscan/internal/cache"
	"github.com/fachebot/quickscan/internal/config"
	"github.com/fachebot/quickscan/internal/llm"
	"github.com/fachebot/quickscan/internal/logger"
)

// llmBackend 调用 LLM 打分与总结（便于测试注入 mock）
type llmBackend interface {
	ScoreAnswer(ctx context.Context, question, answer string) (int, error)
	SummarizeResponses(ctx context.Context, items []llm.QA) (string, error)
}

// Fallback 不依赖外部服务的实现：固定分数与固定总结
type Fallback struct {
	score   int
	summary string
}

func NewFallback(score int, summary string) *Fallback {
	if score < 1 || score > 5 {
		score = 3
	}
	if strings.TrimSpace(summary) == "" {
		summary = config.DefaultFallbackSummary
	}
	return &Fallback{score: score, summary: summary}
}

func (f *Fallback) ScoresItems() bool {
	return false
}

func (f *Fallback) Score(ctx context.Context, question, answer string) int {
	return f.score
}

func (f *Fallback) Summarize(ctx context.Context, items []NarrativeItem) string {
	return f.summary
}

// LLMScorer 使用 LLM 打分与总结，任何失败都回退到 Fallback
type LLMScorer struct {
	backend    llmBackend
	cache      cache.ScoreCache
	fallback   *Fallback
	model      string
	scoreItems bool
	summarize  bool
}

func NewLLMScorer(backend *llm.Client, scoreCache cache.ScoreCache, cfg *config.LLM, fallback *Fallback) *LLMScorer {
	return newLLMScorer(backend, scoreCache, cfg, fallback)
}

func newLLMScorer(backend llmBackend, scoreCache cache.ScoreCache, cfg *config.LLM, fallback *Fallback) *LLMScorer {
	if scoreCache == nil {
		scoreCache = cache.NewNopScoreCache()
	}
	return &LLMScorer{
		backend:    backend,
		cache:      scoreCache,
		fallback:   fallback,
		model:      cfg.Model,
		scoreItems: cfg.ScoreItems,
		summarize:  cfg.Summarize,
	}
}

func (s *LLMScorer) ScoresItems() bool {
	return s.scoreItems
}

// Score 先查缓存，未命中再调用模型；缓存错误只记录日志
func (s *LLMScorer) Score(ctx context.Context, question, answer string) int {
	if !s.scoreItems {
		return s.fallback.Score(ctx, question, answer)
	}

	if score, ok, err := s.cache.Get(ctx, s.model, question, answer); err != nil {
		logger.Warnf("[Summarizer] 读取打分缓存失败: %v", err)
	} else if ok && score >= 1 && score <= 5 {
		return score
	}

	score, err := s.backend.ScoreAnswer(ctx, question, answer)
	if err != nil {
		logger.Errorf("[Summarizer] 外部打分失败，使用兜底分数 %d: %v", s.fallback.score, err)
		return s.fallback.Score(ctx, question, answer)
	}

	if err := s.cache.Set(ctx, s.model, question, answer, score); err != nil {
		logger.Warnf("[Summarizer] 写入打分缓存失败: %v", err)
	}
	return score
}

// Summarize 生成总结，失败或返回空文本时使用兜底总结
func (s *LLMScorer) Summarize(ctx context.Context, items []NarrativeItem) string {
	if !s.summarize || len(items) == 0 {
		return s.fallback.Summarize(ctx, items)
	}

	qa := make([]llm.QA, len(items))
	for i, it := range items {
		qa[i] = llm.QA{Topic: it.Topic, Question: it.Question, Answer: it.Answer}
	}

	text, err := s.backend.SummarizeResponses(ctx, qa)
	if err != nil {
		logger.Errorf("[Summarizer] 生成总结失败，使用兜底文本: %v", err)
		return s.fallback.Summarize(ctx, items)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return s.fallback.Summarize(ctx, items)
	}

	logger.Infof("[Summarizer] 完成总结，共 %d 道题目", len(items))
	return text
}
