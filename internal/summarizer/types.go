package summarizer

import "context"

// NarrativeItem 参与总结的一道题目
type NarrativeItem struct {
	Topic    string
	Question string
	Answer   string
}

// Scorer 外部打分与总结能力。
// 实现不得向外返回错误：内部失败一律落到固定的兜底值。
type Scorer interface {
	// ScoresItems 是否为每道题目提供外部分数
	ScoresItems() bool
	// Score 返回 1..5 的分数
	Score(ctx context.Context, question, answer string) int
	// Summarize 返回一段非空的总结文本
	Summarize(ctx context.Context, items []NarrativeItem) string
}
