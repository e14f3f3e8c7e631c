package form

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/spf13/cast"
)

const (
	answerSuffix = "_answer"
	labelSuffix  = "_label"
	scoreSuffix  = "_customer_score"

	MinScore = 1
	MaxScore = 5
)

// Score 可缺失的 1..5 整数分数
type Score struct {
	Value int
	Valid bool
}

// NewScore 构造有效分数，超出范围时返回无效分数
func NewScore(v int) Score {
	if v < MinScore || v > MaxScore {
		return Score{}
	}
	return Score{Value: v, Valid: true}
}

// String 缺失时显示 "-"
func (s Score) String() string {
	if !s.Valid {
		return "-"
	}
	return strconv.Itoa(s.Value)
}

// ResponseItem 一道题目的标签、回答、主题与客户分数
type ResponseItem struct {
	Key           string // 字段前缀，如 "Werkvoorbereiding_0"
	QuestionLabel string
	AnswerText    string
	Topic         string
	CustomerScore Score
}

// Metadata 报告抬头信息
type Metadata struct {
	Name      string
	Company   string
	Email     string
	Phone     string
	IntroText string
}

// Extract 从字段中提取题目和元数据。
// 每个以 "_answer" 结尾的键产生一条记录，顺序与字段定义顺序一致。
func Extract(f *Fields) ([]ResponseItem, Metadata) {
	meta := Metadata{
		Name:      strings.TrimSpace(f.String("name")),
		Company:   strings.TrimSpace(f.String("company")),
		Email:     strings.TrimSpace(f.String("email")),
		Phone:     strings.TrimSpace(f.String("phone")),
		IntroText: strings.TrimSpace(f.String("introText")),
	}

	items := make([]ResponseItem, 0)
	for _, key := range f.Keys() {
		if !strings.HasSuffix(key, answerSuffix) {
			continue
		}
		prefix := strings.TrimSuffix(key, answerSuffix)
		if prefix == "" {
			continue
		}

		label := strings.TrimSpace(f.String(prefix + labelSuffix))
		if label == "" {
			label = key
		}

		var score Score
		if raw, ok := f.Get(prefix + scoreSuffix); ok {
			score = ParseScore(raw)
		}

		items = append(items, ResponseItem{
			Key:           prefix,
			QuestionLabel: label,
			AnswerText:    f.String(key),
			Topic:         TopicOf(prefix),
			CustomerScore: score,
		})
	}
	return items, meta
}

// TopicOf 去掉前缀最后一个 "_" 段得到主题名；没有 "_" 时前缀本身就是主题
func TopicOf(prefix string) string {
	idx := strings.LastIndex(prefix, "_")
	if idx <= 0 {
		return prefix
	}
	return prefix[:idx]
}

// ParseScore 将任意值解析为分数。
// 只接受整数（或整数值的浮点数），超出 1..5 的值视为缺失。
func ParseScore(v any) Score {
	switch t := v.(type) {
	case nil:
		return Score{}
	case bool:
		return Score{}
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(t))
		if err != nil {
			return Score{}
		}
		return NewScore(n)
	case json.Number:
		n, err := t.Int64()
		if err != nil {
			return Score{}
		}
		return NewScore(int(n))
	case float64:
		return scoreFromFloat(t)
	case float32:
		return scoreFromFloat(float64(t))
	}

	n, err := cast.ToIntE(v)
	if err != nil {
		return Score{}
	}
	return NewScore(n)
}

func scoreFromFloat(f float64) Score {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return Score{}
	}
	return NewScore(int(f))
}
