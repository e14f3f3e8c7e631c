package aggregate

import (
	"fmt"
	"math"
	"strings"

	"github.com/fachebot/quickscan/internal/form"
)

// Policy 决定主题平均分与图表使用哪一种分数
type Policy string

const (
	PolicyCustomer Policy = "customer"
	PolicyExternal Policy = "external"
	PolicyBlended  Policy = "blended"
)

// ParsePolicy 解析配置中的策略名，未知值回退为 blended
func ParsePolicy(s string) Policy {
	switch Policy(strings.ToLower(strings.TrimSpace(s))) {
	case PolicyCustomer:
		return PolicyCustomer
	case PolicyExternal:
		return PolicyExternal
	default:
		return PolicyBlended
	}
}

// Item 题目及其外部分数
type Item struct {
	form.ResponseItem
	ExternalScore form.Score
}

// Average 可缺失的平均值
type Average struct {
	Value float64
	Valid bool
}

// String 两位小数，缺失时为 "–"
func (a Average) String() string {
	if !a.Valid {
		return "–"
	}
	return fmt.Sprintf("%.2f", a.Value)
}

// TopicGroup 一个主题下的题目与平均分。
// Samples 为 0 时 Average 为 0，表示该主题没有有效分数。
type TopicGroup struct {
	Topic   string
	Items   []Item
	Average float64
	Samples int
}

// HasData 主题是否至少有一个有效分数
func (g TopicGroup) HasData() bool {
	return g.Samples > 0
}

// Summary 全部题目的总体平均分
type Summary struct {
	OverallCustomer Average
	OverallExternal Average
}

// ChartSeries 图表使用的有序标签与数值，两者长度一致
type ChartSeries struct {
	Labels  []string
	Values  []float64
	HasData []bool
}

// Len 数据点数量
func (s ChartSeries) Len() int {
	return len(s.Labels)
}

// AnyData 是否有任一主题包含有效分数
func (s ChartSeries) AnyData() bool {
	for _, ok := range s.HasData {
		if ok {
			return true
		}
	}
	return false
}

// Result 聚合结果
type Result struct {
	Groups  []TopicGroup
	Summary Summary
	Series  ChartSeries
}

// Build 按主题分组并计算平均分。
// 主题顺序为首次出现的顺序，主题内题目保持原顺序。
func Build(items []Item, policy Policy) Result {
	var groups []TopicGroup
	index := make(map[string]int)
	for _, item := range items {
		i, ok := index[item.Topic]
		if !ok {
			i = len(groups)
			index[item.Topic] = i
			groups = append(groups, TopicGroup{Topic: item.Topic})
		}
		groups[i].Items = append(groups[i].Items, item)
	}

	var customer, external []int
	for _, item := range items {
		if item.CustomerScore.Valid {
			customer = append(customer, item.CustomerScore.Value)
		}
		if item.ExternalScore.Valid {
			external = append(external, item.ExternalScore.Value)
		}
	}

	series := ChartSeries{
		Labels:  make([]string, 0, len(groups)),
		Values:  make([]float64, 0, len(groups)),
		HasData: make([]bool, 0, len(groups)),
	}
	for i := range groups {
		groups[i].Average, groups[i].Samples = topicAverage(groups[i].Items, policy)
		series.Labels = append(series.Labels, groups[i].Topic)
		series.Values = append(series.Values, groups[i].Average)
		series.HasData = append(series.HasData, groups[i].HasData())
	}

	return Result{
		Groups: groups,
		Summary: Summary{
			OverallCustomer: mean(customer),
			OverallExternal: mean(external),
		},
		Series: series,
	}
}

// topicAverage 按策略收集分数：blended 时同一题目的客户分与外部分都计入
func topicAverage(items []Item, policy Policy) (float64, int) {
	var values []int
	for _, item := range items {
		switch policy {
		case PolicyCustomer:
			if item.CustomerScore.Valid {
				values = append(values, item.CustomerScore.Value)
			}
		case PolicyExternal:
			if item.ExternalScore.Valid {
				values = append(values, item.ExternalScore.Value)
			}
		default:
			if item.CustomerScore.Valid {
				values = append(values, item.CustomerScore.Value)
			}
			if item.ExternalScore.Valid {
				values = append(values, item.ExternalScore.Value)
			}
		}
	}
	avg := mean(values)
	if !avg.Valid {
		return 0, 0
	}
	return avg.Value, len(values)
}

func mean(values []int) Average {
	if len(values) == 0 {
		return Average{}
	}
	sum := 0
	for _, v := range values {
		sum += v
	}
	return Average{Value: round2(float64(sum) / float64(len(values))), Valid: true}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
