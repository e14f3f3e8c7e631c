package layout

import "strings"

// MeasureFunc 返回文本在当前字体下的宽度
type MeasureFunc func(s string) float64

// WrapLines 贪心换行：单词逐个加入当前行，超出宽度则换行；
// 单个单词本身超宽时按字符强制断开。每个段落（以 \n 分隔）至少占一行。
func WrapLines(measure MeasureFunc, text string, width float64) []string {
	var lines []string
	for _, par := range strings.Split(text, "\n") {
		lines = append(lines, wrapParagraph(measure, par, width)...)
	}
	if len(lines) == 0 {
		lines = []string{""}
	}
	return lines
}

// CountLines 只计算行数，不绘制
func CountLines(measure MeasureFunc, text string, width float64) int {
	return len(WrapLines(measure, text, width))
}

func wrapParagraph(measure MeasureFunc, par string, width float64) []string {
	var lines []string
	cur := ""
	for _, word := range strings.Split(par, " ") {
		if word == "" {
			continue
		}
		test := word
		if cur != "" {
			test = cur + " " + word
		}
		if measure(test) <= width {
			cur = test
			continue
		}
		if cur != "" {
			lines = append(lines, cur)
			cur = ""
		}
		if measure(word) <= width {
			cur = word
			continue
		}
		// 强制断开超宽单词，最后一段留在当前行继续拼接
		chunk := ""
		for _, r := range word {
			next := chunk + string(r)
			if chunk != "" && measure(next) > width {
				lines = append(lines, chunk)
				chunk = string(r)
				continue
			}
			chunk = next
		}
		cur = chunk
	}
	return append(lines, cur)
}
