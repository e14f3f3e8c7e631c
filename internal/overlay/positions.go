package overlay

import (
	"fmt"
	"sort"
	"strings"
)

// Position 信号灯外壳顶部中心点，按背景图宽高的比例表示
type Position struct {
	X float64
	Y float64
}

// DefaultPositions 默认背景图上各阶段的位置
var DefaultPositions = map[string]Position{
	"gegevens analyseren":                   {0.39, 0.13},
	"werk voorbereiden":                     {0.77, 0.13},
	"uitvoeren werkzaamheden":               {0.96, 0.43},
	"werk afhandelen en controleren":        {0.77, 0.72},
	"inregelen onderhoudsplan":              {0.39, 0.72},
	"maintenance & reliability engineering": {0.025, 0.43},
	"am-strategie":                          {0.50, 0.28},
}

var exactSynonyms = map[string]string{
	"analyse gegevens":     "gegevens analyseren",
	"analyse van gegevens": "gegevens analyseren",
	"gegevensanalyse":      "gegevens analyseren",
	"data analyse":         "gegevens analyseren",
	"data-analyse":         "gegevens analyseren",
}

var phraseReplacer = strings.NewReplacer(
	"werkvoorbereiding", "werk voorbereiden",
	"uitvoering onderhoud", "uitvoeren werkzaamheden",
)

// NormalizeStageName 将主题名归一化为位置表中的阶段名
func NormalizeStageName(s string) string {
	t := strings.ToLower(strings.TrimSpace(s))
	t = strings.NewReplacer("’", "'", "_", " ", "&", " & ").Replace(t)
	t = strings.Join(strings.Fields(t), " ")
	t = phraseReplacer.Replace(t)

	if canonical, ok := exactSynonyms[t]; ok {
		return canonical
	}
	if strings.Contains(t, "strategie") && (hasWord(t, "am") || strings.HasPrefix(t, "am-") || strings.Contains(t, "asset management")) {
		return "am-strategie"
	}
	if strings.Contains(t, "maintenance") && strings.Contains(t, "reliability") {
		return "maintenance & reliability engineering"
	}
	return t
}

func hasWord(s, word string) bool {
	for _, f := range strings.FieldsFunc(s, func(r rune) bool { return r == ' ' || r == '-' }) {
		if f == word {
			return true
		}
	}
	return false
}

// Bucket 信号灯颜色
type Bucket string

const (
	Red    Bucket = "red"
	Yellow Bucket = "yellow"
	Green  Bucket = "green"
)

// BucketForScore 低于 2.5 红；2.5 到 3.5（含）黄；高于 3.5 绿
func BucketForScore(v float64) Bucket {
	if v < 2.5 {
		return Red
	}
	if v <= 3.5 {
		return Yellow
	}
	return Green
}

// PositionsFromConfig 将配置中的 [x, y] 表转换为位置表，阶段名先归一化。
// 配置为空时返回默认表。
func PositionsFromConfig(raw map[string][]float64) (map[string]Position, error) {
	if len(raw) == 0 {
		return DefaultPositions, nil
	}
	positions := make(map[string]Position, len(raw))
	for name, xy := range raw {
		if len(xy) != 2 {
			return nil, fmt.Errorf("overlay: position %q must have 2 coordinates, got %d", name, len(xy))
		}
		positions[NormalizeStageName(name)] = Position{X: xy[0], Y: xy[1]}
	}
	if err := ValidatePositions(positions); err != nil {
		return nil, err
	}
	return positions, nil
}

// ValidatePositions 所有坐标必须位于 [0,1]×[0,1]，阶段名必须已归一化
func ValidatePositions(positions map[string]Position) error {
	names := make([]string, 0, len(positions))
	for name := range positions {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		p := positions[name]
		if name == "" || NormalizeStageName(name) != name {
			return fmt.Errorf("overlay: stage name %q is not normalized", name)
		}
		if p.X < 0 || p.X > 1 || p.Y < 0 || p.Y > 1 {
			return fmt.Errorf("overlay: position of %q (%.3f, %.3f) outside [0,1]x[0,1]", name, p.X, p.Y)
		}
	}
	return nil
}
