package chart

import (
	"bytes"
	"errors"
	"fmt"
	"math"

	"github.com/fachebot/quickscan/internal/aggregate"
	"github.com/fogleman/gg"
	"golang.org/x/image/font/basicfont"
)

// ErrEmptySeries 没有任何主题时不画图
var ErrEmptySeries = errors.New("chart: empty series")

// Options 雷达图参数
type Options struct {
	Size      int     // 正方形边长（像素）
	Max       float64 // 径向最大值
	Ticks     []float64
	FontPath  string // TrueType 字体，为空或加载失败时使用内置点阵字体
	LabelSize float64
}

func DefaultOptions() Options {
	return Options{
		Size:      900,
		Max:       5,
		Ticks:     []float64{1, 2, 3, 4, 5},
		LabelSize: 15,
	}
}

// Point 雷达图顶点，坐标为单位圆内的归一化坐标（y 轴向下）
type Point struct {
	Label string
	Value float64
	Angle float64
	X     float64
	Y     float64
}

// RadarPolygon 计算多边形顶点：第一个轴在 12 点方向，顺时针等分，
// 半径 = value / max，最后重复第一个点以闭合。
func RadarPolygon(labels []string, values []float64, max float64) []Point {
	n := len(values)
	if n == 0 || max <= 0 {
		return nil
	}
	points := make([]Point, 0, n+1)
	for i, v := range values {
		angle := 2 * math.Pi * float64(i) / float64(n)
		r := math.Max(0, math.Min(v, max)) / max
		label := ""
		if i < len(labels) {
			label = labels[i]
		}
		points = append(points, Point{
			Label: label,
			Value: v,
			Angle: angle,
			X:     r * math.Sin(angle),
			Y:     -r * math.Cos(angle),
		})
	}
	return append(points, points[0])
}

// RenderRadar 将主题平均分画成 PNG 雷达图
func RenderRadar(series aggregate.ChartSeries, opts Options) ([]byte, error) {
	n := series.Len()
	if n == 0 {
		return nil, ErrEmptySeries
	}
	if len(series.Values) != n {
		return nil, fmt.Errorf("chart: %d labels but %d values", n, len(series.Values))
	}
	if opts.Size <= 0 {
		opts.Size = DefaultOptions().Size
	}
	if opts.Max <= 0 {
		opts.Max = DefaultOptions().Max
	}
	if opts.LabelSize <= 0 {
		opts.LabelSize = DefaultOptions().LabelSize
	}

	size := float64(opts.Size)
	cx, cy := size/2, size/2
	radius := size * 0.32

	dc := gg.NewContext(opts.Size, opts.Size)
	dc.SetRGB(1, 1, 1)
	dc.Clear()
	useFont(dc, opts.FontPath, opts.LabelSize)

	// 同心网格与刻度
	dc.SetLineWidth(1)
	for _, tick := range opts.Ticks {
		if tick <= 0 || tick > opts.Max {
			continue
		}
		dc.SetRGB(0.82, 0.84, 0.87)
		dc.DrawCircle(cx, cy, radius*tick/opts.Max)
		dc.Stroke()
		dc.SetRGB(0.45, 0.45, 0.45)
		dc.DrawStringAnchored(fmt.Sprintf("%g", tick), cx+4, cy-radius*tick/opts.Max, 0, 1)
	}

	// 轴线与标签
	axes := RadarPolygon(series.Labels, filled(n, opts.Max), opts.Max)
	for _, p := range axes[:n] {
		x, y := cx+p.X*radius, cy+p.Y*radius
		dc.SetRGB(0.82, 0.84, 0.87)
		dc.DrawLine(cx, cy, x, y)
		dc.Stroke()

		lx, ly := cx+p.X*radius*1.16, cy+p.Y*radius*1.16
		ax, ay := anchorFor(p.Angle)
		dc.SetRGB(0.13, 0.2, 0.27)
		dc.DrawStringWrapped(p.Label, lx, ly, ax, ay, size*0.22, 1.2, alignFor(ax))
	}

	// 数据多边形
	poly := RadarPolygon(series.Labels, series.Values, opts.Max)
	dc.NewSubPath()
	for i, p := range poly {
		x, y := cx+p.X*radius, cy+p.Y*radius
		if i == 0 {
			dc.MoveTo(x, y)
		} else {
			dc.LineTo(x, y)
		}
	}
	dc.ClosePath()
	dc.SetRGBA(0.12, 0.47, 0.71, 0.25)
	dc.FillPreserve()
	dc.SetRGB(0.12, 0.47, 0.71)
	dc.SetLineWidth(2.5)
	dc.Stroke()

	for _, p := range poly[:n] {
		dc.DrawCircle(cx+p.X*radius, cy+p.Y*radius, 4)
		dc.Fill()
	}

	var buf bytes.Buffer
	if err := dc.EncodePNG(&buf); err != nil {
		return nil, fmt.Errorf("chart: encode png: %w", err)
	}
	return buf.Bytes(), nil
}

func filled(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

// anchorFor 让标签向外展开：右侧左对齐，左侧右对齐，上下居中
func anchorFor(angle float64) (float64, float64) {
	sin, cos := math.Sin(angle), math.Cos(angle)
	ax := 0.5
	switch {
	case sin > 0.2:
		ax = 0
	case sin < -0.2:
		ax = 1
	}
	ay := 0.5
	switch {
	case cos > 0.2:
		ay = 1
	case cos < -0.2:
		ay = 0
	}
	return ax, ay
}

func alignFor(ax float64) gg.Align {
	switch ax {
	case 0:
		return gg.AlignLeft
	case 1:
		return gg.AlignRight
	default:
		return gg.AlignCenter
	}
}

// useFont 设置字体，失败时回退到内置字体
func useFont(dc *gg.Context, path string, points float64) {
	if path != "" {
		if err := dc.LoadFontFace(path, points); err == nil {
			return
		}
	}
	dc.SetFontFace(basicfont.Face7x13)
}
