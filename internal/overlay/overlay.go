package overlay

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"math"

	_ "image/jpeg"
	_ "image/png"

	"github.com/fachebot/quickscan/internal/aggregate"
	"github.com/fogleman/gg"
	"golang.org/x/image/font/basicfont"
)

// ErrNoBaseImage 背景图缺失或无法解码
var ErrNoBaseImage = errors.New("overlay: base image unavailable")

// Lamp 一个灯
type Lamp struct {
	Color  Bucket
	X, Y   float64
	Radius float64
	Active bool
}

// Widget 一个主题的信号灯
type Widget struct {
	Stage  string
	Label  string
	Score  float64
	Bucket Bucket
	X, Y   float64 // 外壳左上角
	W, H   float64
	Lamps  [3]Lamp
}

// Layout 计算每个主题信号灯的位置（像素）。
// 无法匹配位置表或没有有效分数的主题被跳过。
func Layout(width, height int, series aggregate.ChartSeries, positions map[string]Position) []Widget {
	w, h := float64(width), float64(height)
	short := math.Min(w, h)
	housingW := short * 0.060
	housingH := short * 0.115
	radius := housingW * 0.20
	padding := housingW * 0.12

	var widgets []Widget
	for i, label := range series.Labels {
		if i >= len(series.Values) || (i < len(series.HasData) && !series.HasData[i]) {
			continue
		}
		stage := NormalizeStageName(label)
		pos, ok := positions[stage]
		if !ok {
			continue
		}

		cx := clamp(pos.X*w, housingW/2, w-housingW/2)
		top := clamp(pos.Y*h, 0, h-housingH)
		score := series.Values[i]
		active := BucketForScore(score)

		widget := Widget{
			Stage:  stage,
			Label:  label,
			Score:  score,
			Bucket: active,
			X:      cx - housingW/2,
			Y:      top,
			W:      housingW,
			H:      housingH,
		}
		centers := [3]float64{top + padding + radius, top + housingH/2, top + housingH - padding - radius}
		for j, color := range [3]Bucket{Red, Yellow, Green} {
			widget.Lamps[j] = Lamp{Color: color, X: cx, Y: centers[j], Radius: radius, Active: color == active}
		}
		widgets = append(widgets, widget)
	}
	return widgets
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// Render 在背景图上绘制信号灯并返回 PNG
func Render(base []byte, series aggregate.ChartSeries, positions map[string]Position, fontPath string) ([]byte, error) {
	if len(base) == 0 {
		return nil, ErrNoBaseImage
	}
	img, _, err := image.Decode(bytes.NewReader(base))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoBaseImage, err)
	}

	b := img.Bounds()
	dc := gg.NewContext(b.Dx(), b.Dy())
	dc.SetRGB(1, 1, 1)
	dc.Clear()
	dc.DrawImage(img, -b.Min.X, -b.Min.Y)

	short := math.Min(float64(b.Dx()), float64(b.Dy()))
	fontSize := math.Max(11, short*0.022)
	if fontPath == "" || dc.LoadFontFace(fontPath, fontSize) != nil {
		dc.SetFontFace(basicfont.Face7x13)
	}

	for _, w := range Layout(b.Dx(), b.Dy(), series, positions) {
		drawWidget(dc, w)
	}

	var buf bytes.Buffer
	if err := dc.EncodePNG(&buf); err != nil {
		return nil, fmt.Errorf("overlay: encode png: %w", err)
	}
	return buf.Bytes(), nil
}

func lampRGB(b Bucket) (float64, float64, float64) {
	switch b {
	case Red:
		return 0.85, 0.20, 0.20
	case Yellow:
		return 1.00, 0.80, 0.00
	case Green:
		return 0.00, 0.70, 0.30
	default:
		return 0.6, 0.6, 0.6
	}
}

func drawWidget(dc *gg.Context, w Widget) {
	corner := math.Min(6, w.W/4)

	// 阴影
	dc.SetRGBA(0, 0, 0, 0.20)
	dc.DrawRoundedRectangle(w.X+2, w.Y+2, w.W, w.H, corner)
	dc.Fill()

	// 外壳
	dc.SetRGBA(0.15, 0.17, 0.20, 0.85)
	dc.DrawRoundedRectangle(w.X, w.Y, w.W, w.H, corner)
	dc.FillPreserve()
	dc.SetRGBA(1, 1, 1, 0.9)
	dc.SetLineWidth(1)
	dc.Stroke()

	for _, lamp := range w.Lamps {
		r, g, b := lampRGB(lamp.Color)
		lw := 1.0
		if !lamp.Active {
			r, g, b = r*0.45, g*0.45, b*0.45
		} else {
			lw = 2.2
		}

		dc.SetRGBA(1, 1, 1, 0.18)
		dc.DrawCircle(lamp.X, lamp.Y, lamp.Radius*1.25)
		dc.Fill()

		dc.SetRGB(r, g, b)
		dc.DrawCircle(lamp.X, lamp.Y, lamp.Radius)
		dc.FillPreserve()
		dc.SetRGB(1, 1, 1)
		dc.SetLineWidth(lw)
		dc.Stroke()
	}

	// 分数标签，放在外壳上方；靠近顶部时放到下方
	text := fmt.Sprintf("%.1f", w.Score)
	tw, th := dc.MeasureString(text)
	cx := w.X + w.W/2
	ty := w.Y - 6 - th
	if ty-4 < 0 {
		ty = w.Y + w.H + 6
	}
	dc.SetRGBA(0, 0, 0, 0.55)
	dc.DrawRoundedRectangle(cx-tw/2-5, ty-4, tw+10, th+8, 4)
	dc.Fill()
	dc.SetRGB(1, 1, 1)
	dc.DrawStringAnchored(text, cx, ty, 0.5, 1)
}
