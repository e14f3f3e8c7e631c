package layout

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"io"
	"time"

	_ "image/jpeg"

	"github.com/go-pdf/fpdf"
)

// Color RGB 颜色
type Color struct {
	R, G, B int
}

var (
	DarkBlue = Color{34, 51, 68}
	Accent   = Color{19, 209, 124}
	CellBand = Color{35, 49, 74}
	White    = Color{255, 255, 255}
	Black    = Color{0, 0, 0}
	Grey     = Color{120, 120, 120}
)

// Canvas 布局引擎所需的绘图能力，坐标单位为毫米，原点在页面左上角
type Canvas interface {
	AddPage()
	PageCount() int
	SetPage(n int)
	PageSize() (w, h float64)
	SetFont(bold bool, size float64)
	StringWidth(s string) float64
	SetTextColor(c Color)
	SetFillColor(c Color)
	SetDrawColor(c Color)
	// Rect style: "D" 边框, "F" 填充, "FD" 两者
	Rect(x, y, w, h float64, style string)
	// Text 在 (x, y, w, h) 的单行区域内写入文本，垂直居中；align 为 "L" / "C" / "R"
	Text(x, y, w, h float64, s, align string)
	Image(name string, data []byte, x, y, w, h float64) error
}

// PDFCanvas 基于 fpdf 的 A4 画布
type PDFCanvas struct {
	pdf      *fpdf.Fpdf
	text     TextStrategy
	images   map[string]bool
	fontSize float64
	bold     bool
}

// NewPDFCanvas 创建画布；分页由布局引擎控制，关闭 fpdf 的自动分页
func NewPDFCanvas(text TextStrategy, title string) *PDFCanvas {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(0, 0, 0)
	pdf.SetAutoPageBreak(false, 0)
	pdf.SetCellMargin(0)
	pdf.SetTitle(title, true)
	pdf.SetCreator("quickscan", true)
	pdf.SetCreationDate(time.Now())
	text.Setup(pdf)

	c := &PDFCanvas{
		pdf:    pdf,
		text:   text,
		images: make(map[string]bool),
	}
	c.SetFont(false, 11)
	return c
}

func (c *PDFCanvas) AddPage() {
	c.pdf.AddPage()
	c.applyFont()
}

func (c *PDFCanvas) PageCount() int {
	return c.pdf.PageCount()
}

func (c *PDFCanvas) SetPage(n int) {
	c.pdf.SetPage(n)
}

func (c *PDFCanvas) PageSize() (float64, float64) {
	return c.pdf.GetPageSize()
}

func (c *PDFCanvas) SetFont(bold bool, size float64) {
	c.bold = bold
	c.fontSize = size
	c.applyFont()
}

func (c *PDFCanvas) applyFont() {
	family, style := c.text.Font(c.bold)
	c.pdf.SetFont(family, style, c.fontSize)
}

func (c *PDFCanvas) StringWidth(s string) float64 {
	return c.pdf.GetStringWidth(c.text.Encode(s))
}

func (c *PDFCanvas) SetTextColor(col Color) {
	c.pdf.SetTextColor(col.R, col.G, col.B)
}

func (c *PDFCanvas) SetFillColor(col Color) {
	c.pdf.SetFillColor(col.R, col.G, col.B)
}

func (c *PDFCanvas) SetDrawColor(col Color) {
	c.pdf.SetDrawColor(col.R, col.G, col.B)
}

func (c *PDFCanvas) Rect(x, y, w, h float64, style string) {
	c.pdf.Rect(x, y, w, h, style)
}

func (c *PDFCanvas) Text(x, y, w, h float64, s, align string) {
	c.pdf.SetXY(x, y)
	c.pdf.CellFormat(w, h, c.text.Encode(s), "", 0, align+"M", false, 0, "")
}

// Image 图片先解码再统一编码为 PNG，避免不受支持的格式让整个文档出错
func (c *PDFCanvas) Image(name string, data []byte, x, y, w, h float64) error {
	if !c.images[name] {
		normalized, err := normalizeImage(data)
		if err != nil {
			return fmt.Errorf("图片 %s 无效: %w", name, err)
		}
		c.pdf.RegisterImageOptionsReader(name, fpdf.ImageOptions{ImageType: "PNG"}, bytes.NewReader(normalized))
		if err := c.pdf.Error(); err != nil {
			return err
		}
		c.images[name] = true
	}
	c.pdf.ImageOptions(name, x, y, w, h, false, fpdf.ImageOptions{ImageType: "PNG"}, 0, "")
	return c.pdf.Error()
}

// Output 写出 PDF
func (c *PDFCanvas) Output(w io.Writer) error {
	return c.pdf.Output(w)
}

func normalizeImage(data []byte) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ImageSize 返回图片像素尺寸
func ImageSize(data []byte) (int, int, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, err
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return 0, 0, fmt.Errorf("图片尺寸无效 %dx%d", cfg.Width, cfg.Height)
	}
	return cfg.Width, cfg.Height, nil
}
