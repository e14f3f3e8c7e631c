package layout

import (
	"fmt"
	"math"
)

// Options 页面与表格的几何参数，单位毫米
type Options struct {
	Title        string
	Footer       string
	Logo         []byte
	MarginX      float64
	HeaderBand   float64 // 页眉色带高度
	ContentTop   float64 // 正文起始 y
	BottomMargin float64
	FontSize     float64

	LeftRatio    float64 // 左列占正文宽度的比例
	Padding      float64
	LineHeight   float64
	BandHeight   float64 // 分数色带高度
	HeaderHeight float64 // 表头高度
	TitleHeight  float64 // 主题标题高度
	KeyWidth     float64 // 元数据键列宽

	// KeepTogether 开始新主题所需的最小剩余高度，0 表示按标题+表头+两行估算
	KeepTogether float64
}

// DefaultOptions A4 报告的默认参数
func DefaultOptions() Options {
	return Options{
		Title:        "Quick Scan",
		MarginX:      10,
		HeaderBand:   24,
		ContentTop:   26,
		BottomMargin: 15,
		FontSize:     11,
		LeftRatio:    0.48,
		Padding:      1.4,
		LineHeight:   7,
		BandHeight:   8,
		HeaderHeight: 8,
		TitleHeight:  7,
		KeyWidth:     40,
	}
}

func (o Options) keepTogether() float64 {
	if o.KeepTogether > 0 {
		return o.KeepTogether
	}
	typicalRow := o.LineHeight + 2*o.Padding + o.BandHeight
	return o.TitleHeight + o.HeaderHeight + 2*typicalRow
}

// LayoutRow 一行两列表格的测量与绘制结果
type LayoutRow struct {
	Left        string
	Right       string
	Band        string
	LeftLines   []string
	RightLines  []string
	LeftWidth   float64
	RightWidth  float64
	LeftHeight  float64
	RightHeight float64 // 包含分数色带
	Height      float64
	Page        int
	Y           float64
}

// Engine 在画布上按顺序排版，自行维护纵向游标与分页
type Engine struct {
	c         Canvas
	opts      Options
	pageW     float64
	pageH     float64
	y         float64
	tableOpen bool
}

func NewEngine(c Canvas, opts Options) *Engine {
	w, h := c.PageSize()
	return &Engine{
		c:     c,
		opts:  opts,
		pageW: w,
		pageH: h,
	}
}

// Y 当前游标
func (e *Engine) Y() float64 {
	return e.y
}

// Page 当前页码，从 1 开始
func (e *Engine) Page() int {
	return e.c.PageCount()
}

// ContentWidth 去掉左右边距后的宽度
func (e *Engine) ContentWidth() float64 {
	return e.pageW - 2*e.opts.MarginX
}

// ColumnWidths 左右两列宽度
func (e *Engine) ColumnWidths() (float64, float64) {
	total := e.ContentWidth()
	w1 := total * e.opts.LeftRatio
	return w1, total - w1
}

// Remaining 当前页剩余高度
func (e *Engine) Remaining() float64 {
	return e.bottom() - e.y
}

func (e *Engine) bottom() float64 {
	return e.pageH - e.opts.BottomMargin
}

func (e *Engine) usableHeight() float64 {
	return e.bottom() - e.opts.ContentTop
}

// NewPage 新建一页并绘制页眉
func (e *Engine) NewPage() {
	e.c.AddPage()
	e.drawHeader()
	e.y = e.opts.ContentTop
}

func (e *Engine) drawHeader() {
	e.c.SetFillColor(DarkBlue)
	e.c.Rect(0, 0, e.pageW, e.opts.HeaderBand, "F")

	if len(e.opts.Logo) > 0 {
		if w, h, err := ImageSize(e.opts.Logo); err == nil {
			logoH := e.opts.HeaderBand - 8
			logoW := logoH * float64(w) / float64(h)
			if err := e.c.Image("logo", e.opts.Logo, e.opts.MarginX, 4, logoW, logoH); err != nil {
				e.opts.Logo = nil
			}
		} else {
			e.opts.Logo = nil
		}
	}

	e.c.SetTextColor(White)
	e.c.SetFont(true, 14)
	e.c.Text(0, 7, e.pageW, 10, e.opts.Title, "C")
	e.c.SetTextColor(Black)
}

// ensure 剩余空间不足 h 时换页，返回是否换页
func (e *Engine) ensure(h float64) bool {
	if e.y+h <= e.bottom() || e.y <= e.opts.ContentTop {
		return false
	}
	e.NewPage()
	return true
}

// Space 纵向留白，不跨页
func (e *Engine) Space(h float64) {
	e.y = math.Min(e.y+h, e.bottom())
}

// KeyValue 元数据行：键常规字体，值加粗并可换行
func (e *Engine) KeyValue(key, value string) {
	lh := e.opts.LineHeight
	valueW := e.ContentWidth() - e.opts.KeyWidth

	e.c.SetFont(true, e.opts.FontSize)
	lines := WrapLines(e.c.StringWidth, value, valueW)
	e.ensure(float64(len(lines)) * lh)

	e.c.SetTextColor(Black)
	e.c.SetFont(false, e.opts.FontSize)
	e.c.Text(e.opts.MarginX, e.y, e.opts.KeyWidth, lh, key, "L")
	e.c.SetFont(true, e.opts.FontSize)
	for i, line := range lines {
		e.c.Text(e.opts.MarginX+e.opts.KeyWidth, e.y+float64(i)*lh, valueW, lh, line, "L")
	}
	e.y += float64(len(lines)) * lh
}

const (
	sectionTitleHeight = 8.0
	imageGap           = 2.0
)

// SectionTitle 强调色的小节标题，标题后至少还要能放下一行
func (e *Engine) SectionTitle(text string) {
	h := sectionTitleHeight
	e.ensure(h + e.opts.LineHeight)
	e.c.SetFont(true, 12)
	e.c.SetTextColor(Accent)
	e.c.Text(e.opts.MarginX, e.y, e.ContentWidth(), h, text, "L")
	e.c.SetTextColor(Black)
	e.y += h
}

// Paragraph 正文段落，按行跨页
func (e *Engine) Paragraph(text string) {
	lh := e.opts.LineHeight
	e.c.SetFont(false, e.opts.FontSize)
	e.c.SetTextColor(Black)
	for _, line := range WrapLines(e.c.StringWidth, text, e.ContentWidth()) {
		e.ensure(lh)
		e.c.Text(e.opts.MarginX, e.y, e.ContentWidth(), lh, line, "L")
		e.y += lh
	}
}

// BeginTopic 开始一个主题：剩余空间放不下标题、表头和开头的行时先换页
func (e *Engine) BeginTopic(title string, first LayoutRow) {
	need := math.Max(e.opts.keepTogether(), e.opts.TitleHeight+e.opts.HeaderHeight+first.Height)
	if need > e.usableHeight() {
		need = e.opts.keepTogether()
	}
	if e.Remaining() < need {
		e.NewPage()
	}

	e.c.SetFont(true, 12)
	e.c.SetTextColor(DarkBlue)
	e.c.Text(e.opts.MarginX, e.y, e.ContentWidth(), e.opts.TitleHeight, title, "L")
	e.c.SetTextColor(Black)
	e.y += e.opts.TitleHeight

	e.TableHeader()
	e.tableOpen = true
}

// EndTopic 结束当前主题表格
func (e *Engine) EndTopic() {
	e.tableOpen = false
	e.Space(1)
}

// TableHeader 深蓝底白字表头
func (e *Engine) TableHeader() {
	w1, w2 := e.ColumnWidths()
	h := e.opts.HeaderHeight
	x := e.opts.MarginX

	e.c.SetFont(true, e.opts.FontSize)
	e.c.SetFillColor(DarkBlue)
	e.c.SetDrawColor(Black)
	e.c.Rect(x, e.y, w1, h, "FD")
	e.c.Rect(x+w1, e.y, w2, h, "FD")
	e.c.SetTextColor(White)
	e.c.Text(x+e.opts.Padding, e.y, w1-2*e.opts.Padding, h, "Vraag", "L")
	e.c.Text(x+w1+e.opts.Padding, e.y, w2-2*e.opts.Padding, h, "Antwoord / Cijfer (klant)", "L")
	e.c.SetTextColor(Black)
	e.y += h
}

// MeasureRow 只测量不绘制：行高 = max(左列文本高, 右列文本高 + 色带高)
func (e *Engine) MeasureRow(left, right, band string) LayoutRow {
	w1, w2 := e.ColumnWidths()
	pad := e.opts.Padding
	lh := e.opts.LineHeight

	e.c.SetFont(true, e.opts.FontSize)
	leftLines := WrapLines(e.c.StringWidth, left, w1-2*pad)
	e.c.SetFont(false, e.opts.FontSize)
	rightLines := WrapLines(e.c.StringWidth, right, w2-2*pad)

	hLeft := float64(len(leftLines))*lh + 2*pad
	hRight := float64(len(rightLines))*lh + 2*pad + e.opts.BandHeight
	return LayoutRow{
		Left:        left,
		Right:       right,
		Band:        band,
		LeftLines:   leftLines,
		RightLines:  rightLines,
		LeftWidth:   w1,
		RightWidth:  w2,
		LeftHeight:  hLeft,
		RightHeight: hRight,
		Height:      math.Max(hLeft, hRight),
	}
}

// Row 测量并绘制一行
func (e *Engine) Row(left, right, band string) LayoutRow {
	return e.DrawRow(e.MeasureRow(left, right, band))
}

// DrawRow 两列从同一 y 开始，按同一行高画边框；放不下时换页并重画表头。
// 比整页还高的行从当前位置开始拆成多段，色带只画在最后一段。
func (e *Engine) DrawRow(row LayoutRow) LayoutRow {
	if e.y+row.Height > e.bottom() {
		fresh := e.usableHeight()
		if e.tableOpen {
			fresh -= e.opts.HeaderHeight
		}
		if row.Height <= fresh || e.Remaining() < e.opts.LineHeight+2*e.opts.Padding {
			e.continuePage()
		}
	}

	row.Page = e.Page()
	row.Y = e.y
	if row.Height <= e.Remaining() {
		e.drawCells(row.LeftLines, row.RightLines, row.Band, row.Height, true)
		return row
	}

	left, right := row.LeftLines, row.RightLines
	lh, pad := e.opts.LineHeight, e.opts.Padding
	for {
		avail := e.Remaining()
		hLeft := float64(len(left))*lh + 2*pad
		hRight := float64(len(right))*lh + 2*pad + e.opts.BandHeight
		if h := math.Max(hLeft, hRight); h <= avail {
			e.drawCells(left, right, row.Band, h, true)
			return row
		}

		n := int((avail - 2*pad) / lh)
		if n < 1 {
			n = 1
		}
		l, r := take(left, n), take(right, n)
		e.drawCells(l, r, "", avail, false)
		left, right = left[len(l):], right[len(r):]
		e.continuePage()
	}
}

func (e *Engine) continuePage() {
	e.NewPage()
	if e.tableOpen {
		e.TableHeader()
	}
}

func (e *Engine) drawCells(left, right []string, band string, h float64, withBand bool) {
	w1, w2 := e.ColumnWidths()
	x0, y0 := e.opts.MarginX, e.y
	pad, lh := e.opts.Padding, e.opts.LineHeight

	e.c.SetDrawColor(Black)
	e.c.Rect(x0, y0, w1, h, "D")
	e.c.Rect(x0+w1, y0, w2, h, "D")

	e.c.SetTextColor(Black)
	e.c.SetFont(true, e.opts.FontSize)
	for i, line := range left {
		e.c.Text(x0+pad, y0+pad+float64(i)*lh, w1-2*pad, lh, line, "L")
	}
	e.c.SetFont(false, e.opts.FontSize)
	for i, line := range right {
		e.c.Text(x0+w1+pad, y0+pad+float64(i)*lh, w2-2*pad, lh, line, "L")
	}

	if withBand {
		yb := y0 + h - e.opts.BandHeight
		e.c.SetFillColor(CellBand)
		e.c.Rect(x0+w1, yb, w2, e.opts.BandHeight, "F")
		e.c.SetTextColor(White)
		e.c.Text(x0+w1+pad, yb+(e.opts.BandHeight-6)/2, w2-pad, 6, band, "L")
		e.c.SetTextColor(Black)
	}
	e.y = y0 + h
}

func take(lines []string, n int) []string {
	if n > len(lines) {
		n = len(lines)
	}
	return lines[:n]
}

// Image 居中放置图片，宽度为 width；放不下时换页，仍放不下则等比缩小
func (e *Engine) Image(name string, data []byte, width float64) error {
	pw, ph, err := ImageSize(data)
	if err != nil {
		return fmt.Errorf("图片 %s 无效: %w", name, err)
	}
	width, h := fitImage(pw, ph, math.Min(width, e.ContentWidth()), e.usableHeight())
	e.ensure(h)
	return e.placeImage(name, data, width, h)
}

// ImageSection 标题和图片放在同一页，图片按标题下方的整页高度等比缩小
func (e *Engine) ImageSection(title, name string, data []byte, width float64) error {
	pw, ph, err := ImageSize(data)
	if err != nil {
		return fmt.Errorf("图片 %s 无效: %w", name, err)
	}
	lead := sectionTitleHeight + imageGap
	width, h := fitImage(pw, ph, math.Min(width, e.ContentWidth()), e.usableHeight()-lead)
	e.ensure(lead + h)
	e.SectionTitle(title)
	e.Space(imageGap)
	return e.placeImage(name, data, width, h)
}

// fitImage 按宽度等比缩放，高度超过 maxH 时再按高度缩小
func fitImage(pw, ph int, width, maxH float64) (float64, float64) {
	h := width * float64(ph) / float64(pw)
	if h > maxH {
		h = maxH
		width = h * float64(pw) / float64(ph)
	}
	return width, h
}

func (e *Engine) placeImage(name string, data []byte, width, h float64) error {
	if h > e.Remaining() {
		width = e.Remaining() * width / h
		h = e.Remaining()
	}
	x := e.opts.MarginX + (e.ContentWidth()-width)/2
	if err := e.c.Image(name, data, x, e.y, width, h); err != nil {
		return err
	}
	e.y += h
	return nil
}

// Finish 在所有页面底部写页脚 "footer · pagina i/n"
func (e *Engine) Finish() {
	n := e.c.PageCount()
	for i := 1; i <= n; i++ {
		e.c.SetPage(i)
		e.c.SetFont(false, 8)
		e.c.SetTextColor(Grey)
		text := fmt.Sprintf("pagina %d/%d", i, n)
		if e.opts.Footer != "" {
			text = e.opts.Footer + " · " + text
		}
		e.c.Text(0, e.pageH-12, e.pageW, 8, text, "C")
	}
	e.c.SetTextColor(Black)
}
