package layout

import (
	"strings"

	"github.com/go-pdf/fpdf"
)

const (
	unicodeFamily = "DejaVu"
	latinFamily   = "Helvetica"
)

// TextStrategy 决定文档使用的字体以及写入前如何处理文本
type TextStrategy interface {
	// Setup 在文档上注册字体
	Setup(pdf *fpdf.Fpdf)
	// Font 返回字体族与样式
	Font(bold bool) (family, style string)
	// Encode 将文本转换为字体可写入的形式
	Encode(s string) string
	Unicode() bool
}

type unicodeText struct {
	regular []byte
	bold    []byte
}

func (u *unicodeText) Setup(pdf *fpdf.Fpdf) {
	pdf.AddUTF8FontFromBytes(unicodeFamily, "", u.regular)
	pdf.AddUTF8FontFromBytes(unicodeFamily, "B", u.bold)
}

func (u *unicodeText) Font(bold bool) (string, string) {
	if bold {
		return unicodeFamily, "B"
	}
	return unicodeFamily, ""
}

func (u *unicodeText) Encode(s string) string {
	return s
}

func (u *unicodeText) Unicode() bool {
	return true
}

type latinText struct {
	translate func(string) string
}

func (l *latinText) Setup(pdf *fpdf.Fpdf) {
	l.translate = pdf.UnicodeTranslatorFromDescriptor("")
}

func (l *latinText) Font(bold bool) (string, string) {
	if bold {
		return latinFamily, "B"
	}
	return latinFamily, ""
}

func (l *latinText) Encode(s string) string {
	s = SanitizeLatin1(s)
	if l.translate != nil {
		return l.translate(s)
	}
	return s
}

func (l *latinText) Unicode() bool {
	return false
}

// NewLatinText 内置字体，不支持的字符做替换
func NewLatinText() TextStrategy {
	return &latinText{}
}

// SelectTextStrategy 优先使用 Unicode 字体。
// 字体数据缺失或无法解析时返回 Latin-1 策略。fpdf 的错误是粘滞的，先在临时文档上试加载。
func SelectTextStrategy(regular, bold []byte) (strategy TextStrategy) {
	if len(regular) == 0 || len(bold) == 0 {
		return NewLatinText()
	}
	defer func() {
		if r := recover(); r != nil {
			strategy = NewLatinText()
		}
	}()

	trial := fpdf.New("P", "mm", "A4", "")
	u := &unicodeText{regular: regular, bold: bold}
	u.Setup(trial)
	trial.SetFont(unicodeFamily, "", 11)
	trial.SetFont(unicodeFamily, "B", 11)
	if trial.Err() {
		return NewLatinText()
	}
	return u
}

var latin1Replacer = strings.NewReplacer(
	"’", "'",
	"‘", "'",
	"“", `"`,
	"”", `"`,
	"–", "-",
	"—", "-",
	"…", "...",
	"€", "EUR",
	"\u00a0", " ",
)

// SanitizeLatin1 替换常见排版字符，其余超出 Latin-1 的字符变为 '?'
func SanitizeLatin1(s string) string {
	s = latin1Replacer.Replace(s)
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r > 0xFF {
			b.WriteByte('?')
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
