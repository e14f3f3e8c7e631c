package report

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fachebot/quickscan/internal/aggregate"
	"github.com/fachebot/quickscan/internal/assets"
	"github.com/fachebot/quickscan/internal/chart"
	"github.com/fachebot/quickscan/internal/config"
	"github.com/fachebot/quickscan/internal/form"
	"github.com/fachebot/quickscan/internal/layout"
	"github.com/fachebot/quickscan/internal/logger"
	"github.com/fachebot/quickscan/internal/overlay"
	"github.com/fachebot/quickscan/internal/summarizer"
	"github.com/google/uuid"
)

// AssetLoader 报告所需的静态资源来源
type AssetLoader interface {
	Resolve(ctx context.Context, name string) (string, error)
	Load(ctx context.Context, name string) ([]byte, error)
}

// Summary 返回给调用方的结构化摘要
type Summary struct {
	OverallCustomer aggregate.Average
	OverallExternal aggregate.Average
	Narrative       string
}

// Result 一次生成的结果
type Result struct {
	ID       string
	PDF      []byte
	Filename string
	Metadata form.Metadata
	Summary  Summary
	Pages    int

	ChartIncluded   bool
	OverlayIncluded bool
}

// Generator 将表单字段组装成 PDF 报告
type Generator struct {
	assets    AssetLoader
	scorer    summarizer.Scorer
	policy    aggregate.Policy
	positions map[string]overlay.Position
	cfg       config.Report
	now       func() time.Time
}

func NewGenerator(loader AssetLoader, scorer summarizer.Scorer, policy aggregate.Policy, positions map[string]overlay.Position, cfg config.Report) *Generator {
	if positions == nil {
		positions = overlay.DefaultPositions
	}
	if cfg.Filename == "" {
		cfg.Filename = "quickscan.pdf"
	}
	if cfg.Title == "" {
		cfg.Title = "Quick Scan"
	}
	return &Generator{
		assets:    loader,
		scorer:    scorer,
		policy:    policy,
		positions: positions,
		cfg:       cfg,
		now:       time.Now,
	}
}

// Generate 生成报告。只有输入不是键值对象时返回错误，
// 字体、图表、背景图或外部打分失败都只降级，不影响报告本身。
func (g *Generator) Generate(ctx context.Context, fields *form.Fields) (*Result, error) {
	if fields == nil {
		return nil, &form.InvalidInputError{Reason: "nil fields"}
	}

	items, meta := form.Extract(fields)
	scored := g.scoreItems(ctx, items)
	agg := aggregate.Build(scored, g.policy)

	// 没有题目时 Summarize 直接返回兜底文本，不访问外部服务
	narrative := g.scorer.Summarize(ctx, narrativeItems(items))

	result := &Result{
		ID:       uuid.NewString(),
		Filename: g.cfg.Filename,
		Metadata: meta,
		Summary: Summary{
			OverallCustomer: agg.Summary.OverallCustomer,
			OverallExternal: agg.Summary.OverallExternal,
			Narrative:       narrative,
		},
	}

	canvas := layout.NewPDFCanvas(g.textStrategy(ctx), g.cfg.Title)
	opts := layout.DefaultOptions()
	opts.Title = g.cfg.Title
	opts.Footer = g.footer()
	opts.Logo = g.optionalAsset(ctx, assets.Logo)
	engine := layout.NewEngine(canvas, opts)

	engine.NewPage()
	g.writeMetadata(engine, meta)

	if len(items) > 0 {
		g.writeTopics(engine, agg.Groups)
		g.writeTotals(engine, agg)

		engine.SectionTitle("Samenvatting")
		engine.Paragraph(narrative)

		if agg.Series.AnyData() {
			result.ChartIncluded = g.chartPage(ctx, engine, agg.Series)
			result.OverlayIncluded = g.overlayPage(ctx, engine, agg.Series)
		}
	}

	engine.Finish()
	var buf bytes.Buffer
	if err := canvas.Output(&buf); err != nil {
		return nil, fmt.Errorf("输出 PDF 失败: %w", err)
	}

	result.PDF = buf.Bytes()
	result.Pages = canvas.PageCount()
	logger.Infof("[Report] 报告已生成, id: %s, 题目: %d, 主题: %d, 页数: %d, 图表: %v, 信号灯: %v",
		result.ID, len(items), len(agg.Groups), result.Pages, result.ChartIncluded, result.OverlayIncluded)
	return result, nil
}

func (g *Generator) scoreItems(ctx context.Context, items []form.ResponseItem) []aggregate.Item {
	scored := make([]aggregate.Item, len(items))
	external := g.scorer.ScoresItems()
	for i, item := range items {
		scored[i] = aggregate.Item{ResponseItem: item}
		if external {
			scored[i].ExternalScore = form.NewScore(g.scorer.Score(ctx, item.QuestionLabel, item.AnswerText))
		}
	}
	return scored
}

func narrativeItems(items []form.ResponseItem) []summarizer.NarrativeItem {
	out := make([]summarizer.NarrativeItem, len(items))
	for i, item := range items {
		out[i] = summarizer.NarrativeItem{Topic: item.Topic, Question: item.QuestionLabel, Answer: item.AnswerText}
	}
	return out
}

func (g *Generator) footer() string {
	parts := make([]string, 0, 2)
	for _, s := range []string{g.cfg.Brand, g.cfg.Version} {
		if strings.TrimSpace(s) != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " · ")
}

// optionalAsset 读取资源，失败时记录日志并返回 nil
func (g *Generator) optionalAsset(ctx context.Context, name string) []byte {
	if g.assets == nil {
		return nil
	}
	data, err := g.assets.Load(ctx, name)
	if err != nil {
		if errors.Is(err, assets.ErrUnknownAsset) {
			logger.Debugf("[Report] 未配置资源 %s", name)
		} else {
			logger.Warnf("[Report] 资源 %s 不可用: %v", name, err)
		}
		return nil
	}
	return data
}

func (g *Generator) textStrategy(ctx context.Context) layout.TextStrategy {
	regular := g.optionalAsset(ctx, assets.FontRegular)
	bold := g.optionalAsset(ctx, assets.FontBold)
	strategy := layout.SelectTextStrategy(regular, bold)
	if !strategy.Unicode() {
		logger.Warnf("[Report] Unicode 字体不可用，使用内置字体")
	}
	return strategy
}

func (g *Generator) fontPath(ctx context.Context) string {
	if g.assets == nil {
		return ""
	}
	p, err := g.assets.Resolve(ctx, assets.FontRegular)
	if err != nil {
		return ""
	}
	return p
}

func (g *Generator) writeMetadata(e *layout.Engine, meta form.Metadata) {
	e.KeyValue("Datum:", g.now().Format("2006-01-02 15:04"))
	e.KeyValue("Naam:", meta.Name)
	e.KeyValue("Bedrijf:", meta.Company)
	e.KeyValue("E-mail:", meta.Email)
	e.KeyValue("Telefoon:", meta.Phone)

	if meta.IntroText != "" {
		e.Space(3)
		e.Paragraph(meta.IntroText)
	}
}

func (g *Generator) writeTopics(e *layout.Engine, groups []aggregate.TopicGroup) {
	e.Space(4)
	e.SectionTitle("Vragen en antwoorden")

	external := g.scorer.ScoresItems()
	for _, group := range groups {
		if len(group.Items) == 0 {
			continue
		}
		rows := make([]layout.LayoutRow, len(group.Items))
		for i, item := range group.Items {
			rows[i] = e.MeasureRow(item.QuestionLabel, "Antwoord: "+item.AnswerText, bandText(item, external))
		}

		e.BeginTopic(group.Topic, rows[0])
		for _, row := range rows {
			e.DrawRow(row)
		}
		e.EndTopic()
	}
}

func bandText(item aggregate.Item, external bool) string {
	text := "Cijfer klant: " + item.CustomerScore.String()
	if external {
		text += " · Cijfer AI: " + item.ExternalScore.String()
	}
	return text
}

var bucketNames = map[overlay.Bucket]string{
	overlay.Red:    "rood",
	overlay.Yellow: "geel",
	overlay.Green:  "groen",
}

func (g *Generator) writeTotals(e *layout.Engine, agg aggregate.Result) {
	e.Space(4)
	e.SectionTitle("Totaalscore")
	e.KeyValue("Klant:", agg.Summary.OverallCustomer.String())
	if g.scorer.ScoresItems() {
		e.KeyValue("AI:", agg.Summary.OverallExternal.String())
	}

	for _, group := range agg.Groups {
		value := "–"
		if group.HasData() {
			value = fmt.Sprintf("%.2f (%s)", group.Average, bucketNames[overlay.BucketForScore(group.Average)])
		}
		e.KeyValue(group.Topic+":", value)
	}
}

func chartTitle(policy aggregate.Policy) string {
	switch policy {
	case aggregate.PolicyCustomer:
		return "Gemiddelde score per onderwerp (klant)"
	case aggregate.PolicyExternal:
		return "Gemiddelde score per onderwerp (AI)"
	default:
		return "Gemiddelde score per onderwerp (klant en AI)"
	}
}

// chartPage 雷达图单独一页，失败时跳过
func (g *Generator) chartPage(ctx context.Context, e *layout.Engine, series aggregate.ChartSeries) bool {
	opts := chart.DefaultOptions()
	opts.FontPath = g.fontPath(ctx)
	data, err := safeRender("radar", func() ([]byte, error) {
		return chart.RenderRadar(series, opts)
	})
	if err != nil {
		logger.Errorf("[Report] 雷达图生成失败，跳过该页: %v", err)
		return false
	}
	return g.imagePage(e, chartTitle(g.policy), "radar", data, e.ContentWidth()*0.9)
}

// overlayPage 信号灯概览，背景图不可用或绘制失败时跳过
func (g *Generator) overlayPage(ctx context.Context, e *layout.Engine, series aggregate.ChartSeries) bool {
	base := g.optionalAsset(ctx, assets.Diagram)
	if base == nil {
		logger.Infof("[Report] 没有背景图，跳过信号灯页")
		return false
	}

	fontPath := g.fontPath(ctx)
	data, err := safeRender("overlay", func() ([]byte, error) {
		return overlay.Render(base, series, g.positions, fontPath)
	})
	if err != nil {
		logger.Errorf("[Report] 信号灯图生成失败，跳过该页: %v", err)
		return false
	}
	return g.imagePage(e, "Stoplichtoverzicht per onderwerp", "overlay", data, e.ContentWidth())
}

func (g *Generator) imagePage(e *layout.Engine, title, name string, data []byte, width float64) bool {
	if _, _, err := layout.ImageSize(data); err != nil {
		logger.Errorf("[Report] 图片 %s 无效，跳过该页: %v", name, err)
		return false
	}

	e.NewPage()
	if err := e.ImageSection(title, name, data, width); err != nil {
		logger.Errorf("[Report] 插入图片 %s 失败: %v", name, err)
		return false
	}
	return true
}

// safeRender 把绘图中的 panic 转成错误
func safeRender(name string, fn func() ([]byte, error)) (data []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s panic: %v", name, r)
		}
	}()
	return fn()
}
