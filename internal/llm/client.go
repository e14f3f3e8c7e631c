package llm

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/fachebot/quickscan/internal/config"
	"github.com/fachebot/quickscan/internal/logger"
	"github.com/sashabaranov/go-openai"
)

// openAIClientInterface 定义 OpenAI 客户端接口，便于测试
type openAIClientInterface interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

type Client struct {
	config       *config.LLM
	openaiClient openAIClientInterface
	maxAnswerLen int
}

// NewClient 创建客户端，httpClient 为 nil 时使用默认 HTTP 客户端
func NewClient(cfg *config.LLM, httpClient *http.Client) *Client {
	openaiConfig := openai.DefaultConfig(cfg.APIKey)
	openaiConfig.BaseURL = cfg.BaseURL
	if httpClient != nil {
		openaiConfig.HTTPClient = httpClient
	}

	return &Client{
		config:       cfg,
		openaiClient: openai.NewClientWithConfig(openaiConfig),
		maxAnswerLen: 2000,
	}
}

// QA 一道题目及其回答，用于生成总结
type QA struct {
	Topic    string
	Question string
	Answer   string
}

var firstIntegerRe = regexp.MustCompile(`-?\d+`)

// parseScore 从模型回复中取出第一个整数，并检查范围
func parseScore(content string, min, max int) (int, error) {
	m := firstIntegerRe.FindString(content)
	if m == "" {
		return 0, fmt.Errorf("回复中没有分数: %q", content)
	}
	n, err := strconv.Atoi(m)
	if err != nil {
		return 0, fmt.Errorf("解析分数失败: %w", err)
	}
	if n < min || n > max {
		return 0, fmt.Errorf("分数 %d 超出范围 [%d, %d]", n, min, max)
	}
	return n, nil
}

// truncate 按字符截断过长的回答
func truncate(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit]) + "…"
}

// qaToPromptText 将题目列表转为 prompt 文本，按主题分段
func qaToPromptText(items []QA, limit int) string {
	var b strings.Builder
	lastTopic := ""
	for _, it := range items {
		if it.Topic != lastTopic {
			if b.Len() > 0 {
				b.WriteString("\n")
			}
			fmt.Fprintf(&b, "## %s\n", it.Topic)
			lastTopic = it.Topic
		}
		fmt.Fprintf(&b, "- Vraag: %s\n  Antwoord: %s\n", it.Question, truncate(it.Answer, limit))
	}
	return b.String()
}

// ScoreAnswer 让模型为单个回答打 1..5 分
func (c *Client) ScoreAnswer(ctx context.Context, question, answer string) (int, error) {
	prompt := fmt.Sprintf("Geef een score van 1 (slecht) tot 5 (uitstekend) voor dit antwoord op de vraag '%s': %s\nAlleen het cijfer teruggeven.",
		question, truncate(answer, c.maxAnswerLen))

	content, err := c.complete(ctx, "", prompt, 0, 5)
	if err != nil {
		return 0, err
	}
	return parseScore(content, 1, 5)
}

// SummarizeResponses 为整份问卷写一段简短的荷兰语总结
func (c *Client) SummarizeResponses(ctx context.Context, items []QA) (string, error) {
	if len(items) == 0 {
		return "", nil
	}

	systemPrompt := `Je bent een adviseur op het gebied van onderhoud en asset management.
Schrijf op basis van de antwoorden van een Quick Scan een samenvatting van 3 tot 5 zinnen in het Nederlands.
Noem de sterke punten en de belangrijkste verbeterpunten. Gebruik geen opsommingstekens en geen koppen.`

	userPrompt := "Antwoorden van de Quick Scan:\n\n" + qaToPromptText(items, c.maxAnswerLen)

	logger.Debugf("[LLM] 生成总结，题目数 %d", len(items))
	content, err := c.complete(ctx, systemPrompt, userPrompt, 0.3, 600)
	if err != nil {
		return "", err
	}
	if content == "" {
		return "", fmt.Errorf("LLM API 返回空总结")
	}
	return content, nil
}

// complete 执行一次对话请求，返回去掉代码块标记的文本
func (c *Client) complete(ctx context.Context, systemPrompt, userPrompt string, temperature float32, maxTokens int) (string, error) {
	timeout := time.Duration(c.config.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var messages []openai.ChatCompletionMessage
	if systemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: systemPrompt})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: userPrompt})

	req := openai.ChatCompletionRequest{
		Model:       c.config.Model,
		Messages:    messages,
		Temperature: temperature,
		MaxTokens:   maxTokens,
	}

	resp, err := c.openaiClient.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("调用 LLM API 失败: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("LLM API 返回空结果")
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	content = strings.TrimPrefix(content, "```text")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)
	return content, nil
}
