package llm

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/fachebot/quickscan/internal/config"
	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

// mockOpenAIClient 模拟 OpenAI 客户端
type mockOpenAIClient struct {
	mock.Mock
}

func (m *mockOpenAIClient) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(openai.ChatCompletionResponse), args.Error(1)
}

// newTestClient 创建用于测试的客户端，注入 mock
func newTestClient(cfg *config.LLM, mockClient openAIClientInterface) *Client {
	return &Client{
		config:       cfg,
		openaiClient: mockClient,
		maxAnswerLen: 2000,
	}
}

func replyWith(content string) openai.ChatCompletionResponse {
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: content}},
		},
	}
}

func TestParseScore(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    int
		wantErr bool
	}{
		{"纯数字", "4", 4, false},
		{"带说明", "Score: 3 (redelijk)", 3, false},
		{"换行", "\n5\n", 5, false},
		{"超出上限", "7", 0, true},
		{"零", "0", 0, true},
		{"负数", "-2", 0, true},
		{"无数字", "uitstekend", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseScore(tt.content, 1, 5)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "ab…", truncate("abcdef", 2))
	assert.Equal(t, "abcdef", truncate("abcdef", 0))
	assert.Equal(t, "ëë…", truncate("ëëë", 2))
}

func TestQAToPromptText(t *testing.T) {
	items := []QA{
		{Topic: "A", Question: "q1", Answer: "a1"},
		{Topic: "A", Question: "q2", Answer: "a2"},
		{Topic: "B", Question: "q3", Answer: "a3"},
	}
	got := qaToPromptText(items, 100)
	assert.Equal(t, 1, strings.Count(got, "## A"))
	assert.Equal(t, 1, strings.Count(got, "## B"))
	assert.Contains(t, got, "- Vraag: q2\n  Antwoord: a2")
	assert.Less(t, strings.Index(got, "## A"), strings.Index(got, "## B"))
}

func TestScoreAnswer_Success(t *testing.T) {
	mockAPI := new(mockOpenAIClient)
	mockAPI.On("CreateChatCompletion", mock.Anything, mock.MatchedBy(func(req openai.ChatCompletionRequest) bool {
		return req.Model == "test" &&
			len(req.Messages) == 1 &&
			strings.Contains(req.Messages[0].Content, "'Is er een planning?'") &&
			strings.Contains(req.Messages[0].Content, "Alleen het cijfer teruggeven.")
	})).Return(replyWith("4"), nil)

	client := newTestClient(&config.LLM{Model: "test", TimeoutSeconds: 5}, mockAPI)
	score, err := client.ScoreAnswer(context.Background(), "Is er een planning?", "Ja")
	assert.NoError(t, err)
	assert.Equal(t, 4, score)
	mockAPI.AssertExpectations(t)
}

func TestScoreAnswer_APIError(t *testing.T) {
	mockAPI := new(mockOpenAIClient)
	mockAPI.On("CreateChatCompletion", mock.Anything, mock.Anything).
		Return(openai.ChatCompletionResponse{}, errors.New("api error"))

	client := newTestClient(&config.LLM{Model: "test"}, mockAPI)
	_, err := client.ScoreAnswer(context.Background(), "q", "a")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "调用 LLM API 失败")
}

func TestScoreAnswer_OutOfRange(t *testing.T) {
	mockAPI := new(mockOpenAIClient)
	mockAPI.On("CreateChatCompletion", mock.Anything, mock.Anything).Return(replyWith("9"), nil)

	client := newTestClient(&config.LLM{Model: "test"}, mockAPI)
	_, err := client.ScoreAnswer(context.Background(), "q", "a")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "超出范围")
}

func TestScoreAnswer_EmptyResponse(t *testing.T) {
	mockAPI := new(mockOpenAIClient)
	mockAPI.On("CreateChatCompletion", mock.Anything, mock.Anything).
		Return(openai.ChatCompletionResponse{Choices: nil}, nil)

	client := newTestClient(&config.LLM{Model: "test"}, mockAPI)
	_, err := client.ScoreAnswer(context.Background(), "q", "a")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "返回空结果")
}

func TestSummarizeResponses_Empty(t *testing.T) {
	client := newTestClient(&config.LLM{Model: "test"}, &mockOpenAIClient{})

	result, err := client.SummarizeResponses(context.Background(), nil)
	assert.NoError(t, err)
	assert.Empty(t, result)
}

func TestSummarizeResponses_Success(t *testing.T) {
	mockAPI := new(mockOpenAIClient)
	mockAPI.On("CreateChatCompletion", mock.Anything, mock.MatchedBy(func(req openai.ChatCompletionRequest) bool {
		return len(req.Messages) == 2 &&
			req.Messages[0].Role == openai.ChatMessageRoleSystem &&
			strings.Contains(req.Messages[1].Content, "## Werkvoorbereiding")
	})).Return(replyWith("De organisatie is goed op weg."), nil)

	client := newTestClient(&config.LLM{Model: "test"}, mockAPI)
	result, err := client.SummarizeResponses(context.Background(), []QA{
		{Topic: "Werkvoorbereiding", Question: "q", Answer: "a"},
	})
	assert.NoError(t, err)
	assert.Equal(t, "De organisatie is goed op weg.", result)
	mockAPI.AssertExpectations(t)
}

func TestSummarizeResponses_TrimsMarkdownCodeBlock(t *testing.T) {
	mockAPI := new(mockOpenAIClient)
	mockAPI.On("CreateChatCompletion", mock.Anything, mock.Anything).
		Return(replyWith("```\nKorte samenvatting.\n```"), nil)

	client := newTestClient(&config.LLM{Model: "test"}, mockAPI)
	result, err := client.SummarizeResponses(context.Background(), []QA{{Topic: "T", Question: "q", Answer: "a"}})
	assert.NoError(t, err)
	assert.Equal(t, "Korte samenvatting.", result)
}

func TestSummarizeResponses_BlankReply(t *testing.T) {
	mockAPI := new(mockOpenAIClient)
	mockAPI.On("CreateChatCompletion", mock.Anything, mock.Anything).Return(replyWith("   "), nil)

	client := newTestClient(&config.LLM{Model: "test"}, mockAPI)
	_, err := client.SummarizeResponses(context.Background(), []QA{{Topic: "T", Question: "q", Answer: "a"}})
	assert.Error(t, err)
}
