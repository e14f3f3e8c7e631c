package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/fachebot/quickscan/internal/aggregate"
	"github.com/fachebot/quickscan/internal/config"
	"github.com/fachebot/quickscan/internal/form"
	"github.com/fachebot/quickscan/internal/notify"
	"github.com/fachebot/quickscan/internal/report"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type fakeGenerator struct {
	result *report.Result
	err    error
	fields *form.Fields
	slow   bool // 耗尽请求超时后才返回
}

func (g *fakeGenerator) Generate(ctx context.Context, fields *form.Fields) (*report.Result, error) {
	g.fields = fields
	if g.slow {
		<-ctx.Done()
	}
	return g.result, g.err
}

type mockDispatcher struct {
	mock.Mock
}

func (m *mockDispatcher) Enabled() bool {
	return m.Called().Bool(0)
}

func (m *mockDispatcher) BuildDelivery(meta form.Metadata, pdf []byte, filename string) (notify.Delivery, bool) {
	args := m.Called(meta, pdf, filename)
	return args.Get(0).(notify.Delivery), args.Bool(1)
}

func (m *mockDispatcher) Deliver(ctx context.Context, d notify.Delivery) bool {
	return m.Called(ctx, d).Bool(0)
}

func serverConfig() *config.Server {
	return &config.Server{Listen: ":0", MaxConcurrent: 1, RequestTimeout: 5, DispatchTimeout: 5, CORSOrigins: "*"}
}

func sampleResult() *report.Result {
	return &report.Result{
		ID:       "rapport-1",
		PDF:      []byte("%PDF-1.3"),
		Filename: "quickscan.pdf",
		Metadata: form.Metadata{Name: "Jan", Email: "jan@example.com"},
		Summary: report.Summary{
			OverallCustomer: aggregate.Average{Value: 3, Valid: true},
			Narrative:       "Samenvatting",
		},
	}
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestStaticRoutes(t *testing.T) {
	s := New(serverConfig(), "QS-test", &fakeGenerator{}, nil)
	h := s.Handler()

	rec := do(t, h, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = do(t, h, http.MethodGet, "/version", "")
	assert.JSONEq(t, `{"version":"QS-test"}`, rec.Body.String())

	rec = do(t, h, http.MethodGet, "/", "")
	assert.Equal(t, banner, rec.Body.String())
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestSubmit_Preflight(t *testing.T) {
	s := New(serverConfig(), "QS-test", &fakeGenerator{}, nil)
	rec := do(t, s.Handler(), http.MethodOptions, "/submit", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "POST")
}

func TestSubmit_SendsMail(t *testing.T) {
	gen := &fakeGenerator{result: sampleResult()}
	dispatcher := new(mockDispatcher)
	delivery := notify.Delivery{To: "jan@example.com"}
	dispatcher.On("Enabled").Return(true)
	dispatcher.On("BuildDelivery", gen.result.Metadata, gen.result.PDF, "quickscan.pdf").Return(delivery, true)
	dispatcher.On("Deliver", mock.Anything, delivery).Return(true)

	s := New(serverConfig(), "QS-test", gen, dispatcher)
	rec := do(t, s.Handler(), http.MethodPost, "/submit", `{"name":"Jan","T1_0_answer":"ja"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "rapport-1", resp["report_id"])
	assert.Equal(t, 3.0, resp["total_score_customer"])
	assert.Equal(t, "", resp["total_score_external"], "缺失的平均分为空字符串")
	assert.Equal(t, "Samenvatting", resp["narrative"])
	assert.Equal(t, true, resp["email_sent"])
	assert.Equal(t, []string{"name", "T1_0_answer"}, gen.fields.Keys())
	dispatcher.AssertExpectations(t)
}

func TestSubmit_MailAfterSlowGeneration(t *testing.T) {
	gen := &fakeGenerator{result: sampleResult(), slow: true}
	dispatcher := new(mockDispatcher)
	delivery := notify.Delivery{To: "jan@example.com"}
	dispatcher.On("Enabled").Return(true)
	dispatcher.On("BuildDelivery", mock.Anything, mock.Anything, mock.Anything).Return(delivery, true)
	dispatcher.On("Deliver", mock.MatchedBy(func(ctx context.Context) bool {
		_, hasDeadline := ctx.Deadline()
		return ctx.Err() == nil && hasDeadline
	}), delivery).Return(true)

	cfg := serverConfig()
	cfg.RequestTimeout = 1
	s := New(cfg, "QS-test", gen, dispatcher)
	rec := do(t, s.Handler(), http.MethodPost, "/submit", `{"name":"Jan"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, true, resp["email_sent"], "生成耗尽请求超时后仍应发送邮件")
	dispatcher.AssertExpectations(t)
}

func TestSubmit_MailDisabled(t *testing.T) {
	dispatcher := new(mockDispatcher)
	dispatcher.On("Enabled").Return(false)

	s := New(serverConfig(), "QS-test", &fakeGenerator{result: sampleResult()}, dispatcher)
	rec := do(t, s.Handler(), http.MethodPost, "/submit", `{}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"email_sent":false`)
	dispatcher.AssertNotCalled(t, "Deliver", mock.Anything, mock.Anything)
}

func TestSubmit_Errors(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		genErr   error
		wantCode int
	}{
		{"不是对象", `[1, 2]`, nil, http.StatusBadRequest},
		{"不是 JSON", `name=Jan`, nil, http.StatusBadRequest},
		{"生成失败", `{}`, errors.New("boom"), http.StatusInternalServerError},
		{"生成器判定输入无效", `{}`, &form.InvalidInputError{Reason: "nil fields"}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(serverConfig(), "QS-test", &fakeGenerator{result: sampleResult(), err: tt.genErr}, nil)
			rec := do(t, s.Handler(), http.MethodPost, "/submit", tt.body)
			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Contains(t, rec.Body.String(), `"error"`)
		})
	}
}

func TestSubmit_EmptyBodyIsEmptyForm(t *testing.T) {
	gen := &fakeGenerator{result: sampleResult()}
	s := New(serverConfig(), "QS-test", gen, nil)
	rec := do(t, s.Handler(), http.MethodPost, "/submit", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, gen.fields.Len())
}

func TestDownload(t *testing.T) {
	s := New(serverConfig(), "QS-test", &fakeGenerator{result: sampleResult()}, nil)
	rec := do(t, s.Handler(), http.MethodPost, "/report.pdf", `{}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.Equal(t, "rapport-1", rec.Header().Get("X-Report-Id"))
	assert.Equal(t, "%PDF-1.3", rec.Body.String())
}

func TestSubmit_BusyWhenSemaphoreExhausted(t *testing.T) {
	cfg := serverConfig()
	cfg.RequestTimeout = 1
	s := New(cfg, "QS-test", &fakeGenerator{result: sampleResult()}, nil)
	require.True(t, s.sem.TryAcquire(1))
	defer s.sem.Release(1)

	rec := do(t, s.Handler(), http.MethodPost, "/submit", `{}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
