package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/fachebot/quickscan/internal/aggregate"
	"github.com/fachebot/quickscan/internal/config"
	"github.com/fachebot/quickscan/internal/form"
	"github.com/fachebot/quickscan/internal/logger"
	"github.com/fachebot/quickscan/internal/notify"
	"github.com/fachebot/quickscan/internal/report"
	"github.com/gorilla/mux"
	"golang.org/x/sync/semaphore"
)

const (
	maxBodySize            = 10 << 20
	defaultDispatchTimeout = 2 * time.Minute
	banner                 = "✅ Veerenstael Quick Scan backend is live"
)

// ReportGenerator 生成报告
type ReportGenerator interface {
	Generate(ctx context.Context, fields *form.Fields) (*report.Result, error)
}

// Dispatcher 发送报告邮件
type Dispatcher interface {
	Enabled() bool
	BuildDelivery(meta form.Metadata, pdf []byte, filename string) (notify.Delivery, bool)
	Deliver(ctx context.Context, d notify.Delivery) bool
}

// SubmitResponse POST /submit 的响应，缺失的平均分为 ""
type SubmitResponse struct {
	ReportID           string `json:"report_id"`
	TotalScoreCustomer any    `json:"total_score_customer"`
	TotalScoreExternal any    `json:"total_score_external"`
	Narrative          string `json:"narrative"`
	EmailSent          bool   `json:"email_sent"`
}

type Server struct {
	config     *config.Server
	version    string
	generator  ReportGenerator
	dispatcher Dispatcher
	sem        *semaphore.Weighted
	httpServer *http.Server
}

func New(cfg *config.Server, version string, generator ReportGenerator, dispatcher Dispatcher) *Server {
	limit := cfg.MaxConcurrent
	if limit <= 0 {
		limit = 1
	}
	s := &Server{
		config:     cfg,
		version:    version,
		generator:  generator,
		dispatcher: dispatcher,
		sem:        semaphore.NewWeighted(int64(limit)),
	}
	s.httpServer = &http.Server{
		Addr:              cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler 路由
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(s.corsMiddleware)

	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)
	r.HandleFunc("/version", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"version": s.version})
	}).Methods(http.MethodGet)
	r.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = io.WriteString(w, banner)
	}).Methods(http.MethodGet)

	r.HandleFunc("/submit", s.submit).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/report.pdf", s.download).Methods(http.MethodPost, http.MethodOptions)
	return r
}

// Start 阻塞监听，直到 Stop 被调用
func (s *Server) Start() error {
	logger.Infof("[Server] 开始监听 %s", s.config.Listen)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop 优雅关闭，等待进行中的请求完成
func (s *Server) Stop(ctx context.Context) {
	if err := s.httpServer.Shutdown(ctx); err != nil {
		logger.Errorf("[Server] 关闭 HTTP 服务失败: %v", err)
	}
	logger.Infof("[Server] HTTP 服务已停止")
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origins := s.config.CORSOrigins
		if origins == "" {
			origins = "*"
		}
		w.Header().Set("Access-Control-Allow-Origin", origins)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// generate 解析请求体并在并发限制内生成报告；失败时已写好响应
func (s *Server) generate(ctx context.Context, w http.ResponseWriter, r *http.Request) (*report.Result, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return nil, false
	}
	if len(bytes.TrimSpace(body)) == 0 {
		body = []byte("{}")
	}

	fields, err := form.ParseJSON(body)
	if err != nil {
		logger.Warnf("[Server] 请求体无效: %v", err)
		writeError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}

	if err := s.sem.Acquire(ctx, 1); err != nil {
		logger.Warnf("[Server] 等待生成名额超时: %v", err)
		writeError(w, http.StatusServiceUnavailable, "server busy")
		return nil, false
	}
	defer s.sem.Release(1)

	result, err := s.generator.Generate(ctx, fields)
	if err != nil {
		if form.IsInvalidInput(err) {
			writeError(w, http.StatusBadRequest, err.Error())
		} else {
			logger.Errorf("[Server] 生成报告失败: %v", err)
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return nil, false
	}
	return result, true
}

func (s *Server) requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	timeout := time.Duration(s.config.RequestTimeout) * time.Second
	if timeout <= 0 {
		return context.WithCancel(r.Context())
	}
	return context.WithTimeout(r.Context(), timeout)
}

// dispatchContext 邮件发送使用独立的超时，请求上下文的截止时间不再适用
func (s *Server) dispatchContext(r *http.Request) (context.Context, context.CancelFunc) {
	timeout := time.Duration(s.config.DispatchTimeout) * time.Second
	if timeout <= 0 {
		timeout = defaultDispatchTimeout
	}
	return context.WithTimeout(context.WithoutCancel(r.Context()), timeout)
}

// submit POST /submit：生成报告并邮件发送，返回分数摘要
func (s *Server) submit(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.requestContext(r)
	defer cancel()

	result, ok := s.generate(ctx, w, r)
	if !ok {
		return
	}

	emailSent := false
	if s.dispatcher != nil && s.dispatcher.Enabled() {
		if d, ok := s.dispatcher.BuildDelivery(result.Metadata, result.PDF, result.Filename); ok {
			dctx, dcancel := s.dispatchContext(r)
			emailSent = s.dispatcher.Deliver(dctx, d)
			dcancel()
		}
	}

	writeJSON(w, http.StatusOK, SubmitResponse{
		ReportID:           result.ID,
		TotalScoreCustomer: averageJSON(result.Summary.OverallCustomer),
		TotalScoreExternal: averageJSON(result.Summary.OverallExternal),
		Narrative:          result.Summary.Narrative,
		EmailSent:          emailSent,
	})
}

// download POST /report.pdf：直接返回 PDF，不发送邮件
func (s *Server) download(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.requestContext(r)
	defer cancel()

	result, ok := s.generate(ctx, w, r)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `attachment; filename="`+result.Filename+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(result.PDF)))
	w.Header().Set("X-Report-Id", result.ID)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.PDF)
}

func averageJSON(a aggregate.Average) any {
	if !a.Valid {
		return ""
	}
	return a.Value
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
