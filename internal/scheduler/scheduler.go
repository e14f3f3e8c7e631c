package scheduler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fachebot/quickscan/internal/logger"
	"github.com/robfig/cron/v3"
)

// staleTempAge 超过该时间的下载临时文件视为残留
const staleTempAge = time.Hour

// AssetWarmer 资源缓存
type AssetWarmer interface {
	Warm(ctx context.Context) map[string]error
	Forget()
}

type Scheduler struct {
	cron     *cron.Cron
	assets   AssetWarmer
	cacheDir string
	spec     string
	ctx      context.Context
	cancel   context.CancelFunc
	mu       sync.Mutex
	running  sync.Mutex
}

// locUTC UTC 标准时间（UTC）
var locUTC = time.UTC

func NewScheduler(assets AssetWarmer, cacheDir, spec string) *Scheduler {
	return &Scheduler{
		cron:     cron.New(cron.WithLocation(locUTC)),
		assets:   assets,
		cacheDir: cacheDir,
		spec:     spec,
	}
}

// Start 启动调度器；spec 为空时只在启动时预热一次
func (s *Scheduler) Start() error {
	s.mu.Lock()
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.mu.Unlock()

	if s.spec != "" {
		if _, err := s.cron.AddFunc(s.spec, s.runWarm); err != nil {
			return fmt.Errorf("注册资源预热任务失败: %w", err)
		}
		s.cron.Start()
		logger.Infof("[Scheduler] 调度器已启动，资源预热任务: %s", s.spec)
	}

	// 启动时先预热一次，避免首个请求等待下载
	go s.warmOnce(false)

	return nil
}

// Stop 停止调度器
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	ctx := s.cron.Stop()
	<-ctx.Done()
	logger.Infof("[Scheduler] 调度器已停止")
}

func (s *Scheduler) runWarm() {
	s.warmOnce(true)
}

// warmOnce 清理残留临时文件并重新解析所有资源。
// forget 为 true 时先丢弃内存中的解析结果，重新检查磁盘上的缓存文件。
func (s *Scheduler) warmOnce(forget bool) {
	if !s.running.TryLock() {
		logger.Warnf("[Scheduler] 上一次资源预热尚未结束，跳过")
		return
	}
	defer s.running.Unlock()

	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}

	if removed := pruneTempFiles(s.cacheDir, time.Now().Add(-staleTempAge)); removed > 0 {
		logger.Infof("[Scheduler] 已清理 %d 个残留临时文件", removed)
	}

	if forget {
		s.assets.Forget()
	}

	failed := s.assets.Warm(ctx)
	for name, err := range failed {
		logger.Warnf("[Scheduler] 资源 %s 预热失败: %v", name, err)
	}
	if len(failed) == 0 {
		logger.Infof("[Scheduler] 资源预热完成")
	}
}

// pruneTempFiles 删除缓存目录中早于 before 的下载临时文件，返回删除数量
func pruneTempFiles(dir string, before time.Time) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}

	removed := 0
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".tmp") {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(before) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, name)); err != nil {
			logger.Warnf("[Scheduler] 删除临时文件失败: %v", err)
			continue
		}
		removed++
	}
	return removed
}
