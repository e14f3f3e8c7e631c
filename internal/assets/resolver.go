package assets

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fachebot/quickscan/internal/logger"
	"golang.org/x/sync/singleflight"
)

// 报告使用的资源逻辑名
const (
	FontRegular = "font-regular"
	FontBold    = "font-bold"
	Logo        = "logo"
	Diagram     = "diagram"
)

const maxAssetSize = 32 << 20

var (
	// ErrUnknownAsset 没有为该逻辑名配置来源
	ErrUnknownAsset = errors.New("unknown asset")
	// ErrUnavailable 来源无法获取或内容无效
	ErrUnavailable = errors.New("asset unavailable")
)

// Resolver 将逻辑名解析为本地缓存文件。
// 缓存文件存在且非空时直接复用；否则从 URL 下载或从本地路径复制，
// 先写临时文件再原子重命名，避免并发请求读到半个文件。
type Resolver struct {
	cacheDir string
	sources  map[string]string
	client   *http.Client
	group    singleflight.Group

	mu       sync.RWMutex
	resolved map[string]string
}

// NewResolver 创建解析器，client 为 nil 时使用带超时的默认客户端
func NewResolver(cacheDir string, sources map[string]string, client *http.Client) *Resolver {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	copied := make(map[string]string, len(sources))
	for name, src := range sources {
		if strings.TrimSpace(src) != "" {
			copied[name] = strings.TrimSpace(src)
		}
	}
	return &Resolver{
		cacheDir: cacheDir,
		sources:  copied,
		client:   client,
		resolved: make(map[string]string),
	}
}

// Names 返回已配置来源的逻辑名（排序后）
func (r *Resolver) Names() []string {
	names := make([]string, 0, len(r.sources))
	for name := range r.sources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve 返回资源的本地路径
func (r *Resolver) Resolve(ctx context.Context, name string) (string, error) {
	src, ok := r.sources[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownAsset, name)
	}

	r.mu.RLock()
	p, ok := r.resolved[name]
	r.mu.RUnlock()
	if ok && usable(p) {
		return p, nil
	}

	// 下载与调用方的请求解耦，由 http 客户端的超时约束；调用方取消时只放弃等待
	ch := r.group.DoChan(name, func() (any, error) {
		p, err := r.materialize(context.WithoutCancel(ctx), name, src)
		if err != nil {
			return "", err
		}
		r.mu.Lock()
		r.resolved[name] = p
		r.mu.Unlock()
		return p, nil
	})

	select {
	case <-ctx.Done():
		return "", fmt.Errorf("%w: %s: %v", ErrUnavailable, name, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

// Load 解析并读取资源内容
func (r *Resolver) Load(ctx context.Context, name string) ([]byte, error) {
	p, err := r.Resolve(ctx, name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnavailable, name, err)
	}
	return data, nil
}

// Warm 预先解析所有资源，返回失败的资源及原因
func (r *Resolver) Warm(ctx context.Context) map[string]error {
	failed := make(map[string]error)
	for _, name := range r.Names() {
		if _, err := r.Resolve(ctx, name); err != nil {
			failed[name] = err
		}
	}
	return failed
}

// Forget 丢弃内存中的解析结果，下次 Resolve 时重新检查磁盘
func (r *Resolver) Forget() {
	r.mu.Lock()
	r.resolved = make(map[string]string)
	r.mu.Unlock()
}

func (r *Resolver) materialize(ctx context.Context, name, src string) (string, error) {
	target := filepath.Join(r.cacheDir, name+extensionOf(src))
	if usable(target) {
		return target, nil
	}

	if err := os.MkdirAll(r.cacheDir, 0755); err != nil {
		return "", fmt.Errorf("%w: %s: 创建缓存目录失败: %v", ErrUnavailable, name, err)
	}

	var err error
	if isURL(src) {
		logger.Infof("[Assets] 下载资源 %s: %s", name, src)
		err = r.download(ctx, src, target)
	} else {
		err = copyLocal(src, target)
	}
	if err != nil {
		logger.Warnf("[Assets] 资源 %s 不可用: %v", name, err)
		return "", fmt.Errorf("%w: %s: %v", ErrUnavailable, name, err)
	}
	return target, nil
}

func (r *Resolver) download(ctx context.Context, src, target string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP 状态码 %d", resp.StatusCode)
	}
	return writeAtomic(target, io.LimitReader(resp.Body, maxAssetSize+1))
}

func copyLocal(src, target string) error {
	if !usable(src) {
		return fmt.Errorf("本地文件不存在或为空: %s", src)
	}
	f, err := os.Open(src)
	if err != nil {
		return err
	}
	defer f.Close()
	return writeAtomic(target, io.LimitReader(f, maxAssetSize+1))
}

// writeAtomic 写入同目录下的临时文件，校验后重命名为目标文件
func writeAtomic(target string, r io.Reader) error {
	tmp, err := os.CreateTemp(filepath.Dir(target), "."+filepath.Base(target)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	n, err := io.Copy(tmp, r)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return err
	}
	if n == 0 {
		return errors.New("内容为空")
	}
	if n > maxAssetSize {
		return fmt.Errorf("内容超过 %d 字节", maxAssetSize)
	}
	return os.Rename(tmpName, target)
}

func usable(p string) bool {
	st, err := os.Stat(p)
	return err == nil && st.Mode().IsRegular() && st.Size() > 0
}

func isURL(src string) bool {
	return strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://")
}

func extensionOf(src string) string {
	if isURL(src) {
		if u, err := url.Parse(src); err == nil {
			return strings.ToLower(path.Ext(u.Path))
		}
		return ""
	}
	return strings.ToLower(filepath.Ext(src))
}
