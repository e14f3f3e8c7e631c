package svc

import (
	"fmt"
	"net/http"
	"time"

	"github.com/fachebot/quickscan/internal/aggregate"
	"github.com/fachebot/quickscan/internal/assets"
	"github.com/fachebot/quickscan/internal/cache"
	"github.com/fachebot/quickscan/internal/config"
	"github.com/fachebot/quickscan/internal/llm"
	"github.com/fachebot/quickscan/internal/logger"
	"github.com/fachebot/quickscan/internal/notify"
	"github.com/fachebot/quickscan/internal/overlay"
	"github.com/fachebot/quickscan/internal/report"
	"github.com/fachebot/quickscan/internal/summarizer"

	"github.com/redis/go-redis/v9"
	"golang.org/x/net/proxy"
)

type ServiceContext struct {
	Config         *config.Config
	TransportProxy *http.Transport
	RedisClient    *redis.Client
	Assets         *assets.Resolver
	Scorer         summarizer.Scorer
	Generator      *report.Generator
	Notifier       *notify.Notifier
}

func NewServiceContext(c *config.Config) *ServiceContext {
	// 创建SOCKS5代理
	var transportProxy *http.Transport
	if c.Sock5Proxy.Enable {
		socks5Proxy := fmt.Sprintf("%s:%d", c.Sock5Proxy.Host, c.Sock5Proxy.Port)
		dialer, err := proxy.SOCKS5("tcp", socks5Proxy, nil, proxy.Direct)
		if err != nil {
			logger.Fatalf("创建SOCKS5代理失败, %v", err)
		}

		transportProxy = &http.Transport{
			Dial: dialer.Dial,
		}
	}

	// 资源下载
	assetClient := &http.Client{Timeout: time.Duration(c.Assets.FetchTimeoutSeconds) * time.Second}
	if transportProxy != nil {
		assetClient.Transport = transportProxy
	}
	resolver := assets.NewResolver(c.Assets.CacheDir, c.Assets.Sources, assetClient)

	// 打分缓存
	var redisClient *redis.Client
	scoreCache := cache.NewNopScoreCache()
	if c.Redis.Enable {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     c.Redis.Addr,
			Password: c.Redis.Password,
			DB:       c.Redis.DB,
		})
		scoreCache = cache.NewRedisScoreCache(redisClient, time.Duration(c.Redis.TTLHours)*time.Hour)
	}

	// 外部打分与总结
	fallback := summarizer.NewFallback(c.Scoring.FallbackScore, c.Scoring.FallbackSummary)
	var scorer summarizer.Scorer = fallback
	if c.LLM.Enable {
		var llmHTTPClient *http.Client
		if transportProxy != nil {
			llmHTTPClient = &http.Client{Transport: transportProxy}
		}
		scorer = summarizer.NewLLMScorer(llm.NewClient(&c.LLM, llmHTTPClient), scoreCache, &c.LLM, fallback)
		logger.Infof("[LLM] 已启用外部打分与总结, 模型: %s", c.LLM.Model)
	} else {
		logger.Infof("[LLM] 未启用，使用固定分数与固定总结")
	}

	positions, err := overlay.PositionsFromConfig(c.Overlay.Positions)
	if err != nil {
		logger.Fatalf("信号灯位置表无效, %v", err)
	}

	generator := report.NewGenerator(
		resolver,
		scorer,
		aggregate.ParsePolicy(c.Scoring.Blend),
		positions,
		c.Report,
	)

	svcCtx := &ServiceContext{
		Config:         c,
		TransportProxy: transportProxy,
		RedisClient:    redisClient,
		Assets:         resolver,
		Scorer:         scorer,
		Generator:      generator,
		Notifier:       notify.NewNotifier(notify.NewSMTPMailer(&c.Mail), &c.Mail),
	}
	return svcCtx
}

func (svcCtx *ServiceContext) Close() {
	if svcCtx.RedisClient != nil {
		if err := svcCtx.RedisClient.Close(); err != nil {
			logger.Errorf("关闭 Redis 连接失败, %v", err)
		}
	}
}
