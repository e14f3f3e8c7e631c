package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type Server struct {
	Listen          string `yaml:"Listen"`          // 监听地址，如 ":5000"
	MaxConcurrent   int    `yaml:"MaxConcurrent"`   // 同时生成报告的最大数量
	RequestTimeout  int    `yaml:"RequestTimeout"`  // 单个请求超时（秒）
	DispatchTimeout int    `yaml:"DispatchTimeout"` // 报告生成后邮件发送的超时（秒）
	CORSOrigins     string `yaml:"CORSOrigins"`
}

type Log struct {
	Level string `yaml:"Level"`
	Dir   string `yaml:"Dir"`
}

type Sock5Proxy struct {
	Host   string `yaml:"Host"`
	Port   int32  `yaml:"Port"`
	Enable bool   `yaml:"Enable"`
}

type LLM struct {
	Enable         bool   `yaml:"Enable"`
	BaseURL        string `yaml:"BaseURL"` // 兼容 OpenAI API 的端点
	APIKey         string `yaml:"APIKey"`
	Model          string `yaml:"Model"`          // 如 gpt-4o-mini
	TimeoutSeconds int    `yaml:"TimeoutSeconds"` // 单次调用超时
	ScoreItems     bool   `yaml:"ScoreItems"`     // 是否为每个回答打分
	Summarize      bool   `yaml:"Summarize"`      // 是否生成总结
}

type Scoring struct {
	Blend           string `yaml:"Blend"`         // "customer" / "external" / "blended"
	FallbackScore   int    `yaml:"FallbackScore"` // 外部打分失败时的固定分数
	FallbackSummary string `yaml:"FallbackSummary"`
}

type Redis struct {
	Enable   bool   `yaml:"Enable"`
	Addr     string `yaml:"Addr"`
	Password string `yaml:"Password"`
	DB       int    `yaml:"DB"`
	TTLHours int    `yaml:"TTLHours"`
}

type Assets struct {
	CacheDir            string            `yaml:"CacheDir"`
	FetchTimeoutSeconds int               `yaml:"FetchTimeoutSeconds"`
	Sources             map[string]string `yaml:"Sources"`  // 逻辑名 -> URL 或本地路径
	WarmCron            string            `yaml:"WarmCron"` // 资源缓存预热 cron 表达式，空表示不启用
}

type Mail struct {
	Enable         bool   `yaml:"Enable"`
	Host           string `yaml:"Host"`
	Port           int    `yaml:"Port"`
	Username       string `yaml:"Username"`
	Password       string `yaml:"Password"`
	From           string `yaml:"From"`
	Cc             string `yaml:"Cc"`
	Subject        string `yaml:"Subject"`
	RetryTimes     int    `yaml:"RetryTimes"`
	RetryInterval  int    `yaml:"RetryInterval"` // 重试间隔（秒）
	TimeoutSeconds int    `yaml:"TimeoutSeconds"`
}

type Report struct {
	Title    string `yaml:"Title"`
	Brand    string `yaml:"Brand"`
	Version  string `yaml:"Version"`
	Filename string `yaml:"Filename"`
}

type Overlay struct {
	Positions map[string][]float64 `yaml:"Positions"` // 阶段名 -> [x, y]（图片宽高的比例）
}

type Config struct {
	Server     Server     `yaml:"Server"`
	Log        Log        `yaml:"Log"`
	Sock5Proxy Sock5Proxy `yaml:"Sock5Proxy"`
	LLM        LLM        `yaml:"LLM"`
	Scoring    Scoring    `yaml:"Scoring"`
	Redis      Redis      `yaml:"Redis"`
	Assets     Assets     `yaml:"Assets"`
	Mail       Mail       `yaml:"Mail"`
	Report     Report     `yaml:"Report"`
	Overlay    Overlay    `yaml:"Overlay"`
}

const DefaultFallbackSummary = "Op basis van de ingevulde antwoorden is een eerste beeld ontstaan van de onderhoudsorganisatie. " +
	"Bespreek de resultaten per onderwerp om de belangrijkste verbeterpunten te bepalen."

// Default 返回带默认值的配置
func Default() *Config {
	return &Config{
		Server: Server{
			Listen:          ":5000",
			MaxConcurrent:   2,
			RequestTimeout:  300,
			DispatchTimeout: 120,
			CORSOrigins:     "*",
		},
		Log: Log{Level: "info", Dir: "logs"},
		LLM: LLM{
			BaseURL:        "https://api.openai.com/v1",
			Model:          "gpt-4o-mini",
			TimeoutSeconds: 20,
			ScoreItems:     true,
			Summarize:      true,
		},
		Scoring: Scoring{
			Blend:           "blended",
			FallbackScore:   3,
			FallbackSummary: DefaultFallbackSummary,
		},
		Redis: Redis{Addr: "localhost:6379", TTLHours: 24 * 7},
		Assets: Assets{
			CacheDir:            "/tmp/quickscan-assets",
			FetchTimeoutSeconds: 15,
			Sources: map[string]string{
				"font-regular": "https://github.com/dejavu-fonts/dejavu-fonts/raw/version_2_37/ttf/DejaVuSans.ttf",
				"font-bold":    "https://github.com/dejavu-fonts/dejavu-fonts/raw/version_2_37/ttf/DejaVuSans-Bold.ttf",
				"diagram":      "afbeelding.png",
			},
			WarmCron: "0 */6 * * *",
		},
		Mail: Mail{
			Host:           "smtp.gmail.com",
			Port:           587,
			Subject:        "Resultaten Veerenstael Quick Scan",
			RetryTimes:     2,
			RetryInterval:  5,
			TimeoutSeconds: 30,
		},
		Report: Report{
			Title:    "Quick Scan",
			Brand:    "Veerenstael Quick Scan",
			Version:  "QS-2025-10-10",
			Filename: "quickscan.pdf",
		},
	}
}

// LoadFromFile 读取配置文件，文件中未设置的字段保留默认值
func LoadFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}

	c := Default()
	err = yaml.Unmarshal(data, c)
	if err != nil {
		return nil, err
	}

	c.ApplyEnv(os.LookupEnv)

	// 验证配置
	if err := c.Validate(); err != nil {
		return nil, err
	}

	return c, nil
}

// ApplyEnv 使用环境变量覆盖敏感配置，与原部署方式保持一致
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup("EMAIL_USER"); ok && v != "" {
		c.Mail.Username = v
		if c.Mail.From == "" {
			c.Mail.From = v
		}
	}
	if v, ok := lookup("EMAIL_PASS"); ok && v != "" {
		c.Mail.Password = v
	}
	if v, ok := lookup("EMAIL_CC"); ok {
		c.Mail.Cc = v
	}
	if v, ok := lookup("SMTP_SERVER"); ok && v != "" {
		c.Mail.Host = v
	}
	if v, ok := lookup("SMTP_PORT"); ok && v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Mail.Port = port
		}
	}
	if v, ok := lookup("OPENAI_API_KEY"); ok && v != "" {
		c.LLM.APIKey = v
	}
	if c.Mail.Username != "" && c.Mail.Password != "" && !c.Mail.Enable {
		c.Mail.Enable = true
	}
}

// Validate 验证配置的有效性
func (c *Config) Validate() error {
	// 验证 Server
	if c.Server.Listen == "" {
		return fmt.Errorf("Server.Listen 不能为空")
	}
	if c.Server.MaxConcurrent <= 0 {
		return fmt.Errorf("Server.MaxConcurrent 必须大于 0")
	}
	if c.Server.RequestTimeout <= 0 {
		return fmt.Errorf("Server.RequestTimeout 必须大于 0")
	}
	if c.Server.DispatchTimeout <= 0 {
		return fmt.Errorf("Server.DispatchTimeout 必须大于 0")
	}

	// 验证 LLM
	if c.LLM.Enable {
		if c.LLM.APIKey == "" {
			return fmt.Errorf("LLM.APIKey 不能为空（当 LLM.Enable 为 true 时）")
		}
		if c.LLM.BaseURL == "" {
			return fmt.Errorf("LLM.BaseURL 不能为空")
		}
		if c.LLM.Model == "" {
			return fmt.Errorf("LLM.Model 不能为空")
		}
		if c.LLM.TimeoutSeconds <= 0 {
			return fmt.Errorf("LLM.TimeoutSeconds 必须大于 0")
		}
	}

	// 验证 Scoring
	switch strings.ToLower(c.Scoring.Blend) {
	case "customer", "external", "blended":
	default:
		return fmt.Errorf("Scoring.Blend 必须是 'customer', 'external' 或 'blended'")
	}
	if c.Scoring.FallbackScore < 1 || c.Scoring.FallbackScore > 5 {
		return fmt.Errorf("Scoring.FallbackScore 必须在 1 到 5 之间")
	}
	if strings.TrimSpace(c.Scoring.FallbackSummary) == "" {
		return fmt.Errorf("Scoring.FallbackSummary 不能为空")
	}

	// 验证 Redis
	if c.Redis.Enable && c.Redis.Addr == "" {
		return fmt.Errorf("Redis.Addr 不能为空（当 Redis.Enable 为 true 时）")
	}
	if c.Redis.TTLHours < 0 {
		return fmt.Errorf("Redis.TTLHours 必须 >= 0")
	}

	// 验证 Assets
	if c.Assets.CacheDir == "" {
		return fmt.Errorf("Assets.CacheDir 不能为空")
	}
	if c.Assets.FetchTimeoutSeconds <= 0 {
		return fmt.Errorf("Assets.FetchTimeoutSeconds 必须大于 0")
	}

	// 验证 Mail
	if c.Mail.Enable {
		if c.Mail.Host == "" {
			return fmt.Errorf("Mail.Host 不能为空")
		}
		if c.Mail.Port <= 0 {
			return fmt.Errorf("Mail.Port 必须大于 0")
		}
		if c.Mail.From == "" {
			return fmt.Errorf("Mail.From 不能为空（当 Mail.Enable 为 true 时）")
		}
	}
	if c.Mail.RetryTimes < 0 {
		return fmt.Errorf("Mail.RetryTimes 必须 >= 0")
	}

	// 验证 Overlay
	for name, pos := range c.Overlay.Positions {
		if len(pos) != 2 {
			return fmt.Errorf("Overlay.Positions[%q] 必须是 [x, y]", name)
		}
	}

	return nil
}
