package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fachebot/quickscan/internal/config"
	"github.com/fachebot/quickscan/internal/form"
	"github.com/fachebot/quickscan/internal/logger"
	"github.com/fachebot/quickscan/internal/scheduler"
	"github.com/fachebot/quickscan/internal/server"
	"github.com/fachebot/quickscan/internal/svc"

	"github.com/spf13/cobra"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:           "quickscan",
	Short:         "Veerenstael Quick Scan report service",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP service",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.LoadFromFile(configFile)
		if err != nil {
			return fmt.Errorf("读取配置文件失败, %w", err)
		}
		logger.Setup(c.Log.Dir, c.Log.Level)
		return serve(c)
	},
}

var (
	renderInput  string
	renderOutput string
	renderSend   bool
)

var renderCmd = &cobra.Command{
	Use:   "render",
	Short: "Render a report from a JSON file",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := loadOrDefault(configFile)
		if err != nil {
			return err
		}
		logger.Setup(c.Log.Dir, c.Log.Level)
		return render(cmd.Context(), c)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the report version",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := loadOrDefault(configFile)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), c.Report.Version)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "f", "etc/config.yaml", "the config file")

	renderCmd.Flags().StringVarP(&renderInput, "input", "i", "", "questionnaire JSON file")
	renderCmd.Flags().StringVarP(&renderOutput, "output", "o", "", "output PDF file (default: configured report filename)")
	renderCmd.Flags().BoolVar(&renderSend, "send", false, "also e-mail the report to the address in the form")
	_ = renderCmd.MarkFlagRequired("input")

	rootCmd.AddCommand(serveCmd, renderCmd, versionCmd)
}

// loadOrDefault 配置文件不存在时使用默认配置
func loadOrDefault(filename string) (*config.Config, error) {
	c, err := config.LoadFromFile(filename)
	if errors.Is(err, fs.ErrNotExist) {
		c = config.Default()
		c.ApplyEnv(os.LookupEnv)
		return c, c.Validate()
	}
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败, %w", err)
	}
	return c, nil
}

func serve(c *config.Config) error {
	// 创建服务上下文
	svcCtx := svc.NewServiceContext(c)

	// 资源预热
	schedulerInstance := scheduler.NewScheduler(svcCtx.Assets, c.Assets.CacheDir, c.Assets.WarmCron)
	if err := schedulerInstance.Start(); err != nil {
		return fmt.Errorf("[Scheduler] 启动调度器失败: %w", err)
	}

	srv := server.New(&c.Server, c.Report.Version, svcCtx.Generator, svcCtx.Notifier)
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	// 等待程序退出
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	var runErr error
	select {
	case <-ch:
	case runErr = <-errCh:
		logger.Errorf("[Server] HTTP 服务异常退出: %v", runErr)
	}

	// 优雅关闭
	logger.Infof("正在关闭服务...")
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(c.Server.RequestTimeout)*time.Second)
	defer cancel()
	srv.Stop(ctx)
	schedulerInstance.Stop()
	svcCtx.Close()
	logger.Infof("服务已停止")
	return runErr
}

func render(ctx context.Context, c *config.Config) error {
	data, err := os.ReadFile(renderInput)
	if err != nil {
		return fmt.Errorf("读取输入文件失败, %w", err)
	}
	fields, err := form.ParseJSON(data)
	if err != nil {
		return err
	}

	svcCtx := svc.NewServiceContext(c)
	defer svcCtx.Close()

	result, err := svcCtx.Generator.Generate(ctx, fields)
	if err != nil {
		return err
	}

	output := renderOutput
	if output == "" {
		output = result.Filename
	}
	if err := os.WriteFile(output, result.PDF, 0644); err != nil {
		return fmt.Errorf("写入 PDF 失败, %w", err)
	}
	logger.Infof("[Report] 已写入 %s (%d 页), 客户平均分: %s", output, result.Pages, result.Summary.OverallCustomer)

	if renderSend {
		d, ok := svcCtx.Notifier.BuildDelivery(result.Metadata, result.PDF, result.Filename)
		if !ok {
			logger.Warnf("[Notify] 表单中没有邮箱地址，跳过发送")
		} else if !svcCtx.Notifier.Deliver(ctx, d) {
			logger.Warnf("[Notify] 报告未能发送")
		}
	}
	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		logger.Fatalf("%s", err)
	}
}
