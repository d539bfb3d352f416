// Package cli 命令行入口
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"tgfiles/internal/api"
	"tgfiles/internal/config"
	"tgfiles/internal/database"
	"tgfiles/internal/filter"
	"tgfiles/pkg/logger"
)

const defaultConfigPath = "config/config.yaml"

var (
	cfgFile string
	account string
	chat    string

	cfg       *config.Config
	logCloser io.Closer
)

var rootCmd = &cobra.Command{
	Use:           "tgfiles",
	Short:         "Browse, filter and control telegram-files downloads with live progress",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = loadConfig(cfgFile)
		if err != nil {
			return err
		}
		if account != "" {
			cfg.Session.Account = account
		}
		if chat != "" {
			cfg.Session.Chat = chat
		}

		logCloser, err = logger.Setup(cfg.System.LogLevel, cfg.System.LogFile, cfg.System.LogFormat)
		if err != nil {
			return fmt.Errorf("日志初始化失败: %w", err)
		}
		slog.Debug("配置已加载", "api", cfg.Server.APIURL, "ws", cfg.Server.WSURL, "account", cfg.Session.Account)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logCloser != nil {
			_ = logCloser.Close()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", defaultConfigPath, "config file")
	rootCmd.PersistentFlags().StringVar(&account, "account", "", "telegram account id (overrides session.account)")
	rootCmd.PersistentFlags().StringVar(&chat, "chat", "", "chat id (overrides session.chat)")
}

// Execute 运行根命令，收到 SIGINT / SIGTERM 时取消 context
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	return nil
}

// loadConfig 默认路径的配置文件不存在时使用默认值
func loadConfig(path string) (*config.Config, error) {
	c, err := config.LoadConfig(path)
	if err == nil {
		return c, nil
	}
	if path == defaultConfigPath && errors.Is(err, os.ErrNotExist) {
		return config.Default(), nil
	}
	return nil, err
}

// app 各命令共用的依赖
type app struct {
	db      *database.DB
	filters *filter.Store
	client  *api.Client
}

func openApp() (*app, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.System.DBPath), 0755); err != nil {
		return nil, fmt.Errorf("无法创建数据目录: %w", err)
	}
	db, err := database.NewBoltDB(cfg.System.DBPath)
	if err != nil {
		return nil, fmt.Errorf("无法打开数据库: %w", err)
	}
	filters, err := filter.NewStore(db, filter.DefaultScope)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("读取过滤条件失败: %w", err)
	}
	client := api.NewClient(api.Options{
		BaseURL: cfg.Server.APIURL,
		Timeout: cfg.Server.TimeoutDuration,
	})
	return &app{db: db, filters: filters, client: client}, nil
}

func (a *app) Close() error {
	return a.db.Close()
}

func requireSession() error {
	if cfg.Session.Account == "" || cfg.Session.Chat == "" {
		return errors.New("account and chat are required (--account / --chat or session.* in config)")
	}
	return nil
}
