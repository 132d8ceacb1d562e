package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	cfgpkg "github.com/taoyao-code/brick-gateway/internal/config"
	"github.com/taoyao-code/brick-gateway/internal/logging"
)

type commandContext struct {
	configFlag *string

	once   sync.Once
	config *cfgpkg.Config
	logger *zap.Logger
	err    error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

// ensure 加载配置并初始化日志，仅执行一次
func (c *commandContext) ensure() (*cfgpkg.Config, *zap.Logger, error) {
	c.once.Do(func() {
		cfg, err := cfgpkg.Load(strings.TrimSpace(*c.configFlag))
		if err != nil {
			c.err = err
			return
		}
		logger, err := logging.InitLogger(cfg.Logging)
		if err != nil {
			c.err = fmt.Errorf("init logger: %w", err)
			return
		}
		zap.ReplaceGlobals(logger)
		c.config, c.logger = cfg, logger
	})
	return c.config, c.logger, c.err
}

func (c *commandContext) sync() {
	if c.logger != nil {
		_ = c.logger.Sync()
	}
}

// signalContext SIGINT/SIGTERM 取消 ctx；取消后恢复默认信号行为，再次 Ctrl-C 可强制退出
func signalContext() (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	go func() {
		<-ctx.Done()
		stop()
	}()
	return ctx, stop
}

func newRootCommand() *cobra.Command {
	var configFlag string
	ctx := newCommandContext(&configFlag)

	rootCmd := &cobra.Command{
		Use:           "brickd",
		Short:         "Pair with a brick controller and deliver command packets",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_, _, err := ctx.ensure()
			return err
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			ctx.sync()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path")

	rootCmd.AddCommand(newRunCommand(ctx))
	rootCmd.AddCommand(newPairCommand(ctx))
	rootCmd.AddCommand(newSendCommand(ctx))
	return rootCmd
}
