package app

import (
	"go.uber.org/zap"

	cfgpkg "github.com/taoyao-code/brick-gateway/internal/config"
	"github.com/taoyao-code/brick-gateway/internal/control"
	"github.com/taoyao-code/brick-gateway/internal/metrics"
	"github.com/taoyao-code/brick-gateway/internal/session"
)

// NewDeliverer 按控制通道配置组装单次下发器与重试包装
func NewDeliverer(cfg cfgpkg.ControlConfig, log *zap.Logger, appm *metrics.AppMetrics) *control.Deliverer {
	sender := control.NewSender(control.OptionsFromConfig(cfg), nil, log, appm)
	return control.NewDeliverer(sender, cfg.MaxAttempts, log, appm)
}

// NewSession 创建单设备会话
func NewSession(cfg cfgpkg.ControlConfig, log *zap.Logger, appm *metrics.AppMetrics) *session.Session {
	return session.New(NewDeliverer(cfg, log, appm), log, appm)
}
