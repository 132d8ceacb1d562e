package config

import (
	"errors"
	"fmt"
)

// 端口保留区上界（含）
const reservedPortMax = 1024

var (
	// ErrPortConflict 发现端口与控制端口相同
	ErrPortConflict = errors.New("discovery and control ports must differ")
	// ErrEmptyToken 配对令牌为空
	ErrEmptyToken = errors.New("discovery token must not be empty")
)

// Validate 声明式校验配置，不修改配置内容
func Validate(cfg *Config) error {
	if err := validatePort("discovery.port", cfg.Discovery.Port); err != nil {
		return err
	}
	if err := validatePort("control.port", cfg.Control.Port); err != nil {
		return err
	}
	if cfg.Discovery.Port == cfg.Control.Port {
		return fmt.Errorf("%w: both are %d", ErrPortConflict, cfg.Control.Port)
	}
	if cfg.Discovery.Token == "" {
		return ErrEmptyToken
	}
	if cfg.Discovery.ReplyDelay < 0 {
		return fmt.Errorf("discovery.replyDelay must not be negative: %s", cfg.Discovery.ReplyDelay)
	}
	if cfg.Control.MaxAttempts <= 0 {
		return fmt.Errorf("control.maxAttempts must be positive: %d", cfg.Control.MaxAttempts)
	}
	if cfg.Control.ConnectTimeout <= 0 {
		return fmt.Errorf("control.connectTimeout must be positive: %s", cfg.Control.ConnectTimeout)
	}
	if cfg.Control.ReadTimeout <= 0 {
		return fmt.Errorf("control.readTimeout must be positive: %s", cfg.Control.ReadTimeout)
	}
	return nil
}

func validatePort(key string, port int) error {
	if port <= reservedPortMax || port > 65535 {
		return fmt.Errorf("%s must be in (%d, 65535]: %d", key, reservedPortMax, port)
	}
	return nil
}
