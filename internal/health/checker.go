package health

import (
	"context"
	"time"
)

// Status 健康状态
type Status string

const (
	StatusHealthy   Status = "healthy"   // 健康
	StatusDegraded  Status = "degraded"  // 降级（已配对，但最近下发失败）
	StatusUnhealthy Status = "unhealthy" // 不健康（未配对，无法下发）
)

// CheckResult 健康检查结果
type CheckResult struct {
	Status  Status         `json:"status"`
	Message string         `json:"message,omitempty"`
	Details map[string]any `json:"details,omitempty"`
	Latency time.Duration  `json:"latency"`
}

// Checker 健康检查器接口
type Checker interface {
	Name() string
	Check(ctx context.Context) CheckResult
}

// FuncChecker 以函数实现 Checker
type FuncChecker struct {
	name string
	fn   func(ctx context.Context) CheckResult
}

// NewFuncChecker 包装检查函数，Latency 由包装器填写
func NewFuncChecker(name string, fn func(ctx context.Context) CheckResult) *FuncChecker {
	return &FuncChecker{name: name, fn: fn}
}

// Name 返回检查器名称
func (c *FuncChecker) Name() string { return c.name }

// Check 执行检查
func (c *FuncChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	r := c.fn(ctx)
	r.Latency = time.Since(start)
	return r
}

// NewUptimeChecker 进程运行时长，始终健康
func NewUptimeChecker(startedAt time.Time) *FuncChecker {
	return NewFuncChecker("process", func(ctx context.Context) CheckResult {
		return CheckResult{
			Status:  StatusHealthy,
			Message: "running",
			Details: map[string]any{
				"started_at":     startedAt.UTC().Format(time.RFC3339),
				"uptime_seconds": int64(time.Since(startedAt).Seconds()),
			},
		}
	})
}
