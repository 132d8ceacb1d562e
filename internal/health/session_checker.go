package health

import (
	"context"
	"time"

	"github.com/taoyao-code/brick-gateway/internal/session"
)

// SnapshotSource 提供会话快照，*session.Session 实现该接口
type SnapshotSource interface {
	Snapshot() session.Snapshot
}

// SessionChecker 会话健康检查：未配对为 Unhealthy，连续下发失败达到阈值为 Degraded
type SessionChecker struct {
	src           SnapshotSource
	degradedAfter int
}

// NewSessionChecker degradedAfter<=0 时取 1
func NewSessionChecker(src SnapshotSource, degradedAfter int) *SessionChecker {
	if degradedAfter <= 0 {
		degradedAfter = 1
	}
	return &SessionChecker{src: src, degradedAfter: degradedAfter}
}

// Name 返回检查器名称
func (c *SessionChecker) Name() string { return "session" }

// Check 执行健康检查
func (c *SessionChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	snap := c.src.Snapshot()

	details := map[string]any{
		"state":                snap.State,
		"delivered_total":      snap.Delivered,
		"failed_total":         snap.Failed,
		"consecutive_failures": snap.ConsecutiveFailures,
	}
	if snap.Host != "" {
		details["host"] = snap.Host
	}

	status, message := StatusHealthy, "ok"
	switch {
	case snap.State != session.StatePaired.String():
		status, message = StatusUnhealthy, "waiting for device broadcast"
	case snap.ConsecutiveFailures >= c.degradedAfter:
		status, message = StatusDegraded, "recent command deliveries failed"
	}

	return CheckResult{
		Status:  status,
		Message: message,
		Details: details,
		Latency: time.Since(start),
	}
}
