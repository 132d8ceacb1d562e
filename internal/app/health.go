package app

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/taoyao-code/brick-gateway/internal/health"
	"github.com/taoyao-code/brick-gateway/internal/session"
)

// NewHealthAggregator 以会话检查器和进程检查器创建聚合器；连续 degradedAfter 次下发失败视为降级
func NewHealthAggregator(sess *session.Session, degradedAfter int, startedAt time.Time) *health.Aggregator {
	return health.NewAggregator(
		health.NewSessionChecker(sess, degradedAfter),
		health.NewUptimeChecker(startedAt),
	)
}

// RegisterHealthRoutes 注册健康检查HTTP路由
func RegisterHealthRoutes(r *gin.Engine, aggregator *health.Aggregator) {
	health.RegisterHTTPRoutes(r, aggregator)
}
