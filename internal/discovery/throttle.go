package discovery

import (
	"context"

	"golang.org/x/time/rate"
)

// replyThrottle 回复失败后的令牌桶节流，防止不可达设备持续广播时空转
type replyThrottle struct {
	limiter *rate.Limiter
}

// newReplyThrottle ratePerSec<=0 时不限速
func newReplyThrottle(ratePerSec float64, burst int) *replyThrottle {
	limit := rate.Inf
	if ratePerSec > 0 {
		limit = rate.Limit(ratePerSec)
	}
	if burst <= 0 {
		burst = 1
	}
	return &replyThrottle{limiter: rate.NewLimiter(limit, burst)}
}

// Wait 阻塞直到允许继续监听；waited 表示本次是否因令牌不足而等待
func (t *replyThrottle) Wait(ctx context.Context) (waited bool, err error) {
	if t.limiter.Allow() {
		return false, nil
	}
	return true, t.limiter.Wait(ctx)
}
