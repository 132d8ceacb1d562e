package control

import (
	"context"

	"go.uber.org/zap"

	"github.com/taoyao-code/brick-gateway/internal/metrics"
)

// DefaultMaxAttempts 默认单条指令的下发尝试次数
const DefaultMaxAttempts = 3

// CommandSender 单次下发能力，*Sender 实现该接口
type CommandSender interface {
	Send(ctx context.Context, host string, payload []byte) bool
}

// SenderFunc 函数适配器
type SenderFunc func(ctx context.Context, host string, payload []byte) bool

// Send 实现 CommandSender
func (f SenderFunc) Send(ctx context.Context, host string, payload []byte) bool {
	return f(ctx, host, payload)
}

// Result 一条指令的最终下发结果
type Result struct {
	OK       bool
	Attempts int
}

// Deliverer 立即重试（无退避），首次成功即停止
type Deliverer struct {
	sender      CommandSender
	maxAttempts int
	log         *zap.Logger
	appm        *metrics.AppMetrics
}

// NewDeliverer maxAttempts<=0 时取 DefaultMaxAttempts
func NewDeliverer(sender CommandSender, maxAttempts int, log *zap.Logger, appm *metrics.AppMetrics) *Deliverer {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if log == nil {
		log = zap.NewNop()
	}
	if appm == nil {
		appm = metrics.NewAppMetrics(nil)
	}
	return &Deliverer{sender: sender, maxAttempts: maxAttempts, log: log.Named("deliver"), appm: appm}
}

// MaxAttempts 返回尝试次数上限
func (d *Deliverer) MaxAttempts() int { return d.maxAttempts }

// Deliver 最多尝试 maxAttempts 次。ctx 取消后不再发起新的尝试。
func (d *Deliverer) Deliver(ctx context.Context, host string, payload []byte) Result {
	var res Result
	for res.Attempts < d.maxAttempts {
		if res.Attempts > 0 && ctx.Err() != nil {
			break
		}
		res.Attempts++
		if d.sender.Send(ctx, host, payload) {
			res.OK = true
			break
		}
		d.log.Debug("send attempt failed", zap.String("host", host), zap.Int("attempt", res.Attempts))
	}

	if res.OK {
		d.appm.Deliveries.WithLabelValues("ok").Inc()
	} else {
		d.appm.Deliveries.WithLabelValues("failed").Inc()
		d.log.Warn("command delivery failed",
			zap.String("host", host),
			zap.Int("attempts", res.Attempts),
			zap.Binary("payload", payload),
		)
	}
	return res
}

// DeliverPacket 编码并下发一条指令
func (d *Deliverer) DeliverPacket(ctx context.Context, host string, p Packet) Result {
	return d.Deliver(ctx, host, p.Bytes())
}
