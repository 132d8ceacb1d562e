package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/taoyao-code/brick-gateway/internal/control"
	"github.com/taoyao-code/brick-gateway/internal/discovery"
	"github.com/taoyao-code/brick-gateway/internal/metrics"
)

// ErrNotPaired 尚未完成配对即下发指令
var ErrNotPaired = errors.New("no paired device")

// State 联网生命周期状态
type State int

const (
	StateUnpaired State = iota // 未配对
	StatePaired                // 已配对（下发失败不回退）
)

func (s State) String() string {
	switch s {
	case StateUnpaired:
		return "unpaired"
	case StatePaired:
		return "paired"
	default:
		return "unknown"
	}
}

// Pairer 完成一次配对，*discovery.Listener 实现该接口
type Pairer interface {
	Pair(ctx context.Context) (discovery.Peer, error)
}

// Deliverer 带重试的下发，*control.Deliverer 实现该接口
type Deliverer interface {
	Deliver(ctx context.Context, host string, payload []byte) control.Result
}

// Session 单设备会话：Unpaired --配对成功--> Paired，之后无论下发成败保持 Paired
type Session struct {
	mu        sync.RWMutex
	id        string
	state     State
	peer      discovery.Peer
	deliverer Deliverer
	log       *zap.Logger
	appm      *metrics.AppMetrics

	consecutiveFailures int
	delivered           int64
	failed              int64
	lastDeliveryAt      time.Time
	lastResult          control.Result
}

// New 创建会话，会话 ID 用于日志关联
func New(deliverer Deliverer, log *zap.Logger, appm *metrics.AppMetrics) *Session {
	if log == nil {
		log = zap.NewNop()
	}
	if appm == nil {
		appm = metrics.NewAppMetrics(nil)
	}
	id := uuid.New().String()
	return &Session{
		id:        id,
		state:     StateUnpaired,
		deliverer: deliverer,
		log:       log.With(zap.String("session_id", id)),
		appm:      appm,
	}
}

// ID 会话 ID
func (s *Session) ID() string { return s.id }

// Pair 调用 Pairer 阻塞直到配对成功；再次调用会替换当前设备
func (s *Session) Pair(ctx context.Context, p Pairer) (discovery.Peer, error) {
	peer, err := p.Pair(ctx)
	if err != nil {
		return discovery.Peer{}, err
	}

	s.mu.Lock()
	prev := s.peer
	s.peer = peer
	s.state = StatePaired
	s.consecutiveFailures = 0
	s.mu.Unlock()

	s.appm.Paired.Set(1)
	if !prev.IsZero() && prev.Host != peer.Host {
		s.log.Info("re-paired with new device", zap.String("previous", prev.Host), zap.String("host", peer.Host))
	} else {
		s.log.Info("session paired", zap.String("host", peer.Host), zap.Int("control_port", peer.ControlPort))
	}
	return peer, nil
}

// Deliver 下发一条指令。未配对返回 ErrNotPaired；重试耗尽不是错误，通过 Result.OK 体现。
func (s *Session) Deliver(ctx context.Context, pkt control.Packet) (control.Result, error) {
	s.mu.RLock()
	state, peer := s.state, s.peer
	s.mu.RUnlock()
	if state != StatePaired {
		return control.Result{}, ErrNotPaired
	}

	res := s.deliverer.Deliver(ctx, peer.Host, pkt.Bytes())

	s.mu.Lock()
	s.lastDeliveryAt = time.Now()
	s.lastResult = res
	if res.OK {
		s.delivered++
		s.consecutiveFailures = 0
	} else {
		s.failed++
		s.consecutiveFailures++
	}
	failures := s.consecutiveFailures
	s.mu.Unlock()

	if !res.OK {
		s.log.Warn("instructions failed to send",
			zap.String("host", peer.Host),
			zap.Stringer("packet", pkt),
			zap.Int("consecutive_failures", failures),
		)
	}
	return res, nil
}

// State 当前状态
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Peer 当前配对设备，未配对时 ok=false
func (s *Session) Peer() (discovery.Peer, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.peer, s.state == StatePaired
}

// Ready 是否可以下发
func (s *Session) Ready() bool { return s.State() == StatePaired }

// Snapshot 会话统计快照
type Snapshot struct {
	ID                  string    `json:"id"`
	State               string    `json:"state"`
	Host                string    `json:"host,omitempty"`
	ControlPort         int       `json:"control_port,omitempty"`
	PairedAt            time.Time `json:"paired_at,omitempty"`
	Delivered           int64     `json:"delivered_total"`
	Failed              int64     `json:"failed_total"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastDeliveryAt      time.Time `json:"last_delivery_at,omitempty"`
	LastAttempts        int       `json:"last_attempts"`
}

// Snapshot 返回当前快照
func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		ID:                  s.id,
		State:               s.state.String(),
		Host:                s.peer.Host,
		ControlPort:         s.peer.ControlPort,
		PairedAt:            s.peer.PairedAt,
		Delivered:           s.delivered,
		Failed:              s.failed,
		ConsecutiveFailures: s.consecutiveFailures,
		LastDeliveryAt:      s.lastDeliveryAt,
		LastAttempts:        s.lastResult.Attempts,
	}
}
