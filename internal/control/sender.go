package control

import (
	"context"
	"errors"
	"io"
	"net"
	"strconv"
	"time"

	"go.uber.org/zap"

	cfgpkg "github.com/taoyao-code/brick-gateway/internal/config"
	"github.com/taoyao-code/brick-gateway/internal/metrics"
)

// Options 单次下发参数
type Options struct {
	Port           int           // 设备 TCP 控制端口
	ConnectTimeout time.Duration // 建连超时
	ReadTimeout    time.Duration // 等待设备回执的超时，超时视为正常
	AckBufferSize  int
}

// OptionsFromConfig 由配置构造下发参数
func OptionsFromConfig(cfg cfgpkg.ControlConfig) Options {
	return Options{
		Port:           cfg.Port,
		ConnectTimeout: cfg.ConnectTimeout,
		ReadTimeout:    cfg.ReadTimeout,
		AckBufferSize:  cfg.AckBufferSize,
	}
}

// Dialer 建立 TCP 连接，测试可替换
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Sender 一次性 TCP 连接下发指令，不复用连接
type Sender struct {
	opts   Options
	dialer Dialer
	log    *zap.Logger
	appm   *metrics.AppMetrics
}

// NewSender 创建下发器；dialer 为 nil 时使用带建连超时的 net.Dialer
func NewSender(opts Options, dialer Dialer, log *zap.Logger, appm *metrics.AppMetrics) *Sender {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 5 * time.Second
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 100 * time.Millisecond
	}
	if opts.AckBufferSize <= 0 {
		opts.AckBufferSize = 4096
	}
	if dialer == nil {
		dialer = &net.Dialer{Timeout: opts.ConnectTimeout}
	}
	if log == nil {
		log = zap.NewNop()
	}
	if appm == nil {
		appm = metrics.NewAppMetrics(nil)
	}
	return &Sender{opts: opts, dialer: dialer, log: log.Named("control"), appm: appm}
}

// Send 建连、完整写入 payload、短暂等待回执后关闭连接。
// 仅当建连或写入失败时返回 false；回执超时或读错误不影响结果。
func (s *Sender) Send(ctx context.Context, host string, payload []byte) bool {
	start := time.Now()
	defer func() { s.appm.SendDuration.Observe(time.Since(start).Seconds()) }()

	addr := net.JoinHostPort(host, strconv.Itoa(s.opts.Port))

	dctx, cancel := context.WithTimeout(ctx, s.opts.ConnectTimeout)
	conn, err := s.dialer.DialContext(dctx, "tcp", addr)
	cancel()
	if err != nil {
		s.appm.SendAttempts.WithLabelValues("connect_error").Inc()
		s.log.Warn("tcp connect failed", zap.String("addr", addr), zap.Error(err))
		return false
	}
	defer conn.Close()

	if err := writeFull(conn, payload); err != nil {
		s.appm.SendAttempts.WithLabelValues("write_error").Inc()
		s.log.Warn("tcp send failed", zap.String("addr", addr), zap.Error(err))
		return false
	}
	s.appm.SendAttempts.WithLabelValues("ok").Inc()

	s.awaitAck(conn, addr)
	return true
}

// writeFull 循环写入直到 payload 全部交给传输层
func writeFull(conn net.Conn, payload []byte) error {
	for len(payload) > 0 {
		n, err := conn.Write(payload)
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		payload = payload[n:]
	}
	return nil
}

// awaitAck 读取可选回执；超时属于“设备未立即回复”，只记录
func (s *Sender) awaitAck(conn net.Conn, addr string) {
	_ = conn.SetReadDeadline(time.Now().Add(s.opts.ReadTimeout))
	buf := make([]byte, s.opts.AckBufferSize)
	n, err := conn.Read(buf)
	switch {
	case n > 0:
		s.log.Debug("device ack", zap.String("addr", addr), zap.Binary("data", buf[:n]))
	case err == nil:
	case isTimeout(err):
		s.appm.AckTimeouts.Inc()
		s.log.Debug("no immediate reply from device", zap.String("addr", addr))
	case errors.Is(err, io.EOF):
		s.log.Debug("device closed control connection", zap.String("addr", addr))
	default:
		s.log.Warn("read device reply failed", zap.String("addr", addr), zap.Error(err))
	}
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
