package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"go.uber.org/zap"

	cfgpkg "github.com/taoyao-code/brick-gateway/internal/config"
	"github.com/taoyao-code/brick-gateway/internal/metrics"
)

// ErrListenerClosed 发现 socket 已关闭
var ErrListenerClosed = errors.New("discovery listener closed")

// Options 发现监听参数
type Options struct {
	Port              int           // UDP 发现端口；0 表示由系统分配（测试用）
	ControlPort       int           // 写入 Peer 的 TCP 控制端口
	Token             []byte        // 配对令牌，原样作为回复内容
	ReplyDelay        time.Duration // 回复前等待，给设备端准备接收的时间
	ReplyToSourcePort bool          // true 时回复到广播源端口而不是发现端口
	ReadBufferSize    int
	ReplyRatePerSec   float64 // 回复失败后的节流速率，<=0 不限速
	ReplyBurst        int
}

// OptionsFromConfig 由配置构造发现参数
func OptionsFromConfig(cfg *cfgpkg.Config) Options {
	return Options{
		Port:              cfg.Discovery.Port,
		ControlPort:       cfg.Control.Port,
		Token:             []byte(cfg.Discovery.Token),
		ReplyDelay:        cfg.Discovery.ReplyDelay,
		ReplyToSourcePort: cfg.Discovery.ReplyToSourcePort,
		ReadBufferSize:    cfg.Discovery.ReadBufferSize,
		ReplyRatePerSec:   cfg.Discovery.ReplyRatePerSec,
		ReplyBurst:        cfg.Discovery.ReplyBurst,
	}
}

// Listener 被动监听设备广播并回复配对令牌
type Listener struct {
	conn     net.PacketConn
	opts     Options
	log      *zap.Logger
	appm     *metrics.AppMetrics
	throttle *replyThrottle
}

// Listen 绑定发现端口（SO_REUSEADDR + SO_BROADCAST）。绑定失败直接返回错误，调用方不应继续。
func Listen(ctx context.Context, opts Options, log *zap.Logger, appm *metrics.AppMetrics) (*Listener, error) {
	lc := net.ListenConfig{Control: ControlReuseBroadcast}
	addr := net.JoinHostPort("", strconv.Itoa(opts.Port))
	conn, err := lc.ListenPacket(ctx, "udp4", addr)
	if err != nil {
		return nil, fmt.Errorf("bind discovery port %d: %w", opts.Port, err)
	}
	return NewListener(conn, opts, log, appm), nil
}

// NewListener 基于已绑定的 PacketConn 创建监听器，Listener 接管 conn 的所有权
func NewListener(conn net.PacketConn, opts Options, log *zap.Logger, appm *metrics.AppMetrics) *Listener {
	if log == nil {
		log = zap.NewNop()
	}
	if appm == nil {
		appm = metrics.NewAppMetrics(nil)
	}
	if opts.ReadBufferSize <= 0 {
		opts.ReadBufferSize = 4096
	}
	if opts.Port == 0 {
		if ua, ok := conn.LocalAddr().(*net.UDPAddr); ok {
			opts.Port = ua.Port
		}
	}
	return &Listener{
		conn:     conn,
		opts:     opts,
		log:      log.Named("discovery"),
		appm:     appm,
		throttle: newReplyThrottle(opts.ReplyRatePerSec, opts.ReplyBurst),
	}
}

// LocalAddr 返回实际绑定地址
func (l *Listener) LocalAddr() net.Addr { return l.conn.LocalAddr() }

// Close 释放 UDP socket
func (l *Listener) Close() error { return l.conn.Close() }

// Pair 阻塞直到完成一次成功的令牌回复，返回发送方作为配对设备。
// 回复失败只记录日志并继续等待下一次广播；ctx 取消时返回 ctx.Err()。
func (l *Listener) Pair(ctx context.Context) (Peer, error) {
	// ctx 取消时通过过期 deadline 唤醒阻塞中的 ReadFrom
	stop := context.AfterFunc(ctx, func() {
		_ = l.conn.SetReadDeadline(time.Unix(1, 0))
	})
	defer stop()

	buf := make([]byte, l.opts.ReadBufferSize)
	for {
		l.log.Info("listening for device broadcast", zap.Int("port", l.opts.Port))

		n, from, err := l.conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return Peer{}, ctx.Err()
			}
			if errors.Is(err, net.ErrClosed) {
				return Peer{}, ErrListenerClosed
			}
			l.log.Warn("discovery receive failed", zap.Error(err))
			if err := l.backoff(ctx); err != nil {
				return Peer{}, err
			}
			continue
		}

		l.appm.DiscoveryDatagrams.Inc()
		l.appm.DiscoveryBytes.Add(float64(n))

		peer, ok, err := l.handle(ctx, buf[:n], from)
		if err != nil {
			return Peer{}, err
		}
		if ok {
			l.log.Info("paired with device", zap.String("host", peer.Host))
			return peer, nil
		}
		if err := l.backoff(ctx); err != nil {
			return Peer{}, err
		}
	}
}

// backoff 失败后经令牌桶节流再继续监听；成功回复不经过此处
func (l *Listener) backoff(ctx context.Context) error {
	waited, err := l.throttle.Wait(ctx)
	if waited {
		l.appm.DiscoveryThrottled.Inc()
	}
	if err != nil {
		return ctx.Err()
	}
	return nil
}

// handle 处理一次广播：延时后回复令牌。返回 ok=false 表示本次未配对，应继续监听。
// 报文内容不做校验，只使用源地址。
func (l *Listener) handle(ctx context.Context, data []byte, from net.Addr) (Peer, bool, error) {
	src, ok := from.(*net.UDPAddr)
	if !ok {
		l.log.Warn("discovery datagram from non-udp address", zap.String("from", from.String()))
		return Peer{}, false, nil
	}
	l.log.Info("received discovery datagram",
		zap.String("from", src.String()),
		zap.Int("len", len(data)),
		zap.Binary("data", data),
	)

	if l.opts.ReplyDelay > 0 {
		t := time.NewTimer(l.opts.ReplyDelay)
		select {
		case <-ctx.Done():
			t.Stop()
			return Peer{}, false, ctx.Err()
		case <-t.C:
		}
	}

	replyPort := l.opts.Port
	if l.opts.ReplyToSourcePort {
		replyPort = src.Port
	}
	to := &net.UDPAddr{IP: src.IP, Port: replyPort, Zone: src.Zone}

	n, err := l.conn.WriteTo(l.opts.Token, to)
	if err == nil && n != len(l.opts.Token) {
		err = fmt.Errorf("short write: %d of %d bytes", n, len(l.opts.Token))
	}
	if err != nil {
		l.appm.DiscoveryReplies.WithLabelValues("error").Inc()
		l.log.Warn("failed to send discovery reply", zap.String("to", to.String()), zap.Error(err))
		return Peer{}, false, nil
	}
	l.appm.DiscoveryReplies.WithLabelValues("ok").Inc()
	l.log.Info("sent discovery reply", zap.String("to", to.String()))

	return Peer{
		Host:          src.IP.String(),
		DiscoveryPort: l.opts.Port,
		ControlPort:   l.opts.ControlPort,
		PairedAt:      time.Now(),
	}, true, nil
}

// StartDiscovery 绑定端口、完成一次配对并释放 socket
func StartDiscovery(ctx context.Context, opts Options, log *zap.Logger, appm *metrics.AppMetrics) (Peer, error) {
	l, err := Listen(ctx, opts, log, appm)
	if err != nil {
		return Peer{}, err
	}
	defer l.Close()
	return l.Pair(ctx)
}
