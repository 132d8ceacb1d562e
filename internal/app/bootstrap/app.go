package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/taoyao-code/brick-gateway/internal/app"
	cfgpkg "github.com/taoyao-code/brick-gateway/internal/config"
	"github.com/taoyao-code/brick-gateway/internal/control"
	"github.com/taoyao-code/brick-gateway/internal/decision"
	"github.com/taoyao-code/brick-gateway/internal/discovery"
	"github.com/taoyao-code/brick-gateway/internal/metrics"
	"github.com/taoyao-code/brick-gateway/internal/session"
)

// Run 交互式会话：配对设备后，每读到一条决策就下发一次指令，直到输入结束或 ctx 取消。
// 仅发现端口绑定失败等启动错误会返回 error。
func Run(ctx context.Context, cfg *cfgpkg.Config, log *zap.Logger, in io.Reader, out io.Writer) error {
	log.Info("starting brick gateway", zap.String("name", cfg.App.Name), zap.String("env", cfg.App.Env))

	// ========== 阶段1: 基础组件 ==========
	reg, appm := app.NewMetrics()
	sess := app.NewSession(cfg.Control, log, appm)
	log = log.With(zap.String("session_id", sess.ID()))

	// 标签映射决定线上下标，配置了却加载失败时不回退默认值
	labels := decision.DefaultLabelMap()
	if cfg.Decision.LabelMapPath != "" {
		m, err := decision.LoadLabelMap(cfg.Decision.LabelMapPath)
		if err != nil {
			log.Error("load label map failed", zap.String("path", cfg.Decision.LabelMapPath), zap.Error(err))
			return fmt.Errorf("load label map: %w", err)
		}
		labels = m
		log.Info("label map loaded", zap.String("path", cfg.Decision.LabelMapPath))
	}

	// ========== 阶段2: 状态 HTTP 服务（可选，非阻塞）==========
	if cfg.HTTP.Enable {
		var metricsHandler = metrics.Handler(reg)
		if !cfg.Metrics.Enable {
			metricsHandler = nil
		}
		httpSrv := app.NewHTTPServer(cfg.HTTP, cfg.Metrics.Path, metricsHandler, sess.Ready)
		healthAgg := app.NewHealthAggregator(sess, cfg.Control.MaxAttempts, time.Now())
		httpSrv.Register(func(r *gin.Engine) {
			app.RegisterHealthRoutes(r, healthAgg)
			app.RegisterStatusRoutes(r, sess)
		})
		go func() {
			if err := httpSrv.Start(); err != nil {
				log.Error("http server error", zap.Error(err))
			}
		}()
		log.Info("http server started", zap.String("addr", cfg.HTTP.Addr))
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = httpSrv.Shutdown(sctx)
			log.Info("http server stopped")
		}()
	}

	// ========== 阶段3: 配对 ==========
	peer, err := pair(ctx, cfg, log, appm, sess, out)
	if err != nil {
		if ctx.Err() != nil {
			log.Info("pairing canceled")
			return nil
		}
		return err
	}

	// ========== 阶段4: 交互循环 ==========
	provider := decision.NewConsoleProvider(labels, in, out)
	fmt.Fprintf(out, "Paired with device at %s\n", peer.Host)
	return interact(ctx, sess, provider, out, log)
}

// pair 绑定发现端口并阻塞直到配对成功，socket 随后释放
func pair(ctx context.Context, cfg *cfgpkg.Config, log *zap.Logger, appm *metrics.AppMetrics, sess *session.Session, out io.Writer) (discovery.Peer, error) {
	l, err := discovery.Listen(ctx, discovery.OptionsFromConfig(cfg), log, appm)
	if err != nil {
		log.Error("discovery bind failed", zap.Error(err))
		return discovery.Peer{}, err
	}
	defer l.Close()

	fmt.Fprintf(out, "Listening for device broadcast on udp %s...\n", l.LocalAddr())
	return sess.Pair(ctx, l)
}

// interact 每轮读取一条决策并下发；下发失败只提示，不终止
func interact(ctx context.Context, sess *session.Session, provider decision.Provider, out io.Writer, log *zap.Logger) error {
	for {
		d, err := provider.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				log.Info("interactive session finished", zap.Any("stats", sess.Snapshot()))
				return nil
			}
			return fmt.Errorf("read decision: %w", err)
		}

		res, err := sess.Deliver(ctx, d.Packet())
		if err != nil {
			return err
		}
		if res.OK {
			fmt.Fprintf(out, "Instructions sent to device: %s\n", d.Describe())
		} else {
			fmt.Fprintf(out, "Instructions failed to send after %d attempts: %s\n", res.Attempts, d.Describe())
		}
	}
}

// PairOnce 只执行配对并返回设备地址
func PairOnce(ctx context.Context, cfg *cfgpkg.Config, log *zap.Logger, out io.Writer) (discovery.Peer, error) {
	appm := metrics.NewAppMetrics(nil)
	sess := app.NewSession(cfg.Control, log, appm)
	return pair(ctx, cfg, log, appm, sess, out)
}

// SendOnce 向已知设备地址下发一条指令（跳过发现）
func SendOnce(ctx context.Context, cfg *cfgpkg.Config, log *zap.Logger, host string, pkt control.Packet) control.Result {
	d := app.NewDeliverer(cfg.Control, log, metrics.NewAppMetrics(nil))
	return d.DeliverPacket(ctx, host, pkt)
}
