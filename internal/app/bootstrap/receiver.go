package bootstrap

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/taoyao-code/mlab-sync/internal/api"
	"github.com/taoyao-code/mlab-sync/internal/app"
	"github.com/taoyao-code/mlab-sync/internal/clock"
	cfgpkg "github.com/taoyao-code/mlab-sync/internal/config"
	"github.com/taoyao-code/mlab-sync/internal/health"
	"github.com/taoyao-code/mlab-sync/internal/metrics"
	"github.com/taoyao-code/mlab-sync/internal/profile"
	"github.com/taoyao-code/mlab-sync/internal/receiver"
)

// RunReceiver 接收端启动流程；act 为输出驱动
func RunReceiver(cfg *cfgpkg.Config, act receiver.Actuator, log *zap.Logger) error {
	log = log.With(zap.String("instance", app.InstanceID("receiver")), zap.String("node", cfg.Receiver.NodeName))
	log.Info("starting mlab receiver", zap.String("env", cfg.App.Env))

	// ========== 阶段1: 基础组件 ==========
	reg, pm := app.NewMetrics()
	ready := health.New()
	clk := clock.NewReal()

	// ========== 阶段2: 设备号 ==========
	redisClient, err := app.NewRedisClient(cfg.Redis, log)
	if err != nil {
		log.Error("redis initialization failed", zap.Error(err))
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
	}
	store := app.NewIdentityStore(redisClient, cfg.Receiver.NodeName, log)
	identity, err := receiver.NewIdentity(context.Background(), store, cfg.Receiver.DeviceID, log.Named("identity"))
	if err != nil {
		log.Error("device identity init failed", zap.Error(err))
		return err
	}
	log.Info("device identity ready", zap.Uint8("device_id", identity.DeviceID()))

	// ========== 阶段3: 链路与节点 ==========
	link, err := app.OpenRadio(cfg.Radio, clk, pm, log)
	if err != nil {
		log.Error("radio link open failed", zap.Error(err))
		return err
	}
	defer link.Close()
	ready.SetLinkReady(true)

	if w := cfg.Receiver.DeadmanWindow; w > 0 && w < profile.MaxPlaySeconds*time.Second {
		log.Warn("deadman window shorter than the longest allowed play",
			zap.Duration("deadman_window", w),
			zap.Int("max_play_seconds", profile.MaxPlaySeconds))
	}

	done := log.Named("sequencer")
	node := receiver.NewNode(identity, link, act, clk, cfg.Protocol.TickInterval, cfg.Receiver.DeadmanWindow, log.Named("receiver"),
		receiver.WithMetrics(pm),
		receiver.WithCompletion(func(token uint32) {
			done.Info("sequence completed", zap.Uint32("token", token))
		}))

	// ========== 阶段4: HTTP ==========
	healthAgg := app.NewHealthAggregator(link)
	app.AddRedisChecker(healthAgg, redisClient)

	httpSrv := app.NewHTTPServer(cfg, metrics.Handler(reg), ready.Ready, log.Named("http"))
	api.RegisterReceiverRoutes(httpSrv.Engine(), api.NewReceiverHandler(node, log.Named("api")), app.AuthConfig(cfg.HTTP), log)
	app.RegisterHealthRoutes(httpSrv.Engine(), healthAgg)

	// ========== 阶段5: 事件循环 ==========
	return serve(log, ready, httpSrv, func(ctx context.Context) error {
		return node.Run(ctx, link.Frames())
	})
}
