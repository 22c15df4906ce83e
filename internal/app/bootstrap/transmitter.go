package bootstrap

import (
	"context"
	"errors"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/taoyao-code/mlab-sync/internal/api"
	"github.com/taoyao-code/mlab-sync/internal/app"
	"github.com/taoyao-code/mlab-sync/internal/clock"
	cfgpkg "github.com/taoyao-code/mlab-sync/internal/config"
	"github.com/taoyao-code/mlab-sync/internal/health"
	"github.com/taoyao-code/mlab-sync/internal/metrics"
	"github.com/taoyao-code/mlab-sync/internal/profile"
	"github.com/taoyao-code/mlab-sync/internal/transmitter"
)

// RunTransmitter 发射端启动流程
func RunTransmitter(cfg *cfgpkg.Config, log *zap.Logger) error {
	log = log.With(zap.String("instance", app.InstanceID("transmitter")))
	log.Info("starting mlab transmitter", zap.String("env", cfg.App.Env))

	// ========== 阶段1: 基础组件 ==========
	reg, pm := app.NewMetrics()
	ready := health.New()
	clk := clock.NewReal()

	profiles, err := loadProfiles(cfg.Transmitter.ProfilePath, log)
	if err != nil {
		return err
	}
	warnDeadmanCuts(profiles, cfg.Receiver.DeadmanWindow, log)

	// ========== 阶段2: 存储（可选）==========
	dbpool, archive, err := app.ConnectDBAndMigrate(context.Background(), cfg.Database, log)
	if dbpool != nil {
		defer dbpool.Close()
	}
	if err != nil {
		log.Error("database initialization failed", zap.Error(err))
		return err
	}
	if dbpool != nil {
		log.Info("database ready", zap.String("dsn", maskDSN(cfg.Database.DSN)))
	}

	redisClient, err := app.NewRedisClient(cfg.Redis, log)
	if err != nil {
		log.Error("redis initialization failed", zap.Error(err))
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
	}
	reports := app.NewRunReportStore(redisClient, cfg.Redis, log.Named("reports"))

	// ========== 阶段3: 链路与会话管理器 ==========
	link, err := app.OpenRadio(cfg.Radio, clk, pm, log)
	if err != nil {
		log.Error("radio link open failed", zap.Error(err))
		return err
	}
	defer link.Close()
	ready.SetLinkReady(true)

	mgr := transmitter.NewManager(cfg.Protocol, link, clk,
		transmitter.WithLogger(log.Named("transmitter")),
		transmitter.WithMetrics(pm))

	var (
		history api.RunHistory
		lookup  api.RunLookup
	)
	if reports != nil {
		mgr.AddObserver(reports)
		history = reports
	}
	if archive != nil {
		mgr.AddObserver(archive)
		lookup = archive
		if history == nil {
			history = archive
		}
	}

	if notifier := app.NewRunNotifier(cfg.Webhook, log); notifier != nil {
		mgr.AddObserver(notifier)
		nctx, ncancel := context.WithCancel(context.Background())
		defer ncancel()
		go notifier.Run(nctx)
	}

	// ========== 阶段4: HTTP ==========
	healthAgg := app.NewHealthAggregator(link)
	app.AddRedisChecker(healthAgg, redisClient)
	app.AddDatabaseChecker(healthAgg, dbpool)

	httpSrv := app.NewHTTPServer(cfg, metrics.Handler(reg), ready.Ready, log.Named("http"))
	handler := api.NewTransmitterHandler(mgr, profiles, cfg.Transmitter.ProfilePath, history, lookup, log.Named("api"))
	api.RegisterTransmitterRoutes(httpSrv.Engine(), handler, app.AuthConfig(cfg.HTTP), log)
	app.RegisterHealthRoutes(httpSrv.Engine(), healthAgg)

	// ========== 阶段5: 事件循环 ==========
	return serve(log, ready, httpSrv, func(ctx context.Context) error {
		return mgr.Run(ctx, link.Frames())
	})
}

// loadProfiles 读取设备配置；文件不存在时使用默认值
func loadProfiles(path string, log *zap.Logger) (*profile.Set, error) {
	if path == "" {
		return profile.Default(), nil
	}
	set, err := profile.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		log.Warn("profiles file not found, using defaults", zap.String("path", path))
		return profile.Default(), nil
	}
	if err != nil {
		log.Error("load profiles failed", zap.String("path", path), zap.Error(err))
		return nil, err
	}
	log.Info("profiles loaded", zap.String("path", path), zap.Int("devices", len(set.All())))
	return set, nil
}

// warnDeadmanCuts 提示会被接收端死人开关截断的设备配置
func warnDeadmanCuts(set *profile.Set, window time.Duration, log *zap.Logger) {
	ids := set.PlaysLongerThan(window)
	if len(ids) == 0 {
		return
	}
	log.Warn("profiles play longer than receiver deadman window, runs will be cut short",
		zap.Duration("deadman_window", window),
		zap.Uint8s("devices", ids))
}
