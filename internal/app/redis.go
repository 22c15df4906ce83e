package app

import (
	"go.uber.org/zap"

	cfgpkg "github.com/taoyao-code/mlab-sync/internal/config"
	"github.com/taoyao-code/mlab-sync/internal/health"
	"github.com/taoyao-code/mlab-sync/internal/receiver"
	redisstorage "github.com/taoyao-code/mlab-sync/internal/storage/redis"
)

// NewRedisClient 创建Redis客户端；未启用时返回 nil, nil
func NewRedisClient(cfg cfgpkg.RedisConfig, logger *zap.Logger) (*redisstorage.Client, error) {
	if !cfg.Enabled {
		logger.Info("redis is disabled, skipping initialization")
		return nil, nil
	}

	client, err := redisstorage.NewClient(cfg)
	if err != nil {
		return nil, err
	}

	logger.Info("redis client initialized",
		zap.String("addr", cfg.Addr),
		zap.Int("pool_size", cfg.PoolSize))

	return client, nil
}

// NewRunReportStore 运行报告历史（Redis 不可用时为 nil）
func NewRunReportStore(client *redisstorage.Client, cfg cfgpkg.RedisConfig, logger *zap.Logger) *redisstorage.RunReportStore {
	if client == nil {
		return nil
	}
	return redisstorage.NewRunReportStore(client, cfg.ReportHistory, logger)
}

// NewIdentityStore 设备号持久化：优先 Redis，否则进程内存
func NewIdentityStore(client *redisstorage.Client, nodeName string, logger *zap.Logger) receiver.IdentityStore {
	if client != nil {
		logger.Info("using redis identity store", zap.String("node", nodeName))
		return redisstorage.NewIdentityStore(client, nodeName)
	}
	logger.Warn("redis disabled, device id changes will not survive restart")
	return receiver.NewMemoryIdentityStore()
}

// AddRedisChecker 添加Redis检查器到聚合器
func AddRedisChecker(aggregator *health.Aggregator, redisClient *redisstorage.Client) {
	if redisClient != nil {
		aggregator.AddChecker(health.NewRedisChecker(redisClient))
	}
}
