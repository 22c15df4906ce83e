package app

import (
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/taoyao-code/mlab-sync/internal/health"
)

// NewHealthAggregator 创建健康检查聚合器，初始只包含链路检查
func NewHealthAggregator(link health.LinkStatser) *health.Aggregator {
	return health.NewAggregator(health.NewLinkChecker(link))
}

// RegisterHealthRoutes 注册健康检查HTTP路由
func RegisterHealthRoutes(r *gin.Engine, aggregator *health.Aggregator) {
	health.RegisterHTTPRoutes(r, aggregator)
}

// AddDatabaseChecker 添加数据库检查器
func AddDatabaseChecker(aggregator *health.Aggregator, pool *pgxpool.Pool) {
	if pool != nil {
		aggregator.AddChecker(health.NewDatabaseChecker(pool))
	}
}
