package app

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	cfgpkg "github.com/taoyao-code/mlab-sync/internal/config"
	"github.com/taoyao-code/mlab-sync/internal/storage/gormrepo"
	pgstorage "github.com/taoyao-code/mlab-sync/internal/storage/pg"
)

// ConnectDBAndMigrate 建立数据库连接、打开运行归档并按需建表。
// 未启用数据库时返回 nil, nil, nil。
func ConnectDBAndMigrate(ctx context.Context, cfg cfgpkg.DatabaseConfig, log *zap.Logger) (*pgxpool.Pool, *gormrepo.RunArchive, error) {
	if !cfg.Enabled {
		log.Info("database is disabled, run archive off")
		return nil, nil, nil
	}
	dbpool, err := pgstorage.NewPool(ctx, cfg, log.Named("pgx"))
	if err != nil {
		log.Error("db connect error", zap.Error(err))
		return nil, nil, err
	}
	db, err := pgstorage.OpenGorm(dbpool)
	if err != nil {
		dbpool.Close()
		return nil, nil, err
	}
	archive := gormrepo.New(db, log.Named("archive"))
	if cfg.AutoMigrate {
		if err = archive.AutoMigrate(ctx); err != nil {
			log.Error("db migrate error", zap.Error(err))
			return dbpool, archive, err
		}
		log.Info("db migrations applied")
	}
	return dbpool, archive, nil
}
