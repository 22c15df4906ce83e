package api

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/taoyao-code/mlab-sync/internal/api/middleware"
)

func apiGroup(r *gin.Engine, authCfg middleware.AuthConfig, logger *zap.Logger) *gin.RouterGroup {
	g := r.Group("/api")
	if authCfg.Enabled {
		g.Use(middleware.APIKeyAuth(authCfg, logger))
		logger.Info("api authentication enabled", zap.Int("api_keys_count", len(authCfg.APIKeys)))
	} else {
		logger.Warn("api authentication disabled - only for development!")
	}
	return g
}

// RegisterTransmitterRoutes 注册发射端路由
func RegisterTransmitterRoutes(r *gin.Engine, h *TransmitterHandler, authCfg middleware.AuthConfig, logger *zap.Logger) {
	if r == nil || h == nil {
		return
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	g := apiGroup(r, authCfg, logger)

	g.POST("/runs", h.StartRun)
	g.GET("/runs/current", h.CurrentRun)
	g.GET("/runs/recent", h.RecentRuns)
	g.GET("/runs/:id", h.GetRun)

	g.GET("/profiles", h.ListProfiles)
	g.PUT("/profiles/:id", h.PutProfile)

	logger.Info("transmitter routes registered", zap.Int("endpoints", 6))
}

// RegisterReceiverRoutes 注册接收端路由
func RegisterReceiverRoutes(r *gin.Engine, h *ReceiverHandler, authCfg middleware.AuthConfig, logger *zap.Logger) {
	if r == nil || h == nil {
		return
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	g := apiGroup(r, authCfg, logger)

	g.GET("/status", h.Status)
	g.PUT("/device-id", h.SetDeviceID)
	g.PUT("/mode", h.SetMode)
	g.POST("/manual-run", h.ManualRun)
	g.POST("/stop", h.Stop)

	logger.Info("receiver routes registered", zap.Int("endpoints", 5))
}
