package app

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/taoyao-code/mlab-sync/internal/api/middleware"
	cfgpkg "github.com/taoyao-code/mlab-sync/internal/config"
	"github.com/taoyao-code/mlab-sync/internal/httpserver"
)

// NewHTTPServer 根据配置创建 HTTP 服务器；指标关闭时不挂载指标路由
func NewHTTPServer(cfg *cfgpkg.Config, metricsHandler http.Handler, readyFn func() bool, logger *zap.Logger) *httpserver.Server {
	if !cfg.Metrics.Enable {
		metricsHandler = nil
	}
	return httpserver.New(cfg.HTTP, cfg.Metrics.Path, metricsHandler, readyFn, logger)
}

// AuthConfig 控制 API 认证配置
func AuthConfig(cfg cfgpkg.HTTPConfig) middleware.AuthConfig {
	return middleware.AuthConfig{APIKeys: cfg.APIKeys, Enabled: cfg.AuthEnabled}
}
