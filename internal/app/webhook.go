package app

import (
	"net/http"

	"go.uber.org/zap"

	cfgpkg "github.com/taoyao-code/mlab-sync/internal/config"
	"github.com/taoyao-code/mlab-sync/internal/webhook"
)

// NewRunNotifier 配置了 URL 时创建结算报告推送器
func NewRunNotifier(cfg cfgpkg.WebhookConfig, logger *zap.Logger) *webhook.RunNotifier {
	if cfg.URL == "" {
		return nil
	}
	p := webhook.NewPusher(&http.Client{Timeout: cfg.Timeout}, cfg.APIKey, cfg.Secret)
	if cfg.Retries >= 0 {
		p.Retries = cfg.Retries
	}
	return webhook.NewRunNotifier(p, cfg.URL, cfg.QueueSize, logger.Named("webhook"))
}
