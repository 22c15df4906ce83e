package app

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/taoyao-code/mlab-sync/internal/metrics"
)

// NewMetrics 初始化注册表与协议指标
func NewMetrics() (*prometheus.Registry, *metrics.ProtocolMetrics) {
	reg := metrics.NewRegistry()
	pm := metrics.NewProtocolMetrics(reg)
	return reg, pm
}
