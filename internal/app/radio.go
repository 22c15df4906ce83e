package app

import (
	"go.uber.org/zap"

	"github.com/taoyao-code/mlab-sync/internal/clock"
	cfgpkg "github.com/taoyao-code/mlab-sync/internal/config"
	"github.com/taoyao-code/mlab-sync/internal/metrics"
	"github.com/taoyao-code/mlab-sync/internal/radio"
)

// OpenRadio 打开 UDP 广播链路
func OpenRadio(cfg cfgpkg.RadioConfig, clk clock.Clock, m *metrics.ProtocolMetrics, logger *zap.Logger) (*radio.UDPLink, error) {
	link, err := radio.ListenUDP(cfg, clk, m, logger.Named("radio"))
	if err != nil {
		return nil, err
	}
	logger.Info("radio link open",
		zap.String("listen", string(link.LocalAddr())),
		zap.String("broadcast", cfg.BroadcastAddr))
	return link, nil
}
