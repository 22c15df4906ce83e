package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/taoyao-code/mlab-sync/internal/app/bootstrap"
	cfgpkg "github.com/taoyao-code/mlab-sync/internal/config"
	"github.com/taoyao-code/mlab-sync/internal/logging"
)

var (
	profilePath string
	listenAddr  string
)

var rootCmd = &cobra.Command{
	Use:   "mlab-transmitter [config.yaml]",
	Short: "Synchronized actuator transmitter: RTT handshake and timed commands over broadcast radio",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		path := ""
		if len(args) > 0 {
			path = args[0]
		}
		// 1) 加载配置
		cfg, err := cfgpkg.Load(path)
		if err != nil {
			return err
		}
		if profilePath != "" {
			cfg.Transmitter.ProfilePath = profilePath
		}
		if listenAddr != "" {
			cfg.Radio.ListenAddr = listenAddr
		}

		// 2) 初始化日志
		logger, err := logging.InitLogger(cfg.Logging, "transmitter")
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()
		zap.ReplaceGlobals(logger)

		return bootstrap.RunTransmitter(cfg, logger)
	},
}

func init() {
	rootCmd.Flags().StringVar(&profilePath, "profiles", "", "device profile YAML (overrides transmitter.profilePath)")
	rootCmd.Flags().StringVar(&listenAddr, "listen", "", "radio listen address (overrides radio.listenAddr)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
