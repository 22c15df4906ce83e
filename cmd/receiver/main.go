package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/taoyao-code/mlab-sync/internal/app/bootstrap"
	cfgpkg "github.com/taoyao-code/mlab-sync/internal/config"
	"github.com/taoyao-code/mlab-sync/internal/logging"
	"github.com/taoyao-code/mlab-sync/internal/receiver"
)

var (
	deviceID   uint8
	nodeName   string
	listenAddr string
	httpAddr   string
)

var rootCmd = &cobra.Command{
	Use:   "mlab-receiver [config.yaml]",
	Short: "Synchronized actuator receiver: acknowledges commands and drives the output on schedule",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := ""
		if len(args) > 0 {
			path = args[0]
		}
		cfg, err := cfgpkg.Load(path)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("device-id") {
			if err := receiver.ValidDeviceID(deviceID); err != nil {
				return err
			}
			cfg.Receiver.DeviceID = deviceID
		}
		if nodeName != "" {
			cfg.Receiver.NodeName = nodeName
		}
		if listenAddr != "" {
			cfg.Radio.ListenAddr = listenAddr
		}
		if httpAddr != "" {
			cfg.HTTP.Addr = httpAddr
		}

		logger, err := logging.InitLogger(cfg.Logging, "receiver")
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()
		zap.ReplaceGlobals(logger)

		// 无硬件时输出只记录日志
		out := logger.Named("output")
		act := receiver.ActuatorFunc(func(on bool) {
			out.Info("output switched", zap.Bool("on", on))
		})
		return bootstrap.RunReceiver(cfg, act, logger)
	},
}

func init() {
	rootCmd.Flags().Uint8Var(&deviceID, "device-id", 0, "configured device id 1..10 (a stored id takes precedence)")
	rootCmd.Flags().StringVar(&nodeName, "node", "", "node name used as the identity storage key")
	rootCmd.Flags().StringVar(&listenAddr, "listen", "", "radio listen address (overrides radio.listenAddr)")
	rootCmd.Flags().StringVar(&httpAddr, "http", "", "HTTP listen address (overrides http.addr)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
