// Command authkit-demo serves the authkit HTTP routes over a configurable
// token store and can load-test an engine.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var (
		configPath string
		logLevel   string
		devLogs    bool
	)

	root := &cobra.Command{
		Use:           "authkit-demo",
		Short:         "Demo server for the authkit engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file (env AUTHKIT_CONFIG)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log_level: debug|info|warn|error")
	root.PersistentFlags().BoolVar(&devLogs, "dev", false, "human-readable console logs")

	setup := func() (demoConfig, *zap.Logger, error) {
		cfg, err := loadConfig(configPath)
		if err != nil {
			return cfg, nil, err
		}
		if logLevel != "" {
			cfg.LogLevel = logLevel
		}
		logger, err := newLogger(cfg.LogLevel, devLogs)
		if err != nil {
			return cfg, nil, err
		}
		return cfg, logger, nil
	}

	root.AddCommand(newServeCommand(setup), newLoadtestCommand(setup))
	return root
}

type setupFunc func() (demoConfig, *zap.Logger, error)

func newLogger(level string, dev bool) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	if dev {
		zcfg := zap.NewDevelopmentConfig()
		zcfg.Level = zap.NewAtomicLevelAt(lvl)
		zcfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zcfg.DisableStacktrace = true
		return zcfg.Build()
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return zcfg.Build(zap.AddStacktrace(zapcore.ErrorLevel))
}
