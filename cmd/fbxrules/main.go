package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/easzlab/fbxrules/pkg/apply"
	"github.com/easzlab/fbxrules/pkg/config"
	"github.com/easzlab/fbxrules/pkg/server"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	version      = "dev"
	configPath   string
	logLevel     string
	outputFormat string
)

func main() {
	rootCmd := newRootCommand()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "fbxrules",
		Short:        "fbxrules - declarative static leases and port forwards for Freebox routers",
		Long:         "Keeps static DHCP leases and NAT port forwarding rules present on a Freebox, creating only what is missing.",
		RunE:         runDaemon,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultPath, "path to config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error); defaults to global.log_level")

	rootCmd.AddCommand(newOnceCommand())
	rootCmd.AddCommand(newDHCPCommand())
	rootCmd.AddCommand(newNATCommand())
	rootCmd.AddCommand(newAuthorizeCommand())
	rootCmd.AddCommand(newVersionCommand())

	return rootCmd
}

func newOnceCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "once",
		Short:   "Reconcile every configured rule once and exit",
		PreRunE: checkOutputFormat,
		RunE:    runOnce,
	}
	addOutputFlag(cmd)
	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "fbxrules version %s\n", version)
		},
	}
}

func addOutputFlag(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&outputFormat, "output", "o", apply.FormatJSON, "result format (json, yaml)")
}

// checkOutputFormat runs before anything reaches the device.
func checkOutputFormat(cmd *cobra.Command, args []string) error {
	return apply.ValidateFormat(outputFormat)
}

// runDaemon starts the server in watch mode with signal handling.
func runDaemon(cmd *cobra.Command, args []string) error {
	level := zap.NewAtomicLevel()
	logger := newLogger(level, "stdout")
	defer logger.Sync()

	logger.Info("starting fbxrules",
		zap.String("version", version),
		zap.String("config", configPath),
	)

	srv, err := server.NewServer(configPath, logger)
	if err != nil {
		logger.Error("failed to create server", zap.Error(err))
		return err
	}
	if logLevel == "" {
		setLevel(level, srv.Config().Global.LogLevel, logger)
	}

	ctx, cancel := signalContext(logger)
	defer cancel()

	return srv.Run(ctx)
}

// runOnce performs a single reconcile pass and prints its summary.
func runOnce(cmd *cobra.Command, args []string) error {
	level := zap.NewAtomicLevel()
	logger := newLogger(level, "stderr")
	defer logger.Sync()

	logger.Info("running single reconcile",
		zap.String("version", version),
		zap.String("config", configPath),
	)

	srv, err := server.NewServer(configPath, logger)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	if logLevel == "" {
		setLevel(level, srv.Config().Global.LogLevel, logger)
	}

	ctx, cancel := signalContext(logger)
	defer cancel()

	summary, runErr := srv.RunOnce(ctx)
	if summary != nil {
		if err := apply.Render(cmd.OutOrStdout(), outputFormat, summary); err != nil {
			return err
		}
	}
	return runErr
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext(logger *zap.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-signalChan:
			logger.Info("received signal", zap.String("signal", sig.String()))
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(signalChan)
	}()

	return ctx, cancel
}

// newLogger creates a production zap logger with console encoding for readability.
// Commands whose stdout carries a result log to stderr.
func newLogger(level zap.AtomicLevel, output string) *zap.Logger {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "time"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder

	setLevel(level, logLevel, nil)

	loggerConfig := zap.Config{
		Level:            level,
		Encoding:         "console",
		EncoderConfig:    encoderConfig,
		OutputPaths:      []string{output},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := loggerConfig.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to create logger: %v", err))
	}
	return logger
}

// setLevel applies name to level; empty or unknown names leave info in place.
func setLevel(level zap.AtomicLevel, name string, logger *zap.Logger) {
	if name == "" {
		return
	}
	parsed, err := zapcore.ParseLevel(name)
	if err != nil {
		if logger != nil {
			logger.Warn("unknown log level, keeping current", zap.String("level", name))
		}
		return
	}
	level.SetLevel(parsed)
}
