package main

import (
	"fmt"
	"os"
	"time"

	"github.com/easzlab/fbxrules/pkg/config"
	"github.com/easzlab/fbxrules/pkg/freebox"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newAuthorizeCommand() *cobra.Command {
	var (
		appName      string
		deviceName   string
		pollInterval time.Duration
	)

	cmd := &cobra.Command{
		Use:   "authorize",
		Short: "Request an application token from the Freebox",
		Long: "Registers fbxrules on the Freebox and waits until the request is confirmed on the device front panel.\n" +
			"The token is printed on stdout. Grant the application the settings permission in the Freebox OS\n" +
			"access management before creating rules.",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger(zap.NewAtomicLevel(), "stderr")
			defer logger.Sync()

			fb, err := config.LoadFreebox(configPath, cmd.Flags())
			if err != nil {
				return err
			}
			client, err := freebox.NewClient(fb.Options(), logger.Named("freebox"))
			if err != nil {
				return err
			}

			if deviceName == "" {
				deviceName, _ = os.Hostname()
			}

			ctx, cancel := signalContext(logger)
			defer cancel()

			logger.Info("requesting app token", zap.String("device", client.Address()))
			token, err := client.Authorize(ctx, freebox.AuthorizeRequest{
				AppID:      fb.AppID,
				AppName:    appName,
				AppVersion: version,
				DeviceName: deviceName,
			}, pollInterval)
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&appName, "app-name", "fbxrules", "application name shown on the device")
	flags.StringVar(&deviceName, "device-name", "", "name of this machine shown on the device (default hostname)")
	flags.DurationVar(&pollInterval, "poll-interval", 2*time.Second, "interval between authorization status checks")
	config.AddFreeboxFlags(flags)

	return cmd
}
