package main

import (
	"github.com/easzlab/fbxrules/pkg/apply"
	"github.com/easzlab/fbxrules/pkg/config"
	"github.com/easzlab/fbxrules/pkg/freebox"
	"github.com/easzlab/fbxrules/pkg/reconcile"
	"github.com/easzlab/fbxrules/pkg/rules"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newDHCPCommand() *cobra.Command {
	var rule rules.DhcpLeaseRule

	cmd := &cobra.Command{
		Use:     "dhcp",
		Short:   "Ensure a static DHCP lease exists for a MAC address",
		PreRunE: checkOutputFormat,
		Example: "  fbxrules dhcp --mac 00:11:22:33:44:55 --ip 192.168.1.100\n" +
			"  FBXRULES_FREEBOX_APP_TOKEN=... fbxrules dhcp --mac 00:11:22:33:44:55 --ip 192.168.1.100 -o yaml",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger(zap.NewAtomicLevel(), "stderr")
			defer logger.Sync()

			ctx, cancel := signalContext(logger)
			defer cancel()

			var (
				result   *apply.LeaseResult
				applyErr error
			)
			if applier, err := newApplier(cmd, logger); err != nil {
				result, applyErr = apply.LeaseFailure(rule, err)
			} else {
				result, applyErr = applier.Lease(ctx, rule)
			}
			if err := apply.Render(cmd.OutOrStdout(), outputFormat, result); err != nil {
				return err
			}
			return applyErr
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&rule.MAC, "mac", "", "MAC address of the device (required)")
	flags.StringVar(&rule.IP, "ip", "", "IPv4 or IPv6 address to reserve (required)")
	flags.StringVar(&rule.Comment, "comment", "", "comment stored with the lease")
	config.AddFreeboxFlags(flags)
	addOutputFlag(cmd)

	return cmd
}

func newNATCommand() *cobra.Command {
	var (
		rule    rules.NatRule
		enabled bool
	)

	cmd := &cobra.Command{
		Use:     "nat",
		Short:   "Ensure a port forwarding rule exists",
		PreRunE: checkOutputFormat,
		Example: "  fbxrules nat --lan-ip 192.168.1.42 --lan-port 4242 --wan-port-start 4242 \\\n" +
			"      --wan-port-end 4242 --ip-proto tcp --enabled --comment \"Test NAT rule\"",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger(zap.NewAtomicLevel(), "stderr")
			defer logger.Sync()

			// enabled is required: an absent flag is left nil and rejected by validation.
			if cmd.Flags().Changed("enabled") {
				rule.Enabled = &enabled
			}

			ctx, cancel := signalContext(logger)
			defer cancel()

			var (
				result   *apply.NatResult
				applyErr error
			)
			if applier, err := newApplier(cmd, logger); err != nil {
				result, applyErr = apply.PortForwardFailure(rule, err)
			} else {
				result, applyErr = applier.PortForward(ctx, rule)
			}
			if err := apply.Render(cmd.OutOrStdout(), outputFormat, result); err != nil {
				return err
			}
			return applyErr
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&rule.LanIP, "lan-ip", "", "LAN address traffic is forwarded to (required)")
	flags.IntVar(&rule.LanPort, "lan-port", 0, "LAN port traffic is forwarded to (required)")
	flags.IntVar(&rule.WanPortStart, "wan-port-start", 0, "first WAN port of the range (required)")
	flags.IntVar(&rule.WanPortEnd, "wan-port-end", 0, "last WAN port of the range (required)")
	flags.StringVar(&rule.IPProto, "ip-proto", "", "protocol, tcp or udp (required)")
	flags.StringVar(&rule.SrcIP, "src-ip", rules.DefaultSrcIP, "allowed source address, 0.0.0.0 for any")
	flags.BoolVar(&enabled, "enabled", false, "whether the rule is active (required, use --enabled=false to disable)")
	flags.StringVar(&rule.Comment, "comment", "", "comment stored with the rule")
	config.AddFreeboxFlags(flags)
	addOutputFlag(cmd)

	return cmd
}

// newApplier builds an Applier for the device described by flags, environment and config file.
func newApplier(cmd *cobra.Command, logger *zap.Logger) (*apply.Applier, error) {
	fb, err := config.LoadFreebox(configPath, cmd.Flags())
	if err != nil {
		return nil, err
	}
	client, err := freebox.NewClient(fb.Options(), logger.Named("freebox"))
	if err != nil {
		return nil, err
	}
	reconciler := reconcile.NewReconciler(logger.Named("reconcile"), nil)
	return apply.New(apply.ClientOpener(client), reconciler, logger.Named("apply")), nil
}
