package main

import (
	"github.com/spf13/cobra"

	"github.com/trailpost/billing/pkg/config"
)

func newRootCmd() *cobra.Command {
	var envFiles []string

	root := &cobra.Command{
		Use:   "billingctl",
		Short: "Subscription and entitlement engine for Trailpost",
		Long: `billingctl runs the Trailpost subscription engine: the payment webhook
server, the renewal and expiry sweeps, usage resets and revenue reports.

Backends are selected with BILLING_STORE, BILLING_LOCKER and BILLING_GATEWAY.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if len(envFiles) == 0 {
				return nil
			}
			return config.LoadEnv(envFiles...)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringSliceVar(&envFiles, "env-file", nil, "load variables from these .env files")
	root.PersistentFlags().StringP("output", "o", formatJSON, "output format: json, yaml")

	root.AddCommand(newServeCmd())
	root.AddCommand(newSweepCmd())
	root.AddCommand(newResetUsageCmd())
	root.AddCommand(newReportCmd())
	root.AddCommand(newStatusCmd())
	return root
}
