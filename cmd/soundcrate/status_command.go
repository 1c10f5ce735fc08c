package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"soundcrate/internal/api"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon status",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}
			var status api.DaemonStatus
			if err := client.getJSON(cmd.Context(), "/api/status", &status); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			state := "stopped"
			if status.Running {
				state = "running"
			}
			fmt.Fprintf(out, "Daemon:   %s (pid %d)\n", state, status.PID)
			fmt.Fprintf(out, "Database: %s\n", status.DBPath)
			fmt.Fprintf(out, "Lock:     %s\n", status.LockFilePath)
			fmt.Fprintf(out, "Jobs:     queued=%d running=%d succeeded=%d dead=%d\n",
				status.Jobs["queued"], status.Jobs["running"], status.Jobs["succeeded"], status.Jobs["dead"])
			return nil
		},
	}
}

func newUsageCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "usage",
		Short: "Show account storage and bandwidth usage",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}
			var usage api.Usage
			if err := client.getJSON(cmd.Context(), "/api/usage", &usage); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Account:   %s\n", usage.AccountID)
			fmt.Fprintf(out, "Storage:   %s of %s\n",
				formatBytes(usage.StorageUsedBytes), formatBytes(usage.StorageLimitBytes))
			fmt.Fprintf(out, "Bandwidth: %s of %s (%s)\n",
				formatBytes(usage.BandwidthUsedBytes), formatBytes(usage.BandwidthLimitBytes), usage.Period)

			if len(usage.History) > 0 {
				rows := make([][]string, 0, len(usage.History))
				for _, slice := range usage.History {
					rows = append(rows, []string{slice.Period, slice.UsageType, formatBytes(slice.UsedBytes)})
				}
				fmt.Fprintln(out, renderTable(
					[]string{"Period", "Type", "Used"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignRight},
				))
			}
			return nil
		},
	}
}
