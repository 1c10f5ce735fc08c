package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"soundcrate/internal/api"
)

func newJobsCommand(ctx *commandContext) *cobra.Command {
	jobsCmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect the transcode queue",
	}

	jobsCmd.AddCommand(newJobsListCommand(ctx))
	jobsCmd.AddCommand(newJobsShowCommand(ctx))
	jobsCmd.AddCommand(newJobsRetryCommand(ctx))

	return jobsCmd
}

func newJobsListCommand(ctx *commandContext) *cobra.Command {
	var statuses []string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List transcode jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}
			path := "/api/jobs"
			if len(statuses) > 0 {
				params := make([]string, 0, len(statuses))
				for _, status := range statuses {
					params = append(params, "status="+strings.TrimSpace(status))
				}
				path += "?" + strings.Join(params, "&")
			}
			var resp api.JobListResponse
			if err := client.getJSON(cmd.Context(), path, &resp); err != nil {
				return err
			}

			if len(resp.Jobs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No jobs.")
				return nil
			}
			rows := make([][]string, 0, len(resp.Jobs))
			for _, job := range resp.Jobs {
				rows = append(rows, []string{
					fmt.Sprintf("%d", job.ID),
					job.AssetID,
					job.TargetFormat,
					job.Status,
					fmt.Sprintf("%d/%d", job.Attempts, job.MaxAttempts),
					truncate(job.ErrorMessage, 48),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"ID", "Asset", "Format", "Status", "Attempts", "Error"},
				rows,
				[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
			))
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&statuses, "status", nil, "Filter by job status (repeatable)")
	return cmd
}

func newJobsShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <job-id>",
		Short: "Show one transcode job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}
			var resp api.JobResponse
			if err := client.getJSON(cmd.Context(), "/api/jobs/"+args[0], &resp); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			job := resp.Job
			fmt.Fprintf(out, "Job:      %d\n", job.ID)
			fmt.Fprintf(out, "Asset:    %s\n", job.AssetID)
			fmt.Fprintf(out, "Target:   %s", job.TargetFormat)
			if job.TargetBitrate != "" && job.TargetBitrate != "0" {
				fmt.Fprintf(out, " @ %sk", job.TargetBitrate)
			}
			fmt.Fprintln(out)
			fmt.Fprintf(out, "Status:   %s\n", job.Status)
			fmt.Fprintf(out, "Attempts: %d of %d\n", job.Attempts, job.MaxAttempts)
			if job.ResultAssetID != "" {
				fmt.Fprintf(out, "Result:   %s\n", job.ResultAssetID)
			}
			if job.ErrorMessage != "" {
				fmt.Fprintf(out, "Error:    %s\n", job.ErrorMessage)
			}
			return nil
		},
	}
}

func newJobsRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <job-id>",
		Short: "Requeue a dead transcode job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}
			var resp api.JobResponse
			if err := client.postJSON(cmd.Context(), "/api/jobs/"+args[0]+"/retry", nil, &resp); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Requeued job %d\n", resp.Job.ID)
			return nil
		},
	}
}
