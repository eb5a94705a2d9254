package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon and pipeline status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *apiClient) error {
				status, err := client.Status()
				if err != nil {
					return err
				}

				rows := [][]string{
					{"Running", strconv.FormatBool(status.Running)},
					{"PID", strconv.Itoa(status.PID)},
					{"Pipeline DB", status.PipelineDB},
					{"Lock file", status.LockFilePath},
					{"Jobs total", strconv.Itoa(status.JobsTotal)},
					{"Jobs in flight", strconv.Itoa(status.JobsInFlight)},
					{"Jobs published", strconv.Itoa(status.JobsDone)},
					{"Jobs failed", strconv.Itoa(status.JobsFailed)},
				}
				table := renderTable([]string{"Field", "Value"}, rows, []columnAlignment{alignLeft, alignLeft})
				fmt.Fprintln(cmd.OutOrStdout(), table)
				return nil
			})
		},
	}
}
