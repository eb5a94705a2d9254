package main

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/spf13/cobra"

	"clipforge/internal/events"
)

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	var attrs []string

	cmd := &cobra.Command{
		Use:   "submit <kind> <subject-id> <minute>",
		Short: "Submit a scoring event to the pipeline",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			minute := 0
			if _, err := fmt.Sscanf(args[2], "%d", &minute); err != nil {
				return fmt.Errorf("minute must be an integer, got %q", args[2])
			}

			event := events.Event{
				Kind:             args[0],
				SubjectID:        args[1],
				OccurredAtMinute: minute,
			}
			if len(attrs) > 0 {
				event.Attributes = make(map[string]string, len(attrs))
				for _, attr := range attrs {
					key, value, ok := strings.Cut(attr, "=")
					if !ok {
						return fmt.Errorf("attribute %q must be key=value", attr)
					}
					event.Attributes[key] = value
				}
			}

			return ctx.withClient(func(client *apiClient) error {
				receipt, code, err := client.Submit(event)
				if err != nil {
					return err
				}
				switch {
				case receipt.Accepted:
					fmt.Fprintf(cmd.OutOrStdout(), "Accepted: job %s\n", receipt.JobID)
				case receipt.Result != nil:
					fmt.Fprintf(cmd.OutOrStdout(), "Duplicate of job %s (%s)\n", receipt.JobID, receipt.Result.Status)
					if receipt.Result.PublishRef != "" {
						fmt.Fprintf(cmd.OutOrStdout(), "Published at %s\n", receipt.Result.PublishRef)
					}
				case code == http.StatusAccepted:
					fmt.Fprintf(cmd.OutOrStdout(), "Duplicate of job %s (still in flight)\n", receipt.JobID)
				default:
					fmt.Fprintf(cmd.OutOrStdout(), "Duplicate of job %s\n", receipt.JobID)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVar(&attrs, "attr", nil, "Event attribute as key=value (repeatable)")
	return cmd
}
