package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"git.mci.dev/mse/sre/phoenix/golang/dialer/internal/call"
	"git.mci.dev/mse/sre/phoenix/golang/dialer/internal/httpapi"
	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
)

const defaultAPIURL = "http://localhost:8080"

type rootOptions struct {
	apiURL  string
	timeout time.Duration
}

func (opts *rootOptions) client() *apiClient {
	return newAPIClient(opts.apiURL, opts.timeout)
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	apiURL := os.Getenv("DIALER_API_URL")
	if apiURL == "" {
		apiURL = defaultAPIURL
	}

	root := &cobra.Command{
		Use:          "callctl",
		Short:        "Manage outbound calls through the dialer API",
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&opts.apiURL, "api", apiURL, "dialer API base URL (env DIALER_API_URL)")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 10*time.Second, "request timeout")

	root.AddCommand(
		newListCmd(opts),
		newGetCmd(opts),
		newTerminateCmd(opts),
		newCleanupCmd(opts),
		newSubmitCmd(opts),
	)

	return root
}

func newListCmd(opts *rootOptions) *cobra.Command {
	var (
		statuses []string
		active   bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List calls, optionally filtered by status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if active {
				statuses = append(statuses, string(call.StatusDialing), string(call.StatusInProgress))
			}

			records, err := opts.client().listCalls(cmd.Context(), statuses)
			if err != nil {
				return err
			}

			printRecords(cmd.OutOrStdout(), records)

			return nil
		},
	}

	cmd.Flags().StringSliceVar(&statuses, "status", nil, "statuses to include (comma separated)")
	cmd.Flags().BoolVar(&active, "active", false, "only calls that are dialing or in progress")

	return cmd
}

func newGetCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show one call as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			record, err := opts.client().getCall(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			return printJSON(cmd.OutOrStdout(), record)
		},
	}
}

func newTerminateCmd(opts *rootOptions) *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "terminate <id>",
		Short: "Force a call to failed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			record, err := opts.client().terminateCall(cmd.Context(), args[0], reason)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "call %s is %s: %s\n", record.ID, record.Status, record.ErrorMessage)

			return nil
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "", "reason stored on the call")

	return cmd
}

func newCleanupCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Fail calls stuck past their timeouts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			terminated, err := opts.client().cleanup(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "terminated %d stuck calls\n", terminated)

			return nil
		},
	}
}

func newSubmitCmd(opts *rootOptions) *cobra.Command {
	var (
		request httpapi.SubmitRequest
		at      string
	)

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Request a new call",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if at != "" {
				scheduledAt, err := time.Parse(time.RFC3339, at)
				if err != nil {
					return fmt.Errorf("--at must be RFC3339: %w", err)
				}

				request.ScheduledAt = &scheduledAt
			}

			id, err := opts.client().submitCall(cmd.Context(), request)
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), id)

			return nil
		},
	}

	cmd.Flags().StringVar(&request.CallerName, "caller-name", "", "name the agent introduces itself with")
	cmd.Flags().StringVar(&request.CallerPhone, "caller-phone", "", "callback number of the caller")
	cmd.Flags().StringVar(&request.Destination, "phone", "", "number to call")
	cmd.Flags().StringVar(&request.Action, "action", "", "what the agent should get done")
	cmd.Flags().StringVar(&request.AdditionalInfo, "info", "", "extra context for the agent")
	cmd.Flags().StringVar(&at, "at", "", "RFC3339 time to place the call")

	for _, name := range []string{"caller-name", "caller-phone", "phone", "action"} {
		_ = cmd.MarkFlagRequired(name)
	}

	return cmd
}

func printRecords(out io.Writer, records []call.Record) {
	if len(records) == 0 {
		fmt.Fprintln(out, "no calls")

		return
	}

	writer := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(writer, "ID\tSTATUS\tCALLER\tTO\tSCHEDULED\tRETRIES")

	for _, record := range records {
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\t%d/%d\n",
			record.ID,
			record.Status,
			record.Request.CallerName,
			record.Request.Destination,
			record.ScheduledAt.Format(time.RFC3339),
			record.RetryCount,
			record.MaxRetries,
		)
	}

	_ = writer.Flush()
}

func printJSON(out io.Writer, value any) error {
	payload, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}

	_, err = fmt.Fprintln(out, strings.TrimSpace(string(payload)))

	return err
}
