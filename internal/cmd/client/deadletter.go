package client

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
)

// NewDeadLetterCommand constructs the `deadletter` command group.
func NewDeadLetterCommand(baseURL BaseURLFunc) *cobra.Command {
	dlCmd := &cobra.Command{
		Use:     "deadletter",
		Aliases: []string{"dlq"},
		Short:   "Inspect, requeue or discard poison messages",
	}
	dlCmd.AddCommand(
		newDeadLetterListCommand(baseURL),
		newDeadLetterRequeueCommand(baseURL),
		newDeadLetterDeleteCommand(baseURL),
	)
	return dlCmd
}

// newDeadLetterListCommand constructs the `deadletter list` subcommand.
func newDeadLetterListCommand(baseURL BaseURLFunc) *cobra.Command {
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List archived poison messages",
		RunE: func(cmd *cobra.Command, _ []string) error {
			after, _ := cmd.Flags().GetUint64("after")
			limit, _ := cmd.Flags().GetInt("limit")
			newest, _ := cmd.Flags().GetBool("newest")
			u := fmt.Sprintf("%s/v1/deadletters?after=%d&limit=%d&reverse=%t", baseURL(), after, limit, newest)
			return getJSON(cmd, u)
		},
	}
	listCmd.Flags().Uint64("after", 0, "Resume after this seq")
	listCmd.Flags().Int("limit", 50, "Maximum entries")
	listCmd.Flags().Bool("newest", false, "Newest first")
	return listCmd
}

// newDeadLetterRequeueCommand constructs the `deadletter requeue` subcommand.
func newDeadLetterRequeueCommand(baseURL BaseURLFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "requeue SEQ",
		Short: "Send an archived message back to the queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return postJSON(cmd, baseURL()+"/v1/deadletters/"+args[0]+"/requeue", nil)
		},
	}
}

// newDeadLetterDeleteCommand constructs the `deadletter delete` subcommand.
func newDeadLetterDeleteCommand(baseURL BaseURLFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "delete SEQ",
		Short: "Discard an archived message",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := http.NewRequestWithContext(cmd.Context(), http.MethodDelete, baseURL()+"/v1/deadletters/"+args[0], nil)
			if err != nil {
				return err
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusNoContent {
				return fmt.Errorf("delete failed: %s", resp.Status)
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "status:", "OK")
			return nil
		},
	}
}
