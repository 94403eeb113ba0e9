package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/spf13/cobra"
)

// NewWorkItemCommand constructs the `workitem` command group.
func NewWorkItemCommand(baseURL BaseURLFunc) *cobra.Command {
	wiCmd := &cobra.Command{
		Use:     "workitem",
		Aliases: []string{"wi"},
		Short:   "Work item operations",
	}
	wiCmd.AddCommand(
		newWorkItemEnqueueCommand(baseURL),
		newWorkItemTypesCommand(baseURL),
		newPullRequestsCommand(baseURL),
	)
	return wiCmd
}

// newWorkItemEnqueueCommand constructs the `workitem enqueue` subcommand.
func newWorkItemEnqueueCommand(baseURL BaseURLFunc) *cobra.Command {
	enqueueCmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Enqueue a work item",
		Example: `  pcs workitem enqueue --type SubscriptionTrigger \
    --data '{"subscriptionId":"a1","buildId":7,"targetRepository":"dotnet/runtime","targetBranch":"main"}'`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			typ, _ := cmd.Flags().GetString("type")
			data, _ := cmd.Flags().GetString("data")
			file, _ := cmd.Flags().GetString("file")
			delay, _ := cmd.Flags().GetDuration("delay")
			if typ == "" {
				return fmt.Errorf("--type is required")
			}
			payload := []byte(data)
			if file != "" {
				b, err := os.ReadFile(file)
				if err != nil {
					return err
				}
				payload = b
			}
			if len(payload) == 0 {
				payload = []byte("{}")
			}
			if !json.Valid(payload) {
				return fmt.Errorf("payload is not valid JSON")
			}
			body, _ := json.Marshal(map[string]any{
				"type":    typ,
				"payload": json.RawMessage(payload),
				"delay":   delay.String(),
			})
			return postJSON(cmd, baseURL()+"/v1/workitems", body)
		},
	}
	enqueueCmd.Flags().String("type", "", "Work item type")
	enqueueCmd.Flags().String("data", "", "JSON payload")
	enqueueCmd.Flags().String("file", "", "Read the JSON payload from a file")
	enqueueCmd.Flags().Duration("delay", 0, "Keep the item invisible for this long")
	return enqueueCmd
}

// newWorkItemTypesCommand constructs the `workitem types` subcommand.
func newWorkItemTypesCommand(baseURL BaseURLFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "types",
		Short: "List registered work item types",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return getJSON(cmd, baseURL()+"/v1/workitems/types")
		},
	}
}

// newPullRequestsCommand constructs the `workitem prs` subcommand.
func newPullRequestsCommand(baseURL BaseURLFunc) *cobra.Command {
	return &cobra.Command{
		Use:     "prs",
		Aliases: []string{"pullrequests"},
		Short:   "List open dependency update pull requests",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return getJSON(cmd, baseURL()+"/v1/pullrequests")
		},
	}
}

func getJSON(cmd *cobra.Command, url string) error {
	req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	return doPrint(cmd, req)
}

func postJSON(cmd *cobra.Command, url string, body []byte) error {
	req, err := http.NewRequestWithContext(cmd.Context(), http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return doPrint(cmd, req)
}

// doPrint sends req and pretty-prints the JSON response body. Non-2xx
// responses are errors.
func doPrint(cmd *cobra.Command, req *http.Request) error {
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s: %s", resp.Status, bytes.TrimSpace(b))
	}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		_, _ = cmd.OutOrStdout().Write(b)
		return nil
	}
	return printJSON(cmd.OutOrStdout(), v)
}
