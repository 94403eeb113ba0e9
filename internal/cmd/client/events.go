package client

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/rzbill/pcs/internal/workitem"
)

// NewEventsCommand constructs the `events` command group.
func NewEventsCommand(baseURL BaseURLFunc) *cobra.Command {
	eventsCmd := &cobra.Command{Use: "events", Short: "Processing telemetry"}
	eventsCmd.AddCommand(newEventsTailCommand(baseURL), newEventsListCommand(baseURL), newEventsStatsCommand(baseURL))
	return eventsCmd
}

// newEventsTailCommand constructs the `events tail` subcommand.
func newEventsTailCommand(baseURL BaseURLFunc) *cobra.Command {
	tailCmd := &cobra.Command{
		Use:   "tail",
		Short: "Stream live processing events (websocket)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			kind, _ := cmd.Flags().GetString("kind")
			u := "ws" + strings.TrimPrefix(baseURL(), "http") + "/v1/events"
			conn, _, err := websocket.DefaultDialer.DialContext(cmd.Context(), u, nil)
			if err != nil {
				return fmt.Errorf("dial %s: %w", u, err)
			}
			defer conn.Close()
			go func() {
				<-cmd.Context().Done()
				_ = conn.Close()
			}()
			enc := json.NewEncoder(cmd.OutOrStdout())
			for n := 0; limit <= 0 || n < limit; {
				var ev workitem.Event
				if err := conn.ReadJSON(&ev); err != nil {
					if cmd.Context().Err() != nil {
						return nil
					}
					return err
				}
				if kind != "" && string(ev.Kind) != kind {
					continue
				}
				_ = enc.Encode(ev)
				n++
			}
			return nil
		},
	}
	tailCmd.Flags().Int("limit", 0, "Stop after N events (0 = infinite)")
	tailCmd.Flags().String("kind", "", "Only print events of this kind")
	return tailCmd
}

// newEventsListCommand constructs the `events list` subcommand.
func newEventsListCommand(baseURL BaseURLFunc) *cobra.Command {
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "Query the telemetry ledger",
		RunE: func(cmd *cobra.Command, _ []string) error {
			typ, _ := cmd.Flags().GetString("type")
			kind, _ := cmd.Flags().GetString("kind")
			limit, _ := cmd.Flags().GetInt("limit")
			u := fmt.Sprintf("%s/v1/telemetry/events?limit=%d", baseURL(), limit)
			if typ != "" {
				u += "&type=" + typ
			}
			if kind != "" {
				u += "&kind=" + kind
			}
			return getJSON(cmd, u)
		},
	}
	listCmd.Flags().String("type", "", "Work item type")
	listCmd.Flags().String("kind", "", "Event kind (started|completed|transient_failure|poison|synchronized|skipped)")
	listCmd.Flags().Int("limit", 100, "Maximum events")
	return listCmd
}

// newEventsStatsCommand constructs the `events stats` subcommand.
func newEventsStatsCommand(baseURL BaseURLFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Per-type processing counters",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return getJSON(cmd, baseURL()+"/v1/telemetry/stats")
		},
	}
}
