package client

import (
	"github.com/spf13/cobra"
)

// NewRoot constructs a root Cobra command holding every client command
// group. The worker command is added by main.
func NewRoot(baseURL BaseURLFunc) *cobra.Command {
	root := &cobra.Command{
		Use:           "pcs",
		Short:         "Work item processor",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	AddCommands(root, baseURL)
	return root
}

// AddCommands registers the client command groups on root.
func AddCommands(root *cobra.Command, baseURL BaseURLFunc) {
	root.AddCommand(
		NewStatusCommand(baseURL),
		NewWorkItemCommand(baseURL),
		NewEventsCommand(baseURL),
		NewDeadLetterCommand(baseURL),
		NewHealthCommand(),
	)
}
