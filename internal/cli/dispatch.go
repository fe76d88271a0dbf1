package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/tiger4589/cqrs-lib"
)

// newDispatchCommand sends any registered request by name. The request is
// decoded from JSON and dispatched by its runtime type.
func newDispatchCommand(opts Options) *cobra.Command {
	return &cobra.Command{
		Use:   "dispatch <name> [json]",
		Short: "Dispatch a registered request by name",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := "{}"
			if len(args) == 2 {
				body = args[1]
			}

			request, err := opts.Dispatcher.Registry().Decode(args[0], []byte(body))
			if err != nil {
				return err
			}

			var result any
			switch r := request.(type) {
			case cqrs.Command:
				result, err = opts.Dispatcher.Send(cmd.Context(), r)
			case cqrs.Query:
				result, err = opts.Dispatcher.Ask(cmd.Context(), r)
			default:
				return fmt.Errorf("%s is neither a command nor a query", args[0])
			}
			if err != nil {
				return err
			}
			if result == nil {
				return printJSON(cmd, map[string]bool{"ok": true})
			}
			return printJSON(cmd, result)
		},
	}
}

func newHandlersCommand(opts Options) *cobra.Command {
	return &cobra.Command{
		Use:   "handlers",
		Short: "List registered request names",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			for _, name := range opts.Dispatcher.Registry().Names() {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}
}
