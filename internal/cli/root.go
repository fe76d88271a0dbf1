// Package cli is the command line front end of the demo application.
package cli

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/tiger4589/cqrs-lib"
	"go.uber.org/zap"
)

// Options carries what the commands need from the wired application.
type Options struct {
	Dispatcher *cqrs.Dispatcher
	Log        *zap.Logger
	HTTPAddr   string
}

type commandContext struct {
	correlationID uuid.UUID
	startedAt     time.Time
}

type commandContextKey struct{}

// NewRootCommand builds the command tree.
func NewRootCommand(opts Options) *cobra.Command {
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	log := opts.Log

	root := &cobra.Command{
		Use:           "cqrs-demo",
		Short:         "Demo user service built on the cqrs dispatcher",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			info := commandContext{correlationID: uuid.New(), startedAt: time.Now()}
			cmd.SetContext(context.WithValue(cmd.Context(), commandContextKey{}, info))
			log.Debug("command start",
				zap.String("command", cmd.CommandPath()),
				zap.Stringer("correlation_id", info.correlationID),
			)
		},
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			info, ok := cmd.Context().Value(commandContextKey{}).(commandContext)
			if !ok {
				return
			}
			log.Debug("command end",
				zap.String("command", cmd.CommandPath()),
				zap.Stringer("correlation_id", info.correlationID),
				zap.Duration("duration", time.Since(info.startedAt)),
			)
		},
	}

	root.AddCommand(
		newServeCommand(opts),
		newUserCommand(opts),
		newDispatchCommand(opts),
		newHandlersCommand(opts),
	)
	return root
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
