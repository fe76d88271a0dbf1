package cli

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"github.com/tiger4589/cqrs-lib/internal/api"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand(opts Options) *cobra.Command {
	addr := opts.HTTPAddr

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the user API over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := api.DefaultServerConfig()
			if addr != "" {
				cfg.Addr = addr
			}
			srv := api.NewServer(cfg, opts.Dispatcher, opts.Log)

			errc := make(chan error, 1)
			go func() { errc <- srv.Start() }()

			select {
			case err := <-errc:
				return err
			case <-cmd.Context().Done():
			}

			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(ctx); err != nil {
				return err
			}
			return <-errc
		},
	}
	cmd.Flags().StringVar(&addr, "addr", addr, "listen address")
	return cmd
}
