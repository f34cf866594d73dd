// File: cmd/serve.go
package cmd

import (
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/cicerone-dev/cicerone/internal/api"
	"github.com/cicerone-dev/cicerone/internal/observability"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the guidance service with its HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			a, err := buildApp(ctx, appConfig, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			server, err := api.NewServer(appConfig.API, a.orch, a.sessions, a.health, a.toggles, logger)
			if err != nil {
				return err
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				a.health.Run(gctx)
				return nil
			})
			g.Go(func() error {
				return server.Run(gctx)
			})
			return g.Wait()
		},
	}
}

func init() {
	rootCmd.AddCommand(newServeCmd())
}
