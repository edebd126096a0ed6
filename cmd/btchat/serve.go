package main

import (
	"context"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/meikuraledutech/btchat/server"
)

func newServeCommand(opts *rootOptions) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *app) error {
				cfg := a.cfg.Server
				if addr != "" {
					cfg.Addr = addr
				}

				srv := server.New(cfg, a.engine,
					server.WithLogger(a.logger),
					server.WithMetrics(a.metrics),
					server.WithTracer(a.tracer),
				)

				g, gctx := errgroup.WithContext(ctx)
				g.Go(func() error {
					return srv.Run(gctx)
				})
				g.Go(func() error {
					<-gctx.Done()
					a.logger.Info("stopping", "reason", context.Cause(gctx))
					return nil
				})
				return g.Wait()
			})
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}
