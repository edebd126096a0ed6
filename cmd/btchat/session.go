package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/meikuraledutech/btchat"
)

func newResetCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Clear the session history and behavior tree",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *app) error {
				if err := a.engine.Reset(ctx, opts.sessionID); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "session %s cleared\n", btchat.SessionID(opts.sessionID))
				return nil
			})
		},
	}
}

func newHistoryCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "history",
		Short: "Print the session history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *app) error {
				msgs, err := a.engine.History(ctx, opts.sessionID)
				if err != nil {
					return err
				}
				newRenderer(cmd.OutOrStdout(), opts.raw).history(msgs)
				return nil
			})
		},
	}
}
