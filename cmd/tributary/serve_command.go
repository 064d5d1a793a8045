package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"tributary/internal/api"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := ctx.buildRuntime()
			if err != nil {
				return err
			}
			defer rt.close()

			signalCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			server := api.NewServer(rt.cfg, rt.store, rt.runner, rt.logger)
			if err := server.ListenAndServe(signalCtx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
}
