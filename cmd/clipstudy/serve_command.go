// cmd/clipstudy/serve_command.go
package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Corphon/ClipStudy/internal/app"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "启动 HTTP 服务",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.New(app.Options{DataDir: ctx.dataDir})
			if err != nil {
				return err
			}
			defer a.Close()

			runCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return a.Run(runCtx, nil)
		},
	}
}
