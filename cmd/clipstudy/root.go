// cmd/clipstudy/root.go
package main

import (
	"github.com/spf13/cobra"

	"github.com/Corphon/ClipStudy/internal/app"
)

// commandContext 子命令共享的全局参数
type commandContext struct {
	dataDir string
}

// open 以命令行模式打开数据目录
func (c *commandContext) open() (*app.App, error) {
	return app.New(app.Options{DataDir: c.dataDir, Quiet: true})
}

func newRootCommand() *cobra.Command {
	ctx := &commandContext{}

	rootCmd := &cobra.Command{
		Use:           "clipstudy",
		Short:         "ClipStudy 截图学英语",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&ctx.dataDir, "data-dir", "d", "", "数据目录（默认读取 CLIPSTUDY_DATA_DIR）")

	rootCmd.AddCommand(newServeCommand(ctx))
	rootCmd.AddCommand(newListCommand(ctx))
	rootCmd.AddCommand(newExportCommand(ctx))
	rootCmd.AddCommand(newNotesCommand(ctx))
	rootCmd.AddCommand(newMigrateCommand(ctx))

	return rootCmd
}
