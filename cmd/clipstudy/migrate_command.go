// cmd/clipstudy/migrate_command.go
package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Corphon/ClipStudy/internal/services"
)

func newMigrateCommand(ctx *commandContext) *cobra.Command {
	var from string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "合并旧数据目录中的条目",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := ctx.open()
			if err != nil {
				return err
			}
			defer a.Close()

			var results []services.MigrationResult
			if from != "" {
				r, err := a.Migration().MigrateFrom(cmd.Context(), from)
				if err != nil {
					return err
				}
				results = append(results, *r)
			} else {
				results = a.MigrateLegacy(cmd.Context())
			}

			out := cmd.OutOrStdout()
			for _, r := range results {
				fmt.Fprintf(out, "%s\t迁移 %d\t跳过 %d\n", r.SourceDir, r.Migrated, r.Skipped)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&from, "from", "", "旧数据目录（包含 db.json），默认 MIGRATE_FROM_DIR 与 server/data")
	return cmd
}
