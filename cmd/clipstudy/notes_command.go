// cmd/clipstudy/notes_command.go
package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newNotesCommand(ctx *commandContext) *cobra.Command {
	notesCmd := &cobra.Command{
		Use:   "notes",
		Short: "每日 Markdown 笔记",
	}

	notesCmd.AddCommand(&cobra.Command{
		Use:   "rebuild",
		Short: "按当前数据重新生成所有日期的笔记",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := ctx.open()
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.Entries().RebuildNotes()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "已重新生成 %d 天的笔记\n", n)
			return nil
		},
	})
	return notesCmd
}
