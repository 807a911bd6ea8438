// cmd/clipstudy/list_command.go
package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Corphon/ClipStudy/internal/services"
)

const listTextWidth = 40

func newListCommand(ctx *commandContext) *cobra.Command {
	var date, keyword, tag string
	var textWidth int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "列出条目",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := ctx.open()
			if err != nil {
				return err
			}
			defer a.Close()

			entries := a.Entries().Query(services.EntryQuery{
				Date:    date,
				Keyword: keyword,
				Tag:     tag,
			})

			out := cmd.OutOrStdout()
			if isTerminal(out) {
				fmt.Fprintln(out, renderEntryTable(entries, textWidth))
				return nil
			}
			fmt.Fprint(out, renderEntryTSV(entries))
			return nil
		},
	}

	cmd.Flags().StringVar(&date, "date", "", "只列出某天 (YYYY-MM-DD)")
	cmd.Flags().StringVar(&keyword, "keyword", "", "原文/译文/备注关键词")
	cmd.Flags().StringVar(&tag, "tag", "", "标签（子串匹配）")
	cmd.Flags().IntVar(&textWidth, "width", listTextWidth, "终端表格中原文/译文列的最大显示宽度，0 表示不截断")
	return cmd
}
