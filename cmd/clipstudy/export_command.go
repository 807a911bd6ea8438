// cmd/clipstudy/export_command.go
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Corphon/ClipStudy/internal/models"
	"github.com/Corphon/ClipStudy/internal/services"
	"github.com/Corphon/ClipStudy/internal/text"
)

func newExportCommand(ctx *commandContext) *cobra.Command {
	var (
		format, output        string
		save                  bool
		keyword, tag          string
		date, start, end      string
		tags, tagsMode        string
		keywords, keywordMode string
		hasRemarks, hasImage  bool
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "导出条目为 Markdown 或 CSV",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := ctx.open()
			if err != nil {
				return err
			}
			defer a.Close()

			exporter := a.Export()
			result, err := exporter.Export(services.ExportRequest{
				Format:  format,
				Keyword: keyword,
				Tag:     tag,
				Filter: text.EntryFilter{
					Date:        date,
					Start:       start,
					End:         end,
					Tags:        text.SplitTagList(tags),
					TagsMode:    text.ParseMatchMode(tagsMode, text.MatchAny),
					Keywords:    keywords,
					KeywordMode: text.ParseMatchMode(keywordMode, text.MatchAny),
					HasRemarks:  hasRemarks,
					HasImage:    hasImage,
				},
			})
			if err != nil {
				return err
			}

			switch {
			case save:
				path, err := exporter.SaveToDataDir(result)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "已导出 %d 条到 %s\n", result.EntryCount, path)
			case output != "" && output != "-":
				if err := os.WriteFile(output, []byte(result.Content), 0644); err != nil {
					return fmt.Errorf("写入导出文件失败: %w", err)
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "已导出 %d 条到 %s\n", result.EntryCount, output)
			default:
				fmt.Fprint(cmd.OutOrStdout(), result.Content)
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&format, "type", models.ExportFormatMarkdown, "导出格式 md|csv")
	flags.StringVarP(&output, "output", "o", "", "输出文件，默认写到标准输出")
	flags.BoolVar(&save, "save", false, "保存到数据目录的 exports/")
	flags.StringVar(&keyword, "keyword", "", "关键词")
	flags.StringVar(&tag, "tag", "", "标签（子串匹配）")
	flags.StringVar(&date, "date", "", "某天 (YYYY-MM-DD)")
	flags.StringVar(&start, "start", "", "起始日期，需与 --end 同时给出")
	flags.StringVar(&end, "end", "", "结束日期")
	flags.StringVar(&tags, "tags", "", "标签列表，逗号或分号分隔")
	flags.StringVar(&tagsMode, "tags-mode", "any", "标签匹配 any|all")
	flags.StringVar(&keywords, "keywords", "", "多个关键词，空格分隔")
	flags.StringVar(&keywordMode, "keyword-mode", "any", "关键词匹配 any|all")
	flags.BoolVar(&hasRemarks, "has-remarks", false, "只导出有备注的条目")
	flags.BoolVar(&hasImage, "has-image", false, "只导出有截图的条目")
	return cmd
}
