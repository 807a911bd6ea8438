// cmd/clipstudy/table.go
package main

import (
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"

	"github.com/Corphon/ClipStudy/internal/models"
)

// entryColumn list 输出的一列；wrap 为 true 的列在终端中按显示宽度截断
type entryColumn struct {
	header string
	align  text.Align
	wrap   bool
	value  func(e models.Entry) string
}

var entryColumns = []entryColumn{
	{header: "ID", align: text.AlignRight, value: func(e models.Entry) string { return strconv.Itoa(e.ID) }},
	{header: "日期", value: func(e models.Entry) string { return e.Date }},
	{header: "时间", value: func(e models.Entry) string { return e.CreatedAt }},
	{header: "原文", wrap: true, value: func(e models.Entry) string { return flatten(e.OriginalText) }},
	{header: "译文", wrap: true, value: func(e models.Entry) string { return flatten(e.TranslatedText) }},
	{header: "标签", value: func(e models.Entry) string { return strings.Join(e.Tags, ";") }},
}

// renderEntryTable 终端表格；原文与译文列最多 textWidth 个显示宽度（中文按 2 计）
func renderEntryTable(entries []models.Entry, textWidth int) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, len(entryColumns))
	configs := make([]table.ColumnConfig, len(entryColumns))
	for i, col := range entryColumns {
		header[i] = col.header
		configs[i] = table.ColumnConfig{
			Number:      i + 1,
			Align:       col.align,
			AlignHeader: text.AlignLeft,
		}
		if col.wrap && textWidth > 0 {
			configs[i].WidthMax = textWidth
			configs[i].WidthMaxEnforcer = truncate
		}
	}
	tw.AppendHeader(header)
	tw.SetColumnConfigs(configs)

	for _, e := range entries {
		row := make(table.Row, len(entryColumns))
		for i, col := range entryColumns {
			row[i] = col.value(e)
		}
		tw.AppendRow(row)
	}
	if len(entries) > 0 {
		tw.AppendFooter(table.Row{"", "", "", "共 " + strconv.Itoa(len(entries)) + " 条"})
	}
	return tw.Render()
}

// renderEntryTSV 管道输出，每行一条记录，不截断
func renderEntryTSV(entries []models.Entry) string {
	clean := strings.NewReplacer("\t", " ", "\r\n", " ", "\n", " ")
	var b strings.Builder
	write := func(fields []string) {
		for i, f := range fields {
			if i > 0 {
				b.WriteByte('\t')
			}
			b.WriteString(clean.Replace(f))
		}
		b.WriteByte('\n')
	}

	fields := make([]string, len(entryColumns))
	for i, col := range entryColumns {
		fields[i] = col.header
	}
	write(fields)
	for _, e := range entries {
		for i, col := range entryColumns {
			fields[i] = col.value(e)
		}
		write(fields)
	}
	return b.String()
}

func isTerminal(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// flatten 把多行文本压成一行
func flatten(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// truncate 按显示宽度截断，超出时以 … 结尾；max <= 0 时不截断
func truncate(s string, max int) string {
	if max <= 0 {
		return s
	}
	width := 0
	for _, r := range s {
		width += text.RuneWidth(r)
	}
	if width <= max {
		return s
	}

	var b strings.Builder
	width = 0
	for _, r := range s {
		w := text.RuneWidth(r)
		if width+w > max-1 {
			break
		}
		b.WriteRune(r)
		width += w
	}
	return b.String() + "…"
}
