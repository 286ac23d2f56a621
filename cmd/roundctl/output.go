package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"

	"github.com/ZanzyTHEbar/contrib-rounds/internal/types"
)

var (
	successPrefix = color.New(color.FgHiGreen).Sprint("✓")
	warningPrefix = color.New(color.FgHiYellow).Sprint("⚠")
	cyan          = color.New(color.FgHiCyan).SprintFunc()
	green         = color.New(color.FgHiGreen).SprintFunc()
	yellow        = color.New(color.FgHiYellow).SprintFunc()
)

// ui writes command results as tables or raw JSON
type ui struct {
	out  io.Writer
	json bool
}

func (u *ui) success(format string, a ...any) {
	fmt.Fprintf(u.out, "%s %s\n", successPrefix, fmt.Sprintf(format, a...))
}

func (u *ui) warning(format string, a ...any) {
	fmt.Fprintf(u.out, "%s %s\n", warningPrefix, fmt.Sprintf(format, a...))
}

func (u *ui) field(name string, value any) {
	fmt.Fprintf(u.out, "  %-12s %v\n", name+":", value)
}

// emit prints v as indented JSON and reports whether it did
func (u *ui) emit(v any) (bool, error) {
	if !u.json {
		return false, nil
	}
	enc := json.NewEncoder(u.out)
	enc.SetIndent("", "  ")
	return true, enc.Encode(v)
}

func (u *ui) table(headers []string) *tablewriter.Table {
	table := tablewriter.NewTable(u.out,
		tablewriter.WithHeaderAlignment(tw.AlignLeft),
		tablewriter.WithRowAlignment(tw.AlignLeft),
		tablewriter.WithRendition(tw.Rendition{
			Borders: tw.BorderNone,
			Settings: tw.Settings{
				Lines:      tw.LinesNone,
				Separators: tw.SeparatorsNone,
			},
		}),
		tablewriter.WithPadding(tw.Padding{Left: "", Right: "  "}),
	)
	table.Header(headers)
	return table
}

func statusColor(status types.RoundStatus) string {
	switch status {
	case types.StatusOpen:
		return yellow(string(status))
	case types.StatusVoting:
		return cyan(string(status))
	case types.StatusFinalized:
		return green(string(status))
	default:
		return string(status)
	}
}

func progressBar(p types.Progress) string {
	if p.Total <= 0 {
		return "-"
	}
	const width = 20
	filled := p.Voted * width / p.Total
	if filled > width {
		filled = width
	}
	return "[" + strings.Repeat("#", filled) + strings.Repeat(".", width-filled) + "]"
}
