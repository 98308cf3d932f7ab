package cli

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"

	"github.com/hitoshi/entryboard/internal/collection"
	"github.com/hitoshi/entryboard/internal/model"
	"github.com/hitoshi/entryboard/internal/view"
)

// ListOptions はlistコマンドのフラグ。
type ListOptions struct {
	*RootOptions
	Query     string
	Status    string
	Platforms []string
}

// NewListCommand はlistコマンドを生成する。
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ListOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List entries (newest first)",
		Long: `List entries as a table, applying the same filter as the web view.

Examples:
  entryctl list
  entryctl list --q 검색 --status 미반영
  entryctl list --platform APP --platform Web`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := view.Filter{
				Query:     opts.Query,
				Status:    opts.Status,
				Platforms: model.NormalizePlatforms(opts.Platforms),
			}
			return withCollection(cmd.Context(), opts.RootOptions, func(col *collection.Collection) error {
				all := col.Entries()
				printEntries(cmd, filter.Apply(all), len(all), opts.NoColor)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&opts.Query, "q", "", "case-insensitive match on item, content and owner")
	cmd.Flags().StringVar(&opts.Status, "status", "", "exact reflection status")
	cmd.Flags().StringSliceVar(&opts.Platforms, "platform", nil, "required platform tag (repeatable)")

	return cmd
}

func printEntries(cmd *cobra.Command, entries []model.Entry, total int, noColor bool) {
	out := cmd.OutOrStdout()

	tbl := uitable.New()
	tbl.Separator = "  "
	tbl.MaxColWidth = 48
	tbl.AddRow("STATUS", "ITEM", "PLATFORM", "OWNER", "CREATED", "COMPLETED")
	for _, e := range entries {
		completed := ""
		if e.CompletedAt != nil {
			completed = model.FormatDisplayTime(*e.CompletedAt)
		}
		tbl.AddRow(
			statusColor(e.ReflectionStatus, noColor),
			e.Title,
			strings.Join(e.Platforms, ", "),
			e.Owner,
			model.FormatDisplayTime(e.CreatedAt),
			completed,
		)
	}
	fmt.Fprintln(out, tbl)
	fmt.Fprintf(out, "%d / %d entries\n", len(entries), total)
}

// statusColor は反映状況ラベルを色付けする。未知のラベルはそのまま返す。
func statusColor(status string, noColor bool) string {
	var c *color.Color
	switch status {
	case model.StatusReflected:
		c = color.New(color.FgGreen)
	case model.StatusInReview:
		c = color.New(color.FgYellow)
	case model.StatusNotReflected:
		c = color.New(color.FgRed)
	default:
		return status
	}
	if noColor {
		c.DisableColor()
	}
	return c.Sprint(status)
}
