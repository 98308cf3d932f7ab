package cli

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/hitoshi/entryboard/internal/collection"
	"github.com/hitoshi/entryboard/internal/security"
	"github.com/hitoshi/entryboard/internal/sheet"
)

// ExportOptions はexportコマンドのフラグ。
type ExportOptions struct {
	*RootOptions
	Output string
}

// NewExportCommand はexportコマンドを生成する。
func NewExportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export all entries to an xlsx file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := opts.Output
			if path == "" {
				path = sheet.FileName(time.Now())
			}
			return withCollection(cmd.Context(), opts.RootOptions, func(col *collection.Collection) error {
				entries := col.Entries()
				body, err := sheet.Export(entries)
				if err != nil {
					return err
				}
				if err := os.WriteFile(path, body, 0o644); err != nil {
					return fmt.Errorf("failed to write %s: %w", path, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "exported %d entries to %s\n", len(entries), path)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "output file (default entries_YYYY-MM-DD.xlsx)")

	return cmd
}

// NewImportCommand はimportコマンドを生成する。
func NewImportCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import FILE",
		Short: "Import entries from an xlsx file",
		Long: `Import entries from the first sheet of an xlsx file.

Columns are matched by header (반영 여부/항목/플랫폼/내용/담당자). Rows without
an item are skipped. Imported entries appear in file order at the top.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("failed to open %s: %w", args[0], err)
			}
			defer f.Close()

			entries, err := sheet.NewImporter().Decode(f)
			if err != nil {
				slog.Warn("failed to decode spreadsheet", slog.String("error", err.Error()))
			}
			sanitizer := security.NewTextSanitizer()
			for i := range entries {
				entries[i] = sanitizer.SanitizeEntry(entries[i])
			}

			return withCollection(cmd.Context(), rootOpts, func(col *collection.Collection) error {
				res, err := col.Import(cmd.Context(), entries)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "imported %d entries (%d failed)\n", res.Imported, res.Failed)
				return nil
			})
		},
	}
	return cmd
}
