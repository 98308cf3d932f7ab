// Package sheet はエントリとスプレッドシート（xlsx）の相互変換を提供する。
package sheet

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/hitoshi/entryboard/internal/model"
)

// SheetName はエクスポートするシート名。
const SheetName = "Entries"

// PlatformSeparator はプラットフォーム列の区切り文字列。
const PlatformSeparator = ", "

// ContentType はxlsxのMIMEタイプ。
const ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// Headers はエクスポート時の列見出し（順序固定）。
var Headers = []string{"반영 여부", "항목", "플랫폼", "내용", "담당자", "생성일시"}

// FileName はエクスポートファイル名を返す。
func FileName(now time.Time) string {
	return fmt.Sprintf("entries_%s.xlsx", now.Format("2006-01-02"))
}

// Export はエントリを1シートのxlsxに変換する。空の場合はNothingToExportエラーを返す。
func Export(entries []model.Entry) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteTo(&buf, entries); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteTo はエントリをxlsxとしてwに書き出す。
func WriteTo(w io.Writer, entries []model.Entry) error {
	if len(entries) == 0 {
		return model.NewNothingToExportError()
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), SheetName); err != nil {
		return fmt.Errorf("failed to rename sheet: %w", err)
	}

	header := make([]interface{}, len(Headers))
	for i, h := range Headers {
		header[i] = h
	}
	if err := f.SetSheetRow(SheetName, "A1", &header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	if style, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}}); err == nil {
		last, _ := excelize.CoordinatesToCellName(len(Headers), 1)
		_ = f.SetCellStyle(SheetName, "A1", last, style)
	}

	for i, e := range entries {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return fmt.Errorf("failed to resolve cell: %w", err)
		}
		row := []interface{}{
			e.ReflectionStatus,
			e.Title,
			strings.Join(e.Platforms, PlatformSeparator),
			e.Description,
			e.Owner,
			model.FormatDisplayTime(e.CreatedAt),
		}
		if err := f.SetSheetRow(SheetName, cell, &row); err != nil {
			return fmt.Errorf("failed to write row %d: %w", i+2, err)
		}
	}

	_ = f.SetColWidth(SheetName, "A", "A", 12)
	_ = f.SetColWidth(SheetName, "B", "B", 32)
	_ = f.SetColWidth(SheetName, "C", "C", 20)
	_ = f.SetColWidth(SheetName, "D", "D", 48)
	_ = f.SetColWidth(SheetName, "E", "F", 18)

	if err := f.Write(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}
