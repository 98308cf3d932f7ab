package sheet

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"github.com/hitoshi/entryboard/internal/model"
)

// 各フィールドの見出し候補。先に書いたものが優先される。
var (
	statusAliases      = []string{"반영 여부", "반영여부", "상태", "status"}
	titleAliases       = []string{"항목", "타이틀", "제목", "title"}
	platformAliases    = []string{"플랫폼", "platform"}
	descriptionAliases = []string{"내용", "설명", "description"}
	ownerAliases       = []string{"담당자", "owner"}
)

// LocalIDPrefix は取り込み行に振る仮IDの接頭辞。
const LocalIDPrefix = "local-"

// Importer はxlsxからエントリを読み込む。
type Importer struct {
	Now   func() time.Time
	NewID func() string
}

// NewImporter は現在時刻とUUIDを使うImporterを返す。
func NewImporter() *Importer {
	return &Importer{
		Now:   time.Now,
		NewID: func() string { return LocalIDPrefix + uuid.NewString() },
	}
}

// Parse は先頭シートを読み込む。壊れたファイルや認識できる列がない場合は空を返す。
func (im *Importer) Parse(r io.Reader) []model.Entry {
	entries, _ := im.Decode(r)
	return entries
}

// ParseBytes はbをParseする。
func (im *Importer) ParseBytes(b []byte) []model.Entry {
	return im.Parse(bytes.NewReader(b))
}

// Decode はParseと同じだが、ファイルを開けなかった理由を返す。
// 見出しが認識できない場合やデータ行がない場合はエラーにせず空を返す。
func (im *Importer) Decode(r io.Reader) ([]model.Entry, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return []model.Entry{}, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return []model.Entry{}, nil
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return []model.Entry{}, fmt.Errorf("failed to read rows: %w", err)
	}
	if len(rows) < 2 {
		return []model.Entry{}, nil
	}

	cols := resolveColumns(rows[0])
	if cols.title < 0 {
		return []model.Entry{}, nil
	}

	entries := make([]model.Entry, 0, len(rows)-1)
	for _, row := range rows[1:] {
		title := strings.TrimSpace(cell(row, cols.title))
		if title == "" {
			continue
		}
		entries = append(entries, model.Entry{
			ID:               im.newID(),
			ReflectionStatus: strings.TrimSpace(cell(row, cols.status)),
			Title:            title,
			Platforms:        model.NormalizePlatforms(strings.Split(cell(row, cols.platform), ",")),
			Description:      cell(row, cols.description),
			Owner:            strings.TrimSpace(cell(row, cols.owner)),
			CreatedAt:        im.now(),
		})
	}
	return entries, nil
}

func (im *Importer) now() time.Time {
	if im.Now == nil {
		return time.Now()
	}
	return im.Now()
}

func (im *Importer) newID() string {
	if im.NewID == nil {
		return LocalIDPrefix + uuid.NewString()
	}
	return im.NewID()
}

// columns は各フィールドの列インデックス。見つからない場合は-1。
type columns struct {
	status, title, platform, description, owner int
}

func resolveColumns(header []string) columns {
	return columns{
		status:      findColumn(header, statusAliases),
		title:       findColumn(header, titleAliases),
		platform:    findColumn(header, platformAliases),
		description: findColumn(header, descriptionAliases),
		owner:       findColumn(header, ownerAliases),
	}
}

// findColumn は候補を優先順に見て、最初に見出しと一致した列を返す。
func findColumn(header []string, aliases []string) int {
	for _, alias := range aliases {
		for i, h := range header {
			if strings.EqualFold(strings.TrimSpace(h), alias) {
				return i
			}
		}
	}
	return -1
}

func cell(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return row[i]
}
