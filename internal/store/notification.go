package store

import (
	"encoding/json"
	"fmt"

	"github.com/hitoshi/entryboard/internal/model"
)

// notification はentries_changesチャネルに送られるトリガーのペイロード。
type notification struct {
	Type      ChangeType      `json:"type"`
	Record    *model.RawEntry `json:"record"`
	OldRecord *oldRecord      `json:"old_record"`
}

// oldRecord はDELETE時に送られる削除前レコードのうちIDのみを保持する。
type oldRecord struct {
	ID string `json:"id"`
}

// DecodeChange はNOTIFYペイロードをChangeに変換する。
// レコード本体は読み取り時正規化を経由する。
func DecodeChange(payload []byte) (Change, error) {
	var n notification
	if err := json.Unmarshal(payload, &n); err != nil {
		return Change{}, fmt.Errorf("failed to decode notification: %w", err)
	}

	switch n.Type {
	case ChangeInsert, ChangeUpdate:
		if n.Record == nil || n.Record.ID == "" {
			return Change{}, fmt.Errorf("notification %s without record", n.Type)
		}
		e := model.NormalizeOnRead(*n.Record)
		return Change{Type: n.Type, Entry: e, ID: e.ID}, nil
	case ChangeDelete:
		id := ""
		if n.OldRecord != nil {
			id = n.OldRecord.ID
		}
		if id == "" && n.Record != nil {
			id = n.Record.ID
		}
		if id == "" {
			return Change{}, fmt.Errorf("delete notification without id")
		}
		return Change{Type: ChangeDelete, ID: id}, nil
	default:
		return Change{}, fmt.Errorf("unknown notification type %q", n.Type)
	}
}
