// Package model はドメインモデルを定義する。
package model

import (
	"strings"
	"time"
)

// 反映状況ラベル。ラベル集合は改訂ごとに変わるため、閉じた列挙としては扱わない。
const (
	// StatusNotReflected は未反映を表す。新規エントリのデフォルト。
	StatusNotReflected = "미반영"
	// StatusInReview は検討中を表す。
	StatusInReview = "검토중"
	// StatusReflected は反映完了を表す。
	StatusReflected = "반영완료"
)

// 観測済みのプラットフォームタグ。語彙は開いており、これ以外の値も受け付ける。
const (
	PlatformApp     = "APP"
	PlatformWeb     = "Web"
	PlatformService = "Service"
	PlatformTablet  = "Tablet"
)

// DisplayTimeLayout は作成日時の表示形式（分精度）。
const DisplayTimeLayout = "2006-01-02 15:04"

// Entry はフィードバック/機能項目を表す唯一の永続エンティティ。
// 編集中フラグなどクライアントローカルな状態は持たない。
type Entry struct {
	ID               string
	ReflectionStatus string
	Title            string
	Platforms        []string
	Description      string
	Owner            string
	CreatedAt        time.Time
	CompletedAt      *time.Time
}

// Clone はスライスとポインタを複製したコピーを返す。
func (e Entry) Clone() Entry {
	c := e
	if e.Platforms != nil {
		c.Platforms = append([]string(nil), e.Platforms...)
	}
	if e.CompletedAt != nil {
		t := *e.CompletedAt
		c.CompletedAt = &t
	}
	return c
}

// HasPlatform はタグが含まれているかを返す。大文字小文字は区別する。
func (e Entry) HasPlatform(tag string) bool {
	for _, p := range e.Platforms {
		if p == tag {
			return true
		}
	}
	return false
}

// IsCompleted は完了日時が設定済みかを返す。
func (e Entry) IsCompleted() bool {
	return e.CompletedAt != nil
}

// RawEntry はストアおよび変更通知のワイヤ形式。
// 欠落したフィールドを区別できるようポインタで保持する。
type RawEntry struct {
	ID          string   `json:"id"`
	Reflect     *string  `json:"reflect"`
	Item        *string  `json:"item"`
	Platform    []string `json:"platform"`
	Content     *string  `json:"content"`
	Owner       *string  `json:"owner"`
	CreatedAt   *string  `json:"created_at"`
	CompletedAt *string  `json:"completed_at"`
}

// NormalizeOnRead はワイヤ形式をEntryに変換する。
// 欠落・不正な値はデフォルトに置き換え、エラーにはしない。
func NormalizeOnRead(raw RawEntry) Entry {
	e := Entry{
		ID:               raw.ID,
		ReflectionStatus: deref(raw.Reflect),
		Title:            deref(raw.Item),
		Platforms:        NormalizePlatforms(raw.Platform),
		Description:      deref(raw.Content),
		Owner:            deref(raw.Owner),
	}
	if raw.CreatedAt != nil {
		if t, ok := parseTimestamp(*raw.CreatedAt); ok {
			e.CreatedAt = t
		}
	}
	if raw.CompletedAt != nil {
		if t, ok := parseTimestamp(*raw.CompletedAt); ok {
			e.CompletedAt = &t
		}
	}
	return e
}

// Fields はストアへの書き込みペイロード。
// id と created_at はストアが採番するため含めない。
type Fields struct {
	Reflect     string     `json:"reflect"`
	Item        string     `json:"item"`
	Platform    []string   `json:"platform"`
	Content     string     `json:"content"`
	Owner       string     `json:"owner"`
	CompletedAt *time.Time `json:"completed_at"`
}

// ToWritePayload はEntryから書き込みペイロードを生成する。
func ToWritePayload(e Entry) Fields {
	f := Fields{
		Reflect:  e.ReflectionStatus,
		Item:     e.Title,
		Platform: NormalizePlatforms(e.Platforms),
		Content:  e.Description,
		Owner:    e.Owner,
	}
	if e.CompletedAt != nil {
		t := *e.CompletedAt
		f.CompletedAt = &t
	}
	return f
}

// Patch はローカル編集の部分更新を表す。nilのフィールドは変更しない。
type Patch struct {
	ReflectionStatus *string   `json:"reflect,omitempty"`
	Title            *string   `json:"item,omitempty"`
	Platforms        *[]string `json:"platform,omitempty"`
	Description      *string   `json:"content,omitempty"`
	Owner            *string   `json:"owner,omitempty"`
}

// IsEmpty は変更対象のフィールドが1つもないかを返す。
func (p Patch) IsEmpty() bool {
	return p.ReflectionStatus == nil && p.Title == nil && p.Platforms == nil &&
		p.Description == nil && p.Owner == nil
}

// Apply はパッチを適用したコピーを返す。
func (p Patch) Apply(e Entry) Entry {
	out := e.Clone()
	if p.ReflectionStatus != nil {
		out.ReflectionStatus = *p.ReflectionStatus
	}
	if p.Title != nil {
		out.Title = *p.Title
	}
	if p.Platforms != nil {
		out.Platforms = NormalizePlatforms(*p.Platforms)
	}
	if p.Description != nil {
		out.Description = *p.Description
	}
	if p.Owner != nil {
		out.Owner = *p.Owner
	}
	return out
}

// NormalizePlatforms は前後の空白を除去し、空要素と重複を取り除く。
// 出現順は維持する。nilの入力には空スライスを返す。
func NormalizePlatforms(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// FormatDisplayTime は表示用に分精度で整形する。ゼロ値は空文字列。
func FormatDisplayTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(DisplayTimeLayout)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// timestampLayouts はストアから届く日時表現の候補。
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02 15:04:05.999999-07",
	"2006-01-02 15:04:05.999999-07:00",
	"2006-01-02 15:04:05",
	DisplayTimeLayout,
}

func parseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
