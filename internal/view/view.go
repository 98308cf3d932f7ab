// Package view はエントリ集合から条件に合う部分列を導出する（Filtered View）。
package view

import (
	"net/url"
	"strings"

	"github.com/hitoshi/entryboard/internal/model"
)

// Filter は絞り込み条件。空のフィールドは条件なしとして扱い、有効な条件はAND結合する。
type Filter struct {
	// Query はタイトル・内容・担当者に対する大文字小文字を区別しない部分一致。
	Query string
	// Status は反映状況の完全一致。
	Status string
	// Platforms は指定したタグをすべて含むこと。
	Platforms []string
}

// FromQuery はURLクエリ（q, status, platform）からFilterを組み立てる。
// platformは繰り返し指定とカンマ区切りの両方を受け付ける。
func FromQuery(v url.Values) Filter {
	f := Filter{
		Query:  strings.TrimSpace(v.Get("q")),
		Status: strings.TrimSpace(v.Get("status")),
	}
	var tags []string
	for _, p := range v["platform"] {
		tags = append(tags, strings.Split(p, ",")...)
	}
	f.Platforms = model.NormalizePlatforms(tags)
	return f
}

// IsEmpty は有効な条件が1つもないかを返す。
func (f Filter) IsEmpty() bool {
	return strings.TrimSpace(f.Query) == "" && f.Status == "" && len(f.Platforms) == 0
}

// Match はエントリがすべての有効な条件を満たすかを返す。
func (f Filter) Match(e model.Entry) bool {
	if q := strings.ToLower(strings.TrimSpace(f.Query)); q != "" {
		haystack := strings.ToLower(e.Title + " " + e.Description + " " + e.Owner)
		if !strings.Contains(haystack, q) {
			return false
		}
	}
	if f.Status != "" && e.ReflectionStatus != f.Status {
		return false
	}
	for _, p := range f.Platforms {
		if !e.HasPlatform(p) {
			return false
		}
	}
	return true
}

// Apply は条件を満たすエントリを元の順序のまま返す。
func (f Filter) Apply(entries []model.Entry) []model.Entry {
	out := make([]model.Entry, 0, len(entries))
	for _, e := range entries {
		if f.Match(e) {
			out = append(out, e)
		}
	}
	return out
}
