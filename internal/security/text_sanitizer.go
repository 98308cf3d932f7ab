// Package security はアプリケーションのセキュリティ機能を提供する。
//
// TextSanitizer は利用者が入力したエントリのテキスト項目からマークアップを取り除く。
// 表示側でHTMLとして解釈されてもスクリプトが実行されないよう、
// 保存前にbluemondayのStrictPolicyでタグをすべて除去する。
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"github.com/hitoshi/entryboard/internal/model"
)

// maxSanitizePasses は文字参照で多重に書かれたタグを展開する回数の上限。
const maxSanitizePasses = 8

// TextSanitizer はプレーンテキスト項目のサニタイズ機能のインターフェースを定義する。
type TextSanitizer interface {
	// Sanitize はタグを除去したテキストを返す。
	// タグらしき記述を含まない入力はそのまま返す（"a < b" や "&" は変化しない）。
	Sanitize(text string) string
	// SanitizePatch はパッチに含まれるテキスト項目をサニタイズしたコピーを返す。
	SanitizePatch(p model.Patch) model.Patch
	// SanitizeEntry はエントリのテキスト項目をサニタイズしたコピーを返す。
	SanitizeEntry(e model.Entry) model.Entry
}

// textSanitizer はTextSanitizerの実装。bluemondayのポリシーはスレッドセーフ。
type textSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はTextSanitizerの新しいインスタンスを生成する。
func NewTextSanitizer() TextSanitizer {
	return &textSanitizer{policy: bluemonday.StrictPolicy()}
}

// Sanitize はタグを除去したテキストを返す。
// "&lt;script&gt;" のような文字参照は平文に戻すと再びタグになるため、
// 出力が変化しなくなるまで除去と展開を繰り返す。
func (s *textSanitizer) Sanitize(text string) string {
	out := text
	for i := 0; i < maxSanitizePasses; i++ {
		if !hasTagDelimiters(out) {
			return out
		}
		// StrictPolicyは残ったテキストをエスケープするため、平文に戻す
		next := html.UnescapeString(s.policy.Sanitize(out))
		if next == out {
			return out
		}
		out = next
	}
	if hasTagDelimiters(out) {
		// 上限まで展開しても収束しない入力はエスケープした形で返す
		return s.policy.Sanitize(out)
	}
	return out
}

func hasTagDelimiters(text string) bool {
	return strings.ContainsRune(text, '<') && strings.ContainsRune(text, '>')
}

// SanitizePatch はパッチのテキスト項目をサニタイズする。
func (s *textSanitizer) SanitizePatch(p model.Patch) model.Patch {
	p.ReflectionStatus = s.sanitizePtr(p.ReflectionStatus)
	p.Title = s.sanitizePtr(p.Title)
	p.Description = s.sanitizePtr(p.Description)
	p.Owner = s.sanitizePtr(p.Owner)
	if p.Platforms != nil {
		tags := make([]string, len(*p.Platforms))
		for i, t := range *p.Platforms {
			tags[i] = s.Sanitize(t)
		}
		p.Platforms = &tags
	}
	return p
}

// SanitizeEntry はエントリのテキスト項目をサニタイズする。
func (s *textSanitizer) SanitizeEntry(e model.Entry) model.Entry {
	out := e.Clone()
	out.ReflectionStatus = s.Sanitize(out.ReflectionStatus)
	out.Title = s.Sanitize(out.Title)
	out.Description = s.Sanitize(out.Description)
	out.Owner = s.Sanitize(out.Owner)
	for i, t := range out.Platforms {
		out.Platforms[i] = s.Sanitize(t)
	}
	return out
}

func (s *textSanitizer) sanitizePtr(v *string) *string {
	if v == nil {
		return nil
	}
	out := s.Sanitize(*v)
	return &out
}
