package app

import (
	"fmt"
	"sort"
	"strings"
)

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はAPIサーバーとして起動する。
	CommandServe Command = "serve"
	// CommandWorker は期限切れセッションを掃除するワーカーとして起動する。
	CommandWorker Command = "worker"
	// CommandMigrate はマイグレーションを実行する。続く引数で up / down [N] を指定する。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck はdistrolessイメージのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
)

var knownCommands = map[Command]struct{}{
	CommandServe:       {},
	CommandWorker:      {},
	CommandMigrate:     {},
	CommandHealthcheck: {},
}

// ParseCommand はコマンドライン引数からサブコマンドを解析する。
// 引数が空の場合はCommandServe。サポート外のコマンドはタイプミスで
// APIサーバーが起動しないようエラーにする。
func ParseCommand(args []string) (Command, error) {
	if len(args) == 0 {
		return CommandServe, nil
	}
	cmd := Command(args[0])
	if _, ok := knownCommands[cmd]; !ok {
		return "", fmt.Errorf("unknown command %q (available: %s)", args[0], availableCommands())
	}
	return cmd, nil
}

func availableCommands() string {
	names := make([]string, 0, len(knownCommands))
	for c := range knownCommands {
		names = append(names, string(c))
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}
