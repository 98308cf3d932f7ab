// Package cli はエントリ管理の運用CLI（entryctl）を提供する。
// サーバーと同じReconciling Collectionを経由してデータベースを読み書きする。
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/hitoshi/entryboard/internal/collection"
	"github.com/hitoshi/entryboard/internal/database"
	"github.com/hitoshi/entryboard/internal/logger"
	"github.com/hitoshi/entryboard/internal/store"
)

// StoreOpener はEntryStoreを開き、後始末用の関数とともに返す。
type StoreOpener func(ctx context.Context, databaseURL string) (store.EntryStore, func() error, error)

// RootOptions は全サブコマンド共通のフラグ。
type RootOptions struct {
	DatabaseURL string
	NoColor     bool
	Verbose     bool

	open StoreOpener
}

// NewRootCommand はentryctlのルートコマンドを生成する。
func NewRootCommand() *cobra.Command {
	return newRootCommand(openPostgres)
}

func newRootCommand(open StoreOpener) *cobra.Command {
	opts := &RootOptions{open: open}

	cmd := &cobra.Command{
		Use:           "entryctl",
		Short:         "entryboard operator CLI",
		Long:          "List, export and import entries directly against the entryboard database.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := "warn"
			if opts.Verbose {
				level = "debug"
			}
			logger.SetupDefault(cmd.ErrOrStderr(), level)
		},
	}

	cmd.PersistentFlags().StringVar(&opts.DatabaseURL, "database-url", os.Getenv("DATABASE_URL"), "PostgreSQL connection URL (default $DATABASE_URL)")
	cmd.PersistentFlags().BoolVar(&opts.NoColor, "no-color", false, "disable colored output")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose logging to stderr")

	cmd.AddCommand(NewListCommand(opts))
	cmd.AddCommand(NewExportCommand(opts))
	cmd.AddCommand(NewImportCommand(opts))

	return cmd
}

// withCollection はストアを開いてCollectionを読み込み、fnの実行後に破棄する。
func withCollection(ctx context.Context, opts *RootOptions, fn func(col *collection.Collection) error) error {
	s, closeStore, err := opts.open(ctx, opts.DatabaseURL)
	if err != nil {
		return err
	}
	defer closeStore()

	col := collection.New(s, collection.WithLogger(slog.Default()))
	defer col.Teardown()
	if err := col.Load(ctx); err != nil {
		return err
	}

	return fn(col)
}

// openPostgres はPostgreSQLに接続したEntryStoreを返す。
// 変更通知は購読しない（CLIは1回の読み書きで終了する）。
func openPostgres(ctx context.Context, databaseURL string) (store.EntryStore, func() error, error) {
	if databaseURL == "" {
		return nil, nil, fmt.Errorf("database URL is not set: use --database-url or DATABASE_URL")
	}
	db, err := database.Open(databaseURL, database.PoolConfig{MaxOpenConns: 4})
	if err != nil {
		return nil, nil, err
	}
	if err := database.Ping(ctx, db, 5*time.Second); err != nil {
		db.Close()
		return nil, nil, err
	}
	return store.NewPostgresStore(db, nil, slog.Default()), db.Close, nil
}
