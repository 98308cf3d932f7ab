package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"github.com/hitoshi/entryboard/internal/metrics"
	"github.com/hitoshi/entryboard/internal/model"
)

const entryColumns = `id, reflect, item, platform, content, owner, created_at, completed_at`

// PostgresStore はPostgreSQLを使用したEntryStore。
// 変更通知はListenerがDispatchを呼ぶことで購読者に配信される。
type PostgresStore struct {
	db      *sql.DB
	hub     *hub
	metrics metrics.MetricsCollector
	logger  *slog.Logger
}

// NewPostgresStore はPostgresStoreを生成する。
func NewPostgresStore(db *sql.DB, mc metrics.MetricsCollector, logger *slog.Logger) *PostgresStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresStore{
		db:      db,
		hub:     newHub(),
		metrics: metrics.OrNop(mc),
		logger:  logger,
	}
}

// List は全エントリをcreated_at降順で返す。
func (s *PostgresStore) List(ctx context.Context) (entries []model.Entry, err error) {
	defer s.observe("list", time.Now(), &err)

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+entryColumns+` FROM entries ORDER BY created_at DESC, id`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list entries: %w", err)
	}
	defer rows.Close()

	entries = make([]model.Entry, 0)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate entries: %w", err)
	}
	return entries, nil
}

// Create はエントリを作成する。idとcreated_atはデータベースが採番する。
func (s *PostgresStore) Create(ctx context.Context, f model.Fields) (e model.Entry, err error) {
	defer s.observe("create", time.Now(), &err)

	row := s.db.QueryRowContext(ctx,
		`INSERT INTO entries (reflect, item, platform, content, owner, completed_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING `+entryColumns,
		f.Reflect, f.Item, pq.Array(model.NormalizePlatforms(f.Platform)), f.Content, f.Owner, nullTime(f.CompletedAt),
	)
	e, err = scanEntry(row)
	if err != nil {
		return model.Entry{}, fmt.Errorf("failed to create entry: %w", err)
	}
	return e, nil
}

// Update は指定IDのエントリを上書きする。存在しない場合はErrNotFoundを返す。
func (s *PostgresStore) Update(ctx context.Context, id string, f model.Fields) (e model.Entry, err error) {
	defer s.observe("update", time.Now(), &err)

	row := s.db.QueryRowContext(ctx,
		`UPDATE entries
		 SET reflect = $2, item = $3, platform = $4, content = $5, owner = $6, completed_at = $7
		 WHERE id = $1
		 RETURNING `+entryColumns,
		id, f.Reflect, f.Item, pq.Array(model.NormalizePlatforms(f.Platform)), f.Content, f.Owner, nullTime(f.CompletedAt),
	)
	e, err = scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Entry{}, ErrNotFound
	}
	if err != nil {
		return model.Entry{}, fmt.Errorf("failed to update entry: %w", err)
	}
	return e, nil
}

// Delete は指定IDのエントリを削除する。存在しない場合はErrNotFoundを返す。
func (s *PostgresStore) Delete(ctx context.Context, id string) (err error) {
	defer s.observe("delete", time.Now(), &err)

	result, err := s.db.ExecContext(ctx, `DELETE FROM entries WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete entry: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Subscribe は変更通知の購読を開始する。
func (s *PostgresStore) Subscribe(h Handlers) (Unsubscribe, error) {
	return s.hub.add(h), nil
}

// Dispatch はNOTIFYペイロードをデコードして購読者に配信する。
func (s *PostgresStore) Dispatch(payload []byte) error {
	c, err := DecodeChange(payload)
	if err != nil {
		return err
	}
	s.metrics.RecordNotification(string(c.Type))
	s.hub.publish(c)
	return nil
}

// Subscribers は現在の購読者数を返す。
func (s *PostgresStore) Subscribers() int {
	return s.hub.count()
}

func (s *PostgresStore) observe(op string, start time.Time, errp *error) {
	var err error
	if errp != nil {
		err = *errp
	}
	if errors.Is(err, ErrNotFound) {
		err = nil
	}
	s.metrics.RecordStoreCall(op, err, time.Since(start))
	if err != nil {
		s.logger.Error("ストア呼び出しに失敗しました",
			slog.String("op", op),
			slog.String("error", err.Error()),
		)
	}
}

type scanner interface {
	Scan(dest ...any) error
}

// scanEntry は1行を読み取りEntryに変換する。NULLは空値として扱う。
func scanEntry(sc scanner) (model.Entry, error) {
	var (
		e                             model.Entry
		reflect, item, content, owner sql.NullString
		platform                      pq.StringArray
		createdAt, completedAt        sql.NullTime
	)
	if err := sc.Scan(&e.ID, &reflect, &item, &platform, &content, &owner, &createdAt, &completedAt); err != nil {
		return model.Entry{}, err
	}
	e.ReflectionStatus = reflect.String
	e.Title = item.String
	e.Platforms = model.NormalizePlatforms(platform)
	e.Description = content.String
	e.Owner = owner.String
	if createdAt.Valid {
		e.CreatedAt = createdAt.Time
	}
	if completedAt.Valid {
		t := completedAt.Time
		e.CompletedAt = &t
	}
	return e, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// compile-time interface check
var _ EntryStore = (*PostgresStore)(nil)
