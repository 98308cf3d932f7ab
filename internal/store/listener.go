package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/lib/pq"
)

// DefaultChannel はentriesテーブルのトリガーが通知を送るチャネル名。
const DefaultChannel = "entries_changes"

// pingInterval は通知が途絶えたときに接続確認を行う間隔。
const pingInterval = 90 * time.Second

// Dispatcher はNOTIFYペイロードを購読者に配信する。
type Dispatcher interface {
	Dispatch(payload []byte) error
}

// NotificationSource はLISTEN接続を抽象化する。*pq.Listenerが満たす。
type NotificationSource interface {
	NotificationChannel() <-chan *pq.Notification
	Ping() error
	Close() error
}

// Listener はPostgreSQLのLISTEN/NOTIFYで変更通知を受信し、Dispatcherに渡す。
type Listener struct {
	source      NotificationSource
	dispatcher  Dispatcher
	logger      *slog.Logger
	onReconnect func()
}

// NewListener はListenerを生成する。
// onReconnectは再接続後（通知の取りこぼしがあり得る時点）に呼ばれる。nilでもよい。
func NewListener(source NotificationSource, dispatcher Dispatcher, logger *slog.Logger, onReconnect func()) *Listener {
	if logger == nil {
		logger = slog.Default()
	}
	return &Listener{
		source:      source,
		dispatcher:  dispatcher,
		logger:      logger,
		onReconnect: onReconnect,
	}
}

// OpenPQListener はdsnに接続し、指定チャネルをLISTENする*pq.Listenerを返す。
func OpenPQListener(dsn, channel string, minReconnect, maxReconnect time.Duration, logger *slog.Logger) (*pq.Listener, error) {
	if logger == nil {
		logger = slog.Default()
	}
	l := pq.NewListener(dsn, minReconnect, maxReconnect, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			logger.Warn("LISTEN接続でエラーが発生しました",
				slog.Int("event", int(ev)),
				slog.String("error", err.Error()),
			)
		}
	})
	if err := l.Listen(channel); err != nil {
		l.Close()
		return nil, err
	}
	return l, nil
}

// Run はコンテキストがキャンセルされるまで通知を受信し続ける。
func (l *Listener) Run(ctx context.Context) {
	l.logger.Info("変更通知の受信を開始しました")
	defer func() {
		if err := l.source.Close(); err != nil {
			l.logger.Warn("LISTEN接続のクローズに失敗しました",
				slog.String("error", err.Error()),
			)
		}
		l.logger.Info("変更通知の受信を停止しました")
	}()

	ch := l.source.NotificationChannel()
	timer := time.NewTimer(pingInterval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-ch:
			if !ok {
				return
			}
			l.handle(n)
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(pingInterval)
		case <-timer.C:
			go func() {
				if err := l.source.Ping(); err != nil {
					l.logger.Warn("LISTEN接続のPingに失敗しました",
						slog.String("error", err.Error()),
					)
				}
			}()
			timer.Reset(pingInterval)
		}
	}
}

// handle は1件の通知を処理する。nilは再接続を意味する。
func (l *Listener) handle(n *pq.Notification) {
	if n == nil {
		l.logger.Warn("LISTEN接続が再確立されました。通知を取りこぼした可能性があります")
		if l.onReconnect != nil {
			l.onReconnect()
		}
		return
	}
	if err := l.dispatcher.Dispatch([]byte(n.Extra)); err != nil {
		l.logger.Error("変更通知の処理に失敗しました",
			slog.String("channel", n.Channel),
			slog.String("error", err.Error()),
		)
	}
}
