// Package worker は定期実行ジョブのスケジューリングを提供する。
package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Job は定期実行される処理。
type Job interface {
	// Name はログに出すジョブ名を返す。
	Name() string
	// Run はジョブを1回実行する。
	Run(ctx context.Context) error
}

// JobFunc は関数をJobとして扱うためのアダプター。
type JobFunc struct {
	JobName string
	Fn      func(ctx context.Context) error
}

func (f JobFunc) Name() string                  { return f.JobName }
func (f JobFunc) Run(ctx context.Context) error { return f.Fn(ctx) }

// Scheduler は登録されたジョブを一定間隔で並列実行する。
type Scheduler struct {
	jobs   []Job
	logger *slog.Logger
}

// NewScheduler はSchedulerを生成する。loggerがnilの場合はslog.Default()を使う。
func NewScheduler(logger *slog.Logger, jobs ...Job) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{jobs: jobs, logger: logger}
}

// Start はintervalごとにジョブを実行する。起動直後にも1回実行する。
// コンテキストがキャンセルされるまで戻らない。
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("スケジューラを開始しました",
		slog.Duration("interval", interval),
		slog.Int("job_count", len(s.jobs)),
	)

	s.RunOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("スケジューラを停止しました")
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce は全ジョブを並列に1回実行し、完了を待つ。
// 失敗したジョブはログに記録し、失敗数を返す。
func (s *Scheduler) RunOnce(ctx context.Context) int {
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		failed int
	)
	for _, job := range s.jobs {
		wg.Add(1)
		go func(j Job) {
			defer wg.Done()
			start := time.Now()
			if err := j.Run(ctx); err != nil {
				s.logger.Error("ジョブの実行に失敗しました",
					slog.String("job", j.Name()),
					slog.String("error", err.Error()),
				)
				mu.Lock()
				failed++
				mu.Unlock()
				return
			}
			s.logger.Debug("ジョブが完了しました",
				slog.String("job", j.Name()),
				slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
			)
		}(job)
	}
	wg.Wait()
	return failed
}
