// Package tracking 异步持久化调度结果，用于事后分析账号表现
// 记录通过缓冲通道提交，批量落库，满时丢弃，绝不阻塞调度路径
package tracking

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"llm-scheduler/config"
)

// OutcomeRecord 一次调度结果
type OutcomeRecord struct {
	RequestID           string    `json:"request_id"`
	Provider            string    `json:"provider"`
	ProfileID           string    `json:"profile_id"`
	ModelID             string    `json:"model_id"`
	Outcome             string    `json:"outcome"` // "success" | "failure"
	ErrorClass          string    `json:"error_class"`
	CooldownMs          int64     `json:"cooldown_ms"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	CreatedAt           time.Time `json:"created_at"`
}

// TrackerStats 跟踪器运行统计
type TrackerStats struct {
	Received  int64 `json:"received"`
	Persisted int64 `json:"persisted"`
	Dropped   int64 `json:"dropped"`
	Errors    int64 `json:"errors"`
	QueueLen  int   `json:"queue_len"`
}

// OutcomeTracker 调度结果跟踪器
type OutcomeTracker struct {
	cfg     config.TrackingConfig
	adapter DatabaseAdapter
	logger  *slog.Logger

	records chan OutcomeRecord
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	received  atomic.Int64
	persisted atomic.Int64
	dropped   atomic.Int64
	errors    atomic.Int64
}

// NewOutcomeTracker 创建结果跟踪器并初始化数据库
func NewOutcomeTracker(cfg config.TrackingConfig, timezone string) (*OutcomeTracker, error) {
	adapter, err := NewDatabaseAdapter(cfg.Database, timezone)
	if err != nil {
		return nil, fmt.Errorf("failed to create database adapter: %w", err)
	}
	if err := adapter.Open(); err != nil {
		return nil, fmt.Errorf("failed to open tracking database: %w", err)
	}
	if err := adapter.InitSchema(); err != nil {
		adapter.Close()
		return nil, fmt.Errorf("failed to init tracking schema: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t := &OutcomeTracker{
		cfg:     cfg,
		adapter: adapter,
		logger:  slog.Default(),
		records: make(chan OutcomeRecord, cfg.BufferSize),
		ctx:     ctx,
		cancel:  cancel,
	}

	t.wg.Add(1)
	go t.flushLoop()

	if cfg.RetentionDays > 0 {
		t.wg.Add(1)
		go t.cleanupLoop()
	}

	t.logger.Info(fmt.Sprintf("📊 [结果跟踪] 跟踪器已启动 (数据库: %s, 缓冲: %d, 批量: %d)",
		adapter.GetDatabaseType(), cfg.BufferSize, cfg.BatchSize))
	return t, nil
}

// Record 提交一条调度结果，缓冲区满时丢弃并计数
func (t *OutcomeTracker) Record(record OutcomeRecord) {
	if record.RequestID == "" {
		record.RequestID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}

	t.received.Add(1)
	select {
	case t.records <- record:
	default:
		t.dropped.Add(1)
	}
}

// Stats 返回跟踪器运行统计
func (t *OutcomeTracker) Stats() TrackerStats {
	return TrackerStats{
		Received:  t.received.Load(),
		Persisted: t.persisted.Load(),
		Dropped:   t.dropped.Load(),
		Errors:    t.errors.Load(),
		QueueLen:  len(t.records),
	}
}

// Stop 停止跟踪器，尽量把缓冲区内的记录写完后关闭数据库
func (t *OutcomeTracker) Stop() {
	t.cancel()
	t.wg.Wait()

	// 排空残留记录
	remaining := t.drain(t.cfg.BufferSize)
	if len(remaining) > 0 {
		t.flush(remaining)
	}

	if err := t.adapter.Close(); err != nil {
		t.logger.Warn(fmt.Sprintf("⚠️ [结果跟踪] 关闭数据库失败: %s", err))
	}
	t.logger.Info("📊 [结果跟踪] 跟踪器已停止",
		"persisted", t.persisted.Load(), "dropped", t.dropped.Load())
}

// flushLoop 批量写入循环：攒够一批或到达刷新间隔就落库
func (t *OutcomeTracker) flushLoop() {
	defer t.wg.Done()

	ticker := time.NewTicker(t.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]OutcomeRecord, 0, t.cfg.BatchSize)
	for {
		select {
		case <-t.ctx.Done():
			if len(batch) > 0 {
				t.flush(batch)
			}
			return
		case record := <-t.records:
			batch = append(batch, record)
			if len(batch) >= t.cfg.BatchSize {
				t.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				t.flush(batch)
				batch = batch[:0]
			}
		}
	}
}

// flush 将一批记录写入数据库
func (t *OutcomeTracker) flush(batch []OutcomeRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	tx, err := t.adapter.GetDB().BeginTx(ctx, nil)
	if err != nil {
		t.errors.Add(1)
		t.logger.Warn(fmt.Sprintf("⚠️ [结果跟踪] 开启事务失败: %s", err))
		return
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO outcome_records
		(request_id, provider, profile_id, model_id, outcome, error_class, cooldown_ms, consecutive_failures, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		t.errors.Add(1)
		t.logger.Warn(fmt.Sprintf("⚠️ [结果跟踪] 预编译插入语句失败: %s", err))
		return
	}
	defer stmt.Close()

	for _, r := range batch {
		if _, err := stmt.ExecContext(ctx,
			r.RequestID, r.Provider, r.ProfileID, r.ModelID,
			r.Outcome, r.ErrorClass, r.CooldownMs, r.ConsecutiveFailures,
			r.CreatedAt.Format("2006-01-02 15:04:05.000000")); err != nil {
			tx.Rollback()
			t.errors.Add(1)
			t.logger.Warn(fmt.Sprintf("⚠️ [结果跟踪] 写入记录失败: %s", err))
			return
		}
	}

	if err := tx.Commit(); err != nil {
		t.errors.Add(1)
		t.logger.Warn(fmt.Sprintf("⚠️ [结果跟踪] 提交事务失败: %s", err))
		return
	}
	t.persisted.Add(int64(len(batch)))
}

// cleanupLoop 按保留天数定期清理历史记录
func (t *OutcomeTracker) cleanupLoop() {
	defer t.wg.Done()

	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-t.ctx.Done():
			return
		case <-ticker.C:
			t.cleanup()
		}
	}
}

// cleanup 删除超过保留期的记录
func (t *OutcomeTracker) cleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	cutoff := time.Now().AddDate(0, 0, -t.cfg.RetentionDays)
	result, err := t.adapter.GetDB().ExecContext(ctx,
		"DELETE FROM outcome_records WHERE created_at < ?",
		cutoff.Format("2006-01-02 15:04:05.000000"))
	if err != nil {
		t.logger.Warn(fmt.Sprintf("⚠️ [结果跟踪] 清理历史记录失败: %s", err))
		return
	}

	if rows, err := result.RowsAffected(); err == nil && rows > 0 {
		t.logger.Info(fmt.Sprintf("🧹 [结果跟踪] 清理历史记录完成: 删除%d条 (保留%d天)",
			rows, t.cfg.RetentionDays))
	}
}

// drain 非阻塞取出缓冲区中最多max条记录
func (t *OutcomeTracker) drain(max int) []OutcomeRecord {
	var drained []OutcomeRecord
	for i := 0; i < max; i++ {
		select {
		case record := <-t.records:
			drained = append(drained, record)
		default:
			return drained
		}
	}
	return drained
}
