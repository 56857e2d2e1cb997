package tracking

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// ProfileSummary 单个账号在统计窗口内的调度结果汇总
type ProfileSummary struct {
	Provider     string     `json:"provider"`
	ProfileID    string     `json:"profile_id"`
	Requests     int64      `json:"requests"`
	Successes    int64      `json:"successes"`
	Failures     int64      `json:"failures"`
	RateLimits   int64      `json:"rate_limits"`
	LastActivity *time.Time `json:"last_activity,omitempty"`
}

// ProfileSummaries 查询指定供应商最近days天内按账号汇总的调度结果
func (t *OutcomeTracker) ProfileSummaries(ctx context.Context, provider string, days int) ([]ProfileSummary, error) {
	if days <= 0 {
		days = 7
	}
	cutoff := time.Now().AddDate(0, 0, -days).Format("2006-01-02 15:04:05.000000")

	rows, err := t.adapter.GetDB().QueryContext(ctx, `
		SELECT provider, profile_id,
			COUNT(*) AS requests,
			SUM(CASE WHEN outcome = 'success' THEN 1 ELSE 0 END) AS successes,
			SUM(CASE WHEN outcome = 'failure' THEN 1 ELSE 0 END) AS failures,
			SUM(CASE WHEN error_class IN ('RATE_LIMIT_EXCEEDED', 'QUOTA_EXHAUSTED', 'MODEL_CAPACITY_EXHAUSTED') THEN 1 ELSE 0 END) AS rate_limits,
			MAX(created_at) AS last_activity
		FROM outcome_records
		WHERE provider = ? AND created_at >= ?
		GROUP BY provider, profile_id
		ORDER BY requests DESC`, provider, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to query profile summaries: %w", err)
	}
	defer rows.Close()

	var summaries []ProfileSummary
	for rows.Next() {
		var s ProfileSummary
		var lastActivity sql.NullString
		if err := rows.Scan(&s.Provider, &s.ProfileID, &s.Requests,
			&s.Successes, &s.Failures, &s.RateLimits, &lastActivity); err != nil {
			return nil, fmt.Errorf("failed to scan profile summary: %w", err)
		}
		if lastActivity.Valid {
			if ts, err := parseRecordTime(lastActivity.String); err == nil {
				s.LastActivity = &ts
			}
		}
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}

// ErrorClassCounts 查询最近days天内按错误分类汇总的失败次数
func (t *OutcomeTracker) ErrorClassCounts(ctx context.Context, days int) (map[string]int64, error) {
	if days <= 0 {
		days = 7
	}
	cutoff := time.Now().AddDate(0, 0, -days).Format("2006-01-02 15:04:05.000000")

	rows, err := t.adapter.GetDB().QueryContext(ctx, `
		SELECT error_class, COUNT(*)
		FROM outcome_records
		WHERE outcome = 'failure' AND created_at >= ?
		GROUP BY error_class`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to query error class counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var class string
		var count int64
		if err := rows.Scan(&class, &count); err != nil {
			return nil, fmt.Errorf("failed to scan error class count: %w", err)
		}
		counts[class] = count
	}
	return counts, rows.Err()
}

// parseRecordTime 兼容微秒与秒两种入库格式
func parseRecordTime(value string) (time.Time, error) {
	for _, layout := range []string{
		"2006-01-02 15:04:05.000000",
		"2006-01-02 15:04:05",
		time.RFC3339,
	} {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time format: %s", value)
}
