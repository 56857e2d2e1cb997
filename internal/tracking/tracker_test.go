package tracking

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llm-scheduler/config"
)

func newTestTracker(t *testing.T) *OutcomeTracker {
	t.Helper()

	cfg := config.TrackingConfig{
		Enabled: true,
		Database: config.DatabaseBackendConfig{
			Type: "sqlite",
			Path: filepath.Join(t.TempDir(), "outcomes.db"),
		},
		BufferSize:    64,
		BatchSize:     4,
		FlushInterval: 50 * time.Millisecond,
		RetentionDays: 7,
	}

	tracker, err := NewOutcomeTracker(cfg, "UTC")
	require.NoError(t, err)
	t.Cleanup(tracker.Stop)
	return tracker
}

func TestTrackerPersistsRecords(t *testing.T) {
	tracker := newTestTracker(t)

	tracker.Record(OutcomeRecord{
		Provider:  "anthropic",
		ProfileID: "work",
		ModelID:   "model-x",
		Outcome:   "success",
	})
	tracker.Record(OutcomeRecord{
		Provider:            "anthropic",
		ProfileID:           "work",
		ModelID:             "model-x",
		Outcome:             "failure",
		ErrorClass:          "QUOTA_EXHAUSTED",
		CooldownMs:          60000,
		ConsecutiveFailures: 1,
	})

	require.Eventually(t, func() bool {
		return tracker.Stats().Persisted == 2
	}, 3*time.Second, 20*time.Millisecond, "记录未在刷新间隔内落库")

	stats := tracker.Stats()
	assert.EqualValues(t, 2, stats.Received)
	assert.EqualValues(t, 0, stats.Dropped)
	assert.EqualValues(t, 0, stats.Errors)
}

func TestTrackerProfileSummaries(t *testing.T) {
	tracker := newTestTracker(t)

	for i := 0; i < 3; i++ {
		tracker.Record(OutcomeRecord{
			Provider: "anthropic", ProfileID: "work", ModelID: "m", Outcome: "success",
		})
	}
	tracker.Record(OutcomeRecord{
		Provider: "anthropic", ProfileID: "work", ModelID: "m",
		Outcome: "failure", ErrorClass: "RATE_LIMIT_EXCEEDED",
	})
	tracker.Record(OutcomeRecord{
		Provider: "anthropic", ProfileID: "personal", ModelID: "m",
		Outcome: "failure", ErrorClass: "SERVER_ERROR",
	})
	tracker.Record(OutcomeRecord{
		Provider: "other", ProfileID: "x", ModelID: "m", Outcome: "success",
	})

	require.Eventually(t, func() bool {
		return tracker.Stats().Persisted == 6
	}, 3*time.Second, 20*time.Millisecond)

	ctx := context.Background()
	summaries, err := tracker.ProfileSummaries(ctx, "anthropic", 7)
	require.NoError(t, err)
	require.Len(t, summaries, 2)

	// 按请求数降序，work在前
	assert.Equal(t, "work", summaries[0].ProfileID)
	assert.EqualValues(t, 4, summaries[0].Requests)
	assert.EqualValues(t, 3, summaries[0].Successes)
	assert.EqualValues(t, 1, summaries[0].Failures)
	assert.EqualValues(t, 1, summaries[0].RateLimits)

	assert.Equal(t, "personal", summaries[1].ProfileID)
	assert.EqualValues(t, 0, summaries[1].RateLimits)

	counts, err := tracker.ErrorClassCounts(ctx, 7)
	require.NoError(t, err)
	assert.EqualValues(t, 1, counts["RATE_LIMIT_EXCEEDED"])
	assert.EqualValues(t, 1, counts["SERVER_ERROR"])
}

// 请求ID和时间戳缺省时自动补全
func TestTrackerFillsDefaults(t *testing.T) {
	tracker := newTestTracker(t)

	tracker.Record(OutcomeRecord{
		Provider: "anthropic", ProfileID: "work", Outcome: "success",
	})

	require.Eventually(t, func() bool {
		return tracker.Stats().Persisted == 1
	}, 3*time.Second, 20*time.Millisecond)

	var requestID string
	var createdAt string
	err := tracker.adapter.GetDB().QueryRow(
		"SELECT request_id, created_at FROM outcome_records LIMIT 1").Scan(&requestID, &createdAt)
	require.NoError(t, err)
	assert.NotEmpty(t, requestID)
	assert.NotEmpty(t, createdAt)
}

func TestDatabaseTypeInference(t *testing.T) {
	assert.Equal(t, "sqlite", getDatabaseType(config.DatabaseBackendConfig{}))
	assert.Equal(t, "mysql", getDatabaseType(config.DatabaseBackendConfig{Host: "db.local"}))
	assert.Equal(t, "sqlite", getDatabaseType(config.DatabaseBackendConfig{Type: "sqlite", Host: "db.local"}))
	assert.Equal(t, "mysql", getDatabaseType(config.DatabaseBackendConfig{Type: "mysql"}))
}
