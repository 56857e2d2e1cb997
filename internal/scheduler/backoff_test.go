package scheduler

import (
	"testing"
	"time"
)

// 测试配额类错误的递进冷却梯度
func TestQuotaBackoffProgression(t *testing.T) {
	expected := []time.Duration{
		60 * time.Second,   // 第1次失败
		300 * time.Second,  // 第2次失败
		1800 * time.Second, // 第3次失败
		300 * time.Second,  // 第4次失败：延长冷却覆盖梯度表
		300 * time.Second,  // 第5次失败
	}

	for prior, want := range expected {
		got := BackoffDelay(ErrorQuotaExhausted, prior)
		if got != want {
			t.Errorf("BackoffDelay(quota, %d) = %v, want %v", prior, got, want)
		}
	}
}

// 测试梯度表本身（不含延长冷却覆盖）
func TestClassDelayTiers(t *testing.T) {
	tests := []struct {
		class    ErrorClass
		failures int
		want     time.Duration
	}{
		{ErrorModelCapacityExhausted, 0, 1 * time.Second},
		{ErrorModelCapacityExhausted, 1, 2 * time.Second},
		{ErrorModelCapacityExhausted, 2, 5 * time.Second},
		{ErrorModelCapacityExhausted, 3, 10 * time.Second},
		{ErrorModelCapacityExhausted, 9, 10 * time.Second}, // 封顶
		{ErrorQuotaExhausted, 3, 7200 * time.Second},
		{ErrorRateLimitExceeded, 0, 5 * time.Second},
		{ErrorRateLimitExceeded, 2, 5 * time.Second}, // 固定基础延迟
		{ErrorServerError, 0, 2 * time.Second},
		{ErrorUnknown, 0, 5 * time.Second},
	}

	for _, tt := range tests {
		if got := classDelay(tt.class, tt.failures); got != tt.want {
			t.Errorf("classDelay(%s, %d) = %v, want %v", tt.class, tt.failures, got, tt.want)
		}
	}
}

// 连续失败达到阈值后，任何错误类别都进入300秒延长冷却
func TestExtendedCooldownAppliesToEveryClass(t *testing.T) {
	classes := []ErrorClass{
		ErrorRateLimitExceeded,
		ErrorQuotaExhausted,
		ErrorModelCapacityExhausted,
		ErrorServerError,
		ErrorUnknown,
	}

	for _, class := range classes {
		if got := BackoffDelay(class, extendedThreshold); got != extendedCooldown {
			t.Errorf("BackoffDelay(%s, %d) = %v, want %v", class, extendedThreshold, got, extendedCooldown)
		}
	}
}

// 任何组合下延迟都不应低于下限
func TestBackoffNeverBelowFloor(t *testing.T) {
	classes := []ErrorClass{
		ErrorRateLimitExceeded,
		ErrorQuotaExhausted,
		ErrorModelCapacityExhausted,
		ErrorServerError,
		ErrorUnknown,
		ErrorClass("bogus"),
	}

	for _, class := range classes {
		for failures := 0; failures <= maxTrackedFailures; failures++ {
			if got := BackoffDelay(class, failures); got < minBackoff {
				t.Errorf("BackoffDelay(%s, %d) = %v, below floor %v", class, failures, got, minBackoff)
			}
		}
	}
}

// 未识别的错误类别字符串降级为UNKNOWN
func TestParseErrorClass(t *testing.T) {
	if got := ParseErrorClass("RATE_LIMIT_EXCEEDED"); got != ErrorRateLimitExceeded {
		t.Errorf("ParseErrorClass(RATE_LIMIT_EXCEEDED) = %s", got)
	}
	if got := ParseErrorClass("whatever"); got != ErrorUnknown {
		t.Errorf("ParseErrorClass(whatever) = %s, want UNKNOWN", got)
	}
	if got := ParseErrorClass(""); got != ErrorUnknown {
		t.Errorf("ParseErrorClass(empty) = %s, want UNKNOWN", got)
	}
}

func TestIsRateLimit(t *testing.T) {
	if !ErrorRateLimitExceeded.IsRateLimit() || !ErrorQuotaExhausted.IsRateLimit() || !ErrorModelCapacityExhausted.IsRateLimit() {
		t.Error("限流类错误应返回true")
	}
	if ErrorServerError.IsRateLimit() || ErrorUnknown.IsRateLimit() {
		t.Error("非限流类错误应返回false")
	}
}
