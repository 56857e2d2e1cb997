package scheduler

import (
	"testing"
	"time"
)

func newTestTracker(clock *fakeClock) *RateLimitTracker {
	tr := NewRateLimitTracker()
	tr.now = clock.Now
	return tr
}

func TestMarkRateLimitedBasics(t *testing.T) {
	clock := newFakeClock()
	tr := newTestTracker(clock)

	if tr.IsRateLimited("a", "m") {
		t.Fatal("未上报失败前不应处于冷却")
	}

	delay, recorded := tr.MarkRateLimited("a", "m", ErrorQuotaExhausted)
	if !recorded {
		t.Fatal("首次上报应被记录")
	}
	if delay != 60*time.Second {
		t.Errorf("首次配额冷却 = %v, want 60s", delay)
	}
	if !tr.IsRateLimited("a", "m") {
		t.Error("上报后应处于冷却")
	}
	if got := tr.ConsecutiveFailures("a", "m"); got != 1 {
		t.Errorf("连续失败计数 = %d, want 1", got)
	}

	// 冷却只作用于该(账号,模型)对
	if tr.IsRateLimited("a", "other") || tr.IsRateLimited("b", "m") {
		t.Error("冷却不应影响其他账号对")
	}

	// 冷却到期后自动恢复
	clock.Advance(61 * time.Second)
	if tr.IsRateLimited("a", "m") {
		t.Error("冷却到期后不应仍被限流")
	}
}

// 去重窗口内的重复上报是无操作：冷却截止时间不变
func TestMarkRateLimitedDedupWindow(t *testing.T) {
	clock := newFakeClock()
	tr := newTestTracker(clock)

	first, recorded := tr.MarkRateLimited("a", "m", ErrorQuotaExhausted)
	if !recorded {
		t.Fatal("首次上报应被记录")
	}

	clock.Advance(1 * time.Second)
	remaining, recorded := tr.MarkRateLimited("a", "m", ErrorQuotaExhausted)
	if recorded {
		t.Error("去重窗口内的上报不应被记录")
	}
	if want := first - 1*time.Second; remaining != want {
		t.Errorf("去重上报返回剩余冷却 = %v, want %v", remaining, want)
	}
	if got := tr.ConsecutiveFailures("a", "m"); got != 1 {
		t.Errorf("去重后计数 = %d, want 1 (不递增)", got)
	}

	// 刚好越过窗口边界则正常记录
	clock.Advance(1 * time.Second)
	_, recorded = tr.MarkRateLimited("a", "m", ErrorQuotaExhausted)
	if !recorded {
		t.Error("越过去重窗口后应被记录")
	}
}

// 第4次被记录的失败应用300秒延长冷却，覆盖配额梯度表
func TestFourthRecordedFailureExtendedCooldown(t *testing.T) {
	clock := newFakeClock()
	tr := newTestTracker(clock)

	expected := []time.Duration{
		60 * time.Second,
		300 * time.Second,
		1800 * time.Second,
		300 * time.Second,
	}

	for i, want := range expected {
		delay, recorded := tr.MarkRateLimited("a", "m", ErrorQuotaExhausted)
		if !recorded {
			t.Fatalf("第%d次上报未被记录", i+1)
		}
		if delay != want {
			t.Errorf("第%d次冷却 = %v, want %v", i+1, delay, want)
		}
		clock.Advance(3 * time.Second) // 越过去重窗口但在静置重置之内
	}
}

// 第4次失败的延长冷却对任意错误类别生效
func TestFourthRecordedFailureAnyClass(t *testing.T) {
	for _, class := range []ErrorClass{ErrorRateLimitExceeded, ErrorServerError, ErrorModelCapacityExhausted} {
		clock := newFakeClock()
		tr := newTestTracker(clock)

		var delay time.Duration
		for i := 0; i < 4; i++ {
			delay, _ = tr.MarkRateLimited("a", "m", class)
			clock.Advance(3 * time.Second)
		}
		if delay != extendedCooldown {
			t.Errorf("类别%s第4次冷却 = %v, want %v", class, delay, extendedCooldown)
		}
	}
}

// 配置的默认冷却只作用于UNKNOWN类，延长冷却仍然优先
func TestDefaultCooldownForUnknownClass(t *testing.T) {
	clock := newFakeClock()
	tr := newTestTracker(clock)
	tr.SetDefaultCooldown(8 * time.Second)

	delay, _ := tr.MarkRateLimited("a", "m", ErrorUnknown)
	if delay != 8*time.Second {
		t.Errorf("UNKNOWN冷却 = %v, want 8s (配置值)", delay)
	}

	// 其他类别不受影响
	delay, _ = tr.MarkRateLimited("b", "m", ErrorServerError)
	if delay != 2*time.Second {
		t.Errorf("SERVER_ERROR冷却 = %v, want 2s", delay)
	}

	// 达到阈值后延长冷却覆盖配置值
	for i := 0; i < 3; i++ {
		clock.Advance(3 * time.Second)
		delay, _ = tr.MarkRateLimited("a", "m", ErrorUnknown)
	}
	if delay != extendedCooldown {
		t.Errorf("阈值后UNKNOWN冷却 = %v, want %v", delay, extendedCooldown)
	}
}

// 静置超过60秒后失败历史归零，重新按首次失败计算
func TestInactivityResetsFailureHistory(t *testing.T) {
	clock := newFakeClock()
	tr := newTestTracker(clock)

	tr.MarkRateLimited("a", "m", ErrorQuotaExhausted)
	clock.Advance(3 * time.Second)
	tr.MarkRateLimited("a", "m", ErrorQuotaExhausted) // 计数2, 300s

	clock.Advance(61 * time.Second)
	delay, recorded := tr.MarkRateLimited("a", "m", ErrorQuotaExhausted)
	if !recorded {
		t.Fatal("静置后的上报应被记录")
	}
	if delay != 60*time.Second {
		t.Errorf("静置重置后的冷却 = %v, want 60s (按首次失败)", delay)
	}
	if got := tr.ConsecutiveFailures("a", "m"); got != 1 {
		t.Errorf("静置重置后计数 = %d, want 1", got)
	}
}

func TestMarkSuccessClearsState(t *testing.T) {
	clock := newFakeClock()
	tr := newTestTracker(clock)

	tr.MarkRateLimited("a", "m", ErrorRateLimitExceeded)
	tr.MarkSuccess("a", "m")

	if tr.IsRateLimited("a", "m") {
		t.Error("成功后不应仍处于冷却")
	}
	if got := tr.ConsecutiveFailures("a", "m"); got != 0 {
		t.Errorf("成功后计数 = %d, want 0", got)
	}
}

func TestResetProfileClearsAllModels(t *testing.T) {
	clock := newFakeClock()
	tr := newTestTracker(clock)

	tr.MarkRateLimited("a", "m1", ErrorQuotaExhausted)
	tr.MarkRateLimited("a", "m2", ErrorQuotaExhausted)
	tr.MarkRateLimited("b", "m1", ErrorQuotaExhausted)

	tr.ResetProfile("a")

	if tr.IsRateLimited("a", "m1") || tr.IsRateLimited("a", "m2") {
		t.Error("重置后账号a不应有任何冷却")
	}
	if !tr.IsRateLimited("b", "m1") {
		t.Error("重置账号a不应影响账号b")
	}
}

func TestStatesSnapshot(t *testing.T) {
	clock := newFakeClock()
	tr := newTestTracker(clock)

	tr.MarkRateLimited("a", "m1", ErrorQuotaExhausted)
	tr.MarkRateLimited("a", "m2", ErrorServerError)
	tr.MarkRateLimited("b", "m1", ErrorRateLimitExceeded)

	states := tr.States("a")
	if len(states) != 2 {
		t.Fatalf("账号a的状态数 = %d, want 2", len(states))
	}
	for _, s := range states {
		if s.ProfileID != "a" {
			t.Errorf("快照包含其他账号: %s", s.ProfileID)
		}
		if s.ConsecutiveFailures != 1 {
			t.Errorf("快照计数 = %d, want 1", s.ConsecutiveFailures)
		}
	}

	if all := tr.States(""); len(all) != 3 {
		t.Errorf("全量快照数 = %d, want 3", len(all))
	}
}

// 连续失败计数封顶，不随失败无限增长
func TestConsecutiveFailuresCapped(t *testing.T) {
	clock := newFakeClock()
	tr := newTestTracker(clock)

	for i := 0; i < 20; i++ {
		tr.MarkRateLimited("a", "m", ErrorServerError)
		clock.Advance(3 * time.Second)
	}
	if got := tr.ConsecutiveFailures("a", "m"); got != maxTrackedFailures {
		t.Errorf("计数 = %d, want %d (封顶)", got, maxTrackedFailures)
	}
}
