package events

import (
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"
)

// captureBroadcaster 收集广播结果供断言
type captureBroadcaster struct {
	mu     sync.Mutex
	events []string
	active bool
	notify chan struct{}
}

func newCaptureBroadcaster() *captureBroadcaster {
	return &captureBroadcaster{active: true, notify: make(chan struct{}, 64)}
}

func (b *captureBroadcaster) BroadcastEvent(eventType string, data map[string]interface{}) {
	b.mu.Lock()
	b.events = append(b.events, eventType)
	b.mu.Unlock()
	b.notify <- struct{}{}
}

func (b *captureBroadcaster) IsActive() bool {
	return b.active
}

func (b *captureBroadcaster) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events)
}

func (b *captureBroadcaster) waitForEvents(t *testing.T, n int) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for b.count() < n {
		select {
		case <-b.notify:
		case <-deadline:
			t.Fatalf("等待广播超时: 收到%d个, want %d", b.count(), n)
		}
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestEventBusPublishBeforeStart(t *testing.T) {
	bus := NewEventBus(testLogger())

	// 未启动时事件被丢弃，不应恐慌
	bus.Publish(Event{Type: EventProfileRateLimited, Source: "test"})

	stats := bus.GetStats()
	if stats.TotalEvents != 0 {
		t.Errorf("未启动时事件数 = %d, want 0", stats.TotalEvents)
	}
}

func TestEventBusBroadcast(t *testing.T) {
	bus := NewEventBus(testLogger())
	broadcaster := newCaptureBroadcaster()
	bus.SetSSEBroadcaster(broadcaster)

	if err := bus.Start(); err != nil {
		t.Fatal(err)
	}
	defer bus.Stop()

	bus.Publish(Event{
		Type:     EventProfileRateLimited,
		Source:   "test",
		Priority: PriorityHigh,
		Data:     map[string]interface{}{"profile": "a"},
	})

	broadcaster.waitForEvents(t, 1)

	stats := bus.GetStats()
	if stats.TotalEvents != 1 {
		t.Errorf("事件总数 = %d, want 1", stats.TotalEvents)
	}
	if stats.EventsByType[EventProfileRateLimited] != 1 {
		t.Errorf("按类型统计 = %d, want 1", stats.EventsByType[EventProfileRateLimited])
	}
}

// 健康分变化事件受频率限制，限流/恢复事件不受限
func TestEventBusRateLimiting(t *testing.T) {
	bus := NewEventBus(testLogger())
	broadcaster := newCaptureBroadcaster()
	bus.SetSSEBroadcaster(broadcaster)

	if err := bus.Start(); err != nil {
		t.Fatal(err)
	}
	defer bus.Stop()

	// 快速发布多条健康分变化事件，只有第一条应被广播
	for i := 0; i < 5; i++ {
		bus.Publish(Event{Type: EventProfileHealthChanged, Source: "test"})
	}
	// 不受限的事件类型全部广播
	for i := 0; i < 3; i++ {
		bus.Publish(Event{Type: EventProfileRecovered, Source: "test"})
	}

	broadcaster.waitForEvents(t, 4) // 1条health + 3条recovered

	// 给处理器时间消化剩余事件后确认没有多余广播
	time.Sleep(100 * time.Millisecond)
	if got := broadcaster.count(); got != 4 {
		t.Errorf("广播数 = %d, want 4 (健康分事件被限频)", got)
	}
}

func TestEventBusInactiveBroadcaster(t *testing.T) {
	bus := NewEventBus(testLogger())
	broadcaster := newCaptureBroadcaster()
	broadcaster.active = false
	bus.SetSSEBroadcaster(broadcaster)

	if err := bus.Start(); err != nil {
		t.Fatal(err)
	}
	defer bus.Stop()

	bus.Publish(Event{Type: EventProfileRateLimited, Source: "test"})

	time.Sleep(100 * time.Millisecond)
	if got := broadcaster.count(); got != 0 {
		t.Errorf("非活跃广播器不应收到事件: %d", got)
	}
}

func TestEventBusStartStopIdempotent(t *testing.T) {
	bus := NewEventBus(testLogger())

	if err := bus.Start(); err != nil {
		t.Fatal(err)
	}
	if err := bus.Start(); err != nil {
		t.Error("重复启动应为无操作")
	}
	if err := bus.Stop(); err != nil {
		t.Fatal(err)
	}
	if err := bus.Stop(); err != nil {
		t.Error("重复停止应为无操作")
	}
}
