package events

import "time"

// 事件类型枚举
type EventType string

const (
	// 账号调度事件
	EventProfileRateLimited   EventType = "profile_rate_limited"
	EventProfileRecovered     EventType = "profile_recovered"
	EventProfileHealthChanged EventType = "profile_health_changed"

	// 选择器事件
	EventSelectionFallback EventType = "selection_fallback"

	// 系统级事件
	EventSystemError   EventType = "system_error"
	EventConfigChanged EventType = "config_changed"
)

// 事件优先级
type EventPriority int

const (
	PriorityLow      EventPriority = iota // 批量处理，如统计数据
	PriorityNormal                        // 延迟处理，如健康分微调
	PriorityHigh                          // 立即处理，如限流/恢复
	PriorityCritical                      // 紧急处理，如系统错误
)

// 事件结构
type Event struct {
	Type      EventType              `json:"type"`
	Source    string                 `json:"source"` // 事件来源组件
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
	Priority  EventPriority          `json:"priority"`
}

// 前端事件类型映射
var EventTypeMapping = map[EventType]string{
	EventProfileRateLimited:   "profile",
	EventProfileRecovered:     "profile",
	EventProfileHealthChanged: "profile",
	EventSelectionFallback:    "selection",
	EventSystemError:          "status",
	EventConfigChanged:        "config",
}
