package scheduler

import (
	"context"
	"fmt"
	"log/slog"

	"llm-scheduler/config"
	"llm-scheduler/internal/events"
)

// BaseOrderFunc obtains the base profile ordering from the external
// resolver (plain round-robin with simple cooldown, no health awareness).
type BaseOrderFunc func(ctx context.Context, provider, preferred string) ([]string, error)

// Request carries the parameters for one ordering decision.
type Request struct {
	Provider  string
	ModelID   string
	Preferred string
	BaseOrder BaseOrderFunc
}

// orderOutcome records internally whether intelligent ordering succeeded
// or the resolver fell back to the base order, and why. Only the ordering
// itself crosses the public boundary; the reason feeds logs and events.
type orderOutcome struct {
	order    []string
	fallback bool
	reason   string
}

// Resolver is the public entry point of the scheduler. It merges the
// external base ordering with the provider's health/quota-aware ordering
// per the configured strategy, and fails open to the base order on any
// internal error: a scheduling bug must never block the ability to attempt
// a call with some valid ordering.
type Resolver struct {
	registry *Registry
	config   func() *config.Config
	eventBus events.EventBus
}

// NewResolver creates a Resolver. configFn supplies the current
// configuration on every call so hot reloads take effect immediately.
func NewResolver(registry *Registry, configFn func() *config.Config, eventBus events.EventBus) *Resolver {
	return &Resolver{
		registry: registry,
		config:   configFn,
		eventBus: eventBus,
	}
}

// ResolveProfileOrder returns the profile ordering to try for a request.
// When multi-account scheduling is disabled for the provider, the base
// order has fewer than two entries, or no model is given, the base order
// is returned unchanged — there is nothing intelligent selection could
// improve.
func (r *Resolver) ResolveProfileOrder(ctx context.Context, req Request) []string {
	baseOrder, err := req.BaseOrder(ctx, req.Provider, req.Preferred)
	if err != nil {
		slog.Warn(fmt.Sprintf("⚠️ [账号调度] 基础排序获取失败: %s (供应商: %s)", err, req.Provider))
		return nil
	}

	cfg := r.config()
	if !cfg.MultiAccountEnabledFor(req.Provider) || len(baseOrder) < 2 || req.ModelID == "" {
		return baseOrder
	}

	outcome := r.orderWithManager(req, baseOrder, ParseStrategy(cfg.MultiAccount.Strategy))
	if outcome.fallback {
		slog.Warn(fmt.Sprintf("⚠️ [账号调度] 智能排序降级，返回基础排序: %s (供应商: %s, 模型: %s)",
			outcome.reason, req.Provider, req.ModelID))
		r.publishFallback(req, outcome.reason)
	}
	return outcome.order
}

// ResolveProfileOrderSync is the synchronous variant for callers that
// cannot wait on manager initialization. It always returns the plain base
// order; intelligent selection is only available through
// ResolveProfileOrder. Known limitation, kept for compatibility.
func (r *Resolver) ResolveProfileOrderSync(req Request) []string {
	baseOrder, err := req.BaseOrder(context.Background(), req.Provider, req.Preferred)
	if err != nil {
		return nil
	}
	return baseOrder
}

// orderWithManager runs the strategy ordering with total fallback safety:
// any panic inside the account manager degrades to the unmodified base
// order instead of propagating.
func (r *Resolver) orderWithManager(req Request, baseOrder []string, strategy Strategy) (outcome orderOutcome) {
	defer func() {
		if rec := recover(); rec != nil {
			outcome = orderOutcome{
				order:    baseOrder,
				fallback: true,
				reason:   fmt.Sprintf("internal panic: %v", rec),
			}
		}
	}()

	manager := r.registry.Manager(req.Provider)
	ordered := manager.OrderCandidates(baseOrder, req.ModelID, strategy, req.Preferred)

	// 防御：排序结果必须覆盖全部候选账号，否则视为内部错误
	if len(ordered) != len(dedupe(baseOrder)) {
		return orderOutcome{
			order:    baseOrder,
			fallback: true,
			reason:   fmt.Sprintf("ordering lost candidates: %d -> %d", len(baseOrder), len(ordered)),
		}
	}

	return orderOutcome{order: ordered}
}

// publishFallback 发布降级事件，便于诊断静默回退
func (r *Resolver) publishFallback(req Request, reason string) {
	if r.eventBus == nil {
		return
	}
	r.eventBus.Publish(events.Event{
		Type:     events.EventSelectionFallback,
		Source:   "resolver",
		Priority: events.PriorityNormal,
		Data: map[string]interface{}{
			"provider": req.Provider,
			"model":    req.ModelID,
			"reason":   reason,
		},
	})
}
