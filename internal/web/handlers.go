package web

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"llm-scheduler/internal/scheduler"
	"llm-scheduler/internal/utils"
)

// handleProviders 返回所有配置的供应商及其调度状态
func (ws *WebServer) handleProviders(c *gin.Context) {
	type providerInfo struct {
		Name         string `json:"name"`
		Profiles     int    `json:"profiles"`
		MultiAccount bool   `json:"multi_account"`
		Active       bool   `json:"active"` // 是否已创建账号管理器
	}

	providers := make([]providerInfo, 0, len(ws.config.Providers))
	for _, p := range ws.config.Providers {
		_, active := ws.registry.Peek(p.Name)
		providers = append(providers, providerInfo{
			Name:         p.Name,
			Profiles:     len(p.Profiles),
			MultiAccount: ws.config.MultiAccountEnabledFor(p.Name),
			Active:       active,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"providers": providers,
		"strategy":  ws.config.MultiAccount.Strategy,
	})
}

// handleProviderProfiles 返回指定供应商下所有账号的健康分与冷却状态
func (ws *WebServer) handleProviderProfiles(c *gin.Context) {
	name := c.Param("name")

	if len(ws.store.Profiles(name)) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "provider not found: " + name})
		return
	}

	// 管理器按需创建：查询即触发创建，保证冷启动时也能看到账号列表
	manager := ws.registry.Manager(name)
	c.JSON(http.StatusOK, gin.H{
		"provider": name,
		"profiles": manager.Status(),
	})
}

// handleOrderPreview 预览一次调度决策：给定模型返回当前会选出的账号顺序
// 调试用只读接口，基础排序取配置中的账号声明顺序
func (ws *WebServer) handleOrderPreview(c *gin.Context) {
	name := c.Param("name")

	profiles := ws.store.Profiles(name)
	if len(profiles) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "provider not found: " + name})
		return
	}

	baseOrder := func(ctx context.Context, provider, preferred string) ([]string, error) {
		ids := make([]string, 0, len(profiles))
		for _, p := range profiles {
			ids = append(ids, p.ID)
		}
		return ids, nil
	}

	order := ws.resolver.ResolveProfileOrder(c.Request.Context(), scheduler.Request{
		Provider:  name,
		ModelID:   c.Query("model"),
		Preferred: c.Query("preferred"),
		BaseOrder: baseOrder,
	})

	c.JSON(http.StatusOK, gin.H{
		"provider": name,
		"model":    c.Query("model"),
		"order":    order,
	})
}

// handleProfileReset 手动重置账号：恢复满分健康并清除全部冷却
func (ws *WebServer) handleProfileReset(c *gin.Context) {
	name := c.Param("name")
	profileID := c.Param("id")

	if _, ok := ws.store.Lookup(name, profileID); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "profile not found: " + profileID})
		return
	}

	manager, ok := ws.registry.Peek(name)
	if !ok {
		// 尚无管理器意味着没有任何累积状态，重置天然成立
		c.JSON(http.StatusOK, gin.H{"status": "ok", "note": "no scheduler state to reset"})
		return
	}

	manager.Reset(profileID)
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleStats 返回运行统计：事件总线、结果跟踪与运行时长
func (ws *WebServer) handleStats(c *gin.Context) {
	stats := gin.H{
		"uptime":      utils.FormatDuration(time.Since(ws.startTime)),
		"start_time":  ws.startTime.Format("2006-01-02 15:04:05"),
		"providers":   ws.registry.Providers(),
		"sse_clients": ws.sse.ClientCount(),
	}

	if ws.eventBus != nil {
		stats["events"] = ws.eventBus.GetStats()
	}
	if ws.tracker != nil {
		stats["tracking"] = ws.tracker.Stats()
	}

	c.JSON(http.StatusOK, stats)
}

// handleUsageSummary 按账号汇总历史调度结果（需要启用结果跟踪）
func (ws *WebServer) handleUsageSummary(c *gin.Context) {
	if ws.tracker == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "tracking is not enabled"})
		return
	}

	provider := c.Query("provider")
	if provider == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "provider query parameter is required"})
		return
	}

	days := 7
	if v := c.Query("days"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "days must be a positive integer"})
			return
		}
		days = parsed
	}

	summaries, err := ws.tracker.ProfileSummaries(c.Request.Context(), provider, days)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	errorCounts, err := ws.tracker.ErrorClassCounts(c.Request.Context(), days)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"provider":     provider,
		"days":         days,
		"profiles":     summaries,
		"error_counts": errorCounts,
	})
}
