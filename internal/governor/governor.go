package governor

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"wisefido-companion/internal/models"
	"wisefido-companion/internal/store"

	"go.uber.org/zap"
)

// 存储键后缀（拼接在配置的键前缀之后）
const (
	frequencyKeySuffix       = "governor:frequency"
	blockedMessagesKeySuffix = "governor:blocked_messages"
	blockedCallsKeySuffix    = "governor:blocked_calls"
	quotasKeySuffix          = "governor:quotas"
)

// 频率记录保留窗口（超过后在加载时惰性清理）
const recordRetention = 24 * time.Hour

// RateGovernor 通信频率限制器
// 持有允许/拦截记录与每联系人限额，内存为唯一数据源，
// 每次变更直写 KV 存储；所有操作经互斥锁串行化
type RateGovernor struct {
	kv        store.KV
	keyPrefix string
	logger    *zap.Logger

	mu              sync.Mutex
	records         []models.FrequencyRecord
	blockedMessages []models.BlockedMessage
	blockedCalls    []models.BlockedCall
	quotas          map[string]*models.ContactQuota
}

// NewRateGovernor 创建频率限制器
func NewRateGovernor(kv store.KV, keyPrefix string, logger *zap.Logger) *RateGovernor {
	return &RateGovernor{
		kv:        kv,
		keyPrefix: keyPrefix,
		logger:    logger,
		quotas:    make(map[string]*models.ContactQuota),
	}
}

// LoadRecords 从 KV 存储加载全部记录
// 缺失或损坏的数据按空处理（记录日志，不中断）；
// 加载后清理过期的频率记录并回写；可重复调用（重新加载覆盖内存状态）
func (g *RateGovernor) LoadRecords(ctx context.Context) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.records = nil
	if raw, ok := g.loadRaw(ctx, frequencyKeySuffix); ok {
		g.unmarshalOrEmpty(frequencyKeySuffix, raw, &g.records)
	}

	g.blockedMessages = nil
	if raw, ok := g.loadRaw(ctx, blockedMessagesKeySuffix); ok {
		g.unmarshalOrEmpty(blockedMessagesKeySuffix, raw, &g.blockedMessages)
	}

	g.blockedCalls = nil
	if raw, ok := g.loadRaw(ctx, blockedCallsKeySuffix); ok {
		g.unmarshalOrEmpty(blockedCallsKeySuffix, raw, &g.blockedCalls)
	}

	g.quotas = make(map[string]*models.ContactQuota)
	if raw, ok := g.loadRaw(ctx, quotasKeySuffix); ok {
		g.unmarshalOrEmpty(quotasKeySuffix, raw, &g.quotas)
		if g.quotas == nil {
			g.quotas = make(map[string]*models.ContactQuota)
		}
	}

	// 惰性清理：删除保留窗口以外的频率记录并回写
	cutoff := time.Now().Add(-recordRetention)
	pruned := g.records[:0]
	for _, record := range g.records {
		if record.OccurredAt.After(cutoff) {
			pruned = append(pruned, record)
		}
	}
	g.records = pruned
	g.persistFrequency(ctx)

	g.logger.Info("Rate governor records loaded",
		zap.Int("frequency_records", len(g.records)),
		zap.Int("blocked_messages", len(g.blockedMessages)),
		zap.Int("blocked_calls", len(g.blockedCalls)),
		zap.Int("contact_quotas", len(g.quotas)),
	)
}

// loadRaw 读取单个存储键，缺失或读取失败时返回 false（按空处理）
func (g *RateGovernor) loadRaw(ctx context.Context, suffix string) (string, bool) {
	raw, err := g.kv.Get(ctx, g.keyPrefix+suffix)
	if err != nil {
		if err != store.ErrNotFound {
			g.logger.Warn("Failed to read key, treating as empty",
				zap.String("key", g.keyPrefix+suffix),
				zap.Error(err),
			)
		}
		return "", false
	}
	return raw, true
}

// unmarshalOrEmpty 解析 JSON，损坏的数据按空处理（记录日志）
func (g *RateGovernor) unmarshalOrEmpty(suffix, raw string, dest interface{}) {
	if err := json.Unmarshal([]byte(raw), dest); err != nil {
		g.logger.Warn("Corrupt data in key, treating as empty",
			zap.String("key", g.keyPrefix+suffix),
			zap.Error(err),
		)
	}
}

// CanCommunicate 判断当前是否允许与指定联系人进行指定类型的通信
// 无副作用；必须先调用 LoadRecords
func (g *RateGovernor) CanCommunicate(contactID string, kind models.CommKind) bool {
	return g.CanCommunicateAt(contactID, kind, time.Now())
}

// CanCommunicateAt 在指定时刻评估通信许可
// 判定顺序：
// 1. 无限额配置或该类型未启用限制 → 允许
// 2. 本地时间在免打扰时间段内 → 拒绝
// 3. 滚动窗口计数：小时内 < MaxPerHour 且 24 小时内 < MaxPerDay → 允许
func (g *RateGovernor) CanCommunicateAt(contactID string, kind models.CommKind, now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	quota, ok := g.quotas[contactID]
	if !ok || quota == nil {
		return true
	}

	kindQuota := quota.ForKind(kind)
	if !kindQuota.Enabled {
		return true
	}

	if quota.QuietHours != nil && quota.QuietHours.Contains(now) {
		return false
	}

	hourCutoff := now.Add(-time.Hour)
	dayCutoff := now.Add(-recordRetention)
	hourlyCount := 0
	dailyCount := 0
	for _, record := range g.records {
		if record.ContactID != contactID || record.Kind != kind {
			continue
		}
		if record.OccurredAt.After(dayCutoff) {
			dailyCount++
			if record.OccurredAt.After(hourCutoff) {
				hourlyCount++
			}
		}
	}

	return hourlyCount < kindQuota.MaxPerHour && dailyCount < kindQuota.MaxPerDay
}

// RecordCommunication 记录一次已允许并实际执行的通信
// 持久化失败仅记录日志，不影响调用方流程
func (g *RateGovernor) RecordCommunication(ctx context.Context, contactID string, kind models.CommKind) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.records = append(g.records, models.FrequencyRecord{
		ContactID:  contactID,
		Kind:       kind,
		OccurredAt: time.Now(),
	})
	g.persistFrequency(ctx)
}

// GetCommunicationStats 返回最近 24 小时内允许的通信次数（监护人面板用）
func (g *RateGovernor) GetCommunicationStats(contactID string) models.CommunicationStats {
	g.mu.Lock()
	defer g.mu.Unlock()

	cutoff := time.Now().Add(-recordRetention)
	stats := models.CommunicationStats{}
	for _, record := range g.records {
		if record.ContactID != contactID || !record.OccurredAt.After(cutoff) {
			continue
		}
		switch record.Kind {
		case models.CommKindCall:
			stats.Calls++
		case models.CommKindText:
			stats.Texts++
		}
	}
	return stats
}

// GetContactQuota 返回指定联系人的限额配置（无配置返回 nil，表示不限制）
func (g *RateGovernor) GetContactQuota(contactID string) *models.ContactQuota {
	g.mu.Lock()
	defer g.mu.Unlock()

	quota, ok := g.quotas[contactID]
	if !ok || quota == nil {
		return nil
	}
	copied := *quota
	if quota.QuietHours != nil {
		qh := *quota.QuietHours
		copied.QuietHours = &qh
	}
	return &copied
}

// SetContactQuota 设置联系人限额（监护人编辑，立即生效，不保留在途计数）
func (g *RateGovernor) SetContactQuota(ctx context.Context, contactID string, quota *models.ContactQuota) error {
	if contactID == "" {
		return fmt.Errorf("contact_id is required")
	}
	if quota != nil && quota.QuietHours != nil {
		if err := quota.QuietHours.Validate(); err != nil {
			return fmt.Errorf("invalid quiet hours: %w", err)
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if quota == nil {
		delete(g.quotas, contactID)
	} else {
		g.quotas[contactID] = quota
	}
	return g.persistQuotas(ctx)
}

// RemoveContactQuota 删除联系人限额（恢复为不限制）
func (g *RateGovernor) RemoveContactQuota(ctx context.Context, contactID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	delete(g.quotas, contactID)
	return g.persistQuotas(ctx)
}

// ============================================
// 持久化（调用方需持有锁）
// ============================================

func (g *RateGovernor) persistFrequency(ctx context.Context) {
	g.persistJSON(ctx, frequencyKeySuffix, g.records)
}

func (g *RateGovernor) persistBlockedMessages(ctx context.Context) {
	g.persistJSON(ctx, blockedMessagesKeySuffix, g.blockedMessages)
}

func (g *RateGovernor) persistBlockedCalls(ctx context.Context) {
	g.persistJSON(ctx, blockedCallsKeySuffix, g.blockedCalls)
}

func (g *RateGovernor) persistQuotas(ctx context.Context) error {
	data, err := json.Marshal(g.quotas)
	if err != nil {
		return fmt.Errorf("failed to marshal quotas: %w", err)
	}
	if err := g.kv.Set(ctx, g.keyPrefix+quotasKeySuffix, string(data)); err != nil {
		return fmt.Errorf("failed to persist quotas: %w", err)
	}
	return nil
}

// persistJSON 序列化并直写存储，失败仅记录日志
func (g *RateGovernor) persistJSON(ctx context.Context, suffix string, value interface{}) {
	data, err := json.Marshal(value)
	if err != nil {
		g.logger.Error("Failed to marshal records",
			zap.String("key", g.keyPrefix+suffix),
			zap.Error(err),
		)
		return
	}
	if err := g.kv.Set(ctx, g.keyPrefix+suffix, string(data)); err != nil {
		g.logger.Error("Failed to persist records",
			zap.String("key", g.keyPrefix+suffix),
			zap.Error(err),
		)
	}
}
