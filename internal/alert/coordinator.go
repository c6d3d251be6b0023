package alert

import (
	"context"
	"fmt"
	"sync"
	"time"

	"wisefido-companion/internal/gateway"
	"wisefido-companion/internal/governor"
	"wisefido-companion/internal/models"
	"wisefido-companion/internal/repository"
	"wisefido-companion/internal/store"

	"go.uber.org/zap"
)

// 存储键后缀（拼接在配置的键前缀之后）
const stateKeySuffix = "alert:state"

// 拦截计数的滚动统计窗口
const blockedWindow = 24 * time.Hour

// ViolationSource 拦截记录数据源（由 RateGovernor 实现）
type ViolationSource interface {
	BlockedCountSince(since time.Time) int
	LifetimeBlockedCount() int
	RecentViolations(since time.Time, limit int) []governor.Violation
}

// Coordinator 监护人告警协调器
// 持有告警配置与升级状态机（断路器语义：某级别触发后不再重复触发，
// 直到监护人显式重置）；所有状态变更经互斥锁串行化并直写 KV 存储
type Coordinator struct {
	kv        store.KV
	keyPrefix string
	source    ViolationSource
	gateway   gateway.Gateway
	alertLog  *repository.AlertLogRepository // 可选，nil 时跳过投递日志
	logger    *zap.Logger
	debounce  time.Duration

	mu           sync.Mutex
	state        *models.AlertState
	pendingCheck *time.Timer
}

// NewCoordinator 创建告警协调器
// alertLog 为 nil 时不记录投递日志
func NewCoordinator(
	kv store.KV,
	keyPrefix string,
	source ViolationSource,
	gw gateway.Gateway,
	alertLog *repository.AlertLogRepository,
	debounce time.Duration,
	logger *zap.Logger,
) *Coordinator {
	return &Coordinator{
		kv:        kv,
		keyPrefix: keyPrefix,
		source:    source,
		gateway:   gw,
		alertLog:  alertLog,
		logger:    logger,
		debounce:  debounce,
		state:     models.DefaultAlertState(),
	}
}

// LoadState 从 KV 存储加载告警状态
// 缺失或损坏的数据回退到默认配置（记录日志，不中断）；可重复调用
func (c *Coordinator) LoadState(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	raw, err := c.kv.Get(ctx, c.keyPrefix+stateKeySuffix)
	if err != nil {
		if err != store.ErrNotFound {
			c.logger.Warn("Failed to read alert state, using defaults",
				zap.Error(err),
			)
		}
		c.state = models.DefaultAlertState()
		return
	}

	state, err := models.DecodeAlertState(raw)
	if err != nil {
		c.logger.Warn("Corrupt alert state, using defaults",
			zap.Error(err),
		)
		c.state = models.DefaultAlertState()
		return
	}
	c.state = state

	c.logger.Info("Alert state loaded",
		zap.String("status", string(state.Status)),
		zap.Int("primary_threshold", state.PrimaryThreshold),
		zap.Int("escalation_threshold", state.EscalationThreshold),
	)
}

// OnCommunicationBlocked 通信被拦截后的入口（fire-and-forget）
// 延迟一个防抖窗口再评估，短时间内的多次拦截合并为一次评估
func (c *Coordinator) OnCommunicationBlocked() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pendingCheck != nil {
		// 已有待执行的评估，合并
		return
	}

	c.pendingCheck = time.AfterFunc(c.debounce, func() {
		c.mu.Lock()
		c.pendingCheck = nil
		c.mu.Unlock()

		c.CheckAndSendAlerts(context.Background())
	})
}

// Stop 取消待执行的防抖评估
func (c *Coordinator) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pendingCheck != nil {
		c.pendingCheck.Stop()
		c.pendingCheck = nil
	}
}

// CheckAndSendAlerts 核心状态转移函数
// 每次调用最多执行一个转移；升级只能从 PrimarySent 到达，
// 即使首次评估时两个阈值都已超过，也需要两次评估才到 EscalationSent；
// 重复调用是幂等的（断路器已触发的级别不再发送）
func (c *Coordinator) CheckAndSendAlerts(ctx context.Context) {
	c.mu.Lock()

	if !c.state.NotificationsEnabled {
		c.mu.Unlock()
		return
	}

	now := time.Now()
	todayBlocked := c.source.BlockedCountSince(now.Add(-blockedWindow))

	var level models.AlertStatus
	switch {
	case c.state.Status == models.AlertStatusPrimarySent &&
		c.state.EscalationEnabled &&
		c.state.EscalationThreshold > c.state.PrimaryThreshold &&
		todayBlocked >= c.state.EscalationThreshold:
		c.state.Status = models.AlertStatusEscalationSent
		c.state.EscalationSentAt = &now
		level = models.AlertStatusEscalationSent

	case c.state.Status == models.AlertStatusReady &&
		todayBlocked >= c.state.PrimaryThreshold:
		c.state.Status = models.AlertStatusPrimarySent
		c.state.PrimarySentAt = &now
		level = models.AlertStatusPrimarySent

	default:
		c.mu.Unlock()
		return
	}

	// 先持久化状态再投递：网关挂起不能阻塞本地状态写入
	c.persistState(ctx)

	smsEnabled := c.state.SMSEnabled
	toNumber := c.state.PhoneNumber
	c.mu.Unlock()

	c.logger.Info("Alert state advanced",
		zap.String("level", string(level)),
		zap.Int("today_blocked", todayBlocked),
	)

	body := composeAlertBody(level, todayBlocked,
		c.source.RecentViolations(now.Add(-blockedWindow), maxSummaryViolations))
	c.deliver(ctx, level, todayBlocked, toNumber, body, smsEnabled)
}

// deliver 投递告警短信并记录投递日志
// 投递失败仅记录日志，不回滚状态转移（断路器已视为触发）
func (c *Coordinator) deliver(ctx context.Context, level models.AlertStatus, todayBlocked int, toNumber, body string, smsEnabled bool) {
	var deliverErr error
	delivered := false

	switch {
	case !smsEnabled:
		deliverErr = fmt.Errorf("sms notifications disabled")
	case toNumber == "":
		deliverErr = fmt.Errorf("no caregiver phone number configured")
	default:
		deliverErr = c.gateway.SendText(ctx, toNumber, body)
		delivered = deliverErr == nil
	}

	if deliverErr != nil {
		c.logger.Error("Alert delivery failed, breaker stays tripped",
			zap.String("level", string(level)),
			zap.Error(deliverErr),
		)
	}

	if c.alertLog != nil {
		entry := &repository.AlertLogEntry{
			Level:        string(level),
			BlockedCount: todayBlocked,
			ToNumber:     toNumber,
			Body:         body,
			Delivered:    delivered,
			SentAt:       time.Now(),
		}
		if deliverErr != nil {
			entry.Error = deliverErr.Error()
		}
		if err := c.alertLog.CreateAlertLog(ctx, entry); err != nil {
			c.logger.Error("Failed to write alert delivery log",
				zap.Error(err),
			)
		}
	}
}

// persistState 持久化告警状态（调用方需持有锁）
// 失败仅记录日志
func (c *Coordinator) persistState(ctx context.Context) {
	raw, err := models.EncodeAlertState(c.state)
	if err != nil {
		c.logger.Error("Failed to encode alert state", zap.Error(err))
		return
	}
	if err := c.kv.Set(ctx, c.keyPrefix+stateKeySuffix, raw); err != nil {
		c.logger.Error("Failed to persist alert state", zap.Error(err))
	}
}

// ResetAlerts 完全重置（监护人操作）：回到 Ready，清除两级时间戳
func (c *Coordinator) ResetAlerts(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	c.state.Status = models.AlertStatusReady
	c.state.PrimarySentAt = nil
	c.state.EscalationSentAt = nil
	c.state.LastResetAt = &now
	c.persistState(ctx)

	c.logger.Info("Alerts reset by caregiver")
}

// ResetPrimaryAlert 单级回退：PrimarySent → Ready（状态不匹配时不做任何事）
func (c *Coordinator) ResetPrimaryAlert(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.Status != models.AlertStatusPrimarySent {
		return
	}
	c.state.Status = models.AlertStatusReady
	c.state.PrimarySentAt = nil
	c.persistState(ctx)
}

// ResetEscalationAlert 单级回退：EscalationSent → PrimarySent（状态不匹配时不做任何事）
func (c *Coordinator) ResetEscalationAlert(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.Status != models.AlertStatusEscalationSent {
		return
	}
	c.state.Status = models.AlertStatusPrimarySent
	c.state.EscalationSentAt = nil
	c.persistState(ctx)
}

// Settings 监护人可编辑的告警配置（不含状态机字段）
type Settings struct {
	PhoneNumber          string
	NotificationsEnabled bool
	SMSEnabled           bool
	PrimaryThreshold     int
	EscalationEnabled    bool
	EscalationThreshold  int
}

// UpdateSettings 更新告警配置（监护人编辑）
// 不触碰状态机状态与时间戳；EscalationThreshold <= PrimaryThreshold
// 的配置会被接受，但升级条件在评估时永远不会满足
func (c *Coordinator) UpdateSettings(ctx context.Context, settings Settings) error {
	if settings.PrimaryThreshold < 1 {
		return fmt.Errorf("primary threshold must be >= 1")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.state.PhoneNumber = settings.PhoneNumber
	c.state.NotificationsEnabled = settings.NotificationsEnabled
	c.state.SMSEnabled = settings.SMSEnabled
	c.state.PrimaryThreshold = settings.PrimaryThreshold
	c.state.EscalationEnabled = settings.EscalationEnabled
	c.state.EscalationThreshold = settings.EscalationThreshold
	c.persistState(ctx)
	return nil
}

// GetSettings 返回当前告警配置
func (c *Coordinator) GetSettings() Settings {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Settings{
		PhoneNumber:          c.state.PhoneNumber,
		NotificationsEnabled: c.state.NotificationsEnabled,
		SMSEnabled:           c.state.SMSEnabled,
		PrimaryThreshold:     c.state.PrimaryThreshold,
		EscalationEnabled:    c.state.EscalationEnabled,
		EscalationThreshold:  c.state.EscalationThreshold,
	}
}

// Status 返回当前状态机状态
func (c *Coordinator) Status() models.AlertStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Status
}

// SendTestAlert 发送测试告警（监护人设置界面用）
// 显式强制发送：不修改阈值，也不推进状态机
func (c *Coordinator) SendTestAlert(ctx context.Context) error {
	c.mu.Lock()
	toNumber := c.state.PhoneNumber
	smsEnabled := c.state.SMSEnabled
	c.mu.Unlock()

	if toNumber == "" {
		return fmt.Errorf("no caregiver phone number configured")
	}
	if !smsEnabled {
		return fmt.Errorf("sms notifications disabled")
	}

	now := time.Now()
	todayBlocked := c.source.BlockedCountSince(now.Add(-blockedWindow))
	body := composeTestAlertBody(todayBlocked)

	if err := c.gateway.SendText(ctx, toNumber, body); err != nil {
		return fmt.Errorf("failed to send test alert: %w", err)
	}

	c.logger.Info("Test alert sent", zap.String("to", toNumber))
	return nil
}

// ViolationStats 监护人设置界面的只读统计
type ViolationStats struct {
	TodayBlocked          int
	LifetimeBlocked       int
	PrimaryTriggered      bool
	PrimarySentAt         *time.Time
	EscalationTriggered   bool
	EscalationSentAt      *time.Time
	PrimaryThresholdAt    *time.Time // 滚动窗口内第 PrimaryThreshold 次违规的时间
	EscalationThresholdAt *time.Time // 滚动窗口内第 EscalationThreshold 次违规的时间
}

// GetCurrentViolationStats 返回当前违规统计（只读投影）
// 阈值对应的违规时间通过按时间正序回放拦截记录重建
func (c *Coordinator) GetCurrentViolationStats() ViolationStats {
	now := time.Now()
	violations := c.source.RecentViolations(now.Add(-blockedWindow), 0)
	// RecentViolations 返回倒序，反转为正序回放
	for i, j := 0, len(violations)-1; i < j; i, j = i+1, j-1 {
		violations[i], violations[j] = violations[j], violations[i]
	}
	lifetime := c.source.LifetimeBlockedCount()

	c.mu.Lock()
	defer c.mu.Unlock()

	stats := ViolationStats{
		TodayBlocked:        len(violations),
		LifetimeBlocked:     lifetime,
		PrimaryTriggered:    c.state.Status == models.AlertStatusPrimarySent || c.state.Status == models.AlertStatusEscalationSent,
		PrimarySentAt:       c.state.PrimarySentAt,
		EscalationTriggered: c.state.Status == models.AlertStatusEscalationSent,
		EscalationSentAt:    c.state.EscalationSentAt,
	}

	if n := c.state.PrimaryThreshold; n >= 1 && len(violations) >= n {
		at := violations[n-1].OccurredAt
		stats.PrimaryThresholdAt = &at
	}
	if n := c.state.EscalationThreshold; n >= 1 && len(violations) >= n {
		at := violations[n-1].OccurredAt
		stats.EscalationThresholdAt = &at
	}
	return stats
}
