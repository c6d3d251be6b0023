package governor

import (
	"context"
	"sort"
	"time"

	"wisefido-companion/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Violation 被拦截的通信尝试（合并通话与短信，供告警摘要使用）
type Violation struct {
	Kind       models.CommKind
	ContactID  string
	OccurredAt time.Time
	Preview    string // 短信内容（通话为空）
}

// StoreBlockedMessage 记录一条被拦截的短信
// 绝不让调用方流程失败：UI 已向用户展示"发送完成"，
// 持久化错误仅记录日志
func (g *RateGovernor) StoreBlockedMessage(ctx context.Context, contactID, text string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	msg := models.BlockedMessage{
		ID:         uuid.New().String(),
		ContactID:  contactID,
		Text:       text,
		OccurredAt: time.Now(),
	}
	g.blockedMessages = append(g.blockedMessages, msg)
	g.persistBlockedMessages(ctx)

	g.logger.Info("Blocked message stored",
		zap.String("message_id", msg.ID),
		zap.String("contact_id", contactID),
	)
}

// StoreBlockedCall 记录一次被拦截的通话（可附带语音留言引用）
func (g *RateGovernor) StoreBlockedCall(ctx context.Context, contactID, voicemailRef string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	call := models.BlockedCall{
		ID:                    uuid.New().String(),
		ContactID:             contactID,
		OccurredAt:            time.Now(),
		VoicemailRecordingRef: voicemailRef,
	}
	g.blockedCalls = append(g.blockedCalls, call)
	g.persistBlockedCalls(ctx)

	g.logger.Info("Blocked call stored",
		zap.String("call_id", call.ID),
		zap.String("contact_id", contactID),
	)
}

// ClearBlockedMessages 清空被拦截短信（监护人操作，不可恢复）
func (g *RateGovernor) ClearBlockedMessages(ctx context.Context) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.blockedMessages = nil
	g.persistBlockedMessages(ctx)
}

// ClearBlockedCalls 清空被拦截通话（监护人操作，不可恢复）
func (g *RateGovernor) ClearBlockedCalls(ctx context.Context) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.blockedCalls = nil
	g.persistBlockedCalls(ctx)
}

// ClearAllBlocked 清空全部拦截记录
func (g *RateGovernor) ClearAllBlocked(ctx context.Context) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.blockedMessages = nil
	g.blockedCalls = nil
	g.persistBlockedMessages(ctx)
	g.persistBlockedCalls(ctx)
}

// BlockedCountSince 统计 since 之后被拦截的通信总数（短信 + 通话）
func (g *RateGovernor) BlockedCountSince(since time.Time) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	count := 0
	for _, msg := range g.blockedMessages {
		if msg.OccurredAt.After(since) {
			count++
		}
	}
	for _, call := range g.blockedCalls {
		if call.OccurredAt.After(since) {
			count++
		}
	}
	return count
}

// LifetimeBlockedCount 统计全部拦截记录总数
func (g *RateGovernor) LifetimeBlockedCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	return len(g.blockedMessages) + len(g.blockedCalls)
}

// RecentViolations 返回 since 之后的拦截记录，按时间倒序（最近在前），
// 最多返回 limit 条；limit <= 0 表示不限制
func (g *RateGovernor) RecentViolations(since time.Time, limit int) []Violation {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.violationsSince(since, limit)
}

// violationsSince 合并并排序拦截记录（调用方需持有锁）
func (g *RateGovernor) violationsSince(since time.Time, limit int) []Violation {
	var violations []Violation
	for _, msg := range g.blockedMessages {
		if msg.OccurredAt.After(since) {
			violations = append(violations, Violation{
				Kind:       models.CommKindText,
				ContactID:  msg.ContactID,
				OccurredAt: msg.OccurredAt,
				Preview:    msg.Text,
			})
		}
	}
	for _, call := range g.blockedCalls {
		if call.OccurredAt.After(since) {
			violations = append(violations, Violation{
				Kind:       models.CommKindCall,
				ContactID:  call.ContactID,
				OccurredAt: call.OccurredAt,
			})
		}
	}

	sort.Slice(violations, func(i, j int) bool {
		return violations[i].OccurredAt.After(violations[j].OccurredAt)
	})

	if limit > 0 && len(violations) > limit {
		violations = violations[:limit]
	}
	return violations
}
