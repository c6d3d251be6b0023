package alert

import (
	"fmt"
	"strings"

	"wisefido-companion/internal/governor"
	"wisefido-companion/internal/models"
)

// 摘要中最多列出的违规条数
const maxSummaryViolations = 5

// 短信内容预览的最大长度（按字符计）
const previewMaxLen = 30

// composeAlertBody 构建告警短信正文
// 包含滚动 24 小时拦截计数与最近的违规列表（最近在前），
// 升级级别使用更紧急的措辞
func composeAlertBody(level models.AlertStatus, todayBlocked int, violations []governor.Violation) string {
	var b strings.Builder

	if level == models.AlertStatusEscalationSent {
		b.WriteString(fmt.Sprintf(
			"URGENT care alert: %d blocked communication attempts in the last 24 hours. Repeated attempts may indicate distress or confusion - please check in as soon as possible.",
			todayBlocked,
		))
	} else {
		b.WriteString(fmt.Sprintf(
			"Care alert: %d blocked communication attempts in the last 24 hours.",
			todayBlocked,
		))
	}

	if len(violations) > 0 {
		b.WriteString(" Recent attempts:")
		for _, v := range violations {
			b.WriteString("\n- ")
			b.WriteString(formatViolation(v))
		}
	}

	return b.String()
}

// composeTestAlertBody 构建测试告警正文
func composeTestAlertBody(todayBlocked int) string {
	return fmt.Sprintf(
		"Test alert from your care companion. Current blocked attempts in the last 24 hours: %d. No action is needed.",
		todayBlocked,
	)
}

// formatViolation 格式化单条违规记录
func formatViolation(v governor.Violation) string {
	when := v.OccurredAt.Format("Jan 2 15:04")
	if v.Kind == models.CommKindCall {
		return fmt.Sprintf("%s call to %s", when, v.ContactID)
	}
	return fmt.Sprintf("%s text to %s: %q", when, v.ContactID, truncatePreview(v.Preview))
}

// truncatePreview 截断短信内容预览（按字符计，不截断多字节字符）
func truncatePreview(text string) string {
	runes := []rune(text)
	if len(runes) <= previewMaxLen {
		return text
	}
	return string(runes[:previewMaxLen]) + "..."
}
