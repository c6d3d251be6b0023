package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// KindQuota 单一通信类型的限额配置
type KindQuota struct {
	Enabled    bool `json:"enabled"`
	MaxPerHour int  `json:"max_per_hour"`
	MaxPerDay  int  `json:"max_per_day"`
}

// QuietHours 免打扰时间段（本地时间，"HH:MM" 格式）
// Start > End 时表示跨越午夜的时间段，如 "22:00"-"06:00"
type QuietHours struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// ContactQuota 每联系人限额配置（缺失表示不限制）
// 仅由监护人设置编辑，频率限制器只读
type ContactQuota struct {
	Calls              KindQuota   `json:"calls"`
	Texts              KindQuota   `json:"texts"`
	VoicemailAllowance int         `json:"voicemail_allowance"`
	QuietHours         *QuietHours `json:"quiet_hours,omitempty"`
}

// ForKind 返回指定通信类型对应的限额
func (q *ContactQuota) ForKind(kind CommKind) KindQuota {
	if kind == CommKindCall {
		return q.Calls
	}
	return q.Texts
}

// parseClock 解析 "HH:MM" 为当天分钟数（0-1439）
func parseClock(s string) (int, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid clock format: %s", s)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, fmt.Errorf("invalid hour: %s", s)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("invalid minute: %s", s)
	}
	return hour*60 + minute, nil
}

// Validate 验证时间段格式
func (h *QuietHours) Validate() error {
	if _, err := parseClock(h.Start); err != nil {
		return err
	}
	if _, err := parseClock(h.End); err != nil {
		return err
	}
	return nil
}

// Contains 判断本地时间 now 是否在免打扰时间段内（边界包含）
// 配置无法解析时返回 false（宽松处理，不拦截）
func (h *QuietHours) Contains(now time.Time) bool {
	start, err := parseClock(h.Start)
	if err != nil {
		return false
	}
	end, err := parseClock(h.End)
	if err != nil {
		return false
	}

	minutes := now.Hour()*60 + now.Minute()

	// Start > End 表示跨越午夜：now >= start OR now <= end
	if start > end {
		return minutes >= start || minutes <= end
	}
	return minutes >= start && minutes <= end
}
