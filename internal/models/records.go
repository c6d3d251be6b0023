package models

import "time"

// CommKind 通信类型
type CommKind string

const (
	CommKindCall CommKind = "call"
	CommKindText CommKind = "text"
)

// FrequencyRecord 允许的通信记录（用于频率限额统计）
// 创建后不可变，加载时会惰性清理 24 小时以前的记录
type FrequencyRecord struct {
	ContactID  string    `json:"contact_id"`
	Kind       CommKind  `json:"kind"`
	OccurredAt time.Time `json:"occurred_at"`
}

// BlockedMessage 被拦截的短信（审计记录）
// 仅由监护人手动清除，不自动清理
type BlockedMessage struct {
	ID         string    `json:"id"`
	ContactID  string    `json:"contact_id"`
	Text       string    `json:"text"`
	OccurredAt time.Time `json:"occurred_at"`
}

// BlockedCall 被拦截的通话（审计记录）
type BlockedCall struct {
	ID                    string    `json:"id"`
	ContactID             string    `json:"contact_id"`
	OccurredAt            time.Time `json:"occurred_at"`
	VoicemailRecordingRef string    `json:"voicemail_recording_ref,omitempty"`
}

// CommunicationStats 最近 24 小时内允许的通信次数（监护人面板用）
type CommunicationStats struct {
	Calls int `json:"calls"`
	Texts int `json:"texts"`
}
