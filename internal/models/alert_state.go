package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// AlertStatus 告警状态机状态（封闭枚举）
type AlertStatus string

const (
	AlertStatusReady          AlertStatus = "ready"
	AlertStatusPrimarySent    AlertStatus = "primary_sent"
	AlertStatusEscalationSent AlertStatus = "escalation_sent"
)

// AlertStateVersion 持久化格式版本
const AlertStateVersion = 1

// 默认阈值
const (
	DefaultPrimaryThreshold    = 5
	DefaultEscalationThreshold = 15
)

// AlertState 监护人告警配置与状态机（进程内单实例）
// 状态只能向前推进（Ready → PrimarySent → EscalationSent），
// 回退仅通过监护人显式重置操作
type AlertState struct {
	PhoneNumber          string      `json:"phone_number,omitempty"`
	NotificationsEnabled bool        `json:"notifications_enabled"`
	SMSEnabled           bool        `json:"sms_enabled"`
	PrimaryThreshold     int         `json:"primary_threshold"`
	EscalationEnabled    bool        `json:"escalation_enabled"`
	EscalationThreshold  int         `json:"escalation_threshold"`
	Status               AlertStatus `json:"status"`
	LastResetAt          *time.Time  `json:"last_reset_at,omitempty"`
	PrimarySentAt        *time.Time  `json:"primary_sent_at,omitempty"`
	EscalationSentAt     *time.Time  `json:"escalation_sent_at,omitempty"`
}

// alertStateEnvelope 带版本号的持久化外层结构
type alertStateEnvelope struct {
	Version int        `json:"version"`
	State   AlertState `json:"state"`
}

// DefaultAlertState 返回默认配置（未配置监护人号码，通知关闭）
func DefaultAlertState() *AlertState {
	return &AlertState{
		NotificationsEnabled: false,
		SMSEnabled:           true,
		PrimaryThreshold:     DefaultPrimaryThreshold,
		EscalationEnabled:    false,
		EscalationThreshold:  DefaultEscalationThreshold,
		Status:               AlertStatusReady,
	}
}

// EncodeAlertState 序列化为带版本号的 JSON
func EncodeAlertState(state *AlertState) (string, error) {
	data, err := json.Marshal(alertStateEnvelope{
		Version: AlertStateVersion,
		State:   *state,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal alert state: %w", err)
	}
	return string(data), nil
}

// DecodeAlertState 从持久化 JSON 解析告警状态
// 缺失字段按文档默认值补齐，解析后做一次规范化；
// 核心状态机逻辑因此无需防御旧版/残缺数据
func DecodeAlertState(raw string) (*AlertState, error) {
	var envelope alertStateEnvelope
	if err := json.Unmarshal([]byte(raw), &envelope); err != nil {
		return nil, fmt.Errorf("failed to unmarshal alert state: %w", err)
	}

	state := envelope.State
	state.normalize()
	return &state, nil
}

// normalize 规范化加载的状态（仅在加载路径调用）
func (s *AlertState) normalize() {
	switch s.Status {
	case AlertStatusReady, AlertStatusPrimarySent, AlertStatusEscalationSent:
	default:
		// 未知状态值（旧版数据）回退到初始状态
		s.Status = AlertStatusReady
	}

	if s.PrimaryThreshold < 1 {
		s.PrimaryThreshold = DefaultPrimaryThreshold
	}
	if s.EscalationThreshold < 1 {
		s.EscalationThreshold = DefaultEscalationThreshold
	}

	// EscalationSent 要求升级配置有效，否则降级到 PrimarySent
	if s.Status == AlertStatusEscalationSent {
		if !s.EscalationEnabled || s.EscalationThreshold <= s.PrimaryThreshold {
			s.Status = AlertStatusPrimarySent
			s.EscalationSentAt = nil
		}
	}

	// 时间戳与状态保持一致
	switch s.Status {
	case AlertStatusReady:
		s.PrimarySentAt = nil
		s.EscalationSentAt = nil
	case AlertStatusPrimarySent:
		s.EscalationSentAt = nil
		if s.PrimarySentAt == nil {
			now := time.Now()
			s.PrimarySentAt = &now
		}
	case AlertStatusEscalationSent:
		now := time.Now()
		if s.PrimarySentAt == nil {
			s.PrimarySentAt = &now
		}
		if s.EscalationSentAt == nil {
			s.EscalationSentAt = &now
		}
	}
}
