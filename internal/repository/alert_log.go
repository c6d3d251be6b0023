package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AlertLogEntry 监护人告警投递日志（append-only，监护人面板用）
type AlertLogEntry struct {
	LogID        string
	Level        string // "primary_sent" 或 "escalation_sent"
	BlockedCount int
	ToNumber     string
	Body         string
	Delivered    bool
	Error        string
	SentAt       time.Time
	CreatedAt    time.Time
}

// AlertLogRepository 告警投递日志仓库
type AlertLogRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewAlertLogRepository 创建告警投递日志仓库
func NewAlertLogRepository(db *sql.DB, logger *zap.Logger) *AlertLogRepository {
	return &AlertLogRepository{
		db:     db,
		logger: logger,
	}
}

// CreateAlertLog 写入一条投递日志
// LogID 为空时自动生成
func (r *AlertLogRepository) CreateAlertLog(ctx context.Context, entry *AlertLogEntry) error {
	if entry == nil {
		return fmt.Errorf("entry is required")
	}
	if entry.Level == "" {
		return fmt.Errorf("level is required")
	}
	if entry.LogID == "" {
		entry.LogID = uuid.New().String()
	}
	if entry.SentAt.IsZero() {
		entry.SentAt = time.Now()
	}

	query := `
		INSERT INTO companion_alert_log (
			log_id,
			level,
			blocked_count,
			to_number,
			body,
			delivered,
			error,
			sent_at,
			created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
	`

	_, err := r.db.ExecContext(ctx, query,
		entry.LogID,
		entry.Level,
		entry.BlockedCount,
		entry.ToNumber,
		entry.Body,
		entry.Delivered,
		nullString(entry.Error),
		entry.SentAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert alert log: %w", err)
	}

	r.logger.Debug("Alert log entry created",
		zap.String("log_id", entry.LogID),
		zap.String("level", entry.Level),
		zap.Bool("delivered", entry.Delivered),
	)
	return nil
}

// ListAlertLogs 按发送时间倒序列出投递日志
// limit <= 0 时使用默认值 50
func (r *AlertLogRepository) ListAlertLogs(ctx context.Context, limit int) ([]AlertLogEntry, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT
			log_id,
			level,
			blocked_count,
			to_number,
			body,
			delivered,
			error,
			sent_at,
			created_at
		FROM companion_alert_log
		ORDER BY sent_at DESC
		LIMIT $1
	`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query alert log: %w", err)
	}
	defer rows.Close()

	var entries []AlertLogEntry
	for rows.Next() {
		var entry AlertLogEntry
		var errText sql.NullString
		if err := rows.Scan(
			&entry.LogID,
			&entry.Level,
			&entry.BlockedCount,
			&entry.ToNumber,
			&entry.Body,
			&entry.Delivered,
			&errText,
			&entry.SentAt,
			&entry.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan alert log row: %w", err)
		}
		if errText.Valid {
			entry.Error = errText.String
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate alert log rows: %w", err)
	}

	return entries, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
