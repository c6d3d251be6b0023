package service

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"wisefido-companion/internal/alert"
	"wisefido-companion/internal/config"
	"wisefido-companion/internal/gateway"
	"wisefido-companion/internal/governor"
	"wisefido-companion/internal/models"
	"wisefido-companion/internal/repository"
	"wisefido-companion/internal/store"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	_ "github.com/lib/pq"
)

// CompanionService 陪伴服务（整合各层）
// 每进程一个实例，显式构造并注入依赖，通过引用传递给调用方
type CompanionService struct {
	config      *config.Config
	db          *sql.DB
	redisClient *redis.Client
	logger      *zap.Logger

	// 各层组件
	kv           store.KV
	governor     *governor.RateGovernor
	coordinator  *alert.Coordinator
	gateway      gateway.Gateway
	alertLogRepo *repository.AlertLogRepository
}

// NewCompanionService 创建陪伴服务
func NewCompanionService(cfg *config.Config, logger *zap.Logger) (*CompanionService, error) {
	// 1. 连接数据库
	db, err := sql.Open("postgres", buildDSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// 测试数据库连接
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// 2. 连接 Redis
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	// 测试 Redis 连接
	ctx := context.Background()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	// 3. 创建 KV 存储与仓库层
	kv := store.NewRedisKV(redisClient)
	alertLogRepo := repository.NewAlertLogRepository(db, logger)

	// 4. 创建频率限制器
	keyPrefix := cfg.Companion.Storage.KeyPrefix
	gov := governor.NewRateGovernor(kv, keyPrefix, logger)

	// 5. 创建消息网关
	gw := gateway.NewTwilioClient(
		cfg.Companion.Twilio.BaseURL,
		cfg.Companion.Twilio.AccountSID,
		cfg.Companion.Twilio.AuthToken,
		cfg.Companion.Twilio.FromNumber,
		logger,
	)

	// 6. 创建告警协调器
	debounce := time.Duration(cfg.Companion.Alert.DebounceMS) * time.Millisecond
	coordinator := alert.NewCoordinator(kv, keyPrefix, gov, gw, alertLogRepo, debounce, logger)

	return &CompanionService{
		config:       cfg,
		db:           db,
		redisClient:  redisClient,
		logger:       logger,
		kv:           kv,
		governor:     gov,
		coordinator:  coordinator,
		gateway:      gw,
		alertLogRepo: alertLogRepo,
	}, nil
}

// Start 启动服务：加载持久化状态后阻塞等待上下文取消
func (s *CompanionService) Start(ctx context.Context) error {
	s.logger.Info("Starting companion service")

	s.governor.LoadRecords(ctx)
	s.coordinator.LoadState(ctx)

	<-ctx.Done()
	return nil
}

// Stop 停止服务
func (s *CompanionService) Stop() error {
	s.logger.Info("Stopping companion service")

	// 取消待执行的告警评估
	s.coordinator.Stop()

	// 关闭数据库连接
	if err := s.db.Close(); err != nil {
		s.logger.Error("Failed to close database",
			zap.Error(err),
		)
	}

	// 关闭 Redis 连接
	if err := s.redisClient.Close(); err != nil {
		s.logger.Error("Failed to close redis",
			zap.Error(err),
		)
	}

	return nil
}

// Governor 返回频率限制器（供设置层查询/编辑限额与统计）
func (s *CompanionService) Governor() *governor.RateGovernor {
	return s.governor
}

// Coordinator 返回告警协调器（供设置层编辑配置/重置/测试告警）
func (s *CompanionService) Coordinator() *alert.Coordinator {
	return s.coordinator
}

// AlertLog 返回告警投递日志仓库（供监护人面板查询）
func (s *CompanionService) AlertLog() *repository.AlertLogRepository {
	return s.alertLogRepo
}

// AttemptCall 通话发起前的决策入口
// 允许时记录一次通信并返回 true（实际拨号由上层电话流程执行）；
// 拒绝时记录拦截、异步触发告警评估并返回 false——调用方 UI 仍然
// 展示"已完成"，被保护用户永远看不到被拒绝（软拦截策略）
func (s *CompanionService) AttemptCall(ctx context.Context, contactID, voicemailRef string) bool {
	if s.governor.CanCommunicate(contactID, models.CommKindCall) {
		s.governor.RecordCommunication(ctx, contactID, models.CommKindCall)
		return true
	}

	s.governor.StoreBlockedCall(ctx, contactID, voicemailRef)
	s.coordinator.OnCommunicationBlocked()
	return false
}

// AttemptText 短信发送前的决策入口（语义同 AttemptCall）
func (s *CompanionService) AttemptText(ctx context.Context, contactID, text string) bool {
	if s.governor.CanCommunicate(contactID, models.CommKindText) {
		s.governor.RecordCommunication(ctx, contactID, models.CommKindText)
		return true
	}

	s.governor.StoreBlockedMessage(ctx, contactID, text)
	s.coordinator.OnCommunicationBlocked()
	return false
}

// buildDSN 构建数据库连接字符串
func buildDSN(cfg *config.Config) string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Database.Host,
		cfg.Database.Port,
		cfg.Database.User,
		cfg.Database.Password,
		cfg.Database.Database,
		cfg.Database.SSLMode,
	)
}
