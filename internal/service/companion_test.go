package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"wisefido-companion/internal/alert"
	"wisefido-companion/internal/config"
	"wisefido-companion/internal/gateway"
	"wisefido-companion/internal/governor"
	"wisefido-companion/internal/models"
	"wisefido-companion/internal/store"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// noopGateway 仅用于单元测试
type noopGateway struct {
	mu   sync.Mutex
	sent int
}

func (g *noopGateway) SendText(ctx context.Context, toNumber, body string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sent++
	return nil
}

func (g *noopGateway) PlaceCall(ctx context.Context, toNumber string) error {
	return nil
}

func (g *noopGateway) sentCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.sent
}

var _ gateway.Gateway = (*noopGateway)(nil)

// setupTestService 构建不依赖 PostgreSQL 的服务实例（投递日志为 nil）
func setupTestService(t *testing.T) (*CompanionService, *noopGateway) {
	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	logger := zap.NewNop()
	kv := store.NewRedisKV(redisClient)
	gov := governor.NewRateGovernor(kv, "companion:", logger)
	gw := &noopGateway{}
	coordinator := alert.NewCoordinator(kv, "companion:", gov, gw, nil, 10*time.Millisecond, logger)

	svc := &CompanionService{
		redisClient: redisClient,
		logger:      logger,
		kv:          kv,
		governor:    gov,
		coordinator: coordinator,
		gateway:     gw,
	}

	ctx := context.Background()
	gov.LoadRecords(ctx)
	coordinator.LoadState(ctx)
	t.Cleanup(coordinator.Stop)

	return svc, gw
}

func TestAttemptText_AllowedRecordsCommunication(t *testing.T) {
	svc, _ := setupTestService(t)
	ctx := context.Background()

	allowed := svc.AttemptText(ctx, "c1", "hello")
	assert.True(t, allowed)

	stats := svc.Governor().GetCommunicationStats("c1")
	assert.Equal(t, 1, stats.Texts)
	assert.Equal(t, 0, svc.Governor().LifetimeBlockedCount())
}

func TestAttemptText_DeniedStoresBlockedAndTriggersAlert(t *testing.T) {
	svc, gw := setupTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.Coordinator().UpdateSettings(ctx, alert.Settings{
		PhoneNumber:          "+15550001111",
		NotificationsEnabled: true,
		SMSEnabled:           true,
		PrimaryThreshold:     2,
		EscalationEnabled:    false,
		EscalationThreshold:  15,
	}))
	require.NoError(t, svc.Governor().SetContactQuota(ctx, "c1", &models.ContactQuota{
		Texts: models.KindQuota{Enabled: true, MaxPerHour: 0, MaxPerDay: 0},
	}))

	assert.False(t, svc.AttemptText(ctx, "c1", "first"))
	assert.False(t, svc.AttemptText(ctx, "c1", "second"))

	assert.Equal(t, 2, svc.Governor().LifetimeBlockedCount())

	// 防抖窗口过后触发一次告警评估
	require.Eventually(t, func() bool {
		return gw.sentCount() == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, models.AlertStatusPrimarySent, svc.Coordinator().Status())
}

func TestAttemptCall_DeniedByQuietHours(t *testing.T) {
	svc, _ := setupTestService(t)
	ctx := context.Background()

	// 全天免打扰
	require.NoError(t, svc.Governor().SetContactQuota(ctx, "c1", &models.ContactQuota{
		Calls:      models.KindQuota{Enabled: true, MaxPerHour: 100, MaxPerDay: 100},
		QuietHours: &models.QuietHours{Start: "00:00", End: "23:59"},
	}))

	allowed := svc.AttemptCall(ctx, "c1", "voicemail-1")
	assert.False(t, allowed)
	assert.Equal(t, 1, svc.Governor().LifetimeBlockedCount())

	violations := svc.Governor().RecentViolations(time.Now().Add(-time.Hour), 1)
	require.Len(t, violations, 1)
	assert.Equal(t, models.CommKindCall, violations[0].Kind)
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Database.Host = "db-host"
	cfg.Database.Port = 5432
	cfg.Database.User = "u"
	cfg.Database.Password = "p"
	cfg.Database.Database = "companion"
	cfg.Database.SSLMode = "disable"
	return cfg
}

func TestBuildDSN(t *testing.T) {
	cfg := testConfig()
	dsn := buildDSN(cfg)
	assert.Equal(t, "host=db-host port=5432 user=u password=p dbname=companion sslmode=disable", dsn)
}
