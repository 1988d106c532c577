package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"jobhive/internal/database"
)

// 通知类型。
const (
	TypeApplicationReceived = "application_received"
	TypeApplicationUpdated  = "application_updated"
	TypeApplicationCanceled = "application_canceled"
	TypeHired               = "hired"
	TypeChatMessage         = "chat_message"
	TypePostComment         = "post_comment"
	TypePostReaction        = "post_reaction"
	TypeResumeGenerated     = "resume_generated"
	TypeAnnouncement        = "announcement"
)

// fanOutBatchSize 限制一次广播的并发推送量：批内并行，批间串行。
const fanOutBatchSize = 100

// Dispatcher 先把通知落库，再向用户的实时频道做尽力推送。
// 推送失败只记日志，永远不会让上层业务操作失败。
type Dispatcher struct {
	db     *gorm.DB
	redis  redis.UniversalClient
	logger *slog.Logger
}

// PushMessage 是经由 Redis Pub/Sub 转发给 WebSocket 客户端的载荷。
type PushMessage struct {
	Type     string `json:"type"`
	EntityID uint   `json:"entity_id"`
	Message  string `json:"message"`
}

// NewDispatcher 构造通知分发器。
func NewDispatcher(db *gorm.DB, redisClient redis.UniversalClient, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{db: db, redis: redisClient, logger: logger}
}

// Channel 返回用户实时通道的 Redis 频道名。
func Channel(userID uint) string {
	return fmt.Sprintf("user_notify:%d", userID)
}

// Send 持久化一条通知并尽力推送。返回错误仅当落库失败。
func (d *Dispatcher) Send(ctx context.Context, userID uint, notifType string, entityID uint, message string) error {
	record := database.Notification{
		UserID:   userID,
		Type:     notifType,
		EntityID: entityID,
		Message:  message,
	}
	if err := d.db.WithContext(ctx).Create(&record).Error; err != nil {
		return fmt.Errorf("persist notification: %w", err)
	}

	d.push(ctx, userID, PushMessage{Type: notifType, EntityID: entityID, Message: message})
	return nil
}

// SendToUsers 按固定批量向多名用户分发同一通知：批内并行，批间串行，
// 以约束同时进行的扇出负载。单个用户失败不会中断其余用户，最后聚合返回。
func (d *Dispatcher) SendToUsers(ctx context.Context, userIDs []uint, notifType string, entityID uint, message string) error {
	var (
		mu     sync.Mutex
		failed int
	)

	for start := 0; start < len(userIDs); start += fanOutBatchSize {
		end := start + fanOutBatchSize
		if end > len(userIDs) {
			end = len(userIDs)
		}

		var wg sync.WaitGroup
		for _, userID := range userIDs[start:end] {
			wg.Add(1)
			go func(userID uint) {
				defer wg.Done()
				if err := d.Send(ctx, userID, notifType, entityID, message); err != nil {
					d.logger.Error("notification fan-out failed",
						slog.Uint64("user_id", uint64(userID)),
						slog.Any("error", err),
					)
					mu.Lock()
					failed++
					mu.Unlock()
				}
			}(userID)
		}
		wg.Wait()
	}

	if failed > 0 {
		return fmt.Errorf("notification fan-out: %d of %d recipients failed", failed, len(userIDs))
	}
	return nil
}

// push 发布到用户频道。没有订阅者或 Redis 不可用都不算业务错误。
func (d *Dispatcher) push(ctx context.Context, userID uint, msg PushMessage) {
	payload, err := json.Marshal(msg)
	if err != nil {
		d.logger.Error("marshal push payload failed", slog.Any("error", err))
		return
	}
	if err := d.redis.Publish(ctx, Channel(userID), payload).Err(); err != nil {
		d.logger.Warn("push notification failed",
			slog.Uint64("user_id", uint64(userID)),
			slog.Any("error", err),
		)
	}
}
