package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"jobhive/internal/api/middleware"
	"jobhive/internal/database"
	"jobhive/internal/notify"
)

// NotificationHandler 负责通知的查询与状态管理，
// 以及内部服务调用的批量广播入口。
type NotificationHandler struct {
	db         *gorm.DB
	dispatcher *notify.Dispatcher
	logger     *slog.Logger
}

// NewNotificationHandler 构造 NotificationHandler。
func NewNotificationHandler(db *gorm.DB, dispatcher *notify.Dispatcher, logger *slog.Logger) *NotificationHandler {
	return &NotificationHandler{db: db, dispatcher: dispatcher, logger: logger}
}

// ListNotifications 列出调用者的通知，支持 unread=true 过滤。
func (h *NotificationHandler) ListNotifications(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	query := h.db.WithContext(c.Request.Context()).Where("user_id = ?", userID)
	if c.Query("unread") == "true" {
		query = query.Where("read = ?", false)
	}

	page, pageSize := paginationParams(c)
	var notifications []database.Notification
	if err := query.Order("created_at DESC").
		Offset((page - 1) * pageSize).Limit(pageSize).
		Find(&notifications).Error; err != nil {
		Internal(c, "failed to list notifications")
		return
	}

	items := make([]gin.H, 0, len(notifications))
	for _, n := range notifications {
		items = append(items, gin.H{
			"id":         n.ID,
			"type":       n.Type,
			"entity_id":  n.EntityID,
			"message":    n.Message,
			"read":       n.Read,
			"created_at": n.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "page": page, "page_size": pageSize})
}

// UnreadCount 返回调用者的未读通知数。
func (h *NotificationHandler) UnreadCount(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	var count int64
	if err := h.db.WithContext(c.Request.Context()).Model(&database.Notification{}).
		Where("user_id = ? AND read = ?", userID, false).
		Count(&count).Error; err != nil {
		Internal(c, "failed to count notifications")
		return
	}
	c.JSON(http.StatusOK, gin.H{"unread": count})
}

// MarkRead 把单条通知置为已读，仅限属主。
func (h *NotificationHandler) MarkRead(c *gin.Context) {
	notification, ok := h.notificationForOwner(c)
	if !ok {
		return
	}

	if !notification.Read {
		if err := h.db.WithContext(c.Request.Context()).Model(notification).
			Update("read", true).Error; err != nil {
			Internal(c, "failed to mark notification read")
			return
		}
	}
	c.Status(http.StatusNoContent)
}

// MarkAllRead 把调用者的全部未读通知置为已读。
func (h *NotificationHandler) MarkAllRead(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	result := h.db.WithContext(c.Request.Context()).Model(&database.Notification{}).
		Where("user_id = ? AND read = ?", userID, false).
		Update("read", true)
	if result.Error != nil {
		Internal(c, "failed to mark notifications read")
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": result.RowsAffected})
}

// DeleteNotification 软删除通知，仅限属主。
func (h *NotificationHandler) DeleteNotification(c *gin.Context) {
	notification, ok := h.notificationForOwner(c)
	if !ok {
		return
	}

	if err := h.db.WithContext(c.Request.Context()).Delete(notification).Error; err != nil {
		Internal(c, "failed to delete notification")
		return
	}
	c.Status(http.StatusNoContent)
}

type broadcastRequest struct {
	UserIDs []uint `json:"user_ids"`
	Message string `json:"message" binding:"required,max=512"`
}

// Broadcast 面向内部服务的批量通知入口（内部密钥保护）。
// user_ids 为空时广播给全部未删除用户。
func (h *NotificationHandler) Broadcast(c *gin.Context) {
	var req broadcastRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	ctx := c.Request.Context()
	userIDs := req.UserIDs
	if len(userIDs) == 0 {
		if err := h.db.WithContext(ctx).Model(&database.User{}).
			Pluck("id", &userIDs).Error; err != nil {
			Internal(c, "failed to load recipients")
			return
		}
	}

	if err := h.dispatcher.SendToUsers(ctx, userIDs, notify.TypeAnnouncement, 0, req.Message); err != nil {
		middleware.LoggerFromContext(c).Error("broadcast failed",
			slog.Int("recipients", len(userIDs)), slog.Any("error", err))
		Internal(c, "broadcast partially failed")
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"recipients": len(userIDs)})
}

// notificationForOwner 加载通知并校验归属；失败时已写好响应。
func (h *NotificationHandler) notificationForOwner(c *gin.Context) (*database.Notification, bool) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return nil, false
	}

	notificationID, err := parseIDParam(c, "id")
	if err != nil {
		BadRequest(c, "invalid notification id")
		return nil, false
	}

	var notification database.Notification
	if err := h.db.WithContext(c.Request.Context()).First(&notification, notificationID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			NotFound(c, "notification not found")
			return nil, false
		}
		Internal(c, "failed to load notification")
		return nil, false
	}
	if notification.UserID != userID {
		NotFound(c, "notification not found")
		return nil, false
	}
	return &notification, true
}
