package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"jobhive/internal/api/middleware"
	"jobhive/internal/database"
	"jobhive/internal/notify"
	"jobhive/internal/secretbox"
)

// ChatHandler 负责一对一加密会话。
// 每个会话持有独立对称密钥，密钥在服务端主密钥下加密落库；
// 消息正文只存密文，读写路径上即时加解密。
type ChatHandler struct {
	db        *gorm.DB
	masterBox *secretbox.Box
	notifier  *notify.Dispatcher
	logger    *slog.Logger
}

// NewChatHandler 构造 ChatHandler。
func NewChatHandler(db *gorm.DB, masterBox *secretbox.Box, notifier *notify.Dispatcher, logger *slog.Logger) *ChatHandler {
	return &ChatHandler{db: db, masterBox: masterBox, notifier: notifier, logger: logger}
}

type startChatRequest struct {
	UserID uint `json:"user_id" binding:"required"`
}

// StartChat 开启与指定用户的会话。参与者按 (low, high) 归一化，
// 同一对用户重复调用返回同一个会话。
func (h *ChatHandler) StartChat(c *gin.Context) {
	var req startChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	if req.UserID == userID {
		BadRequest(c, "cannot start a chat with yourself")
		return
	}

	ctx := c.Request.Context()
	var peer database.User
	if err := h.db.WithContext(ctx).First(&peer, req.UserID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			NotFound(c, "user not found")
			return
		}
		Internal(c, "failed to load user")
		return
	}

	low, high := chatPair(userID, req.UserID)
	var chat database.Chat
	err := h.db.WithContext(ctx).
		Where("user_low_id = ? AND user_high_id = ?", low, high).
		First(&chat).Error
	if err == nil {
		c.JSON(http.StatusOK, gin.H{"id": chat.ID, "peer_id": req.UserID})
		return
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		Internal(c, "failed to load chat")
		return
	}

	chatKey, err := secretbox.NewKey()
	if err != nil {
		Internal(c, "failed to generate chat key")
		return
	}
	sealedKey, err := h.masterBox.Seal(chatKey)
	if err != nil {
		Internal(c, "failed to seal chat key")
		return
	}

	chat = database.Chat{UserLowID: low, UserHighID: high, EncryptedKey: sealedKey}
	if err := h.db.WithContext(ctx).Create(&chat).Error; err != nil {
		// 并发开启同一会话时唯一索引会拒绝第二行，读回赢家。
		if findErr := h.db.WithContext(ctx).
			Where("user_low_id = ? AND user_high_id = ?", low, high).
			First(&chat).Error; findErr == nil {
			c.JSON(http.StatusOK, gin.H{"id": chat.ID, "peer_id": req.UserID})
			return
		}
		Internal(c, "failed to create chat")
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": chat.ID, "peer_id": req.UserID})
}

// ListChats 列出调用者的全部会话及未读计数。
func (h *ChatHandler) ListChats(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	ctx := c.Request.Context()
	var chats []database.Chat
	if err := h.db.WithContext(ctx).
		Where("user_low_id = ? OR user_high_id = ?", userID, userID).
		Order("updated_at DESC").
		Find(&chats).Error; err != nil {
		Internal(c, "failed to list chats")
		return
	}

	items := make([]gin.H, 0, len(chats))
	for _, chat := range chats {
		peerID := chat.UserLowID
		if peerID == userID {
			peerID = chat.UserHighID
		}

		var unread int64
		if err := h.db.WithContext(ctx).Model(&database.ChatMessage{}).
			Where("chat_id = ? AND sender_id <> ? AND status <> ?", chat.ID, userID, database.MessageStatusRead).
			Count(&unread).Error; err != nil {
			Internal(c, "failed to count unread messages")
			return
		}

		items = append(items, gin.H{
			"id":      chat.ID,
			"peer_id": peerID,
			"unread":  unread,
		})
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

type sendMessageRequest struct {
	Content string `json:"content" binding:"required"`
}

// SendMessage 发送消息：加密落库为 sent，交给推送层后标记 delivered。
// 推送失败不影响消息本身，接收方可通过历史拉取。
func (h *ChatHandler) SendMessage(c *gin.Context) {
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	chat, userID, ok := h.chatForParticipant(c)
	if !ok {
		return
	}

	box, err := h.openChatBox(chat)
	if err != nil {
		middleware.LoggerFromContext(c).Error("open chat key failed",
			slog.Uint64("chat_id", uint64(chat.ID)), slog.Any("error", err))
		Internal(c, "failed to access chat key")
		return
	}

	ciphertext, err := box.Seal([]byte(req.Content))
	if err != nil {
		Internal(c, "failed to encrypt message")
		return
	}

	ctx := c.Request.Context()
	message := database.ChatMessage{
		ChatID:     chat.ID,
		SenderID:   userID,
		Ciphertext: ciphertext,
		Status:     database.MessageStatusSent,
	}
	if err := h.db.WithContext(ctx).Create(&message).Error; err != nil {
		Internal(c, "failed to store message")
		return
	}

	peerID := chat.UserLowID
	if peerID == userID {
		peerID = chat.UserHighID
	}
	if err := h.notifier.Send(ctx, peerID, notify.TypeChatMessage, chat.ID, "New message"); err != nil {
		middleware.LoggerFromContext(c).Error("notify chat message failed", slog.Any("error", err))
	}

	// delivered 表示已交给推送层，而非对端已读。
	if err := h.db.WithContext(ctx).Model(&message).
		Update("status", database.MessageStatusDelivered).Error; err != nil {
		middleware.LoggerFromContext(c).Error("mark message delivered failed", slog.Any("error", err))
	}

	c.JSON(http.StatusCreated, gin.H{
		"id":      message.ID,
		"chat_id": chat.ID,
		"status":  database.MessageStatusDelivered,
		"sent_at": message.CreatedAt,
	})
}

// ListMessages 拉取会话历史并解密，仅限参与者。
func (h *ChatHandler) ListMessages(c *gin.Context) {
	chat, _, ok := h.chatForParticipant(c)
	if !ok {
		return
	}

	box, err := h.openChatBox(chat)
	if err != nil {
		middleware.LoggerFromContext(c).Error("open chat key failed",
			slog.Uint64("chat_id", uint64(chat.ID)), slog.Any("error", err))
		Internal(c, "failed to access chat key")
		return
	}

	page, pageSize := paginationParams(c)
	var messages []database.ChatMessage
	if err := h.db.WithContext(c.Request.Context()).
		Where("chat_id = ?", chat.ID).
		Order("created_at DESC").
		Offset((page - 1) * pageSize).Limit(pageSize).
		Find(&messages).Error; err != nil {
		Internal(c, "failed to list messages")
		return
	}

	items := make([]gin.H, 0, len(messages))
	for _, m := range messages {
		plaintext, err := box.Open(m.Ciphertext)
		if err != nil {
			// 解不开的消息跳过而不是整页失败。
			middleware.LoggerFromContext(c).Error("decrypt message failed",
				slog.Uint64("message_id", uint64(m.ID)), slog.Any("error", err))
			continue
		}
		item := gin.H{
			"id":        m.ID,
			"sender_id": m.SenderID,
			"content":   string(plaintext),
			"status":    m.Status,
			"sent_at":   m.CreatedAt,
		}
		if m.EditedAt != nil {
			item["edited_at"] = m.EditedAt
		}
		items = append(items, item)
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

type editMessageRequest struct {
	Content string `json:"content" binding:"required"`
}

// EditMessage 编辑消息正文，仅限发送者。
func (h *ChatHandler) EditMessage(c *gin.Context) {
	var req editMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	chat, userID, ok := h.chatForParticipant(c)
	if !ok {
		return
	}

	message, ok := h.messageForSender(c, chat, userID)
	if !ok {
		return
	}

	box, err := h.openChatBox(chat)
	if err != nil {
		Internal(c, "failed to access chat key")
		return
	}
	ciphertext, err := box.Seal([]byte(req.Content))
	if err != nil {
		Internal(c, "failed to encrypt message")
		return
	}

	now := time.Now()
	if err := h.db.WithContext(c.Request.Context()).Model(message).Updates(map[string]any{
		"ciphertext": ciphertext,
		"edited_at":  &now,
	}).Error; err != nil {
		Internal(c, "failed to edit message")
		return
	}
	c.Status(http.StatusNoContent)
}

// DeleteMessage 删除消息，仅限发送者。
func (h *ChatHandler) DeleteMessage(c *gin.Context) {
	chat, userID, ok := h.chatForParticipant(c)
	if !ok {
		return
	}

	message, ok := h.messageForSender(c, chat, userID)
	if !ok {
		return
	}

	if err := h.db.WithContext(c.Request.Context()).Delete(message).Error; err != nil {
		Internal(c, "failed to delete message")
		return
	}
	c.Status(http.StatusNoContent)
}

// MarkMessagesRead 把对端发来的未读消息置为已读，只返回状态实际变化的消息 ID。
func (h *ChatHandler) MarkMessagesRead(c *gin.Context) {
	chat, userID, ok := h.chatForParticipant(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	var unread []database.ChatMessage
	if err := h.db.WithContext(ctx).
		Where("chat_id = ? AND sender_id <> ? AND status <> ?", chat.ID, userID, database.MessageStatusRead).
		Find(&unread).Error; err != nil {
		Internal(c, "failed to load unread messages")
		return
	}

	changed := make([]uint, 0, len(unread))
	for _, m := range unread {
		changed = append(changed, m.ID)
	}
	if len(changed) > 0 {
		if err := h.db.WithContext(ctx).Model(&database.ChatMessage{}).
			Where("id IN ?", changed).
			Update("status", database.MessageStatusRead).Error; err != nil {
			Internal(c, "failed to mark messages read")
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"read_ids": changed})
}

// chatForParticipant 加载会话并校验调用者是参与者；失败时已写好响应。
func (h *ChatHandler) chatForParticipant(c *gin.Context) (*database.Chat, uint, bool) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return nil, 0, false
	}

	chatID, err := parseIDParam(c, "id")
	if err != nil {
		BadRequest(c, "invalid chat id")
		return nil, 0, false
	}

	var chat database.Chat
	if err := h.db.WithContext(c.Request.Context()).First(&chat, chatID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			NotFound(c, "chat not found")
			return nil, 0, false
		}
		Internal(c, "failed to load chat")
		return nil, 0, false
	}
	if chat.UserLowID != userID && chat.UserHighID != userID {
		Forbidden(c, "not a chat participant")
		return nil, 0, false
	}
	return &chat, userID, true
}

// messageForSender 加载消息并校验归属会话与发送者；失败时已写好响应。
func (h *ChatHandler) messageForSender(c *gin.Context, chat *database.Chat, userID uint) (*database.ChatMessage, bool) {
	messageID, err := parseIDParam(c, "msgID")
	if err != nil {
		BadRequest(c, "invalid message id")
		return nil, false
	}

	var message database.ChatMessage
	if err := h.db.WithContext(c.Request.Context()).
		Where("id = ? AND chat_id = ?", messageID, chat.ID).
		First(&message).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			NotFound(c, "message not found")
			return nil, false
		}
		Internal(c, "failed to load message")
		return nil, false
	}
	if message.SenderID != userID {
		Forbidden(c, "not the message sender")
		return nil, false
	}
	return &message, true
}

// openChatBox 解开会话密钥并构造该会话的加密盒。
func (h *ChatHandler) openChatBox(chat *database.Chat) (*secretbox.Box, error) {
	chatKey, err := h.masterBox.Open(chat.EncryptedKey)
	if err != nil {
		return nil, fmt.Errorf("unseal chat key: %w", err)
	}
	return secretbox.New(chatKey)
}

// chatPair 把两名参与者归一化为 (low, high)。
func chatPair(a, b uint) (uint, uint) {
	if a < b {
		return a, b
	}
	return b, a
}
