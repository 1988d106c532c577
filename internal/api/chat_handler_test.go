package api

import (
	"bytes"
	"fmt"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"jobhive/internal/database"
	"jobhive/internal/secretbox"
)

func newChatTestRouter(t *testing.T, db *gorm.DB, box *secretbox.Box, userID uint) *gin.Engine {
	t.Helper()
	handler := NewChatHandler(db, box, newTestDispatcher(db), nil)
	router := gin.New()
	router.Use(asUser(userID, database.RoleJobSeeker))

	router.POST("/chats", handler.StartChat)
	router.GET("/chats", handler.ListChats)
	router.POST("/chats/:id/messages", handler.SendMessage)
	router.GET("/chats/:id/messages", handler.ListMessages)
	router.POST("/chats/:id/read", handler.MarkMessagesRead)
	return router
}

func newMasterBox(t *testing.T) *secretbox.Box {
	t.Helper()
	key, err := secretbox.NewKey()
	if err != nil {
		t.Fatalf("generate master key: %v", err)
	}
	box, err := secretbox.New(key)
	if err != nil {
		t.Fatalf("new master box: %v", err)
	}
	return box
}

func seedChatUsers(t *testing.T, db *gorm.DB) (uint, uint) {
	t.Helper()
	alice := database.User{Email: "alice@example.com", Role: database.RoleJobSeeker}
	bob := database.User{Email: "bob@example.com", Role: database.RoleEmployer}
	mustCreate(t, db, &alice)
	mustCreate(t, db, &bob)
	return alice.ID, bob.ID
}

func TestStartChatNormalizesPair(t *testing.T) {
	db := newTestDB(t)
	box := newMasterBox(t)
	aliceID, bobID := seedChatUsers(t, db)

	aliceRouter := newChatTestRouter(t, db, box, aliceID)
	bobRouter := newChatTestRouter(t, db, box, bobID)

	w := performJSON(t, aliceRouter, http.MethodPost, "/chats", gin.H{"user_id": bobID})
	if w.Code != http.StatusCreated {
		t.Fatalf("start chat: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	first := decodeBody(t, w)

	// 对端发起同一会话应返回同一条记录
	w = performJSON(t, bobRouter, http.MethodPost, "/chats", gin.H{"user_id": aliceID})
	if w.Code != http.StatusOK {
		t.Fatalf("restart chat: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	second := decodeBody(t, w)
	if first["id"] != second["id"] {
		t.Fatalf("expected same chat, got %v and %v", first["id"], second["id"])
	}

	var count int64
	db.Model(&database.Chat{}).Count(&count)
	if count != 1 {
		t.Fatalf("expected one chat row, got %d", count)
	}

	var chat database.Chat
	db.First(&chat)
	if chat.UserLowID >= chat.UserHighID {
		t.Fatalf("pair not normalized: low=%d high=%d", chat.UserLowID, chat.UserHighID)
	}
	if len(chat.EncryptedKey) == 0 {
		t.Fatal("chat key must be sealed and stored")
	}
}

func TestStartChatWithSelfRejected(t *testing.T) {
	db := newTestDB(t)
	aliceID, _ := seedChatUsers(t, db)

	router := newChatTestRouter(t, db, newMasterBox(t), aliceID)
	w := performJSON(t, router, http.MethodPost, "/chats", gin.H{"user_id": aliceID})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
}

func TestMessagesStoredEncryptedAndReadBack(t *testing.T) {
	db := newTestDB(t)
	box := newMasterBox(t)
	aliceID, bobID := seedChatUsers(t, db)

	aliceRouter := newChatTestRouter(t, db, box, aliceID)
	w := performJSON(t, aliceRouter, http.MethodPost, "/chats", gin.H{"user_id": bobID})
	chatID := uint(decodeBody(t, w)["id"].(float64))

	const plaintext = "see you at the interview"
	w = performJSON(t, aliceRouter, http.MethodPost, fmt.Sprintf("/chats/%d/messages", chatID), gin.H{"content": plaintext})
	if w.Code != http.StatusCreated {
		t.Fatalf("send: expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var stored database.ChatMessage
	if err := db.First(&stored).Error; err != nil {
		t.Fatalf("load message: %v", err)
	}
	if bytes.Contains(stored.Ciphertext, []byte(plaintext)) {
		t.Fatal("message stored in plaintext")
	}
	if stored.Status != database.MessageStatusDelivered {
		t.Fatalf("expected delivered after push hand-off, got %q", stored.Status)
	}

	// 参与者读取历史时解密还原
	bobRouter := newChatTestRouter(t, db, box, bobID)
	w = performJSON(t, bobRouter, http.MethodGet, fmt.Sprintf("/chats/%d/messages", chatID), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("history: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	items := body["items"].([]any)
	if len(items) != 1 {
		t.Fatalf("expected one message, got %d", len(items))
	}
	msg := items[0].(map[string]any)
	if msg["content"] != plaintext {
		t.Fatalf("decrypted content mismatch: %v", msg["content"])
	}
}

func TestNonParticipantCannotReadMessages(t *testing.T) {
	db := newTestDB(t)
	box := newMasterBox(t)
	aliceID, bobID := seedChatUsers(t, db)
	eve := database.User{Email: "eve@example.com", Role: database.RoleJobSeeker}
	mustCreate(t, db, &eve)

	aliceRouter := newChatTestRouter(t, db, box, aliceID)
	w := performJSON(t, aliceRouter, http.MethodPost, "/chats", gin.H{"user_id": bobID})
	chatID := uint(decodeBody(t, w)["id"].(float64))

	eveRouter := newChatTestRouter(t, db, box, eve.ID)
	w = performJSON(t, eveRouter, http.MethodGet, fmt.Sprintf("/chats/%d/messages", chatID), nil)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", w.Code, w.Body.String())
	}
}

func TestMarkMessagesReadReturnsOnlyChangedIDs(t *testing.T) {
	db := newTestDB(t)
	box := newMasterBox(t)
	aliceID, bobID := seedChatUsers(t, db)

	aliceRouter := newChatTestRouter(t, db, box, aliceID)
	bobRouter := newChatTestRouter(t, db, box, bobID)

	w := performJSON(t, aliceRouter, http.MethodPost, "/chats", gin.H{"user_id": bobID})
	chatID := uint(decodeBody(t, w)["id"].(float64))
	messagesPath := fmt.Sprintf("/chats/%d/messages", chatID)

	// alice 发两条，bob 发一条（自己发的不计未读）
	performJSON(t, aliceRouter, http.MethodPost, messagesPath, gin.H{"content": "one"})
	performJSON(t, aliceRouter, http.MethodPost, messagesPath, gin.H{"content": "two"})
	performJSON(t, bobRouter, http.MethodPost, messagesPath, gin.H{"content": "reply"})

	readPath := fmt.Sprintf("/chats/%d/read", chatID)
	w = performJSON(t, bobRouter, http.MethodPost, readPath, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("mark read: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	if got := len(body["read_ids"].([]any)); got != 2 {
		t.Fatalf("expected 2 changed messages, got %d", got)
	}

	// 第二次调用没有状态变化
	w = performJSON(t, bobRouter, http.MethodPost, readPath, nil)
	body = decodeBody(t, w)
	if got := len(body["read_ids"].([]any)); got != 0 {
		t.Fatalf("expected no changed messages on repeat, got %d", got)
	}
}
