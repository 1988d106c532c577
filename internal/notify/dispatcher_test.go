package notify

import (
	"context"
	"testing"

	"github.com/redis/go-redis/v9"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"jobhive/internal/database"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	// 单连接串行化写入，避免 sqlite 并发写报 busy。
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(1)
	}
	if err := db.AutoMigrate(&database.Notification{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

// unreachableRedis 指向不可达地址：每次 Publish 都失败，
// 用于验证推送失败不会影响落库结果。
func unreachableRedis() *redis.Client {
	return redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})
}

func TestSendPersistsDespitePushFailure(t *testing.T) {
	db := newTestDB(t)
	d := NewDispatcher(db, unreachableRedis(), nil)

	if err := d.Send(context.Background(), 7, TypeHired, 42, "you were hired"); err != nil {
		t.Fatalf("send: %v", err)
	}

	var stored database.Notification
	if err := db.First(&stored).Error; err != nil {
		t.Fatalf("load notification: %v", err)
	}
	if stored.UserID != 7 || stored.Type != TypeHired || stored.EntityID != 42 {
		t.Fatalf("unexpected notification %+v", stored)
	}
	if stored.Read {
		t.Fatal("new notification must be unread")
	}
}

func TestSendToUsersPersistsAllRecipients(t *testing.T) {
	db := newTestDB(t)
	d := NewDispatcher(db, unreachableRedis(), nil)

	users := make([]uint, 0, 250)
	for i := uint(1); i <= 250; i++ {
		users = append(users, i)
	}

	if err := d.SendToUsers(context.Background(), users, TypeAnnouncement, 0, "maintenance window"); err != nil {
		t.Fatalf("send to users: %v", err)
	}

	var count int64
	if err := db.Model(&database.Notification{}).Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 250 {
		t.Fatalf("expected 250 notifications, got %d", count)
	}
}

func TestChannelName(t *testing.T) {
	if got := Channel(12); got != "user_notify:12" {
		t.Fatalf("unexpected channel %q", got)
	}
}
