package api

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"jobhive/internal/database"
)

func newPostTestRouter(db *gorm.DB, userID uint) *gin.Engine {
	handler := NewPostHandler(db, nil, nil, newTestDispatcher(db), nil)
	router := gin.New()
	router.Use(asUser(userID, database.RoleJobSeeker))

	router.POST("/posts", handler.CreatePost)
	router.GET("/posts/:id", handler.GetPost)
	router.POST("/posts/:id/reactions", handler.ToggleReaction)
	router.POST("/posts/:id/comments", handler.CreateComment)
	router.GET("/posts", handler.ListFeed)
	return router
}

func seedPostUsers(t *testing.T, db *gorm.DB) (uint, uint) {
	t.Helper()
	author := database.User{Email: "author@example.com", Role: database.RoleJobSeeker}
	reader := database.User{Email: "reader@example.com", Role: database.RoleJobSeeker}
	mustCreate(t, db, &author)
	mustCreate(t, db, &reader)
	return author.ID, reader.ID
}

func TestReactionToggleIsIdempotentSwitch(t *testing.T) {
	db := newTestDB(t)
	authorID, readerID := seedPostUsers(t, db)
	post := database.Post{AuthorID: authorID, Content: "hello", Visibility: database.VisibilityPublic}
	mustCreate(t, db, &post)

	router := newPostTestRouter(db, readerID)
	path := fmt.Sprintf("/posts/%d/reactions", post.ID)

	w := performJSON(t, router, http.MethodPost, path, gin.H{"kind": database.ReactionLike})
	if w.Code != http.StatusCreated {
		t.Fatalf("like: expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var count int64
	db.Model(&database.PostReaction{}).Count(&count)
	if count != 1 {
		t.Fatalf("expected one reaction, got %d", count)
	}

	// 作者收到反应通知
	var notification database.Notification
	if err := db.Where("user_id = ?", authorID).First(&notification).Error; err != nil {
		t.Fatalf("load author notification: %v", err)
	}

	w = performJSON(t, router, http.MethodPost, path, gin.H{"kind": database.ReactionLike})
	if w.Code != http.StatusOK {
		t.Fatalf("unlike: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	db.Model(&database.PostReaction{}).Count(&count)
	if count != 0 {
		t.Fatalf("expected reaction removed, got %d", count)
	}

	// 重新点赞：软删除行不应挡住唯一索引
	w = performJSON(t, router, http.MethodPost, path, gin.H{"kind": database.ReactionLike})
	if w.Code != http.StatusCreated {
		t.Fatalf("re-like: expected 201, got %d: %s", w.Code, w.Body.String())
	}

	// 不同类型的反应互不影响
	w = performJSON(t, router, http.MethodPost, path, gin.H{"kind": database.ReactionSave})
	if w.Code != http.StatusCreated {
		t.Fatalf("save reaction: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	db.Model(&database.PostReaction{}).Count(&count)
	if count != 2 {
		t.Fatalf("expected two distinct reactions, got %d", count)
	}
}

func TestInvalidReactionKindRejected(t *testing.T) {
	db := newTestDB(t)
	authorID, readerID := seedPostUsers(t, db)
	post := database.Post{AuthorID: authorID, Content: "hello", Visibility: database.VisibilityPublic}
	mustCreate(t, db, &post)

	router := newPostTestRouter(db, readerID)
	w := performJSON(t, router, http.MethodPost, fmt.Sprintf("/posts/%d/reactions", post.ID), gin.H{"kind": "clap"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
}

func TestPrivatePostHiddenFromOthers(t *testing.T) {
	db := newTestDB(t)
	authorID, readerID := seedPostUsers(t, db)
	post := database.Post{AuthorID: authorID, Content: "secret draft", Visibility: database.VisibilityPrivate}
	mustCreate(t, db, &post)

	readerRouter := newPostTestRouter(db, readerID)
	w := performJSON(t, readerRouter, http.MethodGet, fmt.Sprintf("/posts/%d", post.ID), nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("reader: expected 404, got %d: %s", w.Code, w.Body.String())
	}

	authorRouter := newPostTestRouter(db, authorID)
	w = performJSON(t, authorRouter, http.MethodGet, fmt.Sprintf("/posts/%d", post.ID), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("author: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	// 私密帖不进入公开信息流
	w = performJSON(t, readerRouter, http.MethodGet, "/posts", nil)
	body := decodeBody(t, w)
	if got := len(body["items"].([]any)); got != 0 {
		t.Fatalf("expected empty feed, got %d items", got)
	}
}

func TestCommentNotifiesAuthorOnce(t *testing.T) {
	db := newTestDB(t)
	authorID, readerID := seedPostUsers(t, db)
	post := database.Post{AuthorID: authorID, Content: "hello", Visibility: database.VisibilityPublic}
	mustCreate(t, db, &post)

	readerRouter := newPostTestRouter(db, readerID)
	w := performJSON(t, readerRouter, http.MethodPost, fmt.Sprintf("/posts/%d/comments", post.ID), gin.H{"content": "nice"})
	if w.Code != http.StatusCreated {
		t.Fatalf("comment: expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var count int64
	db.Model(&database.Notification{}).Where("user_id = ?", authorID).Count(&count)
	if count != 1 {
		t.Fatalf("expected one author notification, got %d", count)
	}

	// 作者评论自己的帖子不通知自己
	authorRouter := newPostTestRouter(db, authorID)
	performJSON(t, authorRouter, http.MethodPost, fmt.Sprintf("/posts/%d/comments", post.ID), gin.H{"content": "thanks"})
	db.Model(&database.Notification{}).Where("user_id = ?", authorID).Count(&count)
	if count != 1 {
		t.Fatalf("expected still one notification, got %d", count)
	}
}
