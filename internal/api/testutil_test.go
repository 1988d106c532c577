package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"jobhive/internal/database"
	"jobhive/internal/llm"
	"jobhive/internal/notify"
)

func init() {
	gin.SetMode(gin.TestMode)
}

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
	if err := db.AutoMigrate(database.AllModels()...); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

// unreachableRedis 指向不可达地址：推送失败不应影响业务结果。
func unreachableRedis() *redis.Client {
	return redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})
}

func newTestDispatcher(db *gorm.DB) *notify.Dispatcher {
	return notify.NewDispatcher(db, unreachableRedis(), nil)
}

// asUser 模拟鉴权中间件写入的上下文键。
func asUser(userID uint, role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set("userID", userID)
		c.Set("userRole", role)
		c.Set("mustChangePassword", false)
		c.Next()
	}
}

func performJSON(t *testing.T, router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return out
}

// fakeGenerator 返回固定结果，避免测试依赖外部模型服务。
type fakeGenerator struct {
	score       int
	suggestions []string
	coverLetter string
	err         error
}

func (f *fakeGenerator) ScoreResume(_ context.Context, _, _, _ string) (*llm.ATSResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &llm.ATSResult{Score: f.score, Suggestions: f.suggestions}, nil
}

func (f *fakeGenerator) GenerateCoverLetter(_ context.Context, _, _, _ string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.coverLetter, nil
}

func (f *fakeGenerator) GenerateResume(_ context.Context, _ []byte) (*llm.ResumeDocument, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &llm.ResumeDocument{Summary: "generated"}, nil
}

func mustCreate(t *testing.T, db *gorm.DB, value any) {
	t.Helper()
	if err := db.Create(value).Error; err != nil {
		t.Fatalf("create %T: %v", value, err)
	}
}
