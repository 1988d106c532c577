package api

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"jobhive/internal/database"
	"jobhive/internal/permcache"
)

func newAdminTestRouter(db *gorm.DB, userID uint) *gin.Engine {
	// 不可达 Redis：权限缓存全部未命中，走回库校验
	handler := NewAdminHandler(db, permcache.New(unreachableRedis(), 0), nil)
	router := gin.New()
	router.Use(asUser(userID, database.RoleSuperAdmin), handler.RequireSuperAdmin())

	router.GET("/admin/stats", handler.PlatformStats)
	router.GET("/admin/users", handler.ListUsers)
	router.PUT("/admin/users/:id/role", handler.ChangeUserRole)
	router.DELETE("/admin/users/:id", handler.SuspendUser)
	return router
}

func seedSuperAdmin(t *testing.T, db *gorm.DB) uint {
	t.Helper()
	admin := database.User{Email: "root@example.com", Role: database.RoleSuperAdmin}
	mustCreate(t, db, &admin)
	mustCreate(t, db, &database.SuperAdminProfile{UserID: admin.ID})
	return admin.ID
}

func TestRequireSuperAdminRejectsOtherRoles(t *testing.T) {
	db := newTestDB(t)
	seeker := database.User{Email: "seeker@example.com", Role: database.RoleJobSeeker}
	mustCreate(t, db, &seeker)

	router := newAdminTestRouter(db, seeker.ID)
	w := performJSON(t, router, http.MethodGet, "/admin/stats", nil)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", w.Code, w.Body.String())
	}
}

func TestPlatformStatsIncludeDeleted(t *testing.T) {
	db := newTestDB(t)
	adminID := seedSuperAdmin(t, db)

	active := database.User{Email: "active@example.com", Role: database.RoleJobSeeker}
	gone := database.User{Email: "gone@example.com", Role: database.RoleJobSeeker}
	mustCreate(t, db, &active)
	mustCreate(t, db, &gone)
	if err := db.Delete(&gone).Error; err != nil {
		t.Fatalf("soft delete: %v", err)
	}

	chat := database.Chat{UserLowID: active.ID, UserHighID: gone.ID}
	mustCreate(t, db, &chat)
	mustCreate(t, db, &database.ChatMessage{ChatID: chat.ID, SenderID: active.ID, Ciphertext: []byte("x")})

	router := newAdminTestRouter(db, adminID)

	w := performJSON(t, router, http.MethodGet, "/admin/stats", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("stats: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	if got := body["users"].(float64); got != 2 {
		t.Fatalf("expected 2 live users (admin+active), got %v", got)
	}
	if got := body["chats"].(float64); got != 1 {
		t.Fatalf("expected 1 chat, got %v", got)
	}
	if got := body["messages"].(float64); got != 1 {
		t.Fatalf("expected 1 message, got %v", got)
	}

	w = performJSON(t, router, http.MethodGet, "/admin/stats?include_deleted=true", nil)
	body = decodeBody(t, w)
	if got := body["users"].(float64); got != 3 {
		t.Fatalf("expected 3 users including deleted, got %v", got)
	}
}

func TestChangeUserRoleCreatesMissingProfile(t *testing.T) {
	db := newTestDB(t)
	adminID := seedSuperAdmin(t, db)

	user := database.User{Email: "worker@example.com", Role: database.RoleJobSeeker}
	mustCreate(t, db, &user)
	mustCreate(t, db, &database.JobSeekerProfile{UserID: user.ID})

	router := newAdminTestRouter(db, adminID)
	path := fmt.Sprintf("/admin/users/%d/role", user.ID)

	w := performJSON(t, router, http.MethodPut, path, gin.H{"role": database.RoleEmployer})
	if w.Code != http.StatusNoContent {
		t.Fatalf("change role: expected 204, got %d: %s", w.Code, w.Body.String())
	}

	var updated database.User
	db.First(&updated, user.ID)
	if updated.Role != database.RoleEmployer {
		t.Fatalf("expected employer role, got %q", updated.Role)
	}

	var profile database.EmployerProfile
	if err := db.Where("user_id = ?", user.ID).First(&profile).Error; err != nil {
		t.Fatalf("expected employer profile created: %v", err)
	}

	// 相同角色重复设置返回冲突
	w = performJSON(t, router, http.MethodPut, path, gin.H{"role": database.RoleEmployer})
	if w.Code != http.StatusConflict {
		t.Fatalf("repeat change: expected 409, got %d", w.Code)
	}
}

func TestSuspendUserHidesFromDefaultListing(t *testing.T) {
	db := newTestDB(t)
	adminID := seedSuperAdmin(t, db)

	user := database.User{Email: "banned@example.com", Role: database.RoleJobSeeker}
	mustCreate(t, db, &user)

	router := newAdminTestRouter(db, adminID)
	w := performJSON(t, router, http.MethodDelete, fmt.Sprintf("/admin/users/%d", user.ID), nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("suspend: expected 204, got %d: %s", w.Code, w.Body.String())
	}

	w = performJSON(t, router, http.MethodGet, "/admin/users", nil)
	body := decodeBody(t, w)
	if got := body["total"].(float64); got != 1 {
		t.Fatalf("expected only admin in default listing, got %v", got)
	}

	w = performJSON(t, router, http.MethodGet, "/admin/users?include_deleted=true", nil)
	body = decodeBody(t, w)
	if got := body["total"].(float64); got != 2 {
		t.Fatalf("expected suspended user in unscoped listing, got %v", got)
	}

	// 超级管理员自身不可封禁
	w = performJSON(t, router, http.MethodDelete, fmt.Sprintf("/admin/users/%d", adminID), nil)
	if w.Code != http.StatusForbidden {
		t.Fatalf("suspend admin: expected 403, got %d", w.Code)
	}
}
