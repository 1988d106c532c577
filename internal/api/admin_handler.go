package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"jobhive/internal/api/middleware"
	"jobhive/internal/database"
	"jobhive/internal/permcache"
)

// PermSuperAdmin 是超级管理员权限在缓存中的标识。
const PermSuperAdmin = "super_admin"

// AdminHandler 负责平台级报表与账号管理，仅超级管理员可用。
// 权限结果缓存在 Redis 中加速重复查询，角色变更时主动失效。
type AdminHandler struct {
	db        *gorm.DB
	permCache *permcache.Cache
	logger    *slog.Logger
}

// NewAdminHandler 构造 AdminHandler。
func NewAdminHandler(db *gorm.DB, permCache *permcache.Cache, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{db: db, permCache: permCache, logger: logger}
}

// RequireSuperAdmin 校验调用者是超级管理员（带缓存的中间件）。
// 缓存只加速放行判断，未命中时回库查角色并回填。
func (h *AdminHandler) RequireSuperAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := userIDFromContext(c)
		if !ok {
			AbortUnauthorized(c)
			return
		}

		ctx := c.Request.Context()
		if allowed, hit := h.permCache.Get(ctx, userID, PermSuperAdmin); hit {
			if !allowed {
				Forbidden(c, "insufficient role")
				c.Abort()
				return
			}
			c.Next()
			return
		}

		var user database.User
		if err := h.db.WithContext(ctx).First(&user, userID).Error; err != nil {
			Forbidden(c, "insufficient role")
			c.Abort()
			return
		}
		allowed := user.Role == database.RoleSuperAdmin
		h.permCache.Set(ctx, userID, PermSuperAdmin, allowed)
		if !allowed {
			Forbidden(c, "insufficient role")
			c.Abort()
			return
		}
		c.Next()
	}
}

// PlatformStats 返回平台汇总指标。include_deleted=true 时把软删除记录也计入。
func (h *AdminHandler) PlatformStats(c *gin.Context) {
	ctx := c.Request.Context()
	includeDeleted := c.Query("include_deleted") == "true"

	scope := func(model any) *gorm.DB {
		q := h.db.WithContext(ctx).Model(model)
		if includeDeleted {
			q = q.Unscoped()
		}
		return q
	}

	stats := gin.H{"include_deleted": includeDeleted}

	var users int64
	if err := scope(&database.User{}).Count(&users).Error; err != nil {
		Internal(c, "failed to count users")
		return
	}
	stats["users"] = users

	roleCounts := gin.H{}
	for _, role := range []string{
		database.RoleJobSeeker, database.RoleEmployer,
		database.RoleCompanyAdmin, database.RoleSuperAdmin,
	} {
		var n int64
		if err := scope(&database.User{}).Where("role = ?", role).Count(&n).Error; err != nil {
			Internal(c, "failed to count users by role")
			return
		}
		roleCounts[role] = n
	}
	stats["users_by_role"] = roleCounts

	var companies int64
	if err := scope(&database.Company{}).Count(&companies).Error; err != nil {
		Internal(c, "failed to count companies")
		return
	}
	stats["companies"] = companies

	var jobs int64
	if err := scope(&database.Job{}).Count(&jobs).Error; err != nil {
		Internal(c, "failed to count jobs")
		return
	}
	stats["jobs"] = jobs

	jobStatusCounts := gin.H{}
	for _, status := range []string{
		database.JobStatusDraft, database.JobStatusOpen, database.JobStatusClosed,
	} {
		var n int64
		if err := scope(&database.Job{}).Where("status = ?", status).Count(&n).Error; err != nil {
			Internal(c, "failed to count jobs by status")
			return
		}
		jobStatusCounts[status] = n
	}
	stats["jobs_by_status"] = jobStatusCounts

	var applications, hires int64
	if err := scope(&database.Application{}).Count(&applications).Error; err != nil {
		Internal(c, "failed to count applications")
		return
	}
	if err := scope(&database.Hire{}).Count(&hires).Error; err != nil {
		Internal(c, "failed to count hires")
		return
	}
	stats["applications"] = applications
	stats["hires"] = hires

	appStatusCounts := gin.H{}
	for _, status := range []string{
		database.ApplicationStatusApplied, database.ApplicationStatusUnderReview,
		database.ApplicationStatusInterview, database.ApplicationStatusOffered,
		database.ApplicationStatusRejected, database.ApplicationStatusHired,
	} {
		var n int64
		if err := scope(&database.Application{}).Where("status = ?", status).Count(&n).Error; err != nil {
			Internal(c, "failed to count applications by status")
			return
		}
		appStatusCounts[status] = n
	}
	stats["applications_by_status"] = appStatusCounts

	var posts, chats, messages int64
	if err := scope(&database.Post{}).Count(&posts).Error; err != nil {
		Internal(c, "failed to count posts")
		return
	}
	if err := scope(&database.Chat{}).Count(&chats).Error; err != nil {
		Internal(c, "failed to count chats")
		return
	}
	if err := scope(&database.ChatMessage{}).Count(&messages).Error; err != nil {
		Internal(c, "failed to count messages")
		return
	}
	stats["posts"] = posts
	stats["chats"] = chats
	stats["messages"] = messages

	c.JSON(http.StatusOK, stats)
}

// ListUsers 分页列出账号。include_deleted=true 时包含软删除账号。
func (h *AdminHandler) ListUsers(c *gin.Context) {
	ctx := c.Request.Context()
	query := h.db.WithContext(ctx).Model(&database.User{})
	if c.Query("include_deleted") == "true" {
		query = query.Unscoped()
	}
	if role := c.Query("role"); role != "" {
		query = query.Where("role = ?", role)
	}

	page, pageSize := paginationParams(c)
	var total int64
	if err := query.Count(&total).Error; err != nil {
		Internal(c, "failed to count users")
		return
	}

	var users []database.User
	if err := query.Order("created_at DESC").
		Offset((page - 1) * pageSize).Limit(pageSize).
		Find(&users).Error; err != nil {
		Internal(c, "failed to list users")
		return
	}

	items := make([]gin.H, 0, len(users))
	for _, u := range users {
		item := gin.H{
			"id":         u.ID,
			"email":      u.Email,
			"role":       u.Role,
			"created_at": u.CreatedAt,
		}
		if u.DeletedAt.Valid {
			item["deleted_at"] = u.DeletedAt.Time
		}
		items = append(items, item)
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "total": total, "page": page, "page_size": pageSize})
}

type changeRoleRequest struct {
	Role string `json:"role" binding:"required"`
}

var assignableRoles = map[string]bool{
	database.RoleJobSeeker:    true,
	database.RoleEmployer:     true,
	database.RoleCompanyAdmin: true,
	database.RoleSuperAdmin:   true,
}

// ChangeUserRole 变更账号角色并失效其权限缓存。
// 新角色的 Profile 不存在时在同一事务内补建。
func (h *AdminHandler) ChangeUserRole(c *gin.Context) {
	var req changeRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}
	if !assignableRoles[req.Role] {
		BadRequest(c, "invalid role")
		return
	}

	targetID, err := parseIDParam(c, "id")
	if err != nil {
		BadRequest(c, "invalid user id")
		return
	}

	ctx := c.Request.Context()
	var user database.User
	if err := h.db.WithContext(ctx).First(&user, targetID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			NotFound(c, "user not found")
			return
		}
		Internal(c, "failed to load user")
		return
	}
	if user.Role == req.Role {
		Conflict(c, "user already has this role")
		return
	}

	err = h.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&user).Update("role", req.Role).Error; err != nil {
			return err
		}
		return ensureRoleProfile(tx, user.ID, req.Role)
	})
	if err != nil {
		Internal(c, "failed to change role")
		return
	}

	if err := h.permCache.Invalidate(ctx, user.ID, PermSuperAdmin); err != nil {
		middleware.LoggerFromContext(c).Warn("invalidate permission cache failed",
			slog.Uint64("user_id", uint64(user.ID)), slog.Any("error", err))
	}
	c.Status(http.StatusNoContent)
}

// SuspendUser 软删除账号（封禁）。刷新令牌在下次校验时因账号缺失而失效。
func (h *AdminHandler) SuspendUser(c *gin.Context) {
	targetID, err := parseIDParam(c, "id")
	if err != nil {
		BadRequest(c, "invalid user id")
		return
	}

	ctx := c.Request.Context()
	var user database.User
	if err := h.db.WithContext(ctx).First(&user, targetID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			NotFound(c, "user not found")
			return
		}
		Internal(c, "failed to load user")
		return
	}
	if user.Role == database.RoleSuperAdmin {
		Forbidden(c, "cannot suspend a super admin")
		return
	}

	if err := h.db.WithContext(ctx).Delete(&user).Error; err != nil {
		Internal(c, "failed to suspend user")
		return
	}
	if err := h.permCache.Invalidate(ctx, user.ID, PermSuperAdmin); err != nil {
		middleware.LoggerFromContext(c).Warn("invalidate permission cache failed", slog.Any("error", err))
	}
	c.Status(http.StatusNoContent)
}

// RestoreUser 恢复软删除账号。
func (h *AdminHandler) RestoreUser(c *gin.Context) {
	targetID, err := parseIDParam(c, "id")
	if err != nil {
		BadRequest(c, "invalid user id")
		return
	}

	ctx := c.Request.Context()
	var user database.User
	if err := h.db.WithContext(ctx).Unscoped().First(&user, targetID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			NotFound(c, "user not found")
			return
		}
		Internal(c, "failed to load user")
		return
	}
	if !user.DeletedAt.Valid {
		Conflict(c, "user is not suspended")
		return
	}

	if err := h.db.WithContext(ctx).Unscoped().Model(&user).
		Update("deleted_at", nil).Error; err != nil {
		Internal(c, "failed to restore user")
		return
	}
	c.Status(http.StatusNoContent)
}

// ensureRoleProfile 确保用户在新角色下有对应的 Profile 行。
func ensureRoleProfile(tx *gorm.DB, userID uint, role string) error {
	switch role {
	case database.RoleJobSeeker:
		var n int64
		if err := tx.Model(&database.JobSeekerProfile{}).Where("user_id = ?", userID).Count(&n).Error; err != nil {
			return err
		}
		if n == 0 {
			return tx.Create(&database.JobSeekerProfile{UserID: userID}).Error
		}
	case database.RoleEmployer:
		var n int64
		if err := tx.Model(&database.EmployerProfile{}).Where("user_id = ?", userID).Count(&n).Error; err != nil {
			return err
		}
		if n == 0 {
			return tx.Create(&database.EmployerProfile{
				UserID:   userID,
				RoleType: database.EmployerTypeIndependent,
			}).Error
		}
	case database.RoleCompanyAdmin:
		var n int64
		if err := tx.Model(&database.CompanyAdminProfile{}).Where("user_id = ?", userID).Count(&n).Error; err != nil {
			return err
		}
		if n == 0 {
			return tx.Create(&database.CompanyAdminProfile{UserID: userID}).Error
		}
	case database.RoleSuperAdmin:
		var n int64
		if err := tx.Model(&database.SuperAdminProfile{}).Where("user_id = ?", userID).Count(&n).Error; err != nil {
			return err
		}
		if n == 0 {
			return tx.Create(&database.SuperAdminProfile{UserID: userID}).Error
		}
	}
	return nil
}
