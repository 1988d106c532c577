package api

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"jobhive/internal/api/middleware"
	"jobhive/internal/database"
	"jobhive/internal/storage"
	"jobhive/internal/tasks"
)

// ProfileHandler 负责角色 Profile 的读写、文件上传与账号注销。
type ProfileHandler struct {
	db          *gorm.DB
	storage     objectStorage
	scanner     fileScanner
	asynqClient *asynq.Client
	logger      *slog.Logger
}

// NewProfileHandler 构造 ProfileHandler。
func NewProfileHandler(db *gorm.DB, store objectStorage, scanner fileScanner, asynqClient *asynq.Client, logger *slog.Logger) *ProfileHandler {
	return &ProfileHandler{
		db:          db,
		storage:     store,
		scanner:     scanner,
		asynqClient: asynqClient,
		logger:      logger,
	}
}

// GetMyProfile 按调用者角色返回对应的 Profile。
func (h *ProfileHandler) GetMyProfile(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	role, _ := roleFromContext(c)
	ctx := c.Request.Context()

	switch role {
	case database.RoleJobSeeker:
		var profile database.JobSeekerProfile
		if err := h.db.WithContext(ctx).Where("user_id = ?", userID).First(&profile).Error; err != nil {
			h.profileLoadError(c, err)
			return
		}
		resp := gin.H{
			"id":          profile.ID,
			"headline":    profile.Headline,
			"skills":      profile.Skills,
			"education":   profile.Education,
			"experience":  profile.Experience,
			"preferences": profile.Preferences,
			"hired":       profile.Hired,
		}
		if profile.ResumeKey != "" {
			if url, err := h.storage.GeneratePresignedURL(ctx, profile.ResumeKey, 10*time.Minute); err == nil {
				resp["resume_url"] = url
			}
		}
		if profile.GeneratedResumeKey != "" {
			if url, err := h.storage.GeneratePresignedURL(ctx, profile.GeneratedResumeKey, 10*time.Minute); err == nil {
				resp["generated_resume_url"] = url
			}
		}
		if profile.AvatarKey != "" {
			if url, err := h.storage.GeneratePresignedURL(ctx, profile.AvatarKey, 10*time.Minute); err == nil {
				resp["avatar_url"] = url
			}
		}
		c.JSON(http.StatusOK, resp)
	case database.RoleEmployer:
		var profile database.EmployerProfile
		if err := h.db.WithContext(ctx).Where("user_id = ?", userID).First(&profile).Error; err != nil {
			h.profileLoadError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"id":         profile.ID,
			"role_type":  profile.RoleType,
			"company_id": profile.CompanyID,
			"title":      profile.Title,
		})
	case database.RoleCompanyAdmin:
		var profile database.CompanyAdminProfile
		if err := h.db.WithContext(ctx).Where("user_id = ?", userID).First(&profile).Error; err != nil {
			h.profileLoadError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"id": profile.ID, "company_id": profile.CompanyID})
	case database.RoleSuperAdmin:
		var profile database.SuperAdminProfile
		if err := h.db.WithContext(ctx).Where("user_id = ?", userID).First(&profile).Error; err != nil {
			h.profileLoadError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"id": profile.ID, "note": profile.Note})
	default:
		Forbidden(c, "unknown role")
	}
}

func (h *ProfileHandler) profileLoadError(c *gin.Context, err error) {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		NotFound(c, "profile not found")
		return
	}
	Internal(c, "failed to load profile")
}

type updateSeekerProfileRequest struct {
	Headline    *string         `json:"headline"`
	Skills      *datatypes.JSON `json:"skills"`
	Education   *datatypes.JSON `json:"education"`
	Experience  *datatypes.JSON `json:"experience"`
	Preferences *datatypes.JSON `json:"preferences"`
}

// UpdateSeekerProfile 更新求职者资料，仅覆盖请求中出现的字段。
func (h *ProfileHandler) UpdateSeekerProfile(c *gin.Context) {
	var req updateSeekerProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	ctx := c.Request.Context()
	var profile database.JobSeekerProfile
	if err := h.db.WithContext(ctx).Where("user_id = ?", userID).First(&profile).Error; err != nil {
		h.profileLoadError(c, err)
		return
	}

	updates := map[string]any{}
	if req.Headline != nil {
		updates["headline"] = *req.Headline
	}
	if req.Skills != nil {
		updates["skills"] = *req.Skills
	}
	if req.Education != nil {
		updates["education"] = *req.Education
	}
	if req.Experience != nil {
		updates["experience"] = *req.Experience
	}
	if req.Preferences != nil {
		updates["preferences"] = *req.Preferences
	}
	if len(updates) == 0 {
		BadRequest(c, "no fields to update")
		return
	}

	if err := h.db.WithContext(ctx).Model(&profile).Updates(updates).Error; err != nil {
		Internal(c, "failed to update profile")
		return
	}
	c.Status(http.StatusNoContent)
}

type updateEmployerProfileRequest struct {
	RoleType *string `json:"role_type"`
	Title    *string `json:"title"`
}

// UpdateEmployerProfile 更新雇主资料。公司挂靠通过公司接口调整。
func (h *ProfileHandler) UpdateEmployerProfile(c *gin.Context) {
	var req updateEmployerProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	ctx := c.Request.Context()
	var profile database.EmployerProfile
	if err := h.db.WithContext(ctx).Where("user_id = ?", userID).First(&profile).Error; err != nil {
		h.profileLoadError(c, err)
		return
	}

	updates := map[string]any{}
	if req.RoleType != nil {
		switch *req.RoleType {
		case database.EmployerTypeCompany, database.EmployerTypeIndependent:
			updates["role_type"] = *req.RoleType
		default:
			BadRequest(c, "unknown employer role type")
			return
		}
	}
	if req.Title != nil {
		updates["title"] = *req.Title
	}
	if len(updates) == 0 {
		BadRequest(c, "no fields to update")
		return
	}

	if err := h.db.WithContext(ctx).Model(&profile).Updates(updates).Error; err != nil {
		Internal(c, "failed to update profile")
		return
	}
	c.Status(http.StatusNoContent)
}

// UploadResume 上传求职者简历文件（先扫描再入库）。
func (h *ProfileHandler) UploadResume(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	ctx := c.Request.Context()
	var profile database.JobSeekerProfile
	if err := h.db.WithContext(ctx).Where("user_id = ?", userID).First(&profile).Error; err != nil {
		h.profileLoadError(c, err)
		return
	}

	file, err := c.FormFile("file")
	if err != nil {
		BadRequest(c, "missing file")
		return
	}

	objectKey := storage.ResumeKey(userID)
	if err := scanAndUpload(ctx, h.scanner, h.storage, file, objectKey); err != nil {
		if errors.Is(err, errMaliciousFile) {
			BadRequest(c, "malicious file detected")
			return
		}
		h.loggerFromContext(c).Error("upload resume failed", slog.Any("error", err))
		BadGateway(c, "failed to store resume")
		return
	}

	oldKey := profile.ResumeKey
	if err := h.db.WithContext(ctx).Model(&profile).Update("resume_key", objectKey).Error; err != nil {
		Internal(c, "failed to save resume reference")
		return
	}
	if oldKey != "" {
		// 旧文件清理失败不影响结果。
		_ = h.storage.DeleteObject(ctx, oldKey)
	}

	c.JSON(http.StatusCreated, gin.H{"object_key": objectKey})
}

// UploadAvatar 上传头像，求职者与雇主共用。
func (h *ProfileHandler) UploadAvatar(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	role, _ := roleFromContext(c)

	file, err := c.FormFile("file")
	if err != nil {
		BadRequest(c, "missing file")
		return
	}

	ctx := c.Request.Context()
	objectKey := storage.AvatarKey(userID)
	if err := scanAndUpload(ctx, h.scanner, h.storage, file, objectKey); err != nil {
		if errors.Is(err, errMaliciousFile) {
			BadRequest(c, "malicious file detected")
			return
		}
		h.loggerFromContext(c).Error("upload avatar failed", slog.Any("error", err))
		BadGateway(c, "failed to store avatar")
		return
	}

	var updateErr error
	switch role {
	case database.RoleJobSeeker:
		updateErr = h.db.WithContext(ctx).Model(&database.JobSeekerProfile{}).
			Where("user_id = ?", userID).
			Update("avatar_key", objectKey).Error
	case database.RoleEmployer:
		updateErr = h.db.WithContext(ctx).Model(&database.EmployerProfile{}).
			Where("user_id = ?", userID).
			Update("avatar_key", objectKey).Error
	default:
		Forbidden(c, "role has no avatar")
		return
	}
	if updateErr != nil {
		Internal(c, "failed to save avatar reference")
		return
	}

	c.JSON(http.StatusCreated, gin.H{"object_key": objectKey})
}

// GenerateResume 将 AI 简历生成任务入队并立即返回 202。
func (h *ProfileHandler) GenerateResume(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	ctx := c.Request.Context()
	var profile database.JobSeekerProfile
	if err := h.db.WithContext(ctx).Where("user_id = ?", userID).First(&profile).Error; err != nil {
		h.profileLoadError(c, err)
		return
	}

	correlationID := middleware.GetCorrelationID(c)
	task, err := tasks.NewResumeGenerateTask(userID, correlationID)
	if err != nil {
		Internal(c, "failed to create task")
		return
	}

	info, err := h.asynqClient.Enqueue(task, asynq.MaxRetry(5))
	if err != nil {
		Internal(c, "failed to enqueue resume generation")
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"message": "resume generation request accepted",
		"task_id": info.ID,
	})
}

// DeleteAccount 软删除账号及其角色 Profile（同一事务，级联）。
func (h *ProfileHandler) DeleteAccount(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	role, _ := roleFromContext(c)

	ctx := c.Request.Context()
	err := h.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&database.User{}, userID).Error; err != nil {
			return err
		}
		switch role {
		case database.RoleJobSeeker:
			return tx.Where("user_id = ?", userID).Delete(&database.JobSeekerProfile{}).Error
		case database.RoleEmployer:
			return tx.Where("user_id = ?", userID).Delete(&database.EmployerProfile{}).Error
		case database.RoleCompanyAdmin:
			return tx.Where("user_id = ?", userID).Delete(&database.CompanyAdminProfile{}).Error
		case database.RoleSuperAdmin:
			return tx.Where("user_id = ?", userID).Delete(&database.SuperAdminProfile{}).Error
		}
		return nil
	})
	if err != nil {
		Internal(c, "failed to delete account")
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *ProfileHandler) loggerFromContext(c *gin.Context) *slog.Logger {
	if logger := middleware.LoggerFromContext(c); logger != nil {
		return logger
	}
	if h.logger != nil {
		return h.logger
	}
	return slog.Default()
}
