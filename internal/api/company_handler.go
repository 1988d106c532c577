package api

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"jobhive/internal/api/middleware"
	"jobhive/internal/database"
	"jobhive/internal/storage"
)

// CompanyHandler 负责公司主体、员工名册与职位索引。
type CompanyHandler struct {
	db      *gorm.DB
	storage objectStorage
	scanner fileScanner
	logger  *slog.Logger
}

// NewCompanyHandler 构造 CompanyHandler。
func NewCompanyHandler(db *gorm.DB, store objectStorage, scanner fileScanner, logger *slog.Logger) *CompanyHandler {
	return &CompanyHandler{db: db, storage: store, scanner: scanner, logger: logger}
}

type createCompanyRequest struct {
	Name        string `json:"name" binding:"required,max=255"`
	Description string `json:"description"`
	Website     string `json:"website"`
}

// CreateCompany 创建公司并把调用者（company_admin）设为管理员。
// 一名管理员只能管理一家公司。
func (h *CompanyHandler) CreateCompany(c *gin.Context) {
	var req createCompanyRequest
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
	var adminProfile database.CompanyAdminProfile
	if err := h.db.WithContext(ctx).Where("user_id = ?", userID).First(&adminProfile).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			NotFound(c, "admin profile not found")
			return
		}
		Internal(c, "failed to load admin profile")
		return
	}
	if adminProfile.CompanyID != nil {
		Conflict(c, "admin already manages a company")
		return
	}

	var existing database.Company
	if err := h.db.WithContext(ctx).Where("name = ?", req.Name).First(&existing).Error; err == nil {
		Conflict(c, "company name already taken")
		return
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		Internal(c, "failed to check company name")
		return
	}

	company := database.Company{
		Name:        req.Name,
		Description: req.Description,
		Website:     req.Website,
		AdminUserID: userID,
	}
	err := h.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&company).Error; err != nil {
			return err
		}
		return tx.Model(&adminProfile).Update("company_id", company.ID).Error
	})
	if err != nil {
		Internal(c, "failed to create company")
		return
	}

	c.JSON(http.StatusCreated, gin.H{"id": company.ID, "name": company.Name})
}

// GetCompany 返回公司信息、员工数与在招职位数。
func (h *CompanyHandler) GetCompany(c *gin.Context) {
	companyID, err := parseIDParam(c, "id")
	if err != nil {
		BadRequest(c, "invalid company id")
		return
	}

	ctx := c.Request.Context()
	var company database.Company
	if err := h.db.WithContext(ctx).First(&company, companyID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			NotFound(c, "company not found")
			return
		}
		Internal(c, "failed to load company")
		return
	}

	var employeeCount int64
	if err := h.db.WithContext(ctx).Model(&database.EmployerProfile{}).
		Where("company_id = ?", company.ID).
		Count(&employeeCount).Error; err != nil {
		Internal(c, "failed to count employees")
		return
	}

	var openJobCount int64
	if err := h.db.WithContext(ctx).Model(&database.Job{}).
		Where("company_id = ? AND status = ?", company.ID, database.JobStatusOpen).
		Count(&openJobCount).Error; err != nil {
		Internal(c, "failed to count jobs")
		return
	}

	resp := gin.H{
		"id":             company.ID,
		"name":           company.Name,
		"description":    company.Description,
		"website":        company.Website,
		"employee_count": employeeCount,
		"open_job_count": openJobCount,
	}
	if company.LogoKey != "" {
		if url, err := h.storage.GeneratePresignedURL(ctx, company.LogoKey, 10*time.Minute); err == nil {
			resp["logo_url"] = url
		}
	}
	c.JSON(http.StatusOK, resp)
}

type updateCompanyRequest struct {
	Description *string `json:"description"`
	Website     *string `json:"website"`
}

// UpdateCompany 更新公司信息，仅限该公司管理员。
func (h *CompanyHandler) UpdateCompany(c *gin.Context) {
	var req updateCompanyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	company, ok := h.companyForAdmin(c)
	if !ok {
		return
	}

	updates := map[string]any{}
	if req.Description != nil {
		updates["description"] = *req.Description
	}
	if req.Website != nil {
		updates["website"] = *req.Website
	}
	if len(updates) == 0 {
		BadRequest(c, "no fields to update")
		return
	}

	if err := h.db.WithContext(c.Request.Context()).Model(company).Updates(updates).Error; err != nil {
		Internal(c, "failed to update company")
		return
	}
	c.Status(http.StatusNoContent)
}

// UploadLogo 上传公司 Logo，仅限管理员。
func (h *CompanyHandler) UploadLogo(c *gin.Context) {
	company, ok := h.companyForAdmin(c)
	if !ok {
		return
	}

	file, err := c.FormFile("file")
	if err != nil {
		BadRequest(c, "missing file")
		return
	}

	ctx := c.Request.Context()
	objectKey := storage.CompanyLogoKey(company.ID)
	if err := scanAndUpload(ctx, h.scanner, h.storage, file, objectKey); err != nil {
		if errors.Is(err, errMaliciousFile) {
			BadRequest(c, "malicious file detected")
			return
		}
		middleware.LoggerFromContext(c).Error("upload company logo failed", slog.Any("error", err))
		BadGateway(c, "failed to store logo")
		return
	}

	if err := h.db.WithContext(ctx).Model(company).Update("logo_key", objectKey).Error; err != nil {
		Internal(c, "failed to save logo reference")
		return
	}
	c.JSON(http.StatusCreated, gin.H{"object_key": objectKey})
}

// DeleteCompany 软删除公司，并解除员工挂靠（同一事务）。
func (h *CompanyHandler) DeleteCompany(c *gin.Context) {
	company, ok := h.companyForAdmin(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	err := h.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&database.EmployerProfile{}).
			Where("company_id = ?", company.ID).
			Update("company_id", nil).Error; err != nil {
			return err
		}
		if err := tx.Model(&database.CompanyAdminProfile{}).
			Where("company_id = ?", company.ID).
			Update("company_id", nil).Error; err != nil {
			return err
		}
		return tx.Delete(company).Error
	})
	if err != nil {
		Internal(c, "failed to delete company")
		return
	}
	c.Status(http.StatusNoContent)
}

// JoinCompany 雇主加入公司名册。
func (h *CompanyHandler) JoinCompany(c *gin.Context) {
	companyID, err := parseIDParam(c, "id")
	if err != nil {
		BadRequest(c, "invalid company id")
		return
	}

	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	ctx := c.Request.Context()
	var company database.Company
	if err := h.db.WithContext(ctx).First(&company, companyID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			NotFound(c, "company not found")
			return
		}
		Internal(c, "failed to load company")
		return
	}

	var profile database.EmployerProfile
	if err := h.db.WithContext(ctx).Where("user_id = ?", userID).First(&profile).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			NotFound(c, "employer profile not found")
			return
		}
		Internal(c, "failed to load employer profile")
		return
	}
	if profile.CompanyID != nil {
		Conflict(c, "already affiliated with a company")
		return
	}

	if err := h.db.WithContext(ctx).Model(&profile).Updates(map[string]any{
		"company_id": company.ID,
		"role_type":  database.EmployerTypeCompany,
	}).Error; err != nil {
		Internal(c, "failed to join company")
		return
	}
	c.Status(http.StatusNoContent)
}

// LeaveCompany 雇主退出公司名册。
func (h *CompanyHandler) LeaveCompany(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	ctx := c.Request.Context()
	var profile database.EmployerProfile
	if err := h.db.WithContext(ctx).Where("user_id = ?", userID).First(&profile).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			NotFound(c, "employer profile not found")
			return
		}
		Internal(c, "failed to load employer profile")
		return
	}
	if profile.CompanyID == nil {
		Conflict(c, "not affiliated with a company")
		return
	}

	if err := h.db.WithContext(ctx).Model(&profile).Updates(map[string]any{
		"company_id": nil,
		"role_type":  database.EmployerTypeIndependent,
	}).Error; err != nil {
		Internal(c, "failed to leave company")
		return
	}
	c.Status(http.StatusNoContent)
}

// ListEmployees 列出公司员工（雇主 Profile）。
func (h *CompanyHandler) ListEmployees(c *gin.Context) {
	companyID, err := parseIDParam(c, "id")
	if err != nil {
		BadRequest(c, "invalid company id")
		return
	}

	ctx := c.Request.Context()
	var employees []database.EmployerProfile
	if err := h.db.WithContext(ctx).
		Where("company_id = ?", companyID).
		Order("created_at ASC").
		Find(&employees).Error; err != nil {
		Internal(c, "failed to list employees")
		return
	}

	items := make([]gin.H, 0, len(employees))
	for _, e := range employees {
		items = append(items, gin.H{
			"user_id":   e.UserID,
			"title":     e.Title,
			"role_type": e.RoleType,
		})
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

// ListCompanyJobs 列出公司的职位索引。
func (h *CompanyHandler) ListCompanyJobs(c *gin.Context) {
	companyID, err := parseIDParam(c, "id")
	if err != nil {
		BadRequest(c, "invalid company id")
		return
	}

	ctx := c.Request.Context()
	var jobs []database.Job
	if err := h.db.WithContext(ctx).
		Where("company_id = ? AND status = ?", companyID, database.JobStatusOpen).
		Order("created_at DESC").
		Find(&jobs).Error; err != nil {
		Internal(c, "failed to list company jobs")
		return
	}

	items := make([]gin.H, 0, len(jobs))
	for _, j := range jobs {
		items = append(items, jobListItem(j))
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

// companyForAdmin 加载调用者管理的公司；失败时已写好响应。
func (h *CompanyHandler) companyForAdmin(c *gin.Context) (*database.Company, bool) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return nil, false
	}

	companyID, err := parseIDParam(c, "id")
	if err != nil {
		BadRequest(c, "invalid company id")
		return nil, false
	}

	ctx := c.Request.Context()
	var company database.Company
	if err := h.db.WithContext(ctx).First(&company, companyID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			NotFound(c, "company not found")
			return nil, false
		}
		Internal(c, "failed to load company")
		return nil, false
	}
	if company.AdminUserID != userID {
		Forbidden(c, "not the company admin")
		return nil, false
	}
	return &company, true
}
