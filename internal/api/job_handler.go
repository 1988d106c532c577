package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"jobhive/internal/api/middleware"
	"jobhive/internal/database"
	"jobhive/internal/llm"
	"jobhive/internal/notify"
)

// JobHandler 负责职位生命周期与申请流程。
// 申请、收藏、暂存、录用各自只有一行事实记录（复合唯一索引保证），
// 涉及多行的变更都在事务内完成。
type JobHandler struct {
	db       *gorm.DB
	llm      llm.Generator
	notifier *notify.Dispatcher
	logger   *slog.Logger
}

// NewJobHandler 构造 JobHandler。
func NewJobHandler(db *gorm.DB, generator llm.Generator, notifier *notify.Dispatcher, logger *slog.Logger) *JobHandler {
	return &JobHandler{db: db, llm: generator, notifier: notifier, logger: logger}
}

type createJobRequest struct {
	Title               string     `json:"title" binding:"required,max=255"`
	Description         string     `json:"description" binding:"required"`
	Location            string     `json:"location" binding:"max=255"`
	SalaryMin           int        `json:"salary_min" binding:"min=0"`
	SalaryMax           int        `json:"salary_max" binding:"min=0"`
	ApplicationDeadline *time.Time `json:"application_deadline"`
}

// CreateJob 创建职位草稿，归属调用雇主及其公司（若有）。
func (h *JobHandler) CreateJob(c *gin.Context) {
	var req createJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}
	if req.SalaryMax > 0 && req.SalaryMax < req.SalaryMin {
		BadRequest(c, "salary_max must not be below salary_min")
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
		if errors.Is(err, gorm.ErrRecordNotFound) {
			NotFound(c, "employer profile not found")
			return
		}
		Internal(c, "failed to load employer profile")
		return
	}

	job := database.Job{
		PostedByID:          userID,
		CompanyID:           profile.CompanyID,
		Title:               req.Title,
		Description:         req.Description,
		Location:            req.Location,
		SalaryMin:           req.SalaryMin,
		SalaryMax:           req.SalaryMax,
		Status:              database.JobStatusDraft,
		ApplicationDeadline: req.ApplicationDeadline,
	}
	if err := h.db.WithContext(ctx).Create(&job).Error; err != nil {
		Internal(c, "failed to create job")
		return
	}
	c.JSON(http.StatusCreated, jobListItem(job))
}

type updateJobRequest struct {
	Title               *string    `json:"title"`
	Description         *string    `json:"description"`
	Location            *string    `json:"location"`
	SalaryMin           *int       `json:"salary_min"`
	SalaryMax           *int       `json:"salary_max"`
	ApplicationDeadline *time.Time `json:"application_deadline"`
}

// UpdateJob 更新职位字段，仅限发布者。
func (h *JobHandler) UpdateJob(c *gin.Context) {
	var req updateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	job, ok := h.jobForOwner(c)
	if !ok {
		return
	}

	updates := map[string]any{}
	if req.Title != nil {
		updates["title"] = *req.Title
	}
	if req.Description != nil {
		updates["description"] = *req.Description
	}
	if req.Location != nil {
		updates["location"] = *req.Location
	}
	if req.SalaryMin != nil {
		updates["salary_min"] = *req.SalaryMin
	}
	if req.SalaryMax != nil {
		updates["salary_max"] = *req.SalaryMax
	}
	if req.ApplicationDeadline != nil {
		updates["application_deadline"] = *req.ApplicationDeadline
	}
	if len(updates) == 0 {
		BadRequest(c, "no fields to update")
		return
	}

	if err := h.db.WithContext(c.Request.Context()).Model(job).Updates(updates).Error; err != nil {
		Internal(c, "failed to update job")
		return
	}
	c.Status(http.StatusNoContent)
}

type jobStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

// 职位状态只能单向推进：draft -> open -> closed。
var jobStatusTransitions = map[string]string{
	database.JobStatusDraft: database.JobStatusOpen,
	database.JobStatusOpen:  database.JobStatusClosed,
}

// SetJobStatus 推进职位状态（发布 / 关闭），仅限发布者。
func (h *JobHandler) SetJobStatus(c *gin.Context) {
	var req jobStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	job, ok := h.jobForOwner(c)
	if !ok {
		return
	}

	if jobStatusTransitions[job.Status] != req.Status {
		Conflict(c, fmt.Sprintf("cannot move job from %s to %s", job.Status, req.Status))
		return
	}

	if err := h.db.WithContext(c.Request.Context()).Model(job).Update("status", req.Status).Error; err != nil {
		Internal(c, "failed to update job status")
		return
	}
	c.Status(http.StatusNoContent)
}

// DeleteJob 软删除职位，仅限发布者。历史申请记录保留。
func (h *JobHandler) DeleteJob(c *gin.Context) {
	job, ok := h.jobForOwner(c)
	if !ok {
		return
	}

	if err := h.db.WithContext(c.Request.Context()).Delete(job).Error; err != nil {
		Internal(c, "failed to delete job")
		return
	}
	c.Status(http.StatusNoContent)
}

// GetJob 返回职位详情。草稿只有发布者可见。
func (h *JobHandler) GetJob(c *gin.Context) {
	jobID, err := parseIDParam(c, "id")
	if err != nil {
		BadRequest(c, "invalid job id")
		return
	}

	ctx := c.Request.Context()
	var job database.Job
	if err := h.db.WithContext(ctx).First(&job, jobID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			NotFound(c, "job not found")
			return
		}
		Internal(c, "failed to load job")
		return
	}

	if job.Status == database.JobStatusDraft {
		userID, ok := userIDFromContext(c)
		if !ok || userID != job.PostedByID {
			NotFound(c, "job not found")
			return
		}
	}
	c.JSON(http.StatusOK, jobListItem(job))
}

// ListJobs 列出在招职位，支持关键词、地点、薪资下限过滤与分页。
func (h *JobHandler) ListJobs(c *gin.Context) {
	ctx := c.Request.Context()
	query := h.db.WithContext(ctx).Model(&database.Job{}).
		Where("status = ?", database.JobStatusOpen)

	if q := c.Query("q"); q != "" {
		like := "%" + q + "%"
		query = query.Where("title LIKE ? OR description LIKE ?", like, like)
	}
	if location := c.Query("location"); location != "" {
		query = query.Where("location LIKE ?", "%"+location+"%")
	}
	if minSalary := c.Query("salary_min"); minSalary != "" {
		v, err := strconv.Atoi(minSalary)
		if err != nil {
			BadRequest(c, "invalid salary_min")
			return
		}
		query = query.Where("salary_max >= ?", v)
	}

	page, pageSize := paginationParams(c)
	var total int64
	if err := query.Count(&total).Error; err != nil {
		Internal(c, "failed to count jobs")
		return
	}

	var jobs []database.Job
	if err := query.Order("created_at DESC").
		Offset((page - 1) * pageSize).Limit(pageSize).
		Find(&jobs).Error; err != nil {
		Internal(c, "failed to list jobs")
		return
	}

	items := make([]gin.H, 0, len(jobs))
	for _, j := range jobs {
		items = append(items, jobListItem(j))
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "total": total, "page": page, "page_size": pageSize})
}

// ListMyJobs 列出调用雇主发布的全部职位（含草稿与已关闭）。
func (h *JobHandler) ListMyJobs(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	var jobs []database.Job
	if err := h.db.WithContext(c.Request.Context()).
		Where("posted_by_id = ?", userID).
		Order("created_at DESC").
		Find(&jobs).Error; err != nil {
		Internal(c, "failed to list jobs")
		return
	}

	items := make([]gin.H, 0, len(jobs))
	for _, j := range jobs {
		items = append(items, jobListItem(j))
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

// ScoreResume 对照职位描述为简历打分，结果暂存到申请草稿。
// 需要先上传简历。
func (h *JobHandler) ScoreResume(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	job, ok := h.openJob(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	_, resumeText, ok := h.seekerResumeText(c, userID)
	if !ok {
		return
	}

	result, err := h.llm.ScoreResume(ctx, resumeText, job.Title, job.Description)
	if err != nil {
		middleware.LoggerFromContext(c).Error("ats scoring failed", slog.Any("error", err))
		BadGateway(c, "resume scoring unavailable")
		return
	}

	suggestions, err := json.Marshal(result.Suggestions)
	if err != nil {
		Internal(c, "failed to encode suggestions")
		return
	}

	pending := database.PendingApplication{
		JobID:       job.ID,
		SeekerID:    userID,
		ATSScore:    result.Score,
		Suggestions: datatypes.JSON(suggestions),
	}
	err = h.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "job_id"}, {Name: "seeker_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"ats_score", "suggestions", "updated_at"}),
	}).Create(&pending).Error
	if err != nil {
		Internal(c, "failed to stage ats result")
		return
	}

	c.JSON(http.StatusOK, gin.H{"score": result.Score, "suggestions": result.Suggestions})
}

type coverLetterRequest struct {
	Content string `json:"content"`
}

// StageCoverLetter 为职位暂存求职信。正文为空时调用模型生成。
// 暂存覆盖同一 (seeker, job) 的旧稿。
func (h *JobHandler) StageCoverLetter(c *gin.Context) {
	var req coverLetterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	job, ok := h.openJob(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	content := req.Content
	if content == "" {
		_, resumeText, ok := h.seekerResumeText(c, userID)
		if !ok {
			return
		}
		generated, err := h.llm.GenerateCoverLetter(ctx, resumeText, job.Title, job.Description)
		if err != nil {
			middleware.LoggerFromContext(c).Error("cover letter generation failed", slog.Any("error", err))
			BadGateway(c, "cover letter generation unavailable")
			return
		}
		content = generated
	}

	pending := database.PendingApplication{
		JobID:       job.ID,
		SeekerID:    userID,
		CoverLetter: content,
	}
	err := h.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "job_id"}, {Name: "seeker_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"cover_letter", "updated_at"}),
	}).Create(&pending).Error
	if err != nil {
		Internal(c, "failed to stage cover letter")
		return
	}
	c.JSON(http.StatusOK, gin.H{"cover_letter": content})
}

// GetPendingApplication 返回调用者对职位的申请草稿。
func (h *JobHandler) GetPendingApplication(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	jobID, err := parseIDParam(c, "id")
	if err != nil {
		BadRequest(c, "invalid job id")
		return
	}

	var pending database.PendingApplication
	if err := h.db.WithContext(c.Request.Context()).
		Where("job_id = ? AND seeker_id = ?", jobID, userID).
		First(&pending).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			NotFound(c, "no pending application")
			return
		}
		Internal(c, "failed to load pending application")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"job_id":       pending.JobID,
		"cover_letter": pending.CoverLetter,
		"ats_score":    pending.ATSScore,
		"suggestions":  json.RawMessage(pending.Suggestions),
	})
}

// ToggleApply 切换申请状态：未申请则提交，已申请则撤回。
// 提交前置条件：职位在招、未过截止、已暂存非空求职信。
// 提交与撤回都在事务内完成，失败时不留下部分变更。
func (h *JobHandler) ToggleApply(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	jobID, err := parseIDParam(c, "id")
	if err != nil {
		BadRequest(c, "invalid job id")
		return
	}

	ctx := c.Request.Context()
	var job database.Job
	if err := h.db.WithContext(ctx).First(&job, jobID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			NotFound(c, "job not found")
			return
		}
		Internal(c, "failed to load job")
		return
	}

	var existing database.Application
	err = h.db.WithContext(ctx).
		Where("job_id = ? AND seeker_id = ?", jobID, userID).
		First(&existing).Error
	switch {
	case err == nil:
		h.withdrawApplication(c, &job, &existing)
	case errors.Is(err, gorm.ErrRecordNotFound):
		h.submitApplication(c, &job, userID)
	default:
		Internal(c, "failed to load application")
	}
}

func (h *JobHandler) submitApplication(c *gin.Context, job *database.Job, userID uint) {
	if job.Status != database.JobStatusOpen {
		Conflict(c, "job is not accepting applications")
		return
	}
	if job.ApplicationDeadline != nil && time.Now().After(*job.ApplicationDeadline) {
		Conflict(c, "application deadline has passed")
		return
	}

	ctx := c.Request.Context()
	var pending database.PendingApplication
	err := h.db.WithContext(ctx).
		Where("job_id = ? AND seeker_id = ?", job.ID, userID).
		First(&pending).Error
	if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && pending.CoverLetter == "") {
		BadRequest(c, "must generate a cover letter before applying")
		return
	}
	if err != nil {
		Internal(c, "failed to load pending application")
		return
	}

	var profile database.JobSeekerProfile
	if err := h.db.WithContext(ctx).Where("user_id = ?", userID).First(&profile).Error; err != nil {
		Internal(c, "failed to load seeker profile")
		return
	}

	application := database.Application{
		JobID:       job.ID,
		SeekerID:    userID,
		Status:      database.ApplicationStatusApplied,
		CoverLetter: pending.CoverLetter,
		ATSScore:    pending.ATSScore,
		ResumeKey:   profile.ResumeKey,
	}
	// 草稿与申请行都占用 (job, seeker) 唯一索引，物理删除以便后续重新暂存。
	err = h.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&application).Error; err != nil {
			return err
		}
		return tx.Unscoped().Delete(&pending).Error
	})
	if err != nil {
		// 唯一索引兜底并发重复提交。
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			Conflict(c, "already applied")
			return
		}
		Internal(c, "failed to submit application")
		return
	}

	if err := h.notifier.Send(ctx, job.PostedByID, notify.TypeApplicationReceived, job.ID,
		fmt.Sprintf("New application for %q", job.Title)); err != nil {
		middleware.LoggerFromContext(c).Error("notify application received failed", slog.Any("error", err))
	}
	c.JSON(http.StatusCreated, gin.H{"applied": true, "status": application.Status})
}

func (h *JobHandler) withdrawApplication(c *gin.Context, job *database.Job, application *database.Application) {
	if application.Status == database.ApplicationStatusHired {
		Conflict(c, "cannot withdraw a hired application")
		return
	}

	// 物理删除，撤回后可重新申请（软删除行仍占用唯一索引）。
	// 同一事务内把求职信和评分还原为草稿，再次切换即可直接重新申请；
	// 撤回后若已另行暂存过草稿则保留较新的那份。
	ctx := c.Request.Context()
	err := h.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Unscoped().Delete(application).Error; err != nil {
			return err
		}
		restored := database.PendingApplication{
			JobID:       application.JobID,
			SeekerID:    application.SeekerID,
			CoverLetter: application.CoverLetter,
			ATSScore:    application.ATSScore,
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "job_id"}, {Name: "seeker_id"}},
			DoNothing: true,
		}).Create(&restored).Error
	})
	if err != nil {
		Internal(c, "failed to withdraw application")
		return
	}

	if err := h.notifier.Send(ctx, job.PostedByID, notify.TypeApplicationCanceled, job.ID,
		fmt.Sprintf("An application for %q was withdrawn", job.Title)); err != nil {
		middleware.LoggerFromContext(c).Error("notify application canceled failed", slog.Any("error", err))
	}
	c.JSON(http.StatusOK, gin.H{"applied": false})
}

// ToggleSave 切换收藏状态。收藏与申请状态完全正交。
func (h *JobHandler) ToggleSave(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	jobID, err := parseIDParam(c, "id")
	if err != nil {
		BadRequest(c, "invalid job id")
		return
	}

	ctx := c.Request.Context()
	var job database.Job
	if err := h.db.WithContext(ctx).First(&job, jobID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			NotFound(c, "job not found")
			return
		}
		Internal(c, "failed to load job")
		return
	}

	var saved database.SavedJob
	err = h.db.WithContext(ctx).
		Where("job_id = ? AND seeker_id = ?", jobID, userID).
		First(&saved).Error
	switch {
	case err == nil:
		if err := h.db.WithContext(ctx).Unscoped().Delete(&saved).Error; err != nil {
			Internal(c, "failed to unsave job")
			return
		}
		c.JSON(http.StatusOK, gin.H{"saved": false})
	case errors.Is(err, gorm.ErrRecordNotFound):
		record := database.SavedJob{JobID: jobID, SeekerID: userID}
		if err := h.db.WithContext(ctx).Create(&record).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				c.JSON(http.StatusOK, gin.H{"saved": true})
				return
			}
			Internal(c, "failed to save job")
			return
		}
		c.JSON(http.StatusCreated, gin.H{"saved": true})
	default:
		Internal(c, "failed to load saved job")
	}
}

type hireRequest struct {
	SeekerID uint `json:"seeker_id" binding:"required"`
}

// Hire 录用申请人：申请置为 hired、写入录用记录、标记求职者已受雇，
// 三者在同一事务内完成。没有撤销录用的操作。
func (h *JobHandler) Hire(c *gin.Context) {
	var req hireRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	job, ok := h.jobForOwner(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	var application database.Application
	if err := h.db.WithContext(ctx).
		Where("job_id = ? AND seeker_id = ?", job.ID, req.SeekerID).
		First(&application).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			NotFound(c, "application not found")
			return
		}
		Internal(c, "failed to load application")
		return
	}

	var existingHire database.Hire
	err := h.db.WithContext(ctx).
		Where("job_id = ? AND seeker_id = ?", job.ID, req.SeekerID).
		First(&existingHire).Error
	if err == nil {
		Conflict(c, "applicant already hired")
		return
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		Internal(c, "failed to check hire record")
		return
	}

	hire := database.Hire{JobID: job.ID, SeekerID: req.SeekerID, EmployerID: job.PostedByID}
	err = h.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&hire).Error; err != nil {
			return err
		}
		if err := tx.Model(&application).Update("status", database.ApplicationStatusHired).Error; err != nil {
			return err
		}
		return tx.Model(&database.JobSeekerProfile{}).
			Where("user_id = ?", req.SeekerID).
			Update("hired", true).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			Conflict(c, "applicant already hired")
			return
		}
		Internal(c, "failed to record hire")
		return
	}

	if err := h.notifier.Send(ctx, req.SeekerID, notify.TypeHired, job.ID,
		fmt.Sprintf("You have been hired for %q", job.Title)); err != nil {
		middleware.LoggerFromContext(c).Error("notify hired failed", slog.Any("error", err))
	}
	c.JSON(http.StatusCreated, gin.H{"job_id": job.ID, "seeker_id": req.SeekerID})
}

// ListApplicants 列出职位的申请人，仅限发布者。
func (h *JobHandler) ListApplicants(c *gin.Context) {
	job, ok := h.jobForOwner(c)
	if !ok {
		return
	}

	var applications []database.Application
	if err := h.db.WithContext(c.Request.Context()).
		Where("job_id = ?", job.ID).
		Order("ats_score DESC, created_at ASC").
		Find(&applications).Error; err != nil {
		Internal(c, "failed to list applicants")
		return
	}

	items := make([]gin.H, 0, len(applications))
	for _, a := range applications {
		items = append(items, gin.H{
			"id":           a.ID,
			"seeker_id":    a.SeekerID,
			"status":       a.Status,
			"cover_letter": a.CoverLetter,
			"ats_score":    a.ATSScore,
			"applied_at":   a.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

type applicationStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

// 雇主可把申请推进到的阶段。hired 只能经由录用操作进入。
var reviewableStatuses = map[string]bool{
	database.ApplicationStatusUnderReview: true,
	database.ApplicationStatusInterview:   true,
	database.ApplicationStatusOffered:     true,
	database.ApplicationStatusRejected:    true,
}

// UpdateApplicationStatus 推进申请阶段并通知求职者，仅限发布者。
func (h *JobHandler) UpdateApplicationStatus(c *gin.Context) {
	var req applicationStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}
	if !reviewableStatuses[req.Status] {
		BadRequest(c, "invalid application status")
		return
	}

	job, ok := h.jobForOwner(c)
	if !ok {
		return
	}

	applicationID, err := parseIDParam(c, "appID")
	if err != nil {
		BadRequest(c, "invalid application id")
		return
	}

	ctx := c.Request.Context()
	var application database.Application
	if err := h.db.WithContext(ctx).
		Where("id = ? AND job_id = ?", applicationID, job.ID).
		First(&application).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			NotFound(c, "application not found")
			return
		}
		Internal(c, "failed to load application")
		return
	}
	if application.Status == database.ApplicationStatusHired {
		Conflict(c, "application is already hired")
		return
	}

	if err := h.db.WithContext(ctx).Model(&application).Update("status", req.Status).Error; err != nil {
		Internal(c, "failed to update application status")
		return
	}

	if err := h.notifier.Send(ctx, application.SeekerID, notify.TypeApplicationUpdated, job.ID,
		fmt.Sprintf("Your application for %q is now %s", job.Title, req.Status)); err != nil {
		middleware.LoggerFromContext(c).Error("notify application updated failed", slog.Any("error", err))
	}
	c.Status(http.StatusNoContent)
}

// ListMyApplications 列出调用求职者的全部申请。
func (h *JobHandler) ListMyApplications(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	var applications []database.Application
	if err := h.db.WithContext(c.Request.Context()).
		Where("seeker_id = ?", userID).
		Order("created_at DESC").
		Find(&applications).Error; err != nil {
		Internal(c, "failed to list applications")
		return
	}

	items := make([]gin.H, 0, len(applications))
	for _, a := range applications {
		items = append(items, gin.H{
			"id":         a.ID,
			"job_id":     a.JobID,
			"status":     a.Status,
			"ats_score":  a.ATSScore,
			"applied_at": a.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

// ListSavedJobs 列出调用求职者收藏的职位。
func (h *JobHandler) ListSavedJobs(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	ctx := c.Request.Context()
	var saved []database.SavedJob
	if err := h.db.WithContext(ctx).
		Where("seeker_id = ?", userID).
		Order("created_at DESC").
		Find(&saved).Error; err != nil {
		Internal(c, "failed to list saved jobs")
		return
	}

	jobIDs := make([]uint, 0, len(saved))
	for _, s := range saved {
		jobIDs = append(jobIDs, s.JobID)
	}

	var jobs []database.Job
	if len(jobIDs) > 0 {
		if err := h.db.WithContext(ctx).Where("id IN ?", jobIDs).Find(&jobs).Error; err != nil {
			Internal(c, "failed to load saved jobs")
			return
		}
	}

	items := make([]gin.H, 0, len(jobs))
	for _, j := range jobs {
		items = append(items, jobListItem(j))
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

// jobForOwner 加载职位并校验调用者是发布者；失败时已写好响应。
func (h *JobHandler) jobForOwner(c *gin.Context) (*database.Job, bool) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return nil, false
	}

	jobID, err := parseIDParam(c, "id")
	if err != nil {
		BadRequest(c, "invalid job id")
		return nil, false
	}

	var job database.Job
	if err := h.db.WithContext(c.Request.Context()).First(&job, jobID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			NotFound(c, "job not found")
			return nil, false
		}
		Internal(c, "failed to load job")
		return nil, false
	}
	if job.PostedByID != userID {
		Forbidden(c, "not the job owner")
		return nil, false
	}
	return &job, true
}

// openJob 加载在招职位；非在招一律按不可申请处理。
func (h *JobHandler) openJob(c *gin.Context) (*database.Job, bool) {
	jobID, err := parseIDParam(c, "id")
	if err != nil {
		BadRequest(c, "invalid job id")
		return nil, false
	}

	var job database.Job
	if err := h.db.WithContext(c.Request.Context()).First(&job, jobID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			NotFound(c, "job not found")
			return nil, false
		}
		Internal(c, "failed to load job")
		return nil, false
	}
	if job.Status != database.JobStatusOpen {
		Conflict(c, "job is not accepting applications")
		return nil, false
	}
	return &job, true
}

// seekerResumeText 加载求职者资料并拼出供模型评估的简历文本。
// 未上传简历时返回 404。
func (h *JobHandler) seekerResumeText(c *gin.Context, userID uint) (*database.JobSeekerProfile, string, bool) {
	var profile database.JobSeekerProfile
	if err := h.db.WithContext(c.Request.Context()).Where("user_id = ?", userID).First(&profile).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			NotFound(c, "seeker profile not found")
			return nil, "", false
		}
		Internal(c, "failed to load seeker profile")
		return nil, "", false
	}
	if profile.ResumeKey == "" {
		NotFound(c, "resume not uploaded")
		return nil, "", false
	}

	text := fmt.Sprintf("Headline: %s\nSkills: %s\nExperience: %s\nEducation: %s",
		profile.Headline, string(profile.Skills), string(profile.Experience), string(profile.Education))
	return &profile, text, true
}

// jobListItem 是职位在列表与详情响应中的统一形状。
func jobListItem(job database.Job) gin.H {
	item := gin.H{
		"id":         job.ID,
		"title":      job.Title,
		"location":   job.Location,
		"salary_min": job.SalaryMin,
		"salary_max": job.SalaryMax,
		"status":     job.Status,
		"posted_by":  job.PostedByID,
		"created_at": job.CreatedAt,
	}
	if job.CompanyID != nil {
		item["company_id"] = *job.CompanyID
	}
	if job.Description != "" {
		item["description"] = job.Description
	}
	if job.ApplicationDeadline != nil {
		item["application_deadline"] = job.ApplicationDeadline
	}
	return item
}

// paginationParams 解析 page / page_size，越界取默认值。
func paginationParams(c *gin.Context) (int, int) {
	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil || page < 1 {
		page = 1
	}
	pageSize, err := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	if err != nil || pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	return page, pageSize
}
