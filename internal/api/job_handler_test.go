package api

import (
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"jobhive/internal/database"
)

func newJobTestRouter(db *gorm.DB, gen *fakeGenerator, userID uint, role string) *gin.Engine {
	handler := NewJobHandler(db, gen, newTestDispatcher(db), nil)
	router := gin.New()
	router.Use(asUser(userID, role))

	router.POST("/jobs", handler.CreateJob)
	router.PUT("/jobs/:id/status", handler.SetJobStatus)
	router.POST("/jobs/:id/ats-score", handler.ScoreResume)
	router.POST("/jobs/:id/cover-letter", handler.StageCoverLetter)
	router.POST("/jobs/:id/apply", handler.ToggleApply)
	router.POST("/jobs/:id/save", handler.ToggleSave)
	router.POST("/jobs/:id/hire", handler.Hire)
	router.PUT("/jobs/:id/applications/:appID/status", handler.UpdateApplicationStatus)
	return router
}

func seedEmployerWithJob(t *testing.T, db *gorm.DB, status string) (uint, *database.Job) {
	t.Helper()
	employer := database.User{Email: "boss@example.com", Role: database.RoleEmployer}
	mustCreate(t, db, &employer)
	mustCreate(t, db, &database.EmployerProfile{UserID: employer.ID, RoleType: database.EmployerTypeIndependent})

	job := database.Job{
		PostedByID:  employer.ID,
		Title:       "Backend Engineer",
		Description: "Go services",
		Status:      status,
	}
	mustCreate(t, db, &job)
	return employer.ID, &job
}

func seedSeeker(t *testing.T, db *gorm.DB, resumeKey string) uint {
	t.Helper()
	seeker := database.User{Email: "seeker@example.com", Role: database.RoleJobSeeker}
	mustCreate(t, db, &seeker)
	mustCreate(t, db, &database.JobSeekerProfile{
		UserID:    seeker.ID,
		Headline:  "Gopher",
		ResumeKey: resumeKey,
	})
	return seeker.ID
}

func TestApplyRequiresStagedCoverLetter(t *testing.T) {
	db := newTestDB(t)
	_, job := seedEmployerWithJob(t, db, database.JobStatusOpen)
	seekerID := seedSeeker(t, db, "resumes/1/a.pdf")

	router := newJobTestRouter(db, &fakeGenerator{}, seekerID, database.RoleJobSeeker)
	w := performJSON(t, router, http.MethodPost, fmt.Sprintf("/jobs/%d/apply", job.ID), nil)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "must generate a cover letter before applying") {
		t.Fatalf("unexpected error body: %s", w.Body.String())
	}

	var count int64
	db.Model(&database.Application{}).Count(&count)
	if count != 0 {
		t.Fatalf("expected zero applications, got %d", count)
	}
}

func TestApplyToggleSubmitsAndWithdraws(t *testing.T) {
	db := newTestDB(t)
	employerID, job := seedEmployerWithJob(t, db, database.JobStatusOpen)
	seekerID := seedSeeker(t, db, "resumes/1/a.pdf")

	router := newJobTestRouter(db, &fakeGenerator{coverLetter: "Dear team"}, seekerID, database.RoleJobSeeker)

	// 暂存求职信（空正文走模型生成）
	w := performJSON(t, router, http.MethodPost, fmt.Sprintf("/jobs/%d/cover-letter", job.ID), gin.H{})
	if w.Code != http.StatusOK {
		t.Fatalf("stage cover letter: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	// 提交申请
	w = performJSON(t, router, http.MethodPost, fmt.Sprintf("/jobs/%d/apply", job.ID), nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("apply: expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var application database.Application
	if err := db.Where("job_id = ? AND seeker_id = ?", job.ID, seekerID).First(&application).Error; err != nil {
		t.Fatalf("load application: %v", err)
	}
	if application.CoverLetter != "Dear team" {
		t.Fatalf("cover letter not copied: %q", application.CoverLetter)
	}
	if application.Status != database.ApplicationStatusApplied {
		t.Fatalf("unexpected status %q", application.Status)
	}

	// 草稿应随提交一并清除
	var pendingCount int64
	db.Model(&database.PendingApplication{}).Count(&pendingCount)
	if pendingCount != 0 {
		t.Fatalf("expected pending draft to be consumed, got %d rows", pendingCount)
	}

	// 雇主收到申请通知
	var notification database.Notification
	if err := db.Where("user_id = ?", employerID).First(&notification).Error; err != nil {
		t.Fatalf("load employer notification: %v", err)
	}

	// 再次调用为撤回
	w = performJSON(t, router, http.MethodPost, fmt.Sprintf("/jobs/%d/apply", job.ID), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("withdraw: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var count int64
	db.Model(&database.Application{}).Count(&count)
	if count != 0 {
		t.Fatalf("expected application removed, got %d rows", count)
	}

	// 撤回应把求职信还原为草稿
	var restored database.PendingApplication
	if err := db.Where("job_id = ? AND seeker_id = ?", job.ID, seekerID).First(&restored).Error; err != nil {
		t.Fatalf("load restored draft: %v", err)
	}
	if restored.CoverLetter != "Dear team" {
		t.Fatalf("cover letter not restored: %q", restored.CoverLetter)
	}

	// 第三次切换：无需重新暂存即可再次申请
	w = performJSON(t, router, http.MethodPost, fmt.Sprintf("/jobs/%d/apply", job.ID), nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("re-apply: expected 201, got %d: %s", w.Code, w.Body.String())
	}
}

func TestApplyRejectedAfterDeadline(t *testing.T) {
	db := newTestDB(t)
	_, job := seedEmployerWithJob(t, db, database.JobStatusOpen)
	past := time.Now().Add(-time.Hour)
	if err := db.Model(job).Update("application_deadline", &past).Error; err != nil {
		t.Fatalf("set deadline: %v", err)
	}
	seekerID := seedSeeker(t, db, "resumes/1/a.pdf")
	mustCreate(t, db, &database.PendingApplication{JobID: job.ID, SeekerID: seekerID, CoverLetter: "hi"})

	router := newJobTestRouter(db, &fakeGenerator{}, seekerID, database.RoleJobSeeker)
	w := performJSON(t, router, http.MethodPost, fmt.Sprintf("/jobs/%d/apply", job.ID), nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", w.Code, w.Body.String())
	}
}

func TestScoreResumeRequiresUploadedResume(t *testing.T) {
	db := newTestDB(t)
	_, job := seedEmployerWithJob(t, db, database.JobStatusOpen)
	seekerID := seedSeeker(t, db, "")

	router := newJobTestRouter(db, &fakeGenerator{score: 80}, seekerID, database.RoleJobSeeker)
	w := performJSON(t, router, http.MethodPost, fmt.Sprintf("/jobs/%d/ats-score", job.ID), nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "resume not uploaded") {
		t.Fatalf("unexpected error body: %s", w.Body.String())
	}
}

func TestScoreResumeStagesResult(t *testing.T) {
	db := newTestDB(t)
	_, job := seedEmployerWithJob(t, db, database.JobStatusOpen)
	seekerID := seedSeeker(t, db, "resumes/1/a.pdf")

	router := newJobTestRouter(db, &fakeGenerator{score: 87, suggestions: []string{"add metrics"}}, seekerID, database.RoleJobSeeker)
	w := performJSON(t, router, http.MethodPost, fmt.Sprintf("/jobs/%d/ats-score", job.ID), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var pending database.PendingApplication
	if err := db.Where("job_id = ? AND seeker_id = ?", job.ID, seekerID).First(&pending).Error; err != nil {
		t.Fatalf("load pending: %v", err)
	}
	if pending.ATSScore != 87 {
		t.Fatalf("expected staged score 87, got %d", pending.ATSScore)
	}
}

func TestSaveToggle(t *testing.T) {
	db := newTestDB(t)
	_, job := seedEmployerWithJob(t, db, database.JobStatusOpen)
	seekerID := seedSeeker(t, db, "")

	router := newJobTestRouter(db, &fakeGenerator{}, seekerID, database.RoleJobSeeker)
	path := fmt.Sprintf("/jobs/%d/save", job.ID)

	w := performJSON(t, router, http.MethodPost, path, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("save: expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var count int64
	db.Model(&database.SavedJob{}).Count(&count)
	if count != 1 {
		t.Fatalf("expected one saved job, got %d", count)
	}

	w = performJSON(t, router, http.MethodPost, path, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("unsave: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	db.Model(&database.SavedJob{}).Count(&count)
	if count != 0 {
		t.Fatalf("expected saved job removed, got %d", count)
	}

	// 再次收藏：软删除行不应挡住唯一索引
	w = performJSON(t, router, http.MethodPost, path, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("re-save: expected 201, got %d: %s", w.Code, w.Body.String())
	}
}

func TestHireIsTransactionalAndIdempotent(t *testing.T) {
	db := newTestDB(t)
	employerID, job := seedEmployerWithJob(t, db, database.JobStatusOpen)
	seekerID := seedSeeker(t, db, "resumes/1/a.pdf")
	mustCreate(t, db, &database.Application{
		JobID:    job.ID,
		SeekerID: seekerID,
		Status:   database.ApplicationStatusOffered,
	})

	router := newJobTestRouter(db, &fakeGenerator{}, employerID, database.RoleEmployer)
	path := fmt.Sprintf("/jobs/%d/hire", job.ID)

	w := performJSON(t, router, http.MethodPost, path, gin.H{"seeker_id": seekerID})
	if w.Code != http.StatusCreated {
		t.Fatalf("hire: expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var hire database.Hire
	if err := db.First(&hire).Error; err != nil {
		t.Fatalf("load hire: %v", err)
	}
	if hire.EmployerID != employerID || hire.SeekerID != seekerID {
		t.Fatalf("unexpected hire row %+v", hire)
	}

	var application database.Application
	db.Where("job_id = ?", job.ID).First(&application)
	if application.Status != database.ApplicationStatusHired {
		t.Fatalf("expected application hired, got %q", application.Status)
	}

	var profile database.JobSeekerProfile
	db.Where("user_id = ?", seekerID).First(&profile)
	if !profile.Hired {
		t.Fatal("expected seeker profile marked hired")
	}

	w = performJSON(t, router, http.MethodPost, path, gin.H{"seeker_id": seekerID})
	if w.Code != http.StatusConflict {
		t.Fatalf("second hire: expected 409, got %d: %s", w.Code, w.Body.String())
	}
}

func TestUpdateApplicationStatusNotifiesSeeker(t *testing.T) {
	db := newTestDB(t)
	employerID, job := seedEmployerWithJob(t, db, database.JobStatusOpen)
	seekerID := seedSeeker(t, db, "")
	application := database.Application{JobID: job.ID, SeekerID: seekerID, Status: database.ApplicationStatusApplied}
	mustCreate(t, db, &application)

	router := newJobTestRouter(db, &fakeGenerator{}, employerID, database.RoleEmployer)
	path := fmt.Sprintf("/jobs/%d/applications/%d/status", job.ID, application.ID)

	w := performJSON(t, router, http.MethodPut, path, gin.H{"status": "hired"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("hired via status: expected 400, got %d", w.Code)
	}

	w = performJSON(t, router, http.MethodPut, path, gin.H{"status": database.ApplicationStatusInterview})
	if w.Code != http.StatusNoContent {
		t.Fatalf("advance status: expected 204, got %d: %s", w.Code, w.Body.String())
	}

	var updated database.Application
	db.First(&updated, application.ID)
	if updated.Status != database.ApplicationStatusInterview {
		t.Fatalf("expected interview status, got %q", updated.Status)
	}

	var notification database.Notification
	if err := db.Where("user_id = ?", seekerID).First(&notification).Error; err != nil {
		t.Fatalf("load seeker notification: %v", err)
	}
}

func TestJobStatusTransitions(t *testing.T) {
	db := newTestDB(t)
	employerID, job := seedEmployerWithJob(t, db, database.JobStatusDraft)

	router := newJobTestRouter(db, &fakeGenerator{}, employerID, database.RoleEmployer)
	path := fmt.Sprintf("/jobs/%d/status", job.ID)

	w := performJSON(t, router, http.MethodPut, path, gin.H{"status": database.JobStatusClosed})
	if w.Code != http.StatusConflict {
		t.Fatalf("draft->closed: expected 409, got %d", w.Code)
	}

	w = performJSON(t, router, http.MethodPut, path, gin.H{"status": database.JobStatusOpen})
	if w.Code != http.StatusNoContent {
		t.Fatalf("draft->open: expected 204, got %d: %s", w.Code, w.Body.String())
	}

	w = performJSON(t, router, http.MethodPut, path, gin.H{"status": database.JobStatusClosed})
	if w.Code != http.StatusNoContent {
		t.Fatalf("open->closed: expected 204, got %d: %s", w.Code, w.Body.String())
	}
}
