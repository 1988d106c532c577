package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"jobhive/internal/database"
	"jobhive/internal/errcode"
	"jobhive/internal/llm"
	"jobhive/internal/notify"
	"jobhive/internal/storage"
	"jobhive/internal/tasks"
)

// ResumeGenerateHandler 负责消费 AI 简历生成任务：
// 调模型生成结构化简历，渲染为 PDF 存入对象存储，再推送结果通知。
type ResumeGenerateHandler struct {
	db          *gorm.DB
	storage     *storage.Client
	redisClient *redis.Client
	generator   llm.Generator
	logger      *slog.Logger
}

// NewResumeGenerateHandler 创建任务处理器。
func NewResumeGenerateHandler(
	db *gorm.DB,
	storage *storage.Client,
	redisClient *redis.Client,
	generator llm.Generator,
	logger *slog.Logger,
) *ResumeGenerateHandler {
	return &ResumeGenerateHandler{
		db:          db,
		storage:     storage,
		redisClient: redisClient,
		generator:   generator,
		logger:      logger,
	}
}

// ProcessTask 实现 asynq.Handler。
func (h *ResumeGenerateHandler) ProcessTask(ctx context.Context, t *asynq.Task) (retErr error) {
	log := h.logger

	var payload tasks.ResumeGeneratePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		log.Error("unmarshal task payload failed", slog.Any("error", err))
		return err
	}

	log = log.With(
		slog.String("correlation_id", payload.CorrelationID),
		slog.Uint64("user_id", uint64(payload.UserID)),
	)
	log.Info("Starting AI resume generation task...")

	var profile database.JobSeekerProfile
	if err := h.db.WithContext(ctx).Where("user_id = ?", payload.UserID).First(&profile).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Warn("seeker profile not found, skipping task")
			return nil
		}
		log.Error("query seeker profile failed", slog.Any("error", err))
		return err
	}

	defer func() {
		if retErr == nil {
			return
		}
		if !isFinalAsynqAttempt(ctx) {
			return
		}

		code := errcode.SystemError
		if errors.Is(retErr, llm.ErrInvalidOutput) {
			code = errcode.AIInvalidOutput
		}
		msg := ResumeGenerationNotifyMessage{
			Status:        "error",
			UserID:        payload.UserID,
			CorrelationID: payload.CorrelationID,
			ErrorCode:     code,
			ErrorMessage:  strings.TrimSpace(retErr.Error()),
		}
		if err := h.publishResumeGenerationNotify(ctx, payload.UserID, msg); err != nil {
			log.Error("publish resume error notification failed", slog.Any("error", err))
		}
	}()

	profileJSON, err := json.Marshal(map[string]any{
		"headline":   profile.Headline,
		"skills":     json.RawMessage(orEmptyArray(profile.Skills)),
		"education":  json.RawMessage(orEmptyArray(profile.Education)),
		"experience": json.RawMessage(orEmptyArray(profile.Experience)),
	})
	if err != nil {
		log.Error("marshal profile failed", slog.Any("error", err))
		return err
	}

	doc, err := h.generator.GenerateResume(ctx, profileJSON)
	if err != nil {
		log.Error("llm resume generation failed", slog.Any("error", err))
		return err
	}

	var user database.User
	if err := h.db.WithContext(ctx).First(&user, profile.UserID).Error; err != nil {
		log.Error("query user failed", slog.Any("error", err))
		return err
	}
	displayName := strings.SplitN(user.Email, "@", 2)[0]

	html, err := renderResumeHTML(displayName, profile.Headline, doc)
	if err != nil {
		log.Error("render resume html failed", slog.Any("error", err))
		return err
	}

	page, cleanup, err := renderHTMLPage(log, html)
	if err != nil {
		log.Error("render resume page failed", slog.Any("error", err))
		return err
	}
	defer cleanup()

	pdfBytes, err := exportPDF(page)
	if err != nil {
		log.Error("export resume pdf failed", slog.Any("error", err))
		return err
	}

	objectName := storage.GeneratedResumeKey(profile.UserID)
	pdfReader := bytes.NewReader(pdfBytes)
	if _, err := h.storage.UploadFile(ctx, objectName, pdfReader, int64(len(pdfBytes)), "application/pdf"); err != nil {
		log.Error("upload resume pdf to minio failed", slog.Any("error", err))
		return err
	}

	oldKey := profile.GeneratedResumeKey
	if err := h.db.WithContext(ctx).Model(&profile).
		Update("generated_resume_key", objectName).Error; err != nil {
		log.Error("update seeker profile failed", slog.Any("error", err))
		return err
	}
	if oldKey != "" && oldKey != objectName {
		if err := h.storage.DeleteObject(ctx, oldKey); err != nil {
			log.Warn("delete previous generated resume failed", slog.Any("error", err))
		}
	}

	msg := ResumeGenerationNotifyMessage{
		Status:        "completed",
		UserID:        payload.UserID,
		CorrelationID: payload.CorrelationID,
		ErrorCode:     errcode.OK,
	}
	if err := h.publishResumeGenerationNotify(ctx, payload.UserID, msg); err != nil {
		log.Error("publish redis notification failed", slog.Any("error", err))
		return err
	}

	log.Info("AI resume generation task completed successfully.")
	return nil
}

func (h *ResumeGenerateHandler) publishResumeGenerationNotify(ctx context.Context, userID uint, msg ResumeGenerationNotifyMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal notification payload: %w", err)
	}
	channel := notify.Channel(userID)
	if err := h.redisClient.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("publish redis notification to %q: %w", channel, err)
	}
	return nil
}

func isFinalAsynqAttempt(ctx context.Context) bool {
	retryCount, ok1 := asynq.GetRetryCount(ctx)
	maxRetry, ok2 := asynq.GetMaxRetry(ctx)
	if !ok1 || !ok2 {
		return false
	}
	return retryCount >= maxRetry
}

// orEmptyArray 把空 JSONB 字段兜底成空数组，避免模型拿到 null。
func orEmptyArray(raw []byte) []byte {
	if len(raw) == 0 {
		return []byte("[]")
	}
	return raw
}
