package tasks

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

// 任务类型常量，确保队列生产者与消费者一致。
const (
	TypeResumeGenerate = "resume:generate"
)

// ResumeGeneratePayload 描述生成简历 PDF 所需的最小信息。
type ResumeGeneratePayload struct {
	UserID        uint   `json:"user_id"`
	CorrelationID string `json:"correlation_id"`
}

// NewResumeGenerateTask 构造一个 AI 简历生成任务。
func NewResumeGenerateTask(userID uint, correlationID string) (*asynq.Task, error) {
	payload, err := json.Marshal(ResumeGeneratePayload{
		UserID:        userID,
		CorrelationID: correlationID,
	})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeResumeGenerate, payload), nil
}
