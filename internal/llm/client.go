package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"jobhive/internal/config"
)

// ErrInvalidOutput 表示模型返回的内容不符合约定的 JSON 结构。
// 调用方应把它映射为“AI returned invalid format”一类的外部依赖错误，而不是吞掉。
var ErrInvalidOutput = errors.New("llm: ai returned invalid format")

// Generator 是处理器依赖的最小接口，测试里用假实现替换。
type Generator interface {
	ScoreResume(ctx context.Context, resumeText, jobTitle, jobDescription string) (*ATSResult, error)
	GenerateCoverLetter(ctx context.Context, resumeText, jobTitle, jobDescription string) (string, error)
	GenerateResume(ctx context.Context, profileJSON []byte) (*ResumeDocument, error)
}

// ATSResult 是 ATS 评分的约定结构。
type ATSResult struct {
	Score       int      `json:"score"`
	Suggestions []string `json:"suggestions"`
}

// ResumeDocument 是模型生成的结构化简历。
type ResumeDocument struct {
	Summary    string          `json:"summary"`
	Skills     []string        `json:"skills"`
	Experience json.RawMessage `json:"experience"`
	Education  json.RawMessage `json:"education"`
}

// Client 通过 HTTP 调用外部大模型 API，带超时与简单重试。
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	maxRetries int
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient 构造 LLM 客户端。
func NewClient(cfg config.LLMConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		maxRetries: cfg.MaxRetries,
		httpClient: &http.Client{Timeout: cfg.Timeout()},
		logger:     logger,
	}
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
	Format string `json:"format,omitempty"`
}

type generateResponse struct {
	Response string `json:"response"`
}

// generate 发送一次补全请求，失败时按次数重试（429/5xx/网络错误）。
func (c *Client) generate(ctx context.Context, prompt string, jsonMode bool) (string, error) {
	reqBody := generateRequest{
		Model:  c.model,
		Prompt: prompt,
		Stream: false,
	}
	if jsonMode {
		reqBody.Format = "json"
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal generate request: %w", err)
	}

	var lastErr error
	attempts := c.maxRetries + 1
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(time.Duration(attempt) * 500 * time.Millisecond):
			}
		}

		text, retryable, err := c.doGenerate(ctx, payload)
		if err == nil {
			return text, nil
		}
		lastErr = err
		if !retryable {
			break
		}
		c.logger.Warn("llm generate attempt failed",
			slog.Int("attempt", attempt+1),
			slog.Any("error", err),
		)
	}
	return "", lastErr
}

func (c *Client) doGenerate(ctx context.Context, payload []byte) (text string, retryable bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(payload))
	if err != nil {
		return "", false, fmt.Errorf("build generate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", true, fmt.Errorf("call llm api: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", true, fmt.Errorf("read llm response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		retryable := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		return "", retryable, fmt.Errorf("llm api status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out generateResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", false, fmt.Errorf("decode llm response: %w", err)
	}
	if strings.TrimSpace(out.Response) == "" {
		return "", false, fmt.Errorf("llm api returned empty response")
	}
	return out.Response, false, nil
}

// ScoreResume 请求模型对照职位描述为简历打分，并校验返回结构。
func (c *Client) ScoreResume(ctx context.Context, resumeText, jobTitle, jobDescription string) (*ATSResult, error) {
	prompt := fmt.Sprintf(atsPromptTemplate, jobTitle, jobDescription, resumeText)
	raw, err := c.generate(ctx, prompt, true)
	if err != nil {
		return nil, err
	}
	return parseATSResult(ctx, []byte(raw))
}

// GenerateCoverLetter 请求模型生成求职信正文。
func (c *Client) GenerateCoverLetter(ctx context.Context, resumeText, jobTitle, jobDescription string) (string, error) {
	prompt := fmt.Sprintf(coverLetterPromptTemplate, jobTitle, jobDescription, resumeText)
	raw, err := c.generate(ctx, prompt, false)
	if err != nil {
		return "", err
	}
	letter := strings.TrimSpace(raw)
	if letter == "" {
		return "", ErrInvalidOutput
	}
	return letter, nil
}

// GenerateResume 请求模型基于档案生成结构化简历，并校验返回结构。
func (c *Client) GenerateResume(ctx context.Context, profileJSON []byte) (*ResumeDocument, error) {
	prompt := fmt.Sprintf(resumePromptTemplate, profileJSON)
	raw, err := c.generate(ctx, prompt, true)
	if err != nil {
		return nil, err
	}
	return parseResumeDocument(ctx, []byte(raw))
}

const atsPromptTemplate = `You are an applicant tracking system. Score how well the resume below matches the job.
Respond with JSON only: {"score": <0-100 integer>, "suggestions": ["...", ...]}.

Job title: %s
Job description:
%s

Resume:
%s`

const coverLetterPromptTemplate = `Write a concise professional cover letter (3 short paragraphs, no placeholders) for the job below, based on the candidate resume. Respond with the letter text only.

Job title: %s
Job description:
%s

Resume:
%s`

const resumePromptTemplate = `Generate a resume from the candidate profile below.
Respond with JSON only: {"summary": "...", "skills": ["..."], "experience": [...], "education": [...]}.

Profile:
%s`
