package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/qri-io/jsonschema"
)

// 模型输出的 JSON Schema。结构不符的输出一律按 ErrInvalidOutput 处理，
// 绝不拼凑一个“看起来成功”的结果返回。
var (
	atsResultSchema = mustSchema(`{
		"type": "object",
		"required": ["score", "suggestions"],
		"properties": {
			"score": {"type": "integer", "minimum": 0, "maximum": 100},
			"suggestions": {
				"type": "array",
				"items": {"type": "string"}
			}
		}
	}`)

	resumeDocumentSchema = mustSchema(`{
		"type": "object",
		"required": ["summary", "skills", "experience", "education"],
		"properties": {
			"summary": {"type": "string", "minLength": 1},
			"skills": {
				"type": "array",
				"items": {"type": "string"}
			},
			"experience": {"type": "array"},
			"education": {"type": "array"}
		}
	}`)
)

func mustSchema(raw string) *jsonschema.Schema {
	schema := &jsonschema.Schema{}
	if err := json.Unmarshal([]byte(raw), schema); err != nil {
		panic(fmt.Sprintf("llm: invalid builtin schema: %v", err))
	}
	return schema
}

func validateAgainst(ctx context.Context, schema *jsonschema.Schema, data []byte) error {
	keyErrs, err := schema.ValidateBytes(ctx, data)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidOutput, err)
	}
	if len(keyErrs) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidOutput, keyErrs[0].Message)
	}
	return nil
}

func parseATSResult(ctx context.Context, data []byte) (*ATSResult, error) {
	if err := validateAgainst(ctx, atsResultSchema, data); err != nil {
		return nil, err
	}
	var result ATSResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOutput, err)
	}
	return &result, nil
}

func parseResumeDocument(ctx context.Context, data []byte) (*ResumeDocument, error) {
	if err := validateAgainst(ctx, resumeDocumentSchema, data); err != nil {
		return nil, err
	}
	var doc ResumeDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOutput, err)
	}
	return &doc, nil
}
