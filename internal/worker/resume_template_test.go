package worker

import (
	"encoding/json"
	"strings"
	"testing"

	"jobhive/internal/llm"
)

func TestRenderResumeHTML(t *testing.T) {
	doc := &llm.ResumeDocument{
		Summary:    "Seasoned backend engineer.",
		Skills:     []string{"Go", "PostgreSQL"},
		Experience: json.RawMessage(`[{"company":"Acme","title":"Engineer","years":3}]`),
		Education:  json.RawMessage(`[{"school":"State University","degree":"BSc"}]`),
	}

	html, err := renderResumeHTML("jane", "Backend Engineer", doc)
	if err != nil {
		t.Fatalf("render: %v", err)
	}

	for _, want := range []string{
		"jane", "Backend Engineer", "Seasoned backend engineer.",
		"Go", "PostgreSQL", "Acme", "State University",
	} {
		if !strings.Contains(html, want) {
			t.Fatalf("rendered html missing %q", want)
		}
	}

	// 字段按键名排序，渲染结果稳定
	again, err := renderResumeHTML("jane", "Backend Engineer", doc)
	if err != nil {
		t.Fatalf("render again: %v", err)
	}
	if html != again {
		t.Fatal("rendering must be deterministic")
	}
}

func TestRenderResumeHTMLEscapesContent(t *testing.T) {
	doc := &llm.ResumeDocument{Summary: `<script>alert("x")</script>`}

	html, err := renderResumeHTML("jane", "", doc)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if strings.Contains(html, "<script>alert") {
		t.Fatal("model output must be escaped")
	}
}

func TestRenderResumeHTMLRejectsMalformedEntries(t *testing.T) {
	doc := &llm.ResumeDocument{Experience: json.RawMessage(`{"not":"an array"}`)}
	if _, err := renderResumeHTML("jane", "", doc); err == nil {
		t.Fatal("expected error for malformed experience")
	}
}
