package worker

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html/template"
	"sort"

	"jobhive/internal/llm"
)

// resumeTemplateString 是生成版简历的打印模板。
// 宽高按 A4 @ 96 DPI 固定，导出时零边距交给 @page 控制。
const resumeTemplateString = `
<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <style>
        body {
            margin: 0;
            padding: 0;
            font-family: 'Helvetica Neue', 'PingFang SC', sans-serif;
            font-size: 11pt;
            color: #1a1a1a;
        }
        .a4-page {
            width: 794px;  /* A4 @ 96 DPI */
            min-height: 1122px;
            background: white;
            margin: 0;
            padding: 48px 56px;
            box-sizing: border-box;
        }
        h1 {
            font-size: 20pt;
            margin: 0 0 4px 0;
        }
        .headline {
            color: #555;
            margin-bottom: 18px;
        }
        h2 {
            font-size: 13pt;
            border-bottom: 1px solid #ccc;
            padding-bottom: 4px;
            margin: 20px 0 10px 0;
        }
        .summary {
            line-height: 1.5;
        }
        .skills span {
            display: inline-block;
            background: #f0f2f5;
            border-radius: 3px;
            padding: 2px 8px;
            margin: 0 6px 6px 0;
            font-size: 10pt;
        }
        .entry {
            margin-bottom: 12px;
        }
        .entry .line {
            margin: 0 0 2px 0;
        }
        .entry .label {
            font-weight: 600;
        }
        @page {
            size: A4;
            margin: 0;
        }
    </style>
</head>
<body>
    <div class="a4-page" id="pdf-root">
        <h1>{{.Name}}</h1>
        {{if .Headline}}<div class="headline">{{.Headline}}</div>{{end}}

        {{if .Summary}}
        <h2>Summary</h2>
        <p class="summary">{{.Summary}}</p>
        {{end}}

        {{if .Skills}}
        <h2>Skills</h2>
        <div class="skills">
            {{range .Skills}}<span>{{.}}</span>{{end}}
        </div>
        {{end}}

        {{if .Experience}}
        <h2>Experience</h2>
        {{range .Experience}}
        <div class="entry">
            {{range .}}
            <p class="line"><span class="label">{{.Key}}:</span> {{.Value}}</p>
            {{end}}
        </div>
        {{end}}
        {{end}}

        {{if .Education}}
        <h2>Education</h2>
        {{range .Education}}
        <div class="entry">
            {{range .}}
            <p class="line"><span class="label">{{.Key}}:</span> {{.Value}}</p>
            {{end}}
        </div>
        {{end}}
        {{end}}
    </div>
</body>
</html>
`

var resumeTemplate = template.Must(template.New("resume").Parse(resumeTemplateString))

type resumeEntryField struct {
	Key   string
	Value string
}

type resumeTemplateData struct {
	Name       string
	Headline   string
	Summary    string
	Skills     []string
	Experience [][]resumeEntryField
	Education  [][]resumeEntryField
}

// renderResumeHTML 把模型输出的结构化简历渲染为可打印 HTML。
func renderResumeHTML(name, headline string, doc *llm.ResumeDocument) (string, error) {
	data := resumeTemplateData{
		Name:     name,
		Headline: headline,
		Summary:  doc.Summary,
		Skills:   doc.Skills,
	}

	var err error
	if data.Experience, err = decodeEntries(doc.Experience); err != nil {
		return "", fmt.Errorf("decode experience: %w", err)
	}
	if data.Education, err = decodeEntries(doc.Education); err != nil {
		return "", fmt.Errorf("decode education: %w", err)
	}

	var buf bytes.Buffer
	if err := resumeTemplate.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("execute resume template: %w", err)
	}
	return buf.String(), nil
}

// decodeEntries 把模型返回的对象数组摊平成键值对列表。
// 字段集合不做约定，照单渲染。
func decodeEntries(raw json.RawMessage) ([][]resumeEntryField, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	var entries []map[string]any
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, err
	}

	result := make([][]resumeEntryField, 0, len(entries))
	for _, entry := range entries {
		keys := make([]string, 0, len(entry))
		for key := range entry {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		fields := make([]resumeEntryField, 0, len(keys))
		for _, key := range keys {
			fields = append(fields, resumeEntryField{Key: key, Value: fmt.Sprint(entry[key])})
		}
		result = append(result, fields)
	}
	return result, nil
}
