package export

import (
	"bytes"
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"
	"time"

	"noteforge/api/internal/store"
)

// TemplateData holds data for report template rendering
type TemplateData struct {
	Key          string
	Name         string
	Description  string
	Status       string
	GeneratedAt  time.Time
	Current      int
	Longest      int
	LastActivity *time.Time
	Done         int
	Total        int
	Tasks        []store.Task
	Scenarios    []store.Scenario
}

func newTemplateData(report store.ProjectReport, now time.Time) TemplateData {
	data := TemplateData{
		Key:          report.Project.Key,
		Name:         report.Project.Name,
		Description:  report.Project.Description,
		Status:       report.Project.Status,
		GeneratedAt:  now,
		Current:      report.Streak.Current,
		Longest:      report.Streak.Longest,
		LastActivity: report.Streak.LastActivity,
		Total:        len(report.Tasks),
		Tasks:        report.Tasks,
		Scenarios:    report.Scenarios,
	}
	for _, task := range report.Tasks {
		if task.Status == store.TaskDone {
			data.Done++
		}
	}
	return data
}

var funcs = map[string]any{
	"checkbox": func(status string) string {
		switch status {
		case store.TaskDone:
			return "[x]"
		case store.TaskInProgress:
			return "[~]"
		default:
			return "[ ]"
		}
	},
	"date": func(t time.Time) string {
		return t.UTC().Format("2006-01-02")
	},
	"oneLine": func(s string) string {
		return strings.Join(strings.Fields(s), " ")
	},
}

var markdownTemplate = texttemplate.Must(texttemplate.New("report.md").Funcs(funcs).Parse(`# {{.Key}} {{.Name}}

Status: {{.Status}} | Tasks: {{.Done}}/{{.Total}} done | Streak: {{.Current}} day(s), best {{.Longest}}{{with .LastActivity}} | Last activity: {{date .}}{{end}}
{{- if .Description}}

{{.Description}}
{{- end}}

## Tasks
{{range .Tasks}}
- {{checkbox .Status}} {{oneLine .Title}} ({{.Priority}}){{if .Description}}: {{oneLine .Description}}{{end}}
{{- else}}
_No tasks yet._
{{- end}}
{{- if .Scenarios}}

## Scenarios
{{- range .Scenarios}}

### {{.Title}}
{{- if .Description}}

{{.Description}}
{{- end}}
{{range .Risks}}
- **{{.Severity}}** {{oneLine .Description}}{{if .Mitigation}} (mitigation: {{oneLine .Mitigation}}){{end}}
{{- end}}
{{- end}}
{{- end}}

_Generated {{date .GeneratedAt}}_
`))

var htmlTemplate = htmltemplate.Must(htmltemplate.New("report.html").Funcs(funcs).Parse(`<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>{{.Key}} {{.Name}}</title>
  <style>
    body { font-family: Arial, sans-serif; line-height: 1.5; max-width: 800px; margin: 2rem auto; color: #222; }
    h1 { border-bottom: 2px solid #333; padding-bottom: 0.5rem; }
    .meta { color: #666; font-size: 0.9em; margin-bottom: 2rem; }
    .done { color: #888; text-decoration: line-through; }
    .risk { background: #f5f5f5; padding: 0.5rem 1rem; margin: 0.5rem 0; border-left: 3px solid #333; }
    .high { border-left-color: #c62828; }
    .low { border-left-color: #f9a825; }
  </style>
</head>
<body>
  <h1>{{.Key}} {{.Name}}</h1>
  <div class="meta">{{.Status}} | {{.Done}}/{{.Total}} tasks done | streak {{.Current}} (best {{.Longest}}) | generated {{date .GeneratedAt}}</div>
  {{if .Description}}<p>{{.Description}}</p>{{end}}
  <h2>Tasks</h2>
  <ul>
  {{range .Tasks}}<li{{if eq .Status "done"}} class="done"{{end}}>{{.Title}} <small>({{.Priority}})</small>{{if .Description}}<br><small>{{.Description}}</small>{{end}}</li>
  {{else}}<li>No tasks yet.</li>
  {{end}}</ul>
  {{if .Scenarios}}<h2>Scenarios</h2>
  {{range .Scenarios}}<h3>{{.Title}}</h3>
  {{if .Description}}<p>{{.Description}}</p>{{end}}
  {{range .Risks}}<div class="risk {{.Severity}}"><strong>{{.Severity}}</strong> {{.Description}}{{if .Mitigation}}<br><small>{{.Mitigation}}</small>{{end}}</div>
  {{end}}{{end}}{{end}}
</body>
</html>`))

// RenderMarkdown renders the report as Markdown.
func RenderMarkdown(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := markdownTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// RenderHTML renders the report as a standalone HTML page.
func RenderHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := htmlTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
