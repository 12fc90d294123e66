package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"
)

// maxInputRunes bounds the note or project text sent upstream.
const maxInputRunes = 12000

type TaskDraft struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Priority    string `json:"priority"`
}

type RiskDraft struct {
	Description string `json:"description"`
	Severity    string `json:"severity"`
	Mitigation  string `json:"mitigation"`
}

const summarizePrompt = `You summarize personal notes. Reply with a concise summary of at most three sentences in the language of the note. Do not add a preamble.`

const breakdownPrompt = `You turn a project description into concrete next actions.
Reply with JSON only: an array of objects with the keys "title", "description" and "priority".
"priority" is one of "low", "medium" or "high". Titles start with a verb and are at most 80 characters.
Return at most %d items.`

const scenarioPrompt = `You review a project scenario and list the risks it implies.
Reply with JSON only: an array of objects with the keys "description", "severity" and "mitigation".
"severity" is one of "low", "medium" or "high". Return at most %d items.`

// Summarize returns a short summary of a note.
func (c *Client) Summarize(ctx context.Context, title, content string) (string, error) {
	user := truncateRunes(strings.TrimSpace(title+"\n\n"+content), maxInputRunes)
	return c.complete(ctx, "summarize", summarizePrompt, user, false)
}

// BreakdownTasks asks for up to limit task drafts for a project. A limit of
// zero or less uses the configured maximum.
func (c *Client) BreakdownTasks(ctx context.Context, name, description string, limit int) ([]TaskDraft, error) {
	if c == nil {
		return nil, ErrDisabled
	}
	if limit <= 0 || limit > c.maxTasks {
		limit = c.maxTasks
	}
	user := truncateRunes("Project: "+name+"\n\n"+description, maxInputRunes)
	raw, err := c.complete(ctx, "breakdown", fmt.Sprintf(breakdownPrompt, limit), user, false)
	if err != nil {
		return nil, err
	}
	var drafts []TaskDraft
	if err := decodeArray(raw, &drafts); err != nil {
		return nil, fmt.Errorf("parse task breakdown: %w: %w", ErrUpstream, err)
	}
	return normalizeTasks(drafts, limit), nil
}

// AnalyzeScenario lists the risks of scenario within the context of project.
func (c *Client) AnalyzeScenario(ctx context.Context, project, scenario string) ([]RiskDraft, error) {
	if c == nil {
		return nil, ErrDisabled
	}
	user := truncateRunes("Project: "+project+"\n\nScenario: "+scenario, maxInputRunes)
	raw, err := c.complete(ctx, "scenario", fmt.Sprintf(scenarioPrompt, c.maxTasks), user, false)
	if err != nil {
		return nil, err
	}
	var drafts []RiskDraft
	if err := decodeArray(raw, &drafts); err != nil {
		return nil, fmt.Errorf("parse scenario risks: %w: %w", ErrUpstream, err)
	}
	return normalizeRisks(drafts, c.maxTasks), nil
}

// decodeArray pulls the first JSON array out of raw. Models often wrap JSON in
// code fences or an object such as {"tasks": [...]}.
func decodeArray(raw string, out any) error {
	text := strings.TrimSpace(raw)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	}
	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start < 0 || end <= start {
		return fmt.Errorf("no json array in response")
	}
	return json.Unmarshal([]byte(text[start:end+1]), out)
}

func normalizeTasks(drafts []TaskDraft, limit int) []TaskDraft {
	out := make([]TaskDraft, 0, len(drafts))
	seen := map[string]bool{}
	for _, draft := range drafts {
		title := truncateRunes(strings.TrimSpace(draft.Title), 200)
		if title == "" || seen[strings.ToLower(title)] {
			continue
		}
		seen[strings.ToLower(title)] = true
		out = append(out, TaskDraft{
			Title:       title,
			Description: strings.TrimSpace(draft.Description),
			Priority:    NormalizeLevel(draft.Priority),
		})
		if len(out) == limit {
			break
		}
	}
	return out
}

func normalizeRisks(drafts []RiskDraft, limit int) []RiskDraft {
	out := make([]RiskDraft, 0, len(drafts))
	seen := map[string]bool{}
	for _, draft := range drafts {
		description := strings.TrimSpace(draft.Description)
		if description == "" || seen[strings.ToLower(description)] {
			continue
		}
		seen[strings.ToLower(description)] = true
		out = append(out, RiskDraft{
			Description: description,
			Severity:    NormalizeLevel(draft.Severity),
			Mitigation:  strings.TrimSpace(draft.Mitigation),
		})
		if len(out) == limit {
			break
		}
	}
	return out
}

// NormalizeLevel maps a free form priority or severity to low, medium or high.
func NormalizeLevel(level string) string {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "low", "minor":
		return "low"
	case "high", "critical", "urgent", "major":
		return "high"
	default:
		return "medium"
	}
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
