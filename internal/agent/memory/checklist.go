package memory

import (
	"strings"

	"github.com/aiklabs/aik/internal/agent/plan"
)

// ProgressChecklist tracks inferred subtasks for the goal. The completed set
// only grows; items are never un-checked.
type ProgressChecklist struct {
	Tasks     []string
	completed map[string]bool
}

// subtaskHints maps a checklist item to the keywords that mark it done when
// seen in step observations or executed actions.
var subtaskHints = map[string][]string{
	"Open Excel":                      {"excel", "start excel", "excel.exe"},
	"Create document content":         {"type_text", "typed", "cell", "workbook", "entered data"},
	"Save document":                   {"ctrl+s", "save", "saved"},
	"Close Excel":                     {"alt+f4", "close excel", "closed excel"},
	"Open browser":                    {"chrome", "firefox", "edge", "browser", "ctrl+l", "chrome.exe"},
	"Navigate to Gmail":               {"gmail", "mail.google.com", "inbox"},
	"Compose email":                   {"compose", "new message", "compose button"},
	"Attach document":                 {"attach", "attachment", "paperclip", "attach file"},
	"Send email":                      {"send", "sent", "message sent"},
	"Open required application":       {"start", "open", "launched", "running"},
	"Complete core task steps":        {"type", "fill", "write", "entered", "typed"},
	"Finalize and confirm completion": {"save", "done", "completed", "stop", "verified"},
}

// NewChecklist infers subtasks from keywords in the goal text. Unrecognized
// goals get a generic three-item checklist.
func NewChecklist(goal string) *ProgressChecklist {
	goalL := strings.ToLower(goal)
	var tasks []string
	if containsAny(goalL, "excel", "spreadsheet", "workbook") {
		tasks = append(tasks, "Open Excel", "Create document content", "Save document", "Close Excel")
	}
	if containsAny(goalL, "gmail", "email", "mail") {
		tasks = append(tasks, "Open browser", "Navigate to Gmail", "Compose email", "Attach document", "Send email")
	}
	if len(tasks) == 0 {
		tasks = []string{
			"Open required application",
			"Complete core task steps",
			"Finalize and confirm completion",
		}
	}
	return &ProgressChecklist{
		Tasks:     dedupe(tasks),
		completed: make(map[string]bool),
	}
}

// Done reports whether the named task is checked off.
func (c *ProgressChecklist) Done(task string) bool {
	return c.completed[task]
}

// CompletedCount returns how many tasks are checked off.
func (c *ProgressChecklist) CompletedCount() int {
	n := 0
	for _, t := range c.Tasks {
		if c.completed[t] {
			n++
		}
	}
	return n
}

// UpdateFromStep checks off tasks whose hints appear in the step's
// observation or executed actions.
func (c *ProgressChecklist) UpdateFromStep(observation string, executed []ActionResult) {
	var b strings.Builder
	b.WriteString(strings.ToLower(observation))
	for _, r := range executed {
		b.WriteByte(' ')
		b.WriteString(r.Action.Signature())
		if r.Action.Type == plan.ActionHotkey {
			b.WriteByte(' ')
			b.WriteString(strings.Join(r.Action.Keys, "+"))
		}
	}
	joined := b.String()

	for _, task := range c.Tasks {
		if c.completed[task] {
			continue
		}
		for _, hint := range subtaskHints[task] {
			if strings.Contains(joined, hint) {
				c.completed[task] = true
				break
			}
		}
	}
}

// UpdateFromModel lets the model's progress text check off tasks it names,
// matched by full task name or any of its longer words.
func (c *ProgressChecklist) UpdateFromModel(progressText string) {
	if progressText == "" {
		return
	}
	pl := strings.ToLower(progressText)
	for _, task := range c.Tasks {
		if c.completed[task] {
			continue
		}
		taskL := strings.ToLower(task)
		if strings.Contains(pl, taskL) {
			c.completed[task] = true
			continue
		}
		for _, word := range strings.Fields(taskL) {
			if len(word) > 3 && strings.Contains(pl, word) {
				c.completed[task] = true
				break
			}
		}
	}
}

// Render formats the checklist for prompt injection.
func (c *ProgressChecklist) Render() string {
	if len(c.Tasks) == 0 {
		return "(no checklist inferred yet)"
	}
	lines := make([]string, 0, len(c.Tasks))
	for _, task := range c.Tasks {
		mark := "[ ]"
		if c.completed[task] {
			mark = "[x]"
		}
		lines = append(lines, mark+" "+task)
	}
	return strings.Join(lines, "\n")
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func dedupe(items []string) []string {
	seen := make(map[string]bool, len(items))
	out := make([]string, 0, len(items))
	for _, it := range items {
		if !seen[it] {
			out = append(out, it)
			seen[it] = true
		}
	}
	return out
}
