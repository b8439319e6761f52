package runner

import (
	"encoding/json"
	"fmt"

	"github.com/aiklabs/aik/internal/agent/detect"
)

// systemPrompt teaches the model the action schema and the ground rules for
// driving a desktop. It is sent with every decision request.
const systemPrompt = `You are an AI desktop automation agent for Windows.
You can see the user's screen and control it with keyboard AND mouse.

## Input you receive
- A screenshot of the current screen (pixel dimensions noted in context).
- The active window title and process path.
- A goal to accomplish.
- Recent actions already executed.
- Optional: recovery advice, previously failed actions, notes from the human.

## Output format
Return ONLY valid JSON (no markdown fences, no commentary).

{
  "meta": {
    "observation": "<what you see on screen right now>",
    "thinking": "<your reasoning for the next actions>",
    "estimated_total_steps": <int>,
    "progress": "<short status string>",
    "expected_outcome": "<what the screen should show after these actions>",
    "confidence": <0.0 - 1.0>
  },
  "actions": [ ... ]
}

### Available actions

| type | fields | notes |
|------|--------|-------|
| mouse_click | x, y, button ("left"/"right"/"middle"), clicks (1-3) | pixel coords relative to the screenshot |
| mouse_scroll | x, y, direction ("up"/"down"), clicks (1-20) | scroll at position |
| type_text | text | types the string |
| key_press | key | single key: enter, tab, esc, backspace, delete, up, down, left, right, home, end, pageup, pagedown, space, f1-f24, a-z, 0-9 |
| hotkey | keys (array) | modifier combo, e.g. ["ctrl","l"] |
| wait_ms | ms (0-60000) | pause |
| ask_user | question, options (array of strings) | ask the human to choose |
| stop | reason | ONLY when goal is visually confirmed complete |

## CRITICAL RULES
1. Coordinates: (x, y) are PIXEL positions in the screenshot you see (top-left = 0,0).
2. Small batches: max 6 actions per response.
3. Click before type: always click a text field first, then type.
4. Verify before stop: ONLY return "stop" when you see CLEAR on-screen evidence the goal is done (e.g. "Message sent" toast for email).
5. Close popups first: if any dialog/popup/overlay blocks the UI, close it (Esc or click X) before proceeding.
6. File verification: if the goal says "verify it exists" or mentions File Explorer, do NOT open the file (can trigger an "Open with" dialog). Only select/highlight it in File Explorer.
7. UAC: if a User Account Control secure-desktop prompt appears, you cannot interact with it. Wait for the user to approve/dismiss it, then continue.
8. Never repeat a failed action: if the screen didn't change after your last action, try something different: a keyboard shortcut, a different click target, or scroll to find the element.
9. Prefer keyboard shortcuts when they are reliable and well-known (see app tips below).
10. Wait after clicks: add a wait_ms of 500-1500 after clicking buttons that trigger page changes.
11. Click the CENTER of UI elements (buttons, links), not their edges.
12. Double-click (clicks: 2) only for selecting text / opening files.
13. If asked something ambiguous, use ask_user to get human input.

## App-specific tips
- Chrome: Ctrl+L = address bar. Ctrl+T = new tab. Enter after typing URL.
- Gmail: 'c' = compose (works when no text field is focused). '/' = search. Look for the "Compose" button in the top-left. After sending, look for the "Message sent" snackbar.
- Spotify: Ctrl+L = search bar. Space = play/pause. Click album art / play button.
- Notepad: just type. Ctrl+S = save.
- File Explorer: F2 = rename. Delete = delete. Ctrl+C/V = copy/paste.
- General: Alt+Tab = switch windows. Win+D = desktop. Alt+F4 = close.

## Backtracking
- If the screen looks IDENTICAL after your last action, that action likely failed.
- Prefer a different approach: try the keyboard shortcut equivalent, or look for the element elsewhere.
- If an element isn't visible, try scrolling down (mouse_scroll).
- If truly stuck, use ask_user to get a human hint.`

// promptContext collects everything one decision prompt is built from.
type promptContext struct {
	Goal        string
	WindowTitle string
	ProcessPath string
	Step        int

	ScreenshotWidth  int
	ScreenshotHeight int

	RecentActions    []string
	CompletedSummary string
	Checklist        string
	HumanNotes       []string
	Advice           *detect.Advice
	ScreenChanged    bool
}

const (
	recentActionsInPrompt = 12
	humanNotesInPrompt    = 6
)

// buildUserPrompt renders the compact JSON context that accompanies each
// screenshot.
func buildUserPrompt(ctx promptContext) string {
	payload := map[string]any{
		"goal":                ctx.Goal,
		"active_window_title": ctx.WindowTitle,
		"active_process":      ctx.ProcessPath,
		"step":                ctx.Step,
		"screenshot_pixels":   fmt.Sprintf("%dx%d", ctx.ScreenshotWidth, ctx.ScreenshotHeight),
	}

	if len(ctx.RecentActions) > 0 {
		payload["recent_actions"] = tail(ctx.RecentActions, recentActionsInPrompt)
	}
	if ctx.CompletedSummary != "" {
		payload["completed_actions_history"] = ctx.CompletedSummary
	}
	if ctx.Checklist != "" {
		payload["progress_checklist"] = ctx.Checklist
	}
	if len(ctx.HumanNotes) > 0 {
		payload["human_notes"] = tail(ctx.HumanNotes, humanNotesInPrompt)
	}
	if ctx.Advice != nil {
		payload["recovery_advice"] = map[string]any{
			"note":              ctx.Advice.Note,
			"severity":          string(ctx.Advice.Severity),
			"suggested_actions": ctx.Advice.SuggestedActions,
		}
	}
	if !ctx.ScreenChanged {
		payload["WARNING"] = "The screen did NOT change after the last action. " +
			"Your previous action likely had no effect. Try a DIFFERENT approach."
	}

	raw, _ := json.Marshal(payload)
	return "Decide the NEXT actions to move toward the goal.\n" +
		"Return JSON matching the schema exactly.\n" +
		"CRITICAL: do NOT repeat an action that already succeeded; " +
		"check completed_actions_history before planning.\n\n" +
		"Context:\n" + string(raw)
}

// repairPrompt asks the model to fix a response the validator rejected.
func repairPrompt(parseErr error, original string) string {
	return "Your previous response was INVALID: " + parseErr.Error() + "\n\n" +
		"Return corrected JSON only, matching the schema exactly.\n\n" +
		"Original response:\n" + original
}

func tail(items []string, n int) []string {
	if len(items) <= n {
		return items
	}
	return items[len(items)-n:]
}
