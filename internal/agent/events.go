package agent

import (
	"encoding/json"
	"strings"
)

// Tool is a canonical tool identifier from the closed set the engine
// understands. Raw names from the event stream are mapped through
// canonicalTool; unrecognized names are dropped.
type Tool string

const (
	ToolRead         Tool = "Read"
	ToolWrite        Tool = "Write"
	ToolEdit         Tool = "Edit"
	ToolMultiEdit    Tool = "MultiEdit"
	ToolBash         Tool = "Bash"
	ToolGlob         Tool = "Glob"
	ToolGrep         Tool = "Grep"
	ToolLS           Tool = "LS"
	ToolTask         Tool = "Task"
	ToolWebFetch     Tool = "WebFetch"
	ToolWebSearch    Tool = "WebSearch"
	ToolTodoRead     Tool = "TodoRead"
	ToolTodoWrite    Tool = "TodoWrite"
	ToolNotebookRead Tool = "NotebookRead"
	ToolNotebookEdit Tool = "NotebookEdit"
)

var toolAliases = map[string]Tool{
	"read":          ToolRead,
	"read_file":     ToolRead,
	"write":         ToolWrite,
	"write_file":    ToolWrite,
	"edit":          ToolEdit,
	"edit_file":     ToolEdit,
	"multi_edit":    ToolMultiEdit,
	"multiedit":     ToolMultiEdit,
	"bash":          ToolBash,
	"shell":         ToolBash,
	"glob":          ToolGlob,
	"grep":          ToolGrep,
	"ls":            ToolLS,
	"task":          ToolTask,
	"web_fetch":     ToolWebFetch,
	"webfetch":      ToolWebFetch,
	"web_search":    ToolWebSearch,
	"websearch":     ToolWebSearch,
	"todo_read":     ToolTodoRead,
	"todo_write":    ToolTodoWrite,
	"notebook_read": ToolNotebookRead,
	"notebook_edit": ToolNotebookEdit,
}

func canonicalTool(raw string) (Tool, bool) {
	t, ok := toolAliases[strings.ToLower(raw)]
	return t, ok
}

// errorEventTypes are the event types that carry failure payloads.
var errorEventTypes = map[string]bool{
	"error":           true,
	"turn.failed":     true,
	"response.failed": true,
	"session.failed":  true,
}

// event is the strict schema for one stdout JSONL line. Fields whose wire
// shape varies across codex versions are kept raw and decoded lazily.
type event struct {
	Type       string            `json:"type"`
	ThreadID   string            `json:"thread_id"`
	SessionID  string            `json:"session_id"`
	Delta      string            `json:"delta"`
	Text       string            `json:"text"`
	OutputText string            `json:"output_text"`
	Item       json.RawMessage   `json:"item"`
	Message    json.RawMessage   `json:"message"` // string (error detail) or message object
	Response   *responseBody     `json:"response"`
	Error      json.RawMessage   `json:"error"` // string or structured object
	Errors     []json.RawMessage `json:"errors"`
	Detail     string            `json:"detail"`
	Reason     string            `json:"reason"`
	ToolName   string            `json:"tool_name"`
	Input      json.RawMessage   `json:"input"`
	Command    string            `json:"command"`
	ToolCall   *toolCallBody     `json:"tool_call"`
}

type messageBody struct {
	Role    string          `json:"role"`
	Text    string          `json:"text"`
	Content json.RawMessage `json:"content"` // string or []contentPart
}

type contentPart struct {
	Type    string `json:"type"`
	Text    string `json:"text"`
	Content string `json:"content"`
}

type responseBody struct {
	Output     []json.RawMessage `json:"output"`
	OutputText string            `json:"output_text"`
}

type toolCallBody struct {
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

type errorBody struct {
	Message string `json:"message"`
	Detail  string `json:"detail"`
	Reason  string `json:"reason"`
	Code    string `json:"code"`
	Type    string `json:"type"`
}

// parseEvent decodes one JSONL line. A line whose payload does not fit
// the strict schema is retried as a bare type discriminator so it can
// still be counted; strict reports whether the full schema matched.
func parseEvent(line []byte, ev *event) (strict bool, err error) {
	if err := json.Unmarshal(line, ev); err == nil {
		return true, nil
	}
	var bare struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(line, &bare); err != nil {
		return false, err
	}
	*ev = event{Type: bare.Type}
	return false, nil
}

// decodeString decodes raw as a JSON string, returning "" for any other shape.
func decodeString(raw json.RawMessage) string {
	var s string
	if len(raw) > 0 && json.Unmarshal(raw, &s) == nil {
		return s
	}
	return ""
}

// decodeInput decodes a tool input payload, returning an empty map for
// non-object shapes.
func decodeInput(raw json.RawMessage) map[string]any {
	var m map[string]any
	if len(raw) > 0 && json.Unmarshal(raw, &m) == nil && m != nil {
		return m
	}
	return map[string]any{}
}

func decodeMessageBody(raw json.RawMessage) *messageBody {
	if len(raw) == 0 || raw[0] != '{' {
		return nil
	}
	var m messageBody
	if json.Unmarshal(raw, &m) != nil {
		return nil
	}
	return &m
}

// extractErrorText assembles a normalized error string from an error-class
// event, preferring structured fields over the bare event type.
func extractErrorText(ev *event) string {
	if !errorEventTypes[strings.ToLower(ev.Type)] {
		return ""
	}

	var parts []string
	add := func(s string) {
		s = strings.TrimSpace(s)
		if s == "" {
			return
		}
		for _, existing := range parts {
			if existing == s {
				return
			}
		}
		parts = append(parts, s)
	}

	if s := decodeString(ev.Error); s != "" {
		add(s)
	} else if len(ev.Error) > 0 {
		var body errorBody
		if json.Unmarshal(ev.Error, &body) == nil {
			add(body.Message)
			add(body.Detail)
			add(body.Reason)
			add(body.Code)
			add(body.Type)
		}
	}

	add(decodeString(ev.Message))
	add(ev.Detail)
	add(ev.Reason)

	for _, raw := range ev.Errors {
		if s := decodeString(raw); s != "" {
			add(s)
			continue
		}
		var body errorBody
		if json.Unmarshal(raw, &body) == nil {
			if body.Message != "" {
				add(body.Message)
			} else if body.Detail != "" {
				add(body.Detail)
			} else {
				add(body.Reason)
			}
		}
	}

	if len(parts) > 0 {
		return strings.Join(parts, " | ")
	}
	if ev.Type != "" {
		return ev.Type
	}
	return "unknown codex error"
}

// extractTextChunks gathers assistant-facing text from the several shapes
// codex versions emit it under. Dedup happens at the fold, not here.
func extractTextChunks(ev *event) []string {
	var chunks []string
	add := func(s string) {
		if s = strings.TrimSpace(s); s != "" {
			chunks = append(chunks, s)
		}
	}
	eventType := strings.ToLower(ev.Type)

	add(ev.Delta)

	if strings.Contains(eventType, "delta") {
		add(ev.Text)
	}

	add(ev.OutputText)

	if m := decodeMessageBody(ev.Item); m != nil {
		chunks = append(chunks, textFromMessageLike(m)...)
	}
	if m := decodeMessageBody(ev.Message); m != nil {
		chunks = append(chunks, textFromMessageLike(m)...)
	}

	if ev.Response != nil {
		for _, raw := range ev.Response.Output {
			if m := decodeMessageBody(raw); m != nil {
				chunks = append(chunks, textFromMessageLike(m)...)
			}
		}
		add(ev.Response.OutputText)
	}

	if strings.Contains(eventType, "completed") ||
		strings.Contains(eventType, "assistant") ||
		strings.Contains(eventType, "response") {
		add(ev.Text)
	}

	return chunks
}

// textFromMessageLike pulls text out of an item/message/output object,
// skipping anything not attributed to the assistant.
func textFromMessageLike(m *messageBody) []string {
	if m.Role != "" && m.Role != "assistant" {
		return nil
	}

	var chunks []string
	add := func(s string) {
		if s = strings.TrimSpace(s); s != "" {
			chunks = append(chunks, s)
		}
	}

	add(m.Text)

	if s := decodeString(m.Content); s != "" {
		add(s)
	} else if len(m.Content) > 0 && m.Content[0] == '[' {
		var parts []contentPart
		if json.Unmarshal(m.Content, &parts) == nil {
			for _, part := range parts {
				switch part.Type {
				case "output_text", "text", "message":
					add(part.Text)
					add(part.Content)
				}
			}
		}
	}

	return chunks
}

// extractToolCalls recognizes the three structural tool-call variants. The
// first matching shape wins; unrecognized raw names yield nothing.
func extractToolCalls(ev *event) []ToolCall {
	eventType := strings.ToLower(ev.Type)

	if ev.ToolName != "" {
		canonical, ok := canonicalTool(ev.ToolName)
		if !ok {
			return nil
		}
		return []ToolCall{{Name: canonical, Input: decodeInput(ev.Input)}}
	}

	if cmd := strings.TrimSpace(ev.Command); cmd != "" {
		if strings.Contains(eventType, "exec.command") ||
			strings.Contains(eventType, "shell") ||
			strings.Contains(eventType, "bash") {
			return []ToolCall{{Name: ToolBash, Input: map[string]any{"command": cmd}}}
		}
	}

	if ev.ToolCall != nil && ev.ToolCall.Name != "" {
		canonical, ok := canonicalTool(ev.ToolCall.Name)
		if !ok {
			return nil
		}
		return []ToolCall{{Name: canonical, Input: decodeInput(ev.ToolCall.Input)}}
	}

	return nil
}

// fingerprint builds an order-independent canonical string for dedup.
// json.Marshal sorts map keys, so equal inputs fingerprint equally
// regardless of arrival order.
func fingerprint(name Tool, input map[string]any) string {
	encoded, err := json.Marshal(input)
	if err != nil {
		encoded = []byte("{}")
	}
	return string(name) + ":" + string(encoded)
}
