package codex

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// itemKind is the variant of one input item, decided by its "type" field
// (or by "role" for untyped chat messages).
type itemKind int

const (
	kindPassthrough itemKind = iota
	kindMessage
	kindReference
	kindToolCall
	kindToolOutput
)

// MaxOrphanOutputChars bounds the tool output embedded when an orphaned
// tool result is rewritten into an assistant message.
const MaxOrphanOutputChars = 16000

const truncationMarker = "\n...[output truncated]"

func classifyItem(item gjson.Result) itemKind {
	switch item.Get("type").String() {
	case "message":
		return kindMessage
	case "item_reference":
		return kindReference
	case "function_call", "custom_tool_call", "local_shell_call":
		return kindToolCall
	case "function_call_output", "custom_tool_call_output", "local_shell_call_output":
		return kindToolOutput
	case "":
		if item.Get("role").Exists() {
			return kindMessage
		}
	}
	return kindPassthrough
}

// normalizeItems applies the per-item rules: system becomes developer,
// message content is flattened to text, references are dropped, ids are
// stripped, and orphaned tool results become assistant messages.
func normalizeItems(items []gjson.Result) []string {
	callIDs := make(map[string]struct{})
	for _, item := range items {
		if classifyItem(item) == kindToolCall {
			if id := item.Get("call_id").String(); id != "" {
				callIDs[id] = struct{}{}
			}
		}
	}

	out := make([]string, 0, len(items))
	for _, item := range items {
		if !item.IsObject() {
			continue
		}
		raw := item.Raw
		switch classifyItem(item) {
		case kindReference:
			continue
		case kindMessage:
			raw = normalizeMessage(item)
		case kindToolOutput:
			if _, ok := callIDs[item.Get("call_id").String()]; !ok {
				raw = orphanToMessage(item)
			}
		case kindToolCall, kindPassthrough:
		}
		raw, _ = sjson.Delete(raw, "id")
		out = append(out, raw)
	}
	return out
}

func normalizeMessage(item gjson.Result) string {
	role := item.Get("role").String()
	if role == "system" {
		role = "developer"
	}
	msg := `{"type":"message","role":"","content":""}`
	msg, _ = sjson.Set(msg, "role", role)
	msg, _ = sjson.Set(msg, "content", flattenContent(item.Get("content")))
	return msg
}

// flattenContent joins the textual parts of a content array. Non-text parts are dropped.
func flattenContent(content gjson.Result) string {
	if !content.Exists() || content.Type == gjson.Null {
		return ""
	}
	if content.Type == gjson.String {
		return content.String()
	}
	if !content.IsArray() {
		return content.Raw
	}
	var sb strings.Builder
	for _, part := range content.Array() {
		if part.Type == gjson.String {
			sb.WriteString(part.String())
			continue
		}
		switch part.Get("type").String() {
		case "text", "input_text", "output_text":
			sb.WriteString(part.Get("text").String())
		}
	}
	return sb.String()
}

func orphanToMessage(item gjson.Result) string {
	callID := item.Get("call_id").String()
	name := item.Get("name").String()
	if name == "" {
		name = "tool"
	}
	output := item.Get("output")
	text := output.String()
	if output.IsArray() {
		text = flattenContent(output)
	} else if output.IsObject() {
		text = output.Raw
	}
	text = truncateRunes(text, MaxOrphanOutputChars)

	body := fmt.Sprintf("[Previous %s result; call_id=%s]: %s", name, callID, text)
	msg := `{"type":"message","role":"assistant","content":""}`
	msg, _ = sjson.Set(msg, "content", body)
	return msg
}

func truncateRunes(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit]) + truncationMarker
}

// messagesToItems converts a chat-completions messages array into input items.
func messagesToItems(messages gjson.Result) []string {
	var out []string
	for _, m := range messages.Array() {
		role := m.Get("role").String()
		switch role {
		case "tool":
			item := `{"type":"function_call_output","call_id":"","output":""}`
			item, _ = sjson.Set(item, "call_id", m.Get("tool_call_id").String())
			item, _ = sjson.Set(item, "output", flattenContent(m.Get("content")))
			if name := m.Get("name").String(); name != "" {
				item, _ = sjson.Set(item, "name", name)
			}
			out = append(out, item)
		case "assistant":
			if text := flattenContent(m.Get("content")); text != "" {
				msg := `{"type":"message","role":"assistant","content":""}`
				msg, _ = sjson.Set(msg, "content", text)
				out = append(out, msg)
			}
			for _, tc := range m.Get("tool_calls").Array() {
				call := `{"type":"function_call","call_id":"","name":"","arguments":""}`
				call, _ = sjson.Set(call, "call_id", tc.Get("id").String())
				call, _ = sjson.Set(call, "name", tc.Get("function.name").String())
				call, _ = sjson.Set(call, "arguments", tc.Get("function.arguments").String())
				out = append(out, call)
			}
		default:
			msg := `{"type":"message","role":"","content":[]}`
			msg, _ = sjson.Set(msg, "role", role)
			msg, _ = sjson.SetRaw(msg, "content", contentRaw(m.Get("content")))
			out = append(out, msg)
		}
	}
	return out
}

func contentRaw(content gjson.Result) string {
	if !content.Exists() || content.Type == gjson.Null {
		return `""`
	}
	return content.Raw
}

// convertTools flattens chat-completions tool declarations
// ({"type":"function","function":{...}}) into the responses shape.
func convertTools(tools gjson.Result) string {
	converted := "[]"
	for _, tool := range tools.Array() {
		fn := tool.Get("function")
		if tool.Get("type").String() != "function" || !fn.IsObject() {
			converted, _ = sjson.SetRaw(converted, "-1", tool.Raw)
			continue
		}
		out := `{"type":"function"}`
		out, _ = sjson.Set(out, "name", fn.Get("name").String())
		if desc := fn.Get("description"); desc.Exists() {
			out, _ = sjson.Set(out, "description", desc.String())
		}
		if params := fn.Get("parameters"); params.Exists() {
			out, _ = sjson.SetRaw(out, "parameters", params.Raw)
		}
		if strict := fn.Get("strict"); strict.Exists() {
			out, _ = sjson.Set(out, "strict", strict.Bool())
		}
		converted, _ = sjson.SetRaw(converted, "-1", out)
	}
	return converted
}

// convertToolChoice maps {"type":"function","function":{"name":X}} onto {"type":"function","name":X}.
func convertToolChoice(choice gjson.Result) string {
	if choice.IsObject() && choice.Get("function.name").Exists() {
		out := `{"type":"function","name":""}`
		out, _ = sjson.Set(out, "name", choice.Get("function.name").String())
		return out
	}
	return choice.Raw
}
