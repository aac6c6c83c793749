package codex

import (
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

const chatChunkTemplate = `{"id":"","object":"chat.completion.chunk","created":0,"model":"","choices":[{"index":0,"delta":{},"finish_reason":null}]}`

// ChatStream converts codex response events into chat.completion.chunk
// payloads for one streamed request. It is not safe for concurrent use.
type ChatStream struct {
	model         string
	responseID    string
	createdAt     int64
	toolIndex     int
	argsStreamed  bool
	toolAnnounced bool
}

// NewChatStream starts a conversion. model is reported until the upstream names its own.
func NewChatStream(model string) *ChatStream {
	return &ChatStream{model: model, toolIndex: -1, createdAt: time.Now().Unix()}
}

// Convert turns one event payload (the JSON after "data: ") into zero or
// more chunks. Unknown event types produce nothing.
func (c *ChatStream) Convert(event []byte) []string {
	root := gjson.ParseBytes(event)
	eventType := root.Get("type").String()

	if eventType == "response.created" {
		c.responseID = root.Get("response.id").String()
		if created := root.Get("response.created_at"); created.Exists() {
			c.createdAt = created.Int()
		}
		if model := root.Get("response.model").String(); model != "" {
			c.model = model
		}
		return nil
	}

	chunk := c.newChunk()
	switch eventType {
	case "response.output_text.delta":
		chunk, _ = sjson.Set(chunk, "choices.0.delta.role", "assistant")
		chunk, _ = sjson.Set(chunk, "choices.0.delta.content", root.Get("delta").String())
	case "response.reasoning_summary_text.delta":
		chunk, _ = sjson.Set(chunk, "choices.0.delta.role", "assistant")
		chunk, _ = sjson.Set(chunk, "choices.0.delta.reasoning_content", root.Get("delta").String())
	case "response.reasoning_summary_text.done":
		chunk, _ = sjson.Set(chunk, "choices.0.delta.reasoning_content", "\n\n")
	case "response.output_item.added":
		item := root.Get("item")
		if item.Get("type").String() != "function_call" {
			return nil
		}
		c.toolIndex++
		c.argsStreamed = false
		c.toolAnnounced = true
		chunk = c.withToolCall(chunk, item, "")
	case "response.function_call_arguments.delta":
		c.argsStreamed = true
		chunk = c.withArguments(chunk, root.Get("delta").String())
	case "response.function_call_arguments.done":
		if c.argsStreamed {
			return nil
		}
		chunk = c.withArguments(chunk, root.Get("arguments").String())
	case "response.output_item.done":
		item := root.Get("item")
		if item.Get("type").String() != "function_call" {
			return nil
		}
		if c.toolAnnounced {
			c.toolAnnounced = false
			return nil
		}
		// the upstream skipped output_item.added for this call
		c.toolIndex++
		chunk = c.withToolCall(chunk, item, item.Get("arguments").String())
	case "response.completed", "response.done":
		finish := "stop"
		if c.toolIndex >= 0 {
			finish = "tool_calls"
		}
		chunk, _ = sjson.Set(chunk, "choices.0.finish_reason", finish)
		chunk = withUsage(chunk, root.Get("response.usage"))
	default:
		return nil
	}
	return []string{chunk}
}

func (c *ChatStream) newChunk() string {
	chunk := chatChunkTemplate
	chunk, _ = sjson.Set(chunk, "id", c.responseID)
	chunk, _ = sjson.Set(chunk, "created", c.createdAt)
	chunk, _ = sjson.Set(chunk, "model", c.model)
	return chunk
}

func (c *ChatStream) withToolCall(chunk string, item gjson.Result, arguments string) string {
	call := `{"index":0,"id":"","type":"function","function":{"name":"","arguments":""}}`
	call, _ = sjson.Set(call, "index", c.toolIndex)
	call, _ = sjson.Set(call, "id", item.Get("call_id").String())
	call, _ = sjson.Set(call, "function.name", item.Get("name").String())
	call, _ = sjson.Set(call, "function.arguments", arguments)
	chunk, _ = sjson.Set(chunk, "choices.0.delta.role", "assistant")
	chunk, _ = sjson.SetRaw(chunk, "choices.0.delta.tool_calls", "["+call+"]")
	return chunk
}

func (c *ChatStream) withArguments(chunk, arguments string) string {
	call := `{"index":0,"function":{"arguments":""}}`
	call, _ = sjson.Set(call, "index", c.toolIndex)
	call, _ = sjson.Set(call, "function.arguments", arguments)
	chunk, _ = sjson.SetRaw(chunk, "choices.0.delta.tool_calls", "["+call+"]")
	return chunk
}

func withUsage(payload string, usage gjson.Result) string {
	if !usage.Exists() {
		return payload
	}
	mapping := [][2]string{
		{"input_tokens", "usage.prompt_tokens"},
		{"output_tokens", "usage.completion_tokens"},
		{"total_tokens", "usage.total_tokens"},
		{"input_tokens_details.cached_tokens", "usage.prompt_tokens_details.cached_tokens"},
		{"output_tokens_details.reasoning_tokens", "usage.completion_tokens_details.reasoning_tokens"},
	}
	for _, m := range mapping {
		if v := usage.Get(m[0]); v.Exists() {
			payload, _ = sjson.Set(payload, m[1], v.Int())
		}
	}
	return payload
}

// ResponseToChatCompletion converts a final codex response object (the
// "response" field of response.completed) into a chat.completion payload.
func ResponseToChatCompletion(response []byte, model string) []byte {
	root := gjson.ParseBytes(response)
	out := `{"id":"","object":"chat.completion","created":0,"model":"","choices":[{"index":0,"message":{"role":"assistant","content":null},"finish_reason":"stop"}]}`
	out, _ = sjson.Set(out, "id", root.Get("id").String())
	created := root.Get("created_at").Int()
	if created == 0 {
		created = time.Now().Unix()
	}
	out, _ = sjson.Set(out, "created", created)
	if m := root.Get("model").String(); m != "" {
		model = m
	}
	out, _ = sjson.Set(out, "model", model)

	var content, reasoning strings.Builder
	var toolCalls []string
	for _, item := range root.Get("output").Array() {
		switch item.Get("type").String() {
		case "message":
			for _, part := range item.Get("content").Array() {
				if part.Get("type").String() == "output_text" {
					content.WriteString(part.Get("text").String())
				}
			}
		case "reasoning":
			for _, part := range item.Get("summary").Array() {
				if part.Get("type").String() == "summary_text" {
					reasoning.WriteString(part.Get("text").String())
				}
			}
		case "function_call":
			call := `{"id":"","type":"function","function":{"name":"","arguments":""}}`
			call, _ = sjson.Set(call, "id", item.Get("call_id").String())
			call, _ = sjson.Set(call, "function.name", item.Get("name").String())
			call, _ = sjson.Set(call, "function.arguments", item.Get("arguments").String())
			toolCalls = append(toolCalls, call)
		}
	}
	if content.Len() > 0 {
		out, _ = sjson.Set(out, "choices.0.message.content", content.String())
	}
	if reasoning.Len() > 0 {
		out, _ = sjson.Set(out, "choices.0.message.reasoning_content", reasoning.String())
	}
	if len(toolCalls) > 0 {
		out, _ = sjson.SetRaw(out, "choices.0.message.tool_calls", "["+strings.Join(toolCalls, ",")+"]")
		out, _ = sjson.Set(out, "choices.0.finish_reason", "tool_calls")
	}
	if status := root.Get("status").String(); status == "incomplete" {
		out, _ = sjson.Set(out, "choices.0.finish_reason", "length")
	}
	out = withUsage(out, root.Get("usage"))
	return []byte(out)
}
