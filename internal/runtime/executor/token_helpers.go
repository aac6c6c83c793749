package executor

import (
	"fmt"
	"strings"

	"github.com/router-for-me/CodexBridge/internal/registry"
	"github.com/tidwall/gjson"
	"github.com/tiktoken-go/tokenizer"
)

// codecForModel picks the tiktoken codec for a base model id. Every codex
// family shares the gpt-5 encoding; unknown ids fall back to o200k.
func codecForModel(base string) (tokenizer.Codec, error) {
	base = strings.ToLower(strings.TrimSpace(base))
	if strings.HasPrefix(base, "gpt-5") || strings.Contains(base, "codex") {
		return tokenizer.ForModel(tokenizer.GPT5)
	}
	return tokenizer.Get(tokenizer.O200kBase)
}

// CountTokens approximates the prompt tokens of a responses or chat
// completions body. The upstream instructions injected later are not counted.
func CountTokens(model string, payload []byte) (int64, error) {
	codec, err := codecForModel(registry.GetBaseModelID(model))
	if err != nil {
		return 0, fmt.Errorf("failed to load tokenizer: %w", err)
	}
	if len(payload) == 0 {
		return 0, nil
	}

	var text promptText
	root := gjson.ParseBytes(payload)
	text.add(root.Get("instructions").String())
	text.input(root.Get("input"))
	text.messages(root.Get("messages"))
	text.tools(root.Get("tools"))
	text.raw(root.Get("tool_choice"))
	if format := root.Get("text.format"); format.Exists() {
		text.add(format.Get("type").String(), format.Get("name").String())
		text.raw(format.Get("schema"))
	}

	joined := text.String()
	if joined == "" {
		return 0, nil
	}
	count, err := codec.Count(joined)
	if err != nil {
		return 0, fmt.Errorf("failed to count tokens: %w", err)
	}
	return int64(count), nil
}

// promptText gathers every piece of a request the model reads as text.
type promptText struct {
	parts []string
}

func (p *promptText) String() string {
	return strings.TrimSpace(strings.Join(p.parts, "\n"))
}

func (p *promptText) add(values ...string) {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			p.parts = append(p.parts, v)
		}
	}
}

// raw adds strings as text and objects as their JSON source.
func (p *promptText) raw(v gjson.Result) {
	switch {
	case !v.Exists():
	case v.Type == gjson.String:
		p.add(v.String())
	default:
		p.add(v.Raw)
	}
}

// input walks a responses input: a plain string or an item array.
func (p *promptText) input(input gjson.Result) {
	if input.Type == gjson.String {
		p.add(input.String())
		return
	}
	input.ForEach(func(_, item gjson.Result) bool {
		switch item.Get("type").String() {
		case "function_call", "custom_tool_call":
			p.add(item.Get("name").String(), item.Get("arguments").String(), item.Get("input").String())
		case "function_call_output", "custom_tool_call_output":
			p.content(item.Get("output"))
		case "reasoning", "item_reference":
			// encrypted or referenced, never re-read as prompt text
		default:
			p.add(item.Get("role").String())
			p.content(item.Get("content"))
		}
		return true
	})
}

func (p *promptText) messages(messages gjson.Result) {
	if !messages.IsArray() {
		return
	}
	messages.ForEach(func(_, message gjson.Result) bool {
		p.add(message.Get("role").String(), message.Get("name").String())
		p.content(message.Get("content"))
		message.Get("tool_calls").ForEach(func(_, call gjson.Result) bool {
			p.add(call.Get("id").String(), call.Get("type").String())
			p.function(call.Get("function"))
			return true
		})
		if legacy := message.Get("function_call"); legacy.Exists() {
			p.add(legacy.Get("name").String(), legacy.Get("arguments").String())
		}
		return true
	})
}

func (p *promptText) content(content gjson.Result) {
	if !content.IsArray() {
		p.raw(content)
		return
	}
	content.ForEach(func(_, part gjson.Result) bool {
		switch part.Get("type").String() {
		case "text", "input_text", "output_text":
			p.add(part.Get("text").String())
		case "input_image", "image_url", "input_file":
			// attachments are not billed by text length
		default:
			if part.IsArray() {
				p.content(part)
			} else {
				p.raw(part)
			}
		}
		return true
	})
}

func (p *promptText) tools(tools gjson.Result) {
	if !tools.IsArray() {
		p.tool(tools)
		return
	}
	tools.ForEach(func(_, tool gjson.Result) bool {
		p.tool(tool)
		return true
	})
}

// tool accepts both the flat responses shape and the nested chat shape.
func (p *promptText) tool(tool gjson.Result) {
	if !tool.Exists() {
		return
	}
	p.add(tool.Get("type").String(), tool.Get("name").String(), tool.Get("description").String())
	p.raw(tool.Get("parameters"))
	p.function(tool.Get("function"))
}

func (p *promptText) function(fn gjson.Result) {
	if !fn.Exists() {
		return
	}
	p.add(fn.Get("name").String(), fn.Get("description").String(), fn.Get("arguments").String())
	p.raw(fn.Get("parameters"))
}
