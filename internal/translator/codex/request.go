// Package codex rewrites inbound OpenAI-style requests into the body the
// codex responses backend accepts, and converts its events back into chat
// completion payloads.
package codex

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/router-for-me/CodexBridge/internal/registry"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Correlation headers mirrored from prompt_cache_key.
const (
	HeaderConversationID = "Conversation_id"
	HeaderSessionID      = "Session_id"
)

// DefaultVerbosity is used when the request does not set text.verbosity.
const DefaultVerbosity = "medium"

// toolBridgeText is sent as the first developer message whenever tools are
// declared. The upstream prompt is written for the codex CLI tool set.
const toolBridgeText = `# Tool environment

You are running inside a host application, not the Codex CLI. Only the tools declared in this request exist.
- Call tools by the exact names in the declared tool list. Do not invent tools.
- "shell", "apply_patch", "update_plan" and "view_image" from your instructions are available only if they are declared. Otherwise use the declared tool that performs the same job (for example a file edit or command tool).
- Tool results come back as function_call_output items keyed by call_id.`

// Options controls one transformation.
type Options struct {
	// Instructions returns the system prompt for a base model. It may return "".
	Instructions func(baseModel string) string
	// Verbosity overrides DefaultVerbosity.
	Verbosity string
}

// Result is the transformed request.
type Result struct {
	Body []byte
	// Headers holds the correlation headers to merge into the outgoing request.
	Headers http.Header
	// CallerStream is true only when the caller explicitly asked for stream=true.
	CallerStream bool
	// Model is the upstream base model.
	Model string
	// Effort is the reasoning effort sent upstream.
	Effort string
	// Transformed is false when the body was forwarded untouched.
	Transformed bool
}

// TransformError reports a body that could not be transformed. It is logged,
// never returned: the original body is forwarded instead.
type TransformError struct {
	Reason string
}

func (e *TransformError) Error() string {
	return fmt.Sprintf("transform request: %s", e.Reason)
}

// TransformRequest rewrites body for the codex backend. Malformed bodies are
// forwarded unchanged.
func TransformRequest(body []byte, opts Options) Result {
	result := Result{Body: body, Headers: http.Header{}}
	if !gjson.ValidBytes(body) || !gjson.ParseBytes(body).IsObject() {
		log.Warn((&TransformError{Reason: "body is not a JSON object"}).Error())
		ApplyPromptCacheHeaders(result.Headers, "")
		return result
	}
	root := gjson.ParseBytes(body)
	out := body

	result.CallerStream = root.Get("stream").Type == gjson.True

	requested := root.Get("model").String()
	base := registry.GetBaseModelID(requested)
	effort := registry.GetReasoningEffort(requested)
	if _, known := registry.GetModelInfo(requested); !known {
		if explicit := root.Get("reasoning.effort").String(); explicit != "" {
			effort = explicit
		} else if explicit = root.Get("reasoning_effort").String(); explicit != "" {
			effort = explicit
		}
	}
	result.Model = base
	result.Effort = effort

	// Items come from "input", or from a chat-completions "messages" array.
	var rawItems []gjson.Result
	input := root.Get("input")
	switch {
	case input.IsArray():
		rawItems = input.Array()
	case input.Type == gjson.String:
		item := `{"type":"message","role":"user","content":""}`
		item, _ = sjson.Set(item, "content", input.String())
		rawItems = []gjson.Result{gjson.Parse(item)}
	case root.Get("messages").IsArray():
		for _, raw := range messagesToItems(root.Get("messages")) {
			rawItems = append(rawItems, gjson.Parse(raw))
		}
	}
	items := normalizeItems(rawItems)

	tools := root.Get("tools")
	if tools.IsArray() && len(tools.Array()) > 0 {
		out, _ = sjson.SetRawBytes(out, "tools", []byte(convertTools(tools)))
		bridge := `{"type":"message","role":"developer","content":""}`
		bridge, _ = sjson.Set(bridge, "content", toolBridgeText)
		items = append([]string{bridge}, items...)
	}
	if choice := root.Get("tool_choice"); choice.Exists() {
		out, _ = sjson.SetRawBytes(out, "tool_choice", []byte(convertToolChoice(choice)))
	}

	instructions := ""
	if opts.Instructions != nil {
		instructions = opts.Instructions(base)
	}
	if instructions != "" {
		// The caller's own instructions move into the conversation so the
		// upstream prompt can take their place.
		if callerInstructions := root.Get("instructions").String(); callerInstructions != "" && callerInstructions != instructions {
			msg := `{"type":"message","role":"developer","content":""}`
			msg, _ = sjson.Set(msg, "content", callerInstructions)
			items = append([]string{msg}, items...)
		}
		out, _ = sjson.SetBytes(out, "instructions", instructions)
	}

	out, _ = sjson.SetRawBytes(out, "input", []byte("["+strings.Join(items, ",")+"]"))
	out, _ = sjson.DeleteBytes(out, "messages")
	out, _ = sjson.SetBytes(out, "model", base)
	out, _ = sjson.SetBytes(out, "store", false)
	// The backend only answers with SSE; non-streaming callers are served by
	// aggregating the stream afterwards.
	out, _ = sjson.SetBytes(out, "stream", true)
	out, _ = sjson.DeleteBytes(out, "stream_options")

	verbosity := opts.Verbosity
	if verbosity == "" {
		verbosity = DefaultVerbosity
	}
	if !root.Get("text.verbosity").Exists() {
		out, _ = sjson.SetBytes(out, "text.verbosity", verbosity)
	}

	out, _ = sjson.DeleteBytes(out, "reasoning_effort")
	if effort == registry.EffortNone {
		out, _ = sjson.DeleteBytes(out, "reasoning")
	} else {
		out, _ = sjson.SetBytes(out, "reasoning.effort", effort)
		if !root.Get("reasoning.summary").Exists() {
			out, _ = sjson.SetBytes(out, "reasoning.summary", "auto")
		}
	}
	out, _ = sjson.SetBytes(out, "include", []string{"reasoning.encrypted_content"})

	// Codex rejects output limits and sampling parameters.
	for _, field := range []string{"max_output_tokens", "max_completion_tokens", "max_tokens", "temperature", "top_p", "n", "user", "service_tier"} {
		out, _ = sjson.DeleteBytes(out, field)
	}

	ApplyPromptCacheHeaders(result.Headers, root.Get("prompt_cache_key").String())

	result.Body = out
	result.Transformed = true
	return result
}

// ApplyPromptCacheHeaders mirrors key into the conversation and session
// headers. An empty key removes both so a reused header set carries no stale value.
func ApplyPromptCacheHeaders(h http.Header, key string) {
	key = strings.TrimSpace(key)
	if key == "" {
		h.Del(HeaderConversationID)
		h.Del(HeaderSessionID)
		return
	}
	h.Set(HeaderConversationID, key)
	h.Set(HeaderSessionID, key)
}
