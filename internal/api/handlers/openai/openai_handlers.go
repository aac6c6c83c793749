// Package openai provides the OpenAI-compatible endpoints of the local API.
// Requests are forwarded through the provider's codex transport, which owns
// authentication and request rewriting; the handlers only shape responses.
package openai

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/CodexBridge/internal/api/handlers"
	"github.com/router-for-me/CodexBridge/internal/logging"
	"github.com/router-for-me/CodexBridge/internal/provider"
	translator "github.com/router-for-me/CodexBridge/internal/translator/codex"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

const (
	streamBufferSize = 32 * 1024
	maxSSELineSize   = 50 * 1024 * 1024
)

// OpenAIAPIHandler serves the OpenAI-compatible routes.
type OpenAIAPIHandler struct {
	backend handlers.Backend
}

// NewOpenAIAPIHandler creates a handler forwarding to backend.
func NewOpenAIAPIHandler(backend handlers.Backend) *OpenAIAPIHandler {
	return &OpenAIAPIHandler{backend: backend}
}

// OpenAIModels handles GET /v1/models.
func (h *OpenAIAPIHandler) OpenAIModels(c *gin.Context) {
	models := h.backend.GetModels()
	data := make([]gin.H, 0, len(models))
	for _, model := range models {
		data = append(data, gin.H{
			"id":       model.ID,
			"object":   model.Object,
			"created":  model.Created,
			"owned_by": model.OwnedBy,
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"object": "list",
		"data":   data,
	})
}

// Responses handles POST /v1/responses. The upstream answer is relayed as-is:
// SSE for stream=true callers, one JSON object otherwise.
func (h *OpenAIAPIHandler) Responses(c *gin.Context) {
	rawJSON, ok := readBody(c)
	if !ok {
		return
	}
	resp, ok := h.forward(c, rawJSON)
	if !ok {
		return
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	handlers.WriteUpstreamHeaders(c.Writer.Header(), resp.Header)
	c.Status(resp.StatusCode)
	if !isEventStream(resp.Header) {
		_, _ = io.Copy(c.Writer, resp.Body)
		return
	}

	flusher, canFlush := c.Writer.(http.Flusher)
	buf := make([]byte, streamBufferSize)
	for {
		n, errRead := resp.Body.Read(buf)
		if n > 0 {
			if _, errWrite := c.Writer.Write(buf[:n]); errWrite != nil {
				return
			}
			if canFlush {
				flusher.Flush()
			}
		}
		if errRead != nil {
			if !errors.Is(errRead, io.EOF) && !errors.Is(errRead, context.Canceled) {
				logging.FromContext(c.Request.Context()).Warnf("responses stream interrupted: %v", errRead)
			}
			return
		}
	}
}

// ChatCompletions handles POST /v1/chat/completions. The chat body goes
// through the same transformer; responses are converted back to the chat
// completion shape.
func (h *OpenAIAPIHandler) ChatCompletions(c *gin.Context) {
	rawJSON, ok := readBody(c)
	if !ok {
		return
	}
	model := gjson.GetBytes(rawJSON, "model").String()
	stream := gjson.GetBytes(rawJSON, "stream").Type == gjson.True

	resp, ok := h.forward(c, rawJSON)
	if !ok {
		return
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		handlers.WriteError(c, resp.StatusCode, string(body))
		return
	}
	if stream {
		h.handleChatStream(c, resp, model)
		return
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		handlers.WriteError(c, http.StatusBadGateway, fmt.Sprintf("failed to read upstream response: %v", err))
		return
	}
	if !strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		handlers.WriteError(c, http.StatusBadGateway, "upstream stream ended without a completed response")
		return
	}
	c.Data(http.StatusOK, "application/json", translator.ResponseToChatCompletion(body, model))
}

func (h *OpenAIAPIHandler) handleChatStream(c *gin.Context, resp *http.Response, model string) {
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		handlers.WriteError(c, http.StatusInternalServerError, "Streaming not supported")
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)

	converter := translator.NewChatStream(model)
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, streamBufferSize), maxSSELineSize)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if !bytes.HasPrefix(line, []byte("data:")) {
			continue
		}
		payload := bytes.TrimSpace(line[len("data:"):])
		if len(payload) == 0 || bytes.Equal(payload, []byte("[DONE]")) {
			continue
		}
		if eventType := gjson.GetBytes(payload, "type").String(); eventType == "response.failed" || eventType == "error" {
			writeStreamError(c, payload)
			flusher.Flush()
			return
		}
		for _, chunk := range converter.Convert(payload) {
			_, _ = fmt.Fprintf(c.Writer, "data: %s\n\n", chunk)
		}
		flusher.Flush()
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, context.Canceled) {
		logging.FromContext(c.Request.Context()).Warnf("chat stream interrupted: %v", err)
		return
	}
	_, _ = fmt.Fprint(c.Writer, "data: [DONE]\n\n")
	flusher.Flush()
}

// InputTokens handles POST /v1/responses/input_tokens with a local estimate.
func (h *OpenAIAPIHandler) InputTokens(c *gin.Context) {
	rawJSON, ok := readBody(c)
	if !ok {
		return
	}
	model := gjson.GetBytes(rawJSON, "model").String()
	count, err := h.backend.CountTokens(model, rawJSON)
	if err != nil {
		handlers.WriteError(c, http.StatusInternalServerError, fmt.Sprintf("token counting failed: %v", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"object":       "response.input_tokens",
		"input_tokens": count,
	})
}

// forward posts body through the backend client. On failure it writes the
// error response and returns false.
func (h *OpenAIAPIHandler) forward(c *gin.Context, body []byte) (*http.Response, bool) {
	ctx := c.Request.Context()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.backend.ResponsesURL(), bytes.NewReader(body))
	if err != nil {
		handlers.WriteError(c, http.StatusInternalServerError, fmt.Sprintf("failed to create request: %v", err))
		return nil, false
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+provider.APIKeySentinel)

	resp, err := h.backend.HTTPClient().Do(req)
	if err != nil {
		entry := logging.FromContext(ctx)
		if errors.Is(err, context.Canceled) {
			entry.Debug("client went away before upstream answered")
			return nil, false
		}
		status := handlers.StatusFromError(err)
		entry.Warnf("upstream request failed: %v", err)
		handlers.WriteError(c, status, unwrapURLError(err).Error())
		return nil, false
	}
	return resp, true
}

func readBody(c *gin.Context) ([]byte, bool) {
	rawJSON, err := c.GetRawData()
	if err != nil {
		handlers.WriteError(c, http.StatusBadRequest, fmt.Sprintf("Invalid request: %v", err))
		return nil, false
	}
	if !gjson.ValidBytes(rawJSON) {
		handlers.WriteError(c, http.StatusBadRequest, "Invalid request: body must be JSON")
		return nil, false
	}
	return rawJSON, true
}

func writeStreamError(c *gin.Context, payload []byte) {
	message := gjson.GetBytes(payload, "response.error.message").String()
	if message == "" {
		message = gjson.GetBytes(payload, "message").String()
	}
	if message == "" {
		message = "upstream stream failed"
	}
	body := `{"error":{"message":"","type":"server_error"}}`
	body, _ = sjson.Set(body, "error.message", message)
	_, _ = fmt.Fprintf(c.Writer, "data: %s\n\n", body)
}

func isEventStream(h http.Header) bool {
	return strings.HasPrefix(strings.ToLower(h.Get("Content-Type")), "text/event-stream")
}

// unwrapURLError strips the "Post <url>:" prefix net/http adds to transport errors.
func unwrapURLError(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Err != nil {
		return urlErr.Err
	}
	return err
}
