package executor

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/tidwall/gjson"
)

// StreamError is an "error" event received inside an otherwise successful stream.
type StreamError struct {
	Code    string
	Message string
}

func (e *StreamError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("upstream stream error (%s): %s", e.Code, e.Message)
	}
	return "upstream stream error: " + e.Message
}

// TextExtractor accumulates assistant text from SSE chunks that may split
// lines anywhere. Text is kept per output index so deltas and the final
// message item of the same output never both count. The zero value is ready to use.
type TextExtractor struct {
	carry   []byte
	outputs map[int64]*outputText
}

type outputText struct {
	text strings.Builder
	// final is set once the done item replaced the streamed deltas
	final bool
}

// Feed consumes one chunk. It fails as soon as an error event is seen. A
// trailing partial line is held until the next chunk completes it.
func (x *TextExtractor) Feed(chunk []byte) error {
	x.carry = append(x.carry, chunk...)
	for {
		idx := bytes.IndexByte(x.carry, '\n')
		if idx < 0 {
			return nil
		}
		line := x.carry[:idx]
		x.carry = x.carry[idx+1:]
		if err := x.handleLine(line); err != nil {
			x.carry = nil
			return err
		}
	}
}

// Flush processes a final line that had no trailing newline.
func (x *TextExtractor) Flush() error {
	if len(x.carry) == 0 {
		return nil
	}
	line := x.carry
	x.carry = nil
	return x.handleLine(line)
}

// Text returns the text accumulated so far, in output order.
func (x *TextExtractor) Text() string {
	indexes := make([]int64, 0, len(x.outputs))
	for idx := range x.outputs {
		indexes = append(indexes, idx)
	}
	slices.Sort(indexes)
	var sb strings.Builder
	for _, idx := range indexes {
		sb.WriteString(x.outputs[idx].text.String())
	}
	return sb.String()
}

func (x *TextExtractor) output(idx int64) *outputText {
	if x.outputs == nil {
		x.outputs = make(map[int64]*outputText)
	}
	out, ok := x.outputs[idx]
	if !ok {
		out = &outputText{}
		x.outputs[idx] = out
	}
	return out
}

func (x *TextExtractor) handleLine(line []byte) error {
	payload, ok := dataPayload(line)
	if !ok {
		return nil
	}
	event := gjson.ParseBytes(payload)
	switch event.Get("type").String() {
	case "error", "response.failed":
		return streamError(event)
	case "response.output_text.delta":
		out := x.output(event.Get("output_index").Int())
		if !out.final {
			out.text.WriteString(event.Get("delta").String())
		}
	case "response.output_item.added", "response.output_item.done":
		item := event.Get("item")
		if item.Get("type").String() != "message" {
			return nil
		}
		text := messageText(item)
		if text == "" {
			return nil
		}
		out := x.output(event.Get("output_index").Int())
		out.text.Reset()
		out.text.WriteString(text)
		out.final = event.Get("type").String() == "response.output_item.done"
	}
	return nil
}

func messageText(item gjson.Result) string {
	var sb strings.Builder
	for _, part := range item.Get("content").Array() {
		if part.Get("type").String() == "output_text" {
			sb.WriteString(part.Get("text").String())
		}
	}
	return sb.String()
}

func streamError(event gjson.Result) error {
	errNode := event.Get("error")
	if !errNode.Exists() {
		errNode = event.Get("response.error")
	}
	message := errNode.Get("message").String()
	if message == "" {
		message = event.Get("message").String()
	}
	if message == "" {
		message = "unknown error"
	}
	code := errNode.Get("code").String()
	if code == "" {
		code = event.Get("code").String()
	}
	return &StreamError{Code: code, Message: message}
}

// ExtractText reads an SSE body to the end and returns the assistant text.
func ExtractText(r io.Reader) (string, error) {
	var x TextExtractor
	buf := make([]byte, 32*1024)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			if errFeed := x.Feed(buf[:n]); errFeed != nil {
				return x.Text(), errFeed
			}
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return x.Text(), fmt.Errorf("failed to read stream: %w", err)
		}
	}
	if err := x.Flush(); err != nil {
		return x.Text(), err
	}
	return x.Text(), nil
}
