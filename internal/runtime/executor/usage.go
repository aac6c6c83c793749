package executor

import (
	"bytes"
	"io"

	"github.com/router-for-me/CodexBridge/internal/metrics"
	"github.com/tidwall/gjson"
)

// maxUsageCarry bounds the partial line kept while scanning a stream.
// Lines beyond it (huge completed responses) are skipped.
const maxUsageCarry = 4 << 20

// UsageDetail is the token accounting of one response.
type UsageDetail struct {
	InputTokens     int64
	OutputTokens    int64
	CachedTokens    int64
	ReasoningTokens int64
}

// parseResponseUsage reads the usage block of a final response object.
func parseResponseUsage(response gjson.Result) (UsageDetail, bool) {
	usageNode := response.Get("usage")
	if !usageNode.Exists() {
		return UsageDetail{}, false
	}
	return UsageDetail{
		InputTokens:     usageNode.Get("input_tokens").Int(),
		OutputTokens:    usageNode.Get("output_tokens").Int(),
		CachedTokens:    usageNode.Get("input_tokens_details.cached_tokens").Int(),
		ReasoningTokens: usageNode.Get("output_tokens_details.reasoning_tokens").Int(),
	}, true
}

// parseEventUsage reads usage from a completion event payload.
func parseEventUsage(payload []byte) (UsageDetail, bool) {
	event := gjson.ParseBytes(payload)
	if _, done := completionEvents[event.Get("type").String()]; !done {
		return UsageDetail{}, false
	}
	return parseResponseUsage(event.Get("response"))
}

func recordUsage(collector *metrics.Collector, model string, detail UsageDetail) {
	if collector == nil {
		return
	}
	collector.RecordTokenUsage(model, metrics.TokenKindInput, detail.InputTokens)
	collector.RecordTokenUsage(model, metrics.TokenKindOutput, detail.OutputTokens)
	collector.RecordTokenUsage(model, metrics.TokenKindCached, detail.CachedTokens)
	collector.RecordTokenUsage(model, metrics.TokenKindReasoning, detail.ReasoningTokens)
}

// usageTap passes a stream through unchanged and reports the usage of the
// first completion event it sees.
type usageTap struct {
	io.ReadCloser
	carry    []byte
	skipping bool
	done     bool
	onUsage  func(UsageDetail)
}

func newUsageTap(body io.ReadCloser, onUsage func(UsageDetail)) *usageTap {
	return &usageTap{ReadCloser: body, onUsage: onUsage}
}

func (u *usageTap) Read(p []byte) (int, error) {
	n, err := u.ReadCloser.Read(p)
	if n > 0 && !u.done {
		u.scan(p[:n])
	}
	return n, err
}

func (u *usageTap) scan(chunk []byte) {
	for len(chunk) > 0 {
		idx := bytes.IndexByte(chunk, '\n')
		if idx < 0 {
			if !u.skipping {
				u.carry = append(u.carry, chunk...)
				if len(u.carry) > maxUsageCarry {
					u.carry = nil
					u.skipping = true
				}
			}
			return
		}
		if !u.skipping {
			u.carry = append(u.carry, chunk[:idx]...)
			if u.handleLine(u.carry) {
				u.done = true
				u.carry = nil
				return
			}
		}
		u.carry = u.carry[:0]
		u.skipping = false
		chunk = chunk[idx+1:]
	}
}

func (u *usageTap) handleLine(line []byte) bool {
	payload, ok := dataPayload(line)
	if !ok {
		return false
	}
	detail, ok := parseEventUsage(payload)
	if !ok {
		return false
	}
	u.onUsage(detail)
	return true
}
