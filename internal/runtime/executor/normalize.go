package executor

import (
	"bytes"
	"fmt"
	"net/http"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

// usageLimitMarkers are matched case-insensitively against error.code and
// error.type of a 404 body. The backend reports an exhausted plan as "not found".
var usageLimitMarkers = []string{
	"usage_limit_reached",
	"usage_not_included",
	"rate_limit_exceeded",
	"usage limit",
	"rate limit",
}

// completionEvents end a response stream and carry the final response object.
var completionEvents = map[string]struct{}{
	"response.done":      {},
	"response.completed": {},
}

// UpstreamError is a non-2xx upstream answer seen by the text path.
type UpstreamError struct {
	StatusCode int
	Body       []byte
}

func (e *UpstreamError) Error() string {
	msg := strings.TrimSpace(string(e.Body))
	if message := gjson.GetBytes(e.Body, "error.message").String(); message != "" {
		msg = message
	}
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	return fmt.Sprintf("upstream returned status %d: %s", e.StatusCode, msg)
}

// IsUsageLimitBody reports whether body is a JSON error whose code or type
// names a usage or rate limit.
func IsUsageLimitBody(body []byte) bool {
	if !gjson.ValidBytes(body) {
		return false
	}
	root := gjson.ParseBytes(body)
	for _, path := range []string{"error.code", "error.type", "code", "type"} {
		value := strings.ToLower(root.Get(path).String())
		if value == "" {
			continue
		}
		for _, marker := range usageLimitMarkers {
			if strings.Contains(value, marker) {
				return true
			}
		}
	}
	return false
}

// RemapUsageLimit turns a 404 carrying a usage-limit error into a 429 with
// the same headers and body. Any other response is returned as is. The body
// is buffered so it stays readable whichever way the check goes.
func RemapUsageLimit(resp *http.Response) (*http.Response, error) {
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		return resp, nil
	}
	body, err := readResponseBody(resp)
	if err != nil {
		return nil, err
	}
	replaceBody(resp, body)
	if !IsUsageLimitBody(body) {
		return resp, nil
	}

	remapped := new(http.Response)
	*remapped = *resp
	remapped.Header = resp.Header.Clone()
	remapped.StatusCode = http.StatusTooManyRequests
	remapped.Status = fmt.Sprintf("%d %s", http.StatusTooManyRequests, http.StatusText(http.StatusTooManyRequests))
	replaceBody(remapped, body)
	log.Warn("upstream reported a usage limit as 404, remapped to 429")
	return remapped, nil
}

// AggregateSSE returns the final response object of an SSE stream: the
// "response" field of the last completion event, or the event itself when
// it has no such field. Without a completion event the raw stream is returned.
func AggregateSSE(body []byte) []byte {
	var final []byte
	for _, line := range bytes.Split(body, []byte("\n")) {
		payload, ok := dataPayload(line)
		if !ok {
			continue
		}
		event := gjson.ParseBytes(payload)
		if _, done := completionEvents[event.Get("type").String()]; !done {
			continue
		}
		if response := event.Get("response"); response.IsObject() {
			final = []byte(response.Raw)
		} else {
			final = payload
		}
	}
	if final == nil {
		return body
	}
	return final
}

// dataPayload returns the JSON after "data:" on an SSE line. [DONE] and
// non-JSON payloads are skipped.
func dataPayload(line []byte) ([]byte, bool) {
	line = bytes.TrimRight(line, "\r")
	if !bytes.HasPrefix(line, []byte("data:")) {
		return nil, false
	}
	payload := bytes.TrimSpace(line[len("data:"):])
	if len(payload) == 0 || bytes.Equal(payload, []byte("[DONE]")) || !gjson.ValidBytes(payload) {
		return nil, false
	}
	return payload, true
}
