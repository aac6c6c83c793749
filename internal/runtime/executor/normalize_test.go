package executor

import (
	"bytes"
	"compress/gzip"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/zstd"
)

func newResponse(status int, body string) *http.Response {
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	h.Set("X-Request-Id", "abc")
	return &http.Response{
		StatusCode: status,
		Status:     http.StatusText(status),
		Header:     h,
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func TestRemapUsageLimit(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		want   int
	}{
		{"usage limit code", http.StatusNotFound, `{"error":{"code":"usage_limit_reached"}}`, http.StatusTooManyRequests},
		{"rate limit type upper case", http.StatusNotFound, `{"error":{"type":"RATE_LIMIT_EXCEEDED"}}`, http.StatusTooManyRequests},
		{"unrelated 404", http.StatusNotFound, `{"error":{"code":"model_not_found"}}`, http.StatusNotFound},
		{"not json", http.StatusNotFound, `not found`, http.StatusNotFound},
		{"other status untouched", http.StatusBadRequest, `{"error":{"code":"usage_limit_reached"}}`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, err := RemapUsageLimit(newResponse(tc.status, tc.body))
			if err != nil {
				t.Fatalf("RemapUsageLimit: %v", err)
			}
			if resp.StatusCode != tc.want {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tc.want)
			}
			if resp.Header.Get("X-Request-Id") != "abc" {
				t.Errorf("headers lost")
			}
			raw, _ := io.ReadAll(resp.Body)
			if string(raw) != tc.body {
				t.Errorf("body = %q, want %q", raw, tc.body)
			}
		})
	}
}

func TestAggregateSSE(t *testing.T) {
	stream := []byte("data: {\"type\":\"response.created\",\"response\":{\"id\":\"r\"}}\n" +
		"data: not-json\n" +
		"data: {\"type\":\"response.completed\",\"response\":{\"id\":\"first\"}}\r\n" +
		"data: {\"type\":\"response.done\",\"response\":{\"id\":\"last\"}}\n" +
		"data: [DONE]\n")
	if got := string(AggregateSSE(stream)); got != `{"id":"last"}` {
		t.Fatalf("AggregateSSE = %s", got)
	}

	noFinal := []byte("data: {\"type\":\"response.created\"}\n")
	if got := AggregateSSE(noFinal); !bytes.Equal(got, noFinal) {
		t.Fatalf("fallback = %s", got)
	}
}

func TestTextExtractorAcrossChunks(t *testing.T) {
	stream := "data: {\"type\":\"response.output_text.delta\",\"output_index\":0,\"delta\":\"Hel\"}\n" +
		"data: {\"type\":\"response.output_text.delta\",\"output_index\":0,\"delta\":\"lo\"}\n" +
		"data: {\"type\":\"response.output_item.done\",\"output_index\":0,\"item\":{\"type\":\"message\",\"content\":[{\"type\":\"output_text\",\"text\":\"Hello\"}]}}\n" +
		"data: {\"type\":\"response.output_item.done\",\"output_index\":1,\"item\":{\"type\":\"function_call\",\"name\":\"ls\"}}\n" +
		"data: {\"type\":\"response.output_item.done\",\"output_index\":2,\"item\":{\"type\":\"message\",\"content\":[{\"type\":\"output_text\",\"text\":\" world\"},{\"type\":\"refusal\",\"refusal\":\"no\"}]}}\n" +
		"data: [DONE]"

	for _, size := range []int{1, 7, 64, len(stream)} {
		var x TextExtractor
		for start := 0; start < len(stream); start += size {
			end := min(start+size, len(stream))
			if err := x.Feed([]byte(stream[start:end])); err != nil {
				t.Fatalf("chunk size %d: Feed: %v", size, err)
			}
		}
		if err := x.Flush(); err != nil {
			t.Fatalf("Flush: %v", err)
		}
		if got := x.Text(); got != "Hello world" {
			t.Errorf("chunk size %d: text = %q", size, got)
		}
	}
}

func TestExtractTextSurfacesErrorEvent(t *testing.T) {
	stream := "data: {\"type\":\"response.output_text.delta\",\"output_index\":0,\"delta\":\"partial\"}\n" +
		"data: {\"type\":\"error\",\"code\":\"context_length_exceeded\",\"message\":\"too long\"}\n" +
		"data: {\"type\":\"response.output_text.delta\",\"output_index\":0,\"delta\":\" never\"}\n"
	text, err := ExtractText(strings.NewReader(stream))
	var streamErr *StreamError
	if !errors.As(err, &streamErr) {
		t.Fatalf("err = %v", err)
	}
	if streamErr.Message != "too long" || streamErr.Code != "context_length_exceeded" {
		t.Errorf("stream error = %+v", streamErr)
	}
	if text != "partial" {
		t.Errorf("text = %q", text)
	}
}

func TestDecodeBody(t *testing.T) {
	plain := []byte("data: {\"type\":\"response.done\"}\n")

	var gz bytes.Buffer
	gw := gzip.NewWriter(&gz)
	_, _ = gw.Write(plain)
	_ = gw.Close()

	var br bytes.Buffer
	bw := brotli.NewWriter(&br)
	_, _ = bw.Write(plain)
	_ = bw.Close()

	zw, err := zstd.NewWriter(nil)
	if err != nil {
		t.Fatalf("zstd writer: %v", err)
	}
	zs := zw.EncodeAll(plain, nil)
	_ = zw.Close()

	cases := map[string][]byte{
		"":         plain,
		"identity": plain,
		"gzip":     gz.Bytes(),
		"br":       br.Bytes(),
		"zstd":     zs,
	}
	for encoding, data := range cases {
		got, err := decodeBody(encoding, data)
		if err != nil {
			t.Fatalf("%q: %v", encoding, err)
		}
		if !bytes.Equal(got, plain) {
			t.Errorf("%q: decoded = %q", encoding, got)
		}
	}

	if _, err = decodeBody("gzip", []byte("nope")); err == nil {
		t.Errorf("expected gzip error")
	}
}

func TestUpstreamErrorMessage(t *testing.T) {
	err := &UpstreamError{StatusCode: 400, Body: []byte(`{"error":{"message":"bad model"}}`)}
	if got := err.Error(); got != "upstream returned status 400: bad model" {
		t.Errorf("Error() = %q", got)
	}
	err = &UpstreamError{StatusCode: 502}
	if !strings.Contains(err.Error(), "Bad Gateway") {
		t.Errorf("Error() = %q", err.Error())
	}
}
