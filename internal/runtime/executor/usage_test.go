package executor

import (
	"io"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/router-for-me/CodexBridge/internal/metrics"
	"github.com/tidwall/gjson"
)

const usageStream = "data: {\"type\":\"response.output_text.delta\",\"delta\":\"hi\"}\n\n" +
	"data: {\"type\":\"response.completed\",\"response\":{\"usage\":{\"input_tokens\":12,\"output_tokens\":7,\"input_tokens_details\":{\"cached_tokens\":4},\"output_tokens_details\":{\"reasoning_tokens\":2}}}}\n\n"

type chunkedReader struct {
	data []byte
	size int
}

func (r *chunkedReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, io.EOF
	}
	n := r.size
	if n > len(p) {
		n = len(p)
	}
	if n > len(r.data) {
		n = len(r.data)
	}
	copy(p, r.data[:n])
	r.data = r.data[n:]
	return n, nil
}

func TestUsageTapAcrossChunkSizes(t *testing.T) {
	for _, size := range []int{1, 3, 17, 4096} {
		var got []UsageDetail
		tap := newUsageTap(io.NopCloser(&chunkedReader{data: []byte(usageStream), size: size}), func(d UsageDetail) {
			got = append(got, d)
		})
		out, err := io.ReadAll(tap)
		if err != nil {
			t.Fatalf("size %d: read: %v", size, err)
		}
		if string(out) != usageStream {
			t.Fatalf("size %d: stream altered", size)
		}
		if len(got) != 1 {
			t.Fatalf("size %d: usage reported %d times", size, len(got))
		}
		want := UsageDetail{InputTokens: 12, OutputTokens: 7, CachedTokens: 4, ReasoningTokens: 2}
		if got[0] != want {
			t.Fatalf("size %d: usage = %+v, want %+v", size, got[0], want)
		}
	}
}

func TestUsageTapWithoutCompletion(t *testing.T) {
	called := false
	tap := newUsageTap(io.NopCloser(strings.NewReader("data: {\"type\":\"response.created\"}\n\n")), func(UsageDetail) {
		called = true
	})
	if _, err := io.ReadAll(tap); err != nil {
		t.Fatalf("read: %v", err)
	}
	if called {
		t.Fatalf("usage reported without a completion event")
	}
}

func TestRecordUsageFromAggregatedResponse(t *testing.T) {
	collector := metrics.NewCollector(nil)
	detail, ok := parseResponseUsage(gjson.Parse(`{"usage":{"input_tokens":5,"output_tokens":9}}`))
	if !ok {
		t.Fatalf("usage not parsed")
	}
	recordUsage(collector, "gpt-5", detail)
	recordUsage(nil, "gpt-5", detail)

	if _, ok = parseResponseUsage(gjson.Parse(`{"id":"r"}`)); ok {
		t.Fatalf("missing usage reported as present")
	}
	count, err := testutil.GatherAndCount(collector.Registry(), "codexbridge_tokens_total")
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	// input and output only; zero cached/reasoning counts create no series
	if count != 2 {
		t.Fatalf("token series = %d, want 2", count)
	}
}
