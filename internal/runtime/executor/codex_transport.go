// Package executor performs upstream calls against the codex responses
// backend and normalizes what comes back.
//
// CodexTransport is an http.RoundTripper: hosts hand it to their own HTTP
// client and keep speaking the OpenAI responses API against a placeholder
// key. The transport attaches the subscription credential, rewrites the
// body and path, and turns the always-streamed upstream answer back into
// what the caller asked for.
package executor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/router-for-me/CodexBridge/internal/auth/codex"
	"github.com/router-for-me/CodexBridge/internal/instructions"
	"github.com/router-for-me/CodexBridge/internal/logging"
	"github.com/router-for-me/CodexBridge/internal/metrics"
	translator "github.com/router-for-me/CodexBridge/internal/translator/codex"
	"github.com/router-for-me/CodexBridge/internal/util"
	"github.com/tidwall/gjson"
)

const (
	responsesSuffix      = "/responses"
	codexResponsesSuffix = "/codex/responses"

	openAIBetaHeader = "responses=experimental"
	originator       = "codex_cli_rs"
)

// apiKeyHeaders are dropped from outgoing requests. Hosts send a placeholder key.
var apiKeyHeaders = []string{"Authorization", "X-Api-Key", "Api-Key"}

// TokenSource yields a credential with an unexpired access token.
type TokenSource interface {
	GetValidCredential(ctx context.Context) (codex.Credential, error)
}

// InstructionSource returns the system prompt for a model family.
type InstructionSource interface {
	GetInstructions(ctx context.Context, family string) string
}

// CodexTransport rewrites requests for the codex backend. Tokens is
// required; every other field has a usable zero value.
type CodexTransport struct {
	Base         http.RoundTripper
	Tokens       TokenSource
	Instructions InstructionSource
	Metrics      *metrics.Collector
	// Verbosity overrides the default text.verbosity.
	Verbosity string
	// RequestLog logs transformed bodies at debug level.
	RequestLog bool
}

// RoundTrip implements http.RoundTripper.
func (t *CodexTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	entry := logging.FromContext(ctx)

	var body []byte
	if req.Body != nil {
		var errRead error
		body, errRead = io.ReadAll(req.Body)
		_ = req.Body.Close()
		if errRead != nil {
			return nil, fmt.Errorf("failed to read request body: %w", errRead)
		}
	}

	cred, err := t.Tokens.GetValidCredential(ctx)
	if err != nil {
		return nil, err
	}

	transformed := translator.TransformRequest(body, translator.Options{
		Instructions: t.instructionsFor(ctx),
		Verbosity:    t.Verbosity,
	})
	if t.RequestLog {
		entry.Debugf("upstream request body: %s", transformed.Body)
	}

	out := req.Clone(ctx)
	out.URL.Path = RewritePath(out.URL.Path)
	if out.URL.RawPath != "" {
		out.URL.RawPath = RewritePath(out.URL.RawPath)
	}
	out.Body = io.NopCloser(bytes.NewReader(transformed.Body))
	out.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(transformed.Body)), nil
	}
	out.ContentLength = int64(len(transformed.Body))
	out.Header.Set("Content-Length", strconv.Itoa(len(transformed.Body)))
	applyCodexHeaders(out.Header, cred, transformed.Headers)

	resp, err := t.base().RoundTrip(out)
	if err != nil {
		return nil, err
	}
	t.Metrics.RecordUpstreamResponse(resp.StatusCode)

	if resp.StatusCode == http.StatusNotFound {
		if resp, err = RemapUsageLimit(resp); err != nil {
			return nil, err
		}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		entry.Warnf("upstream %s returned status %d", util.MaskSensitiveQuery(out.URL.String()), resp.StatusCode)
		return resp, nil
	}

	if transformed.CallerStream || !transformed.Transformed {
		if resp.Header.Get("Content-Type") == "" {
			resp.Header.Set("Content-Type", "text/event-stream")
		}
		if transformed.Transformed && t.Metrics != nil {
			model := transformed.Model
			resp.Body = newUsageTap(resp.Body, func(detail UsageDetail) {
				recordUsage(t.Metrics, model, detail)
			})
		}
		return resp, nil
	}

	// The caller asked for one JSON object; collect the stream it never wanted.
	raw, err := readResponseBody(resp)
	if err != nil {
		return nil, err
	}
	aggregated := AggregateSSE(raw)
	if bytes.Equal(aggregated, raw) {
		entry.Warn("upstream stream had no completion event, returning raw body")
		if isEventStream(resp.Header.Get("Content-Type")) {
			resp.Header.Set("Content-Type", "text/plain; charset=utf-8")
		}
	} else {
		resp.Header.Set("Content-Type", "application/json")
		if detail, ok := parseResponseUsage(gjson.ParseBytes(aggregated)); ok {
			recordUsage(t.Metrics, transformed.Model, detail)
		}
	}
	replaceBody(resp, aggregated)
	return resp, nil
}

func (t *CodexTransport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

func (t *CodexTransport) instructionsFor(ctx context.Context) func(string) string {
	if t.Instructions == nil {
		return nil
	}
	return func(baseModel string) string {
		return t.Instructions.GetInstructions(ctx, instructions.ClassifyFamily(baseModel))
	}
}

// RewritePath maps a generic ".../responses" path onto ".../codex/responses".
func RewritePath(path string) string {
	if !strings.HasSuffix(path, responsesSuffix) || strings.HasSuffix(path, codexResponsesSuffix) {
		return path
	}
	return strings.TrimSuffix(path, responsesSuffix) + codexResponsesSuffix
}

func applyCodexHeaders(h http.Header, cred codex.Credential, correlation http.Header) {
	for _, name := range apiKeyHeaders {
		h.Del(name)
	}
	h.Set("Authorization", "Bearer "+cred.AccessToken)
	if accountID := strings.TrimSpace(cred.AccountID); accountID != "" {
		h.Set("Chatgpt-Account-Id", accountID)
	}
	h.Set("OpenAI-Beta", openAIBetaHeader)
	h.Set("Originator", originator)
	h.Set("Accept", "text/event-stream")
	h.Set("Content-Type", "application/json")

	h.Del(translator.HeaderConversationID)
	h.Del(translator.HeaderSessionID)
	for name, values := range correlation {
		for _, v := range values {
			h.Add(name, v)
		}
	}
}

func isEventStream(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	return err == nil && mediaType == "text/event-stream"
}
