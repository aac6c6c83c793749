// Package instructions keeps the upstream system prompts on disk, one file
// per model family, and refreshes them from the latest codex release.
//
// Lookups never fail. A family checked in the last 15 minutes is served from
// disk with no network traffic; otherwise the latest release tag is resolved
// and the prompt fetched conditionally. Any failure falls back to the cached
// text, or to an empty string when nothing was ever cached.
package instructions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/router-for-me/CodexBridge/internal/metrics"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

const (
	DefaultReleaseAPIURL  = "https://api.github.com/repos/openai/codex/releases/latest"
	DefaultReleasePageURL = "https://github.com/openai/codex/releases/latest"
	DefaultContentBaseURL = "https://raw.githubusercontent.com/openai/codex"

	// RecheckInterval is how long a cached prompt is served without asking upstream.
	RecheckInterval = 15 * time.Minute

	maxPromptBytes = 4 << 20
)

var releaseTagPattern = regexp.MustCompile(`/releases/tag/([^/?#"'<>\s]+)`)

// Meta is persisted next to each cached prompt.
type Meta struct {
	ETag string `json:"etag"`
	Tag  string `json:"tag"`
	// LastChecked is epoch milliseconds.
	LastChecked int64  `json:"last_checked"`
	URL         string `json:"url"`
}

// Cache is the on-disk instruction cache.
type Cache struct {
	dir            string
	client         *http.Client
	releaseAPIURL  string
	releasePageURL string
	contentBaseURL string
	now            func() time.Time
	metrics        *metrics.Collector

	mu sync.Mutex
}

// Option configures a Cache.
type Option func(*Cache)

// WithHTTPClient sets the client used for every upstream request.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Cache) {
		if client != nil {
			c.client = client
		}
	}
}

// WithReleaseURLs overrides the release metadata endpoint and the HTML page used as fallback.
func WithReleaseURLs(apiURL, pageURL string) Option {
	return func(c *Cache) {
		if apiURL != "" {
			c.releaseAPIURL = apiURL
		}
		if pageURL != "" {
			c.releasePageURL = pageURL
		}
	}
}

// WithContentBaseURL overrides the raw content base, "<base>/<tag>/codex-rs/core/<file>".
func WithContentBaseURL(base string) Option {
	return func(c *Cache) {
		if base != "" {
			c.contentBaseURL = strings.TrimRight(base, "/")
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

// WithMetrics records lookup outcomes on collector.
func WithMetrics(collector *metrics.Collector) Option {
	return func(c *Cache) { c.metrics = collector }
}

// New creates a Cache storing files in dir.
func New(dir string, opts ...Option) *Cache {
	c := &Cache{
		dir:            dir,
		client:         &http.Client{Timeout: 30 * time.Second},
		releaseAPIURL:  DefaultReleaseAPIURL,
		releasePageURL: DefaultReleasePageURL,
		contentBaseURL: DefaultContentBaseURL,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Dir returns the cache directory.
func (c *Cache) Dir() string { return c.dir }

// GetInstructions returns the prompt for family. It never fails; an empty
// string means no prompt is available.
func (c *Cache) GetInstructions(ctx context.Context, family string) string {
	meta := c.loadMeta(family)
	text, haveText := c.loadText(family)

	if haveText && meta != nil && c.now().Sub(time.UnixMilli(meta.LastChecked)) < RecheckInterval {
		c.metrics.RecordInstructionsFetch(metrics.ResultFresh)
		return text
	}

	fetched, err := c.refresh(ctx, family, meta, text, haveText)
	if err != nil {
		c.metrics.RecordInstructionsFetch(metrics.ResultStale)
		log.WithField("family", family).Warnf("instruction fetch failed, using cached copy: %v", err)
		if haveText {
			return text
		}
		return ""
	}
	return fetched
}

// Prewarm refreshes the given families, or every family when none are
// given, and returns how many have instructions available.
func (c *Cache) Prewarm(ctx context.Context, families ...string) int {
	if len(families) == 0 {
		families = Families()
	}
	available := 0
	for _, family := range families {
		if ctx.Err() != nil {
			break
		}
		if c.GetInstructions(ctx, family) != "" {
			available++
		}
	}
	return available
}

func (c *Cache) refresh(ctx context.Context, family string, meta *Meta, cached string, haveText bool) (string, error) {
	tag, err := c.latestReleaseTag(ctx)
	if err != nil {
		return "", err
	}
	url := fmt.Sprintf("%s/%s/codex-rs/core/%s", c.contentBaseURL, tag, PromptFile(family))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("build instruction request: %w", err)
	}
	conditional := haveText && meta != nil && meta.Tag == tag && meta.ETag != ""
	if conditional {
		req.Header.Set("If-None-Match", meta.ETag)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotModified && conditional:
		meta.LastChecked = c.now().UnixMilli()
		if errSave := c.saveMeta(family, meta); errSave != nil {
			log.WithField("family", family).Warnf("failed to update instruction metadata: %v", errSave)
		}
		c.metrics.RecordInstructionsFetch(metrics.ResultNotModified)
		return cached, nil
	case resp.StatusCode == http.StatusOK:
		body, errRead := io.ReadAll(io.LimitReader(resp.Body, maxPromptBytes))
		if errRead != nil {
			return "", fmt.Errorf("read %s: %w", url, errRead)
		}
		text := string(body)
		next := &Meta{
			ETag:        resp.Header.Get("ETag"),
			Tag:         tag,
			LastChecked: c.now().UnixMilli(),
			URL:         url,
		}
		if errSave := c.save(family, text, next); errSave != nil {
			log.WithField("family", family).Warnf("failed to write instruction cache: %v", errSave)
		}
		c.metrics.RecordInstructionsFetch(metrics.ResultSuccess)
		log.WithFields(log.Fields{"family": family, "tag": tag}).Debug("instructions updated")
		return text, nil
	default:
		return "", fmt.Errorf("fetch %s: unexpected status %d", url, resp.StatusCode)
	}
}

// latestReleaseTag asks the release metadata endpoint and falls back to the
// HTML release page. The page scrape is best effort only.
func (c *Cache) latestReleaseTag(ctx context.Context) (string, error) {
	tag, err := c.releaseTagFromAPI(ctx)
	if err == nil {
		return tag, nil
	}
	log.Debugf("release metadata lookup failed, trying release page: %v", err)
	tag, errPage := c.releaseTagFromPage(ctx)
	if errPage != nil {
		return "", fmt.Errorf("resolve release tag: %w", errors.Join(err, errPage))
	}
	return tag, nil
}

func (c *Cache) releaseTagFromAPI(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.releaseAPIURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("release metadata status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}
	tag := strings.TrimSpace(gjson.GetBytes(body, "tag_name").String())
	if tag == "" {
		return "", fmt.Errorf("release metadata has no tag_name")
	}
	return tag, nil
}

func (c *Cache) releaseTagFromPage(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.releasePageURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.Request != nil && resp.Request.URL != nil {
		if match := releaseTagPattern.FindStringSubmatch(resp.Request.URL.Path); match != nil {
			return match[1], nil
		}
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("release page status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", err
	}
	if match := releaseTagPattern.FindSubmatch(body); match != nil {
		return string(match[1]), nil
	}
	return "", fmt.Errorf("release page carries no tag")
}

func (c *Cache) textPath(family string) string {
	return filepath.Join(c.dir, family+"-instructions.md")
}

func (c *Cache) metaPath(family string) string {
	return filepath.Join(c.dir, family+"-instructions-meta.json")
}

func (c *Cache) loadText(family string) (string, bool) {
	data, err := os.ReadFile(c.textPath(family))
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			log.WithField("family", family).Warnf("failed to read cached instructions: %v", err)
		}
		return "", false
	}
	return string(data), true
}

func (c *Cache) loadMeta(family string) *Meta {
	data, err := os.ReadFile(c.metaPath(family))
	if err != nil {
		return nil
	}
	var meta Meta
	if err = json.Unmarshal(data, &meta); err != nil {
		log.WithField("family", family).Warnf("ignoring unreadable instruction metadata: %v", err)
		return nil
	}
	return &meta
}

func (c *Cache) save(family, text string, meta *Meta) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return err
	}
	if err := writeFileAtomic(c.textPath(family), []byte(text)); err != nil {
		return err
	}
	return c.saveMetaLocked(family, meta)
}

func (c *Cache) saveMeta(family string, meta *Meta) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.saveMetaLocked(family, meta)
}

func (c *Cache) saveMetaLocked(family string, meta *Meta) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	if err = os.MkdirAll(c.dir, 0o755); err != nil {
		return err
	}
	return writeFileAtomic(c.metaPath(family), data)
}

func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}
