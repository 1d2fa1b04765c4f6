// Package httpx provides the shared outbound HTTP client used by all
// sources. It rate-limits, caches and retries so the wiki and the map
// server see a polite, slow crawler rather than a burst of requests.
package httpx

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/Hitchwiki/nostrhitch/pkg/logx"
)

// defaultUserAgent mimics a desktop browser. The wiki sits behind a CDN
// that serves challenge pages to anything that looks like a script.
const defaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// challengeMarker appears in CDN interstitial pages. A 200 containing it is
// not a real response and is treated as a retryable failure.
const challengeMarker = "Just a moment"

type cacheEntry struct {
	data []byte
	at   time.Time
}

// Options configures a Client. Zero values pick conservative defaults.
type Options struct {
	Timeout    time.Duration // per-request timeout, default 30s
	CacheTTL   time.Duration // GET response cache lifetime, default 1m
	RetryMax   int           // attempts per request, default 3
	RatePerSec int           // outbound request budget, default 1
	UserAgent  string
}

// Client is a caching, rate-limited HTTP getter. Safe for concurrent use.
type Client struct {
	hc        *http.Client
	limiter   *rate.Limiter
	retryMax  int
	cacheTTL  time.Duration
	userAgent string
	log       logx.Logger

	mu    sync.RWMutex
	cache map[string]cacheEntry
}

func New(opts Options, log logx.Logger) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = time.Minute
	}
	if opts.RetryMax <= 0 {
		opts.RetryMax = 3
	}
	if opts.RatePerSec <= 0 {
		opts.RatePerSec = 1
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	return &Client{
		hc: &http.Client{
			Timeout: opts.Timeout,
		},
		limiter:   rate.NewLimiter(rate.Limit(opts.RatePerSec), opts.RatePerSec),
		retryMax:  opts.RetryMax,
		cacheTTL:  opts.CacheTTL,
		userAgent: opts.UserAgent,
		log:       log,
		cache:     make(map[string]cacheEntry),
	}
}

// Get fetches url, serving from cache when a fresh copy exists. Failed
// attempts back off linearly; a CDN challenge page counts as a failure.
func (c *Client) Get(ctx context.Context, url string) ([]byte, error) {
	c.mu.RLock()
	if e, ok := c.cache[url]; ok && time.Since(e.at) < c.cacheTTL {
		c.mu.RUnlock()
		return e.data, nil
	}
	c.mu.RUnlock()

	var lastErr error
	for attempt := 0; attempt < c.retryMax; attempt++ {
		if attempt > 0 {
			wait := time.Duration(attempt) * 5 * time.Second
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		body, err := c.fetch(ctx, url)
		if err == nil {
			c.mu.Lock()
			c.cache[url] = cacheEntry{data: body, at: time.Now()}
			c.mu.Unlock()
			return body, nil
		}
		lastErr = err
		if !c.log.IsZero() {
			c.log.Debug("fetch attempt failed",
				logx.String("url", url),
				logx.Int("attempt", attempt+1),
				logx.Err(err),
			)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("get %s: %w", url, lastErr)
}

func (c *Client) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	c.setHeaders(req)

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var reader io.Reader = resp.Body
	// We ask for gzip explicitly, so the transport does not decompress for us.
	if resp.Header.Get("Content-Encoding") == "gzip" {
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("gzip reader: %w", err)
		}
		defer gz.Close()
		reader = gz
	}

	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	if strings.Contains(string(body), challengeMarker) {
		return nil, fmt.Errorf("challenge page served")
	}
	return body, nil
}

// setHeaders makes the request look like a browser navigation. Anything less
// gets the wiki's CDN to answer with an interstitial instead of the feed.
func (c *Client) setHeaders(req *http.Request) {
	h := req.Header
	h.Set("User-Agent", c.userAgent)
	h.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,image/apng,*/*;q=0.8,application/signed-exchange;v=b3;q=0.7")
	h.Set("Accept-Language", "en-US,en;q=0.9")
	h.Set("Accept-Encoding", "gzip")
	h.Set("DNT", "1")
	h.Set("Connection", "keep-alive")
	h.Set("Upgrade-Insecure-Requests", "1")
	h.Set("Sec-Fetch-Dest", "document")
	h.Set("Sec-Fetch-Mode", "navigate")
	h.Set("Sec-Fetch-Site", "none")
	h.Set("Cache-Control", "max-age=0")
}

// Download streams url into the file at dst, truncating it on each attempt.
// The response cache is bypassed: dump files are far too large to hold in
// memory, let alone twice. Same rate limiting and backoff as Get.
func (c *Client) Download(ctx context.Context, url, dst string) error {
	var lastErr error
	for attempt := 0; attempt < c.retryMax; attempt++ {
		if attempt > 0 {
			wait := time.Duration(attempt) * 5 * time.Second
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		if err := c.fetchToFile(ctx, url, dst); err != nil {
			lastErr = err
			if !c.log.IsZero() {
				c.log.Debug("download attempt failed",
					logx.String("url", url),
					logx.Int("attempt", attempt+1),
					logx.Err(err),
				)
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			continue
		}
		return nil
	}
	return fmt.Errorf("download %s: %w", url, lastErr)
}

func (c *Client) fetchToFile(ctx context.Context, url, dst string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	c.setHeaders(req)

	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}

	var reader io.Reader = resp.Body
	if resp.Header.Get("Content-Encoding") == "gzip" {
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return fmt.Errorf("gzip reader: %w", err)
		}
		defer gz.Close()
		reader = gz
	}

	f, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, reader); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Invalidate drops a cached response, forcing the next Get to hit the network.
func (c *Client) Invalidate(url string) {
	c.mu.Lock()
	delete(c.cache, url)
	c.mu.Unlock()
}
