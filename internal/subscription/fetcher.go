// Package subscription retrieves subscription bodies from URLs and
// turns them into Node lists, per spec §4.2.
package subscription

import (
	"bytes"
	"compress/gzip"
	"compress/zlib"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"subscheck/internal/node"
)

// ErrFetch is returned once retries are exhausted for one URL.
var ErrFetch = errors.New("subscription: fetch failed")

var proxyURIPrefixes = []string{"ss://", "vmess://", "vless://", "trojan://", "hysteria://", "tuic://"}

var subscriptionLinkRe = regexp.MustCompile(`(?i)https?://\S*(subscribe|sub)\S*`)

// Config controls fetch concurrency, retries, and the node cap that
// stops outstanding fetches early (spec §4.2).
type Config struct {
	MaxRetries     int
	RetryBaseDelay time.Duration
	Concurrency    int
	MaxNodes       int // 0 = unbounded
	BackupDir      string
}

func (c Config) withDefaults() Config {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = 500 * time.Millisecond
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 8
	}
	return c
}

// Fetcher retrieves and decodes subscription bodies into Nodes.
type Fetcher struct {
	cfg    Config
	client *http.Client

	mu      sync.Mutex
	visited map[string]bool
}

func NewFetcher(cfg Config) *Fetcher {
	return &Fetcher{
		cfg: cfg.withDefaults(),
		client: &http.Client{
			Timeout: 30 * time.Second,
			// redirects are followed by get, at most one hop
			CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
		},
		visited: make(map[string]bool),
	}
}

// FetchAll retrieves every URL concurrently (bounded by cfg.Concurrency)
// and returns the combined, order-stable Node list. As soon as the
// cumulative node count reaches cfg.MaxNodes, outstanding fetches are
// cancelled (spec §4.2).
func (f *Fetcher) FetchAll(ctx context.Context, urls []string) ([]node.Node, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make([][]node.Node, len(urls))
	var total int32Counter

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.cfg.Concurrency)

	for i, u := range urls {
		i, u := i, u
		g.Go(func() error {
			nodes, err := f.fetchOne(gctx, u, 0)
			if err != nil {
				log.Printf("⚠️ [subscription] %s: %v", u, err)
				return nil // one bad URL never fails the run
			}
			results[i] = nodes
			if f.cfg.MaxNodes > 0 && total.add(len(nodes)) >= f.cfg.MaxNodes {
				cancel()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return nil, err
	}

	var all []node.Node
	for _, r := range results {
		all = append(all, r...)
	}
	return all, nil
}

// fetchOne retrieves one URL, decodes its body, and recurses at most
// one level into lines that look like nested subscription links (spec
// §4.2/§9 — recursion depth bounded to 1 by the depth argument; the
// visited-set skips any URL already fetched in this run).
func (f *Fetcher) fetchOne(ctx context.Context, url string, depth int) ([]node.Node, error) {
	f.mu.Lock()
	if f.visited[url] {
		f.mu.Unlock()
		return nil, nil
	}
	f.visited[url] = true
	f.mu.Unlock()

	body, err := f.retrieve(ctx, url)
	if err != nil {
		if f.cfg.BackupDir != "" {
			if backup, ferr := f.loadBackup(url); ferr == nil {
				log.Printf("⚠️ [subscription] %s: %v, using backup", url, err)
				body = backup
			} else {
				return nil, err
			}
		} else {
			return nil, err
		}
	} else if f.cfg.BackupDir != "" {
		f.saveBackup(url, body)
	}

	decoded := decodeBody(body)

	if nodes, ok := tryClashYAML(decoded); ok {
		return nodes, nil
	}

	nodes := node.ParseLines(string(decoded))

	if depth < 1 {
		for _, line := range strings.Split(string(decoded), "\n") {
			line = strings.TrimSpace(line)
			if !subscriptionLinkRe.MatchString(line) {
				continue
			}
			more, err := f.fetchOne(ctx, line, depth+1)
			if err != nil {
				log.Printf("⚠️ [subscription] nested %s: %v", line, err)
				continue
			}
			nodes = append(nodes, more...)
		}
	}
	return nodes, nil
}

// retrieve performs the HTTP GET with retry + exponential backoff and
// jitter (spec §4.2), accepting 200 and following at most one 3xx hop.
func (f *Fetcher) retrieve(ctx context.Context, url string) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt < f.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := f.cfg.RetryBaseDelay * time.Duration(1<<uint(attempt-1))
			jitter := time.Duration(rand.Int63n(int64(backoff) + 1))
			select {
			case <-time.After(backoff + jitter):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		body, err := f.get(ctx, url, true)
		if err == nil {
			return body, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("%w: %s: %v", ErrFetch, url, lastErr)
}

func (f *Fetcher) get(ctx context.Context, url string, followRedirect bool) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 && resp.StatusCode < 400 {
		if !followRedirect {
			return nil, fmt.Errorf("status %d after one redirect", resp.StatusCode)
		}
		loc, err := resp.Location()
		if err != nil {
			return nil, fmt.Errorf("redirect with no Location")
		}
		return f.get(ctx, loc.String(), false)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// decodeBody tries, in order, plain text / base64 / gzip / zlib, and
// returns whichever candidate yields the most proxy-URI-like lines
// (spec §4.2).
func decodeBody(body []byte) []byte {
	best := body
	bestScore := proxyLineScore(body)

	if b, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(body))); err == nil {
		if s := proxyLineScore(b); s > bestScore {
			best, bestScore = b, s
		}
	} else if b, err := base64.RawStdEncoding.DecodeString(strings.TrimSpace(string(body))); err == nil {
		if s := proxyLineScore(b); s > bestScore {
			best, bestScore = b, s
		}
	}

	if r, err := gzip.NewReader(bytes.NewReader(body)); err == nil {
		if b, err := io.ReadAll(r); err == nil {
			if s := proxyLineScore(b); s > bestScore {
				best, bestScore = b, s
			}
		}
	}

	if r, err := zlib.NewReader(bytes.NewReader(body)); err == nil {
		if b, err := io.ReadAll(r); err == nil {
			if s := proxyLineScore(b); s > bestScore {
				best = b
			}
		}
	}

	return best
}

func proxyLineScore(body []byte) int {
	score := 0
	for _, line := range strings.Split(string(body), "\n") {
		line = strings.TrimSpace(line)
		for _, p := range proxyURIPrefixes {
			if strings.HasPrefix(line, p) {
				score++
				break
			}
		}
	}
	return score
}

func tryClashYAML(body []byte) ([]node.Node, bool) {
	if !bytes.Contains(body, []byte("proxies:")) {
		return nil, false
	}
	nodes, err := node.ParseClashProxies(body)
	if err != nil {
		return nil, false
	}
	return nodes, true
}

type int32Counter struct {
	mu sync.Mutex
	n  int
}

func (c *int32Counter) add(delta int) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n += delta
	return c.n
}
