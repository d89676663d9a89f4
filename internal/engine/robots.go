package engine

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/temoto/robotstxt"
)

// robotsGate evaluates robots.txt rules, fetched once per host and run.
// Fetch or parse failures allow the request.
type robotsGate struct {
	client    *http.Client
	userAgent string

	mu    sync.Mutex
	cache map[string]*robotstxt.RobotsData
	// inflight serializes the first fetch per host.
	inflight map[string]*sync.Mutex
}

func newRobotsGate(client *http.Client, userAgent string) *robotsGate {
	return &robotsGate{
		client:    client,
		userAgent: userAgent,
		cache:     make(map[string]*robotstxt.RobotsData),
		inflight:  make(map[string]*sync.Mutex),
	}
}

// Allowed reports whether target may be fetched.
func (g *robotsGate) Allowed(ctx context.Context, target *url.URL) bool {
	if target == nil || !target.IsAbs() {
		return false
	}
	rules, err := g.rules(ctx, target)
	if err != nil || rules == nil {
		return true
	}

	group := rules.FindGroup(g.agentToken())
	if group == nil {
		return true
	}
	path := target.EscapedPath()
	if path == "" {
		path = "/"
	}
	if target.RawQuery != "" {
		path += "?" + target.RawQuery
	}
	return group.Test(path)
}

// agentToken is the product token of the user agent ("fastcrawl/1.0 (...)" → "fastcrawl").
func (g *robotsGate) agentToken() string {
	ua := strings.TrimSpace(g.userAgent)
	if i := strings.IndexAny(ua, "/ "); i > 0 {
		ua = ua[:i]
	}
	if ua == "" {
		return "*"
	}
	return ua
}

func (g *robotsGate) rules(ctx context.Context, target *url.URL) (*robotstxt.RobotsData, error) {
	host := strings.ToLower(target.Scheme + "://" + target.Host)

	g.mu.Lock()
	if data, ok := g.cache[host]; ok {
		g.mu.Unlock()
		return data, nil
	}
	lock, ok := g.inflight[host]
	if !ok {
		lock = &sync.Mutex{}
		g.inflight[host] = lock
	}
	g.mu.Unlock()

	lock.Lock()
	defer lock.Unlock()

	g.mu.Lock()
	if data, ok := g.cache[host]; ok {
		g.mu.Unlock()
		return data, nil
	}
	g.mu.Unlock()

	data, err := g.fetch(ctx, host+"/robots.txt")
	g.mu.Lock()
	g.cache[host] = data
	g.mu.Unlock()
	return data, err
}

func (g *robotsGate) fetch(ctx context.Context, robotsURL string) (*robotstxt.RobotsData, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build robots request: %w", err)
	}
	if g.userAgent != "" {
		req.Header.Set("User-Agent", g.userAgent)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch robots.txt: %w", err)
	}
	defer resp.Body.Close()

	data, err := robotstxt.FromResponse(resp)
	if err != nil {
		return nil, fmt.Errorf("parse robots.txt: %w", err)
	}
	return data, nil
}
