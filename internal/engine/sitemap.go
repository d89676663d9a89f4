package engine

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/antchfx/xmlquery"

	"github.com/nao1215/fastcrawl/internal/frontier"
)

// maxSitemapDepth bounds nested sitemap indexes.
const maxSitemapDepth = 3

// SitemapSeeds returns a seed function that reads page addresses from a
// sitemap, following sitemap indexes.
func SitemapSeeds(client *http.Client, sitemapURL string) frontier.SeedFunc {
	if client == nil {
		client = http.DefaultClient
	}
	return func(ctx context.Context) ([]string, error) {
		seen := map[string]bool{}
		var out []string
		if err := readSitemap(ctx, client, sitemapURL, 0, seen, &out); err != nil {
			return nil, err
		}
		return out, nil
	}
}

func readSitemap(ctx context.Context, client *http.Client, sitemapURL string, depth int, seen map[string]bool, out *[]string) error {
	if depth > maxSitemapDepth || seen[sitemapURL] {
		return nil
	}
	seen[sitemapURL] = true

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sitemapURL, nil)
	if err != nil {
		return fmt.Errorf("build sitemap request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch sitemap %s: %w", sitemapURL, err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		resp.Body.Close()
		return fmt.Errorf("fetch sitemap %s: status %d", sitemapURL, resp.StatusCode)
	}
	body, err := readBody(resp, 0)
	if err != nil {
		return err
	}

	doc, err := xmlquery.Parse(bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("parse sitemap %s: %w", sitemapURL, err)
	}

	for _, loc := range xmlquery.Find(doc, "//sitemap/loc") {
		child := strings.TrimSpace(loc.InnerText())
		if child == "" {
			continue
		}
		if err := readSitemap(ctx, client, child, depth+1, seen, out); err != nil {
			return err
		}
	}
	for _, loc := range xmlquery.Find(doc, "//url/loc") {
		addr := strings.TrimSpace(loc.InnerText())
		if addr == "" || seen[addr] {
			continue
		}
		seen[addr] = true
		*out = append(*out, addr)
	}
	return nil
}
