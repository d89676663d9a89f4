// Package engine provides the transports that fetch crawl batches.
//
// HTTPEngine fetches raw documents with net/http. It supports http(s) and
// SOCKS5 proxies (per engine or per request), an embedded Tor daemon through
// tornago, robots.txt, per-host rate limits, a cookie jar and gzip, deflate
// and brotli bodies decoded to UTF-8. BrowserEngine renders pages in headless
// Chrome through chromedp.
//
// Both implement Transport: a batch is fetched concurrently, bounded by the
// connection limit, and every address gets exactly one RequestCycle. Fetch
// failures are stored on the cycle so that one bad address never fails the
// batch.
package engine
