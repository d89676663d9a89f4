// Package report writes the summary of a crawl run.
//
// This package contains writers for different output formats:
//   - SimpleWriter: human-readable text for terminal display
//   - JSONWriter: structured JSON for tool integration
//   - MarkdownWriter: Markdown with a Mermaid chart for sharing
//
// Writers implement the Writer interface and can be combined with
// MultiWriter.
package report
