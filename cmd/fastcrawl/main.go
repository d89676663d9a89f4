// Package main provides the entry point for the fastcrawl CLI.
//
// fastcrawl crawls websites in batches and extracts typed records declared
// by schemas. Stages are grouped into chains: addresses discovered by one
// stage become the seeds of the next one.
//
// Usage:
//
//	fastcrawl run
//	fastcrawl serve
//	fastcrawl validate -c fastcrawl.yaml
//
// See --help for all available options.
package main

func main() {
	Execute()
}
