// Package model defines the data exchanged between fastcrawl packages:
// requests and their cycles, extracted records, and run statistics.
//
// Models live in their own package so that the transport, extraction,
// crawl controller and sinks can share them without import cycles.
package model
