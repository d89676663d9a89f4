// Package database stores crawl records and run statistics.
//
// RecordStore keeps everything in one SQLite file (modernc.org/sqlite, no
// cgo) with WAL enabled. Records are keyed by a fingerprint of their stage
// and content, so a page that is crawled again updates last_seen and
// times_seen instead of producing a duplicate row.
//
// MongoStore writes the same data to MongoDB for deployments that already
// run one.
package database
