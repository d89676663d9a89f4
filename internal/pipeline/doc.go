// Package pipeline moves the records of each crawled batch through a
// sequence of steps: deduplication, storage in SQLite or MongoDB, a JSON
// lines file and logging. A Pipeline is a crawler.Saver, so a spider hands
// it every batch it processes.
//
// BatchProcessor runs several crawl chains at once with a concurrency
// limit, using errgroup.
package pipeline
