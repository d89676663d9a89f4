// Package frontier holds the per-spider set of addresses to crawl.
//
// A Frontier keeps two disjoint sets, pending and fetched, both ordered by
// insertion. Seeds come from a SeedSource; addresses handed over by a
// previous stage are injected with AddSeeds and queued at the next Seed.
package frontier
