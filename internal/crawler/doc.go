// Package crawler runs crawl stages.
//
// A Spider is one stage: it owns a frontier of addresses, a schema and a
// transport. Each run seeds the frontier, then repeatedly takes a snapshot of
// the pending addresses and dispatches it in batches. Every batch counts as
// one level of depth; a run ends when the spider is stopped, the depth or
// request budget is spent, or nothing is pending. Records of a batch go to
// the saver together.
//
// Addresses found by the same-stage resolver are crawled by the stage that
// found them. Addresses found by the next-stage resolver seed the following
// stage of the Chain, which starts once the current stage has stopped
// cleanly.
//
// # Usage
//
//	list, _ := crawler.NewSpider("list", listSchema, transport,
//		crawler.WithSeeds(frontier.StaticSeeds("https://shop.example/list")))
//	detail, _ := crawler.NewSpider("detail", detailSchema, transport,
//		crawler.WithSaver(pipeline))
//	chain, _ := crawler.NewChain("shop", list, detail)
//	err := chain.Start(ctx, crawler.PolicyRaise)
//
// A Process binds a chain to a scheduled task and keeps manual and
// scheduled runs from overlapping.
package crawler
