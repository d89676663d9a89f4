// Package scheduler runs crawl chains on recurring schedules.
//
// Schedules are written as "every 10 minutes", as five-field cron
// expressions ("*/15 * * * *") or as descriptors ("@hourly", "@every 90s").
// Ticks are driven by robfig/cron. A task that is still running when its
// next tick arrives skips that tick, and a disabled task skips all of them
// until it is toggled back on.
package scheduler
