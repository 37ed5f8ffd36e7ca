// Package compute turns raw scraper output into samples ready to ship.
//
// Engine keeps per-device state across scrape cycles: a rolling window of
// scrape outcomes for uptime, and the last sensor refresh time so that one
// physical reading scraped twice is shipped only once. Forwarding the same
// reading repeatedly would make the server see identical consecutive values
// and flag the sensor as stuck.
//
// Engine.Process accepts an injectable time.Time so tests are deterministic.
package compute
