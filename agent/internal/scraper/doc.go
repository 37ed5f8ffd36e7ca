// Package scraper polls a sensor exporter's Prometheus text endpoint and
// maps the configured metric names to the four air-quality channels.
//
// New(config.Device) returns a Scraper with a pre-configured *http.Client.
// Authentication (mTLS, API key, bearer token, basic) is handled by the
// shared authRoundTripper in base.go.
//
// A failed scrape is reported through ScrapeResult.Err rather than the
// returned error, so the caller can track exporter availability.
package scraper
