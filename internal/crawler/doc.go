// Package crawler implements the listing crawl orchestrator and the types
// shared by the fetch, extraction, output, and archive subsystems.
package crawler
