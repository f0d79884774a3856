// Package storage implements the carousel volume-ring time-series
// engine.
//
// Architecture:
//
//	┌─────────────┐     ┌─────────────┐     ┌─────────────┐
//	│   Write     │────▶│   Write     │────▶│   Volume    │
//	│   Router    │     │   Cache     │     │   Ring      │
//	└─────────────┘     └─────────────┘     └─────────────┘
//	                           │                   │
//	                           └───────┬───────────┘
//	                                   ▼
//	                            ┌─────────────┐
//	                            │   Query     │
//	                            │   Engine    │
//	                            └─────────────┘
//
// Ingested points are visible to queries immediately via the write
// cache and flushed asynchronously into a fixed ring of
// fixed-capacity volumes. When the active volume fills up, the ring
// rotates and the oldest volume's contents are evicted: bounded
// retention in favor of write availability. Queries merge the cache
// and all live volumes into one ordered, duplicate-free stream in
// either time direction. Free space per volume is published as an
// atomically swapped snapshot for external polling.
package storage
