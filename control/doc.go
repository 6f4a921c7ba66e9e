// Package control
// Author: momentics <momentics@gmail.com>
//
// Runtime metrics and debug introspection layer.
//
// Provides:
//   - Prometheus-backed reactor metrics, or a no-op set when disabled
//   - Named debug probes whose results are dumped as one state map
//   - An HTTP endpoint exposing /metrics and /debug/state
//
// Collectors are safe to update from the reactor goroutine while being
// scraped from the HTTP goroutine.
package control
