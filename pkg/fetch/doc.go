// Package fetch provides concurrency-capped batch fetching for collection
// endpoints.
//
// Requests are issued in windows of at most the configured size. A window
// must settle completely before the next one is dispatched, which bounds
// in-flight connections and keeps result merging strictly sequential across
// windows. One batch never fails as a whole: every request produces its own
// Outcome, success or failure, and the caller sorts them into the
// aggregation store or the error registry.
package fetch
