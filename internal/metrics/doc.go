// Package metrics provides Prometheus metrics for monitoring.
//
// Key metrics:
//   - Stream connection state, reconnects and frame rates per channel
//   - Frame parse failures and outbound sends
//   - Failure reports delivered, buffered and evicted
package metrics
