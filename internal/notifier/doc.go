// Package notifier delivers short admin notices (ban reports, dropped news
// destinations) to the configured log chat.
//
// Notices are queued and sent by a small worker pool under a token-bucket
// rate limit, with exponential retry and a dedup window so repeated notices
// do not spam the log chat. A destination reported unreachable by the
// transport is not retried.
//
// Lifecycle events (queued, deduped, dropped, sent, failed) are published on
// the event bus for the status endpoint.
package notifier
