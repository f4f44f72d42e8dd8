// Package notifications delivers job transition events to webhooks and email.
//
// The Dispatcher observes orchestrator transitions. OnTransition never blocks
// the caller: each enabled event is handed to one goroutine per sink, which
// paces requests with a per-sink rate limiter and retries transient failures
// with capped exponential backoff. Delivery is at-least-once; receivers should
// deduplicate on Event.ID.
package notifications
