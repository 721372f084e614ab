// Package notifier delivers operator alerts: failed job runs and forwarded
// error logs.
//
// Alerts go through an async pipeline (queue, worker pool, token-bucket rate
// limit, retry with backoff) and are deduplicated by key for a window, so a
// job that keeps failing the same way alerts once per window. The dedup
// window can be persisted in the state store to survive restarts.
//
// # Sink
//
// Delivery is delegated to a Sink. TelegramSink posts to one chat (and
// optionally one forum thread) with telebot in send-only mode.
package notifier
