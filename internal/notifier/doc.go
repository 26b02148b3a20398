// Package notifier delivers room messages asynchronously.
//
// Notify enqueues and returns. A small worker pool drains the queue through a
// shared token bucket and hands each message to the transport adapter. A
// failed send is logged and published as notifier.failed; it is retried only
// when RetryMax is configured above zero.
//
// The message color is rendered as a leading emoji because the chat side has
// no colored messages.
package notifier
