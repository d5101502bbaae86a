// Package notifier relays operator text to every registered user.
//
// A relay reads the current user list once and enqueues a single job. A
// small worker pool drains the queue and sends the text to each "@username"
// individually, waiting on a shared rate limiter before every send.
//
// Delivery is best effort: per-recipient failures are logged and counted
// but never reported back to the caller, and a failed recipient does not
// stop the remaining sends.
package notifier
