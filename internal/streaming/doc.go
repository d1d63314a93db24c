// Package streaming presents a single logical stream to a consumer across
// one or more upstream attempts.
//
// The proxy forwards lifecycle events from the current upstream stream,
// synthesizes the one-per-stream response envelope, and, in server
// streaming with the retry engine enabled, transparently tears down and
// restarts the upstream call on retryable failures. Already-delivered data
// is never replayed; a resumption function on the retry policy is the only
// mechanism for advancing the next request past delivered work.
//
// Consumers read Events() until the channel closes and observe the strict
// order metadata? → response → data* → status → end | error, with exactly
// one terminal event.
package streaming
