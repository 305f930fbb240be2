// Package llm translates utterance batches through an OpenAI-compatible chat
// completion endpoint.
//
// # Request shape
//
// Each batch is sent as one JSON-only completion. The user message carries
// the source and target language names and the ordered texts; the model must
// answer {"translations": [...]} with exactly one entry per input.
//
// # Retry Behaviour
//
// The client retries on HTTP 408/429/5xx errors, empty content, and network
// timeouts with exponential backoff (base 1s, max 10s, 3 attempts by default),
// honoring Retry-After. Context cancellation aborts retries immediately. The
// pipeline adds its own per-record retries on top of this.
package llm
