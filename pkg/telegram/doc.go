// Package telegram is a small Bot API client.
//
// Every HTTP attempt holds one slot of a process-wide semaphore, so the number
// of in-flight requests never exceeds the configured ceiling. Network errors
// and 5xx responses are retried with exponential backoff; 4xx responses
// (429 included) and malformed payloads are returned immediately.
package telegram
