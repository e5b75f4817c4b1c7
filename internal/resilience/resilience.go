// package resilience implements the failure-handling stack the executor
// threads every provider call through: per-provider rate limiting, circuit
// breaking, and bounded retries with exponential backoff.
package resilience
