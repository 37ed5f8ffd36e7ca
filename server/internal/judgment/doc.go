// Package judgment provides the three judgments the control pipeline chains
// each cycle: peak prediction, air-type classification and the raw fan
// decision.
//
// All three are fulfilled by a language model behind the LLM interface, with
// an adapter for each supported provider (openai, anthropic). Provider output
// is treated as untrusted text:
//
//   - output that yields no JSON object at all fails with ErrParse
//   - a field that is missing or of the wrong type falls back to its default
//     ("unknown" air type, false flags, zero confidence)
//
// Every provider call passes through a Guard that bounds concurrency, paces
// requests, retries transient failures and trips a circuit breaker. The
// per-attempt timeout surfaces as context.DeadlineExceeded, which the pipeline
// treats the same as a parse failure.
package judgment
