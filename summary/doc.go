// Package summary produces AI case summaries for warm transfers. It wraps
// OpenAI-compatible chat completion endpoints with a fallback chain,
// deterministic token-bounded transcript truncation, and an optional
// two-tier result cache so regeneration after a failure or cancel is cheap.
package summary
