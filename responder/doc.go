// Package responder contains Responder implementations used by the
// execution layer.
//
// Mock is a deterministic in-memory responder for tests and examples. The
// vendor adapters live in subpackages:
//
//   - responder/openai    OpenAI Chat Completions
//   - responder/anthropic Anthropic Messages
//   - responder/ollama    a local Ollama server
//
// Every adapter implements core.StreamResponder so the router can forward
// partial output as message events.
package responder
