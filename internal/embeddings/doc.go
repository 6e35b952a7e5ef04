// Package embeddings turns chunk text into vectors.
//
// Three providers implement Provider: TEI (Text Embeddings Inference over
// HTTP), OpenAI-compatible APIs through langchaingo, and FastEmbed (local
// ONNX, cgo builds only). NewProvider wraps the configured provider with
// client-side rate limiting and bounded retries of transient failures.
package embeddings
