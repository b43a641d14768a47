// Package assistant answers chat messages through an OpenAI-compatible
// completion API, keeping a short per-chat history and per-chat prompt,
// mode and model overrides.
package assistant
