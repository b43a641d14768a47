// Package mdsafe splits Telegram "legacy" Markdown into size-bounded chunks
// without breaking inline formatting.
//
// The pipeline is:
//   - Index: one left-to-right scan producing non-overlapping spans
//   - Chunk: partition the text so no boundary falls inside a span
//   - Balance: make paired markers even within a single chunk
//
// All offsets and lengths are measured in runes.
package mdsafe
