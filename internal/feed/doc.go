// Package feed fetches RSS/Atom sources and normalizes their entries into
// Items ready for formatting: plain-text bodies, an optional image and
// hashtag-ready tags.
package feed
