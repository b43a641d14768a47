// Package moderation implements warnings with threshold bans, message
// statistics, per-user flood limiting and a pattern-based word filter.
package moderation
