// Package tgui holds small Telegram UI helpers: inline keyboard builders,
// "scope:action:payload" callback data, and an HTML-safe message builder.
package tgui
