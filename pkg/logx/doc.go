// Package logx is chatwarden's structured logger on top of zerolog.
//
// Console output is human readable, the optional file sink is JSON, and
// warnings can be forwarded to a Telegram chat with a rate limit. A Logger
// taken from a Service follows later Service.Apply calls, so components keep
// their logger across hot reloads.
package logx
