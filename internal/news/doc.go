// Package news publishes scheduled digests to subscribed chats.
//
// Registry holds one Subscription per chat. Engine evaluates the
// subscriptions on every tick and fires each "HH:MM" slot at most once per
// day. Pipeline fetches a topic, skips identifiers already in the
// DedupStore, formats one fresh item and sends it, falling back from a photo
// with caption to plain text. An identifier is recorded only after a
// successful send, so failed items stay eligible for the next slot.
package news
