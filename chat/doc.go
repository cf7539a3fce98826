// Package chat connects the giveaway to Twitch chat.
//
// It provides two pieces that share one IRC connection:
//   - Listener: joins TWITCH_CHANNEL and feeds every chat line into the
//     giveaway machine's Observe, using the author's display name as identity.
//     It reconnects with backoff until its context is cancelled.
//   - TwitchNotifier: posts giveaway announcements into the same channel.
//
// Credentials: posting requires a bot username and an OAuth token with the
// chat:edit scope. Without them the listener joins anonymously (read-only)
// and announcements go to LogNotifier instead.
package chat
