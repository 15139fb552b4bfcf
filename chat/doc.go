// Package chat stores VOD chat and records it live.
//
// Store keeps chat_messages rows keyed by (vod_id, comment_id): imported
// replay comments and live IRC messages share one table, and LoadEvents
// returns them in arrival (insertion) order ready for caption.Build, which
// stacks concurrent lines in that order. Messages and Each serve replay in
// time order.
//
// Recorder joins a channel over Twitch IRC and writes messages with offsets
// relative to the VOD start. IRC emote tags are turned into fragments so the
// emote filter treats live and imported chat alike. It needs a bot username
// and an OAuth token with the chat:read scope.
package chat
