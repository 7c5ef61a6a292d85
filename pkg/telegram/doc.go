// Package telegram adapts the Telegram Bot API to the bot package: it sends
// text, photos, videos and media groups, and long-polls for updates. Outgoing
// calls share one sliding window so the bot stays under Telegram's flood
// limits.
package telegram
