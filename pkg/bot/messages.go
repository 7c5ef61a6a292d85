package bot

import (
	"fmt"
	"strings"
	"unicode/utf16"

	"igrelay/pkg/instagram"
	"igrelay/pkg/models"
	"igrelay/pkg/ratelimit"
)

// Replies sent to users
const (
	MsgStart = "👋 Instagram Downloader Bot\n\n" +
		"📌 Send me an Instagram link to download:\n" +
		"- Posts (Photos & Videos)\n" +
		"- Reels\n" +
		"- IGTV\n" +
		"- Carousels\n\n" +
		"Use /quota to see how many downloads you have left today."

	MsgHelp = "📖 How to Use:\n" +
		"1. Send me a public Instagram post/reel/IGTV link\n" +
		"2. I'll download and send you the media\n\n" +
		"Commands:\n" +
		"/start - Welcome message\n" +
		"/help - This help\n" +
		"/quota - Your downloads left today"

	MsgDownloading      = "⏳ Downloading... Please wait."
	MsgInvalidURL       = "❌ Invalid Instagram URL. Send a post/reel/IGTV link."
	MsgStoryUnsupported = "❌ Stories can't be downloaded. Send a post/reel/IGTV link."
	MsgFailed           = "❌ Failed to download. The post may be private or invalid."
	MsgDailyLimit       = "❌ You've reached your daily download limit. Try again tomorrow."
	MsgNotAuthorized    = "🚫 You are not authorized to use this bot."
	MsgUnknownCommand   = "❓ Unknown command. Send /help for usage."
	MsgAdminOnly        = "🚫 This command is for admins only."
)

// Telegram limits
const (
	// MaxCaptionLength is the longest media caption Telegram accepts, in
	// UTF-16 code units
	MaxCaptionLength = 1024
	// MaxMediaGroup is the most items Telegram accepts in one media group
	MaxMediaGroup = 10
)

const captionHeader = "📥 Downloaded via Instagram Bot\n\n"

// rejectionText turns a rejected decision into the reply shown to the user
func rejectionText(d ratelimit.Decision) string {
	if d.Outcome == ratelimit.OutcomeDailyLimit {
		return MsgDailyLimit
	}
	return fmt.Sprintf("⏳ Please wait %d seconds before another request.", d.RetryAfterSeconds())
}

// quotaText describes a user's standing for /quota
func quotaText(limits ratelimit.Limits, remaining int, retryAfter int) string {
	used := limits.MaxPerDay - remaining
	if used < 0 {
		used = 0
	}

	var b strings.Builder
	b.WriteString("📊 Your quota\n\n")
	fmt.Fprintf(&b, "Used today: %d/%d\n", used, limits.MaxPerDay)
	fmt.Fprintf(&b, "Remaining: %d", remaining)
	if retryAfter > 0 {
		fmt.Fprintf(&b, "\nNext request in: %d seconds", retryAfter)
	}
	return b.String()
}

// statsText summarises the limiter for /stats
func statsText(limits ratelimit.Limits, trackedUsers int) string {
	return fmt.Sprintf("📈 Bot stats\n\nTracked users: %d\nDaily limit: %d\nInterval: %s\nRollover anchor: %s",
		trackedUsers, limits.MaxPerDay, limits.MinInterval, limits.Rollover)
}

// buildCaption formats the caption attached to delivered media, keeping it
// within MaxCaptionLength
func buildCaption(post *models.Post) string {
	caption := captionHeader
	if post.Owner != "" {
		caption += "👤 @" + post.Owner + "\n"
	}
	if link := instagram.GetPostURL(post.Shortcode); link != "" {
		caption += "🔗 " + link + "\n"
	}

	text := strings.TrimSpace(post.Caption)
	if text == "" {
		return strings.TrimRight(caption, "\n")
	}

	prefix := "📝 "
	budget := MaxCaptionLength - utf16Len(caption) - utf16Len(prefix)
	return caption + prefix + truncate(text, budget)
}

// truncate shortens s to at most limit UTF-16 code units, marking the cut
// with an ellipsis
func truncate(s string, limit int) string {
	if utf16Len(s) <= limit {
		return s
	}
	if limit <= 0 {
		return ""
	}

	const ellipsis = "…"
	budget := limit - utf16Len(ellipsis)
	n := 0
	for i, r := range s {
		if n+runeUnits(r) > budget {
			return s[:i] + ellipsis
		}
		n += runeUnits(r)
	}
	return s
}

func utf16Len(s string) int {
	n := 0
	for _, r := range s {
		n += runeUnits(r)
	}
	return n
}

// runeUnits is the number of UTF-16 code units needed for r. Invalid runes
// are sent as U+FFFD, a single unit.
func runeUnits(r rune) int {
	if n := utf16.RuneLen(r); n > 0 {
		return n
	}
	return 1
}
