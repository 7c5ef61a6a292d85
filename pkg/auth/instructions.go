package auth

import (
	"fmt"
	"io"
	"strings"
)

// WriteCookieGuide prints how to copy the session cookies igrelay needs
func WriteCookieGuide(w io.Writer) {
	rule := strings.Repeat("=", 72)

	fmt.Fprintln(w, rule)
	fmt.Fprintln(w, "🍪 INSTAGRAM SESSION COOKIES")
	fmt.Fprintln(w, rule)
	fmt.Fprintln(w, "igrelay resolves posts with a logged-in web session. To copy one:")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "  1. Log in at https://www.instagram.com")
	fmt.Fprintln(w, "  2. Open Developer Tools (F12) → Application/Storage → Cookies")
	fmt.Fprintln(w, "  3. Select https://www.instagram.com")
	fmt.Fprintln(w, "  4. Copy the values of 'sessionid' and 'csrftoken'")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "⚠️  These cookies give full access to the account. Use a secondary")
	fmt.Fprintln(w, "   account for the bot and never share them.")
	fmt.Fprintln(w, rule)
}
