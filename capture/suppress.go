package capture

import (
	"encoding/json"
	"fmt"
)

// DefaultSuppressSelectors hide content that changes between two
// otherwise identical renders: relative timestamps, loaders,
// notifications, the admin bar, typing indicators, cart fragments and
// course timers.
var DefaultSuppressSelectors = []string{
	".time-since",
	".activity-time-since",
	`[class*="time"]`,
	".loading",
	`[class*="loading"]`,
	".spinner",
	".notification",
	`[class*="notification"]`,
	"[data-livestamp]",
	".live-timestamp",
	"#wpadminbar",
	".bb-pusher-typing-indicator",
	".woocommerce-message",
	".wc-forward",
	".cart-contents",
	".cart-subtotal",
	".ld-course-timer",
	".ld-quiz-timer",
	".ld-progress-percentage",
}

// SuppressSelectors returns the default set followed by extra, without
// duplicates.
func SuppressSelectors(extra []string) []string {
	seen := make(map[string]bool, len(DefaultSuppressSelectors)+len(extra))
	out := make([]string, 0, len(DefaultSuppressSelectors)+len(extra))
	for _, list := range [][]string{DefaultSuppressSelectors, extra} {
		for _, s := range list {
			if s == "" || seen[s] {
				continue
			}
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

// suppressScript hides every element matching one of selectors. Invalid
// selectors are skipped. Layout is preserved (visibility, not display).
func suppressScript(selectors []string) string {
	list, _ := json.Marshal(selectors)
	return fmt.Sprintf(`() => {
	for (const sel of %s) {
		let nodes;
		try { nodes = document.querySelectorAll(sel); } catch (e) { continue; }
		nodes.forEach(el => { el.style.visibility = 'hidden'; });
	}
}`, list)
}

// scrollScript scrolls to the bottom so lazy content loads, then back to
// the top before the screenshot.
const scrollScript = `async () => {
	window.scrollTo(0, document.body.scrollHeight);
	await new Promise(r => setTimeout(r, 100));
	window.scrollTo(0, 0);
}`
